package clientutil

import (
	"encoding/json"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ringvote/coordinator/internal/config"
	"github.com/ringvote/coordinator/internal/transport"
)

// sendFromEphemeralPort sends payload to host:port from a fresh ephemeral
// UDP socket, mimicking a leader's broadcast without binding to the
// destination port itself (only one process ever binds a given broadcast
// port at a time in a real deployment; tests must not collide with it).
func sendFromEphemeralPort(t *testing.T, host string, port int, payload []byte) {
	t.Helper()
	raddr := &net.UDPAddr{IP: net.ParseIP(host), Port: port}
	conn, err := net.DialUDP("udp4", nil, raddr)
	require.NoError(t, err)
	defer conn.Close()
	_, err = conn.Write(payload)
	require.NoError(t, err)
}

func TestSniffLeaderObservesBroadcast(t *testing.T) {
	cfg := config.Default()
	cfg.BroadcastHost = "127.0.0.1"
	cfg.BroadcastPort = 19801

	done := make(chan struct{})
	go func() {
		defer close(done)
		host, port, err := SniffLeader(cfg)
		require.NoError(t, err)
		assert.Equal(t, "127.0.0.1", host)
		assert.Equal(t, 9999, port)
	}()

	// Give SniffLeader a moment to bind before sending.
	time.Sleep(100 * time.Millisecond)

	payload, err := json.Marshal(transport.LeaderHeartbeat{Type: transport.TypeLeader, Host: "127.0.0.1", Port: 9999})
	require.NoError(t, err)
	sendFromEphemeralPort(t, cfg.BroadcastHost, cfg.BroadcastPort, payload)

	select {
	case <-done:
	case <-time.After(SniffLeaderTimeout + time.Second):
		t.Fatal("SniffLeader never returned")
	}
}

func TestSendToLeaderRoundTrip(t *testing.T) {
	cfg := config.Default()
	cfg.BroadcastHost = "127.0.0.1"
	cfg.BroadcastPort = 19802

	ln, err := net.Listen("tcp", "127.0.0.1:19899")
	require.NoError(t, err)
	defer ln.Close()

	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		defer conn.Close()
		payload, err := transport.ReadRequest(conn, 2*time.Second)
		if err != nil {
			return
		}
		var req transport.EndElectionRequest
		if json.Unmarshal(payload, &req) == nil {
			conn.Write([]byte("Election " + req.ID + " ended. The winner is alice."))
		}
	}()

	result := make(chan string, 1)
	go func() {
		reply, err := SendToLeader(cfg, transport.EndElectionRequest{Type: transport.TypeEndElection, ID: "e1"})
		require.NoError(t, err)
		result <- reply
	}()

	time.Sleep(100 * time.Millisecond)
	payload, err := json.Marshal(transport.LeaderHeartbeat{Type: transport.TypeLeader, Host: "127.0.0.1", Port: 19899})
	require.NoError(t, err)
	sendFromEphemeralPort(t, cfg.BroadcastHost, cfg.BroadcastPort, payload)

	select {
	case reply := <-result:
		assert.Equal(t, "Election e1 ended. The winner is alice.", reply)
	case <-time.After(SniffLeaderTimeout + time.Second):
		t.Fatal("SendToLeader never returned")
	}
}
