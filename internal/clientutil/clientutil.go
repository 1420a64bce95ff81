// Package clientutil implements the external client-side collaborator
// described in spec.md §1 and §6: sniffing one "leader" broadcast to
// locate the current leader, then sending a single request over TCP.
// None of this participates in the coordination plane itself.
package clientutil

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/ringvote/coordinator/internal/config"
	"github.com/ringvote/coordinator/internal/transport"
)

// SniffLeaderTimeout bounds how long a client waits for a leader
// broadcast before giving up.
const SniffLeaderTimeout = 10 * time.Second

// SniffLeader listens on the cluster broadcast port until it observes a
// "leader" message, returning the advertised (host, port).
func SniffLeader(cfg config.Cluster) (host string, port int, err error) {
	sock, err := transport.NewBroadcastSocket(cfg.BroadcastHost, cfg.BroadcastPort)
	if err != nil {
		return "", 0, fmt.Errorf("listen for leader broadcast: %w", err)
	}
	defer sock.Close()

	deadline := time.Now().Add(SniffLeaderTimeout)
	for time.Now().Before(deadline) {
		payload, err := sock.Recv(1 * time.Second)
		if err != nil {
			continue
		}
		env, err := transport.DecodeEnvelope(payload)
		if err != nil || env.Type != transport.TypeLeader {
			continue
		}
		var hb transport.LeaderHeartbeat
		if err := json.Unmarshal(payload, &hb); err != nil {
			continue
		}
		return hb.Host, hb.Port, nil
	}
	return "", 0, fmt.Errorf("no leader broadcast observed within %s", SniffLeaderTimeout)
}

// SendToLeader sniffs the current leader and sends it msg, returning the
// leader's text reply.
func SendToLeader(cfg config.Cluster, msg any) (string, error) {
	host, port, err := SniffLeader(cfg)
	if err != nil {
		return "", err
	}
	payload, err := json.Marshal(msg)
	if err != nil {
		return "", fmt.Errorf("encode request: %w", err)
	}
	reply, err := transport.SendTCP(host, port, payload, 5*time.Second)
	if err != nil {
		return "", fmt.Errorf("send to leader %s:%d: %w", host, port, err)
	}
	return string(reply), nil
}
