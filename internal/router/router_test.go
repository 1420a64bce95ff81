package router

import (
	"encoding/json"
	"os"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ringvote/coordinator/internal/config"
	"github.com/ringvote/coordinator/internal/metrics"
	"github.com/ringvote/coordinator/internal/ringstate"
	"github.com/ringvote/coordinator/internal/transport"
)

func testLogger() *logrus.Entry {
	log := logrus.New()
	log.SetOutput(os.Stderr)
	log.SetLevel(logrus.ErrorLevel)
	return log.WithField("test", true)
}

// newRunningRouter starts a Router's peer listener on a dedicated port and
// returns the backing node and metrics collector, ready for client dials.
func newRunningRouter(t *testing.T, host string, port int, leader bool) (*ringstate.Node, *metrics.Collector) {
	t.Helper()
	node := ringstate.New(1, ringstate.Endpoint{Host: host, Port: port})
	if leader {
		node.BecomeLeader()
	}
	mx := metrics.NewCollector()
	r := New(node, config.Default(), testLogger(), mx, func(uint64) {})

	ready := make(chan error, 1)
	go func() {
		ready <- r.RunPeerListener()
	}()
	// Give the listener a moment to bind before the first dial.
	time.Sleep(50 * time.Millisecond)
	t.Cleanup(node.Stop)
	return node, mx
}

func send(t *testing.T, host string, port int, msg any) string {
	t.Helper()
	payload, err := json.Marshal(msg)
	require.NoError(t, err)
	reply, err := transport.SendTCP(host, port, payload, 2*time.Second)
	require.NoError(t, err)
	return string(reply)
}

func TestRouterRejectsMutationsWhenNotLeader(t *testing.T) {
	node, _ := newRunningRouter(t, "127.0.0.1", 19201, false)
	defer node.Stop()

	reply := send(t, "127.0.0.1", 19201, transport.ElectionRequest{
		Type: transport.TypeElection, ID: "e1", Candidates: []string{"a", "b"}, Authorized: []string{"u1"},
	})
	assert.Contains(t, reply, "not the leader")
}

func TestRouterFullElectionLifecycle(t *testing.T) {
	node, mx := newRunningRouter(t, "127.0.0.1", 19202, true)
	defer node.Stop()
	_ = mx

	created := send(t, "127.0.0.1", 19202, transport.ElectionRequest{
		Type: transport.TypeElection, ID: "e1",
		Candidates: []string{"alice", "bob"}, Authorized: []string{"u1", "u2", "u3"},
	})
	assert.Equal(t, "Election e1 added successfully.", created)

	dup := send(t, "127.0.0.1", 19202, transport.ElectionRequest{
		Type: transport.TypeElection, ID: "e1",
		Candidates: []string{"alice", "bob"}, Authorized: []string{"u1"},
	})
	assert.Contains(t, dup, "already exists")

	vote1 := send(t, "127.0.0.1", 19202, transport.VoteRequest{
		Type: transport.TypeVote, ElectionID: "e1", VoterID: "u1", Candidate: "bob",
	})
	assert.Equal(t, "Vote for 'bob' by user 'u1' has been registered.", vote1)

	unauthorized := send(t, "127.0.0.1", 19202, transport.VoteRequest{
		Type: transport.TypeVote, ElectionID: "e1", VoterID: "ghost", Candidate: "bob",
	})
	assert.Contains(t, unauthorized, "not authorized")

	duplicate := send(t, "127.0.0.1", 19202, transport.VoteRequest{
		Type: transport.TypeVote, ElectionID: "e1", VoterID: "u1", Candidate: "alice",
	})
	assert.Contains(t, duplicate, "already voted")

	vote2 := send(t, "127.0.0.1", 19202, transport.VoteRequest{
		Type: transport.TypeVote, ElectionID: "e1", VoterID: "u2", Candidate: "alice",
	})
	assert.Equal(t, "Vote for 'alice' by user 'u2' has been registered.", vote2)

	// alice and bob are now tied 1-1; alice was declared first.
	ended := send(t, "127.0.0.1", 19202, transport.EndElectionRequest{Type: transport.TypeEndElection, ID: "e1"})
	assert.Equal(t, "Election e1 ended. The winner is alice.", ended)

	missing := send(t, "127.0.0.1", 19202, transport.VoteRequest{
		Type: transport.TypeVote, ElectionID: "e1", VoterID: "u3", Candidate: "alice",
	})
	assert.Contains(t, missing, "unknown")
}

func TestRouterRejectsEmptyCandidateSlate(t *testing.T) {
	node, _ := newRunningRouter(t, "127.0.0.1", 19205, true)
	defer node.Stop()

	reply := send(t, "127.0.0.1", 19205, transport.ElectionRequest{
		Type: transport.TypeElection, ID: "e1", Candidates: []string{}, Authorized: []string{"u1"},
	})
	assert.Contains(t, reply, "at least one candidate")
}

func TestRouterPingReportsRoleAndNodeID(t *testing.T) {
	node, _ := newRunningRouter(t, "127.0.0.1", 19203, true)
	defer node.Stop()

	payload, err := json.Marshal(transport.PingRequest{Type: transport.TypePing})
	require.NoError(t, err)
	reply, err := transport.SendTCP("127.0.0.1", 19203, payload, 2*time.Second)
	require.NoError(t, err)

	var pong transport.PongResponse
	require.NoError(t, json.Unmarshal(reply, &pong))
	assert.Equal(t, "leader", pong.Role)
	assert.Equal(t, node.ID(), pong.NodeID)
}

func TestRouterUnknownMessageType(t *testing.T) {
	node, _ := newRunningRouter(t, "127.0.0.1", 19204, true)
	defer node.Stop()

	reply := send(t, "127.0.0.1", 19204, struct {
		Type string `json:"type"`
	}{Type: "bogus"})
	assert.Contains(t, reply, "unknown message type")
}
