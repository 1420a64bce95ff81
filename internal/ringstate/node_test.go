package ringstate

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ringvote/coordinator/internal/model"
)

func TestRefreshAndEvictComputesNeighbor(t *testing.T) {
	self := Endpoint{Host: "10.0.0.1", Port: 9100}
	n := New(1, self)

	n.RecordPeerSeen(self, time.Now())
	n.RecordPeerSeen(Endpoint{Host: "10.0.0.2", Port: 9100}, time.Now())
	n.RecordPeerSeen(Endpoint{Host: "10.0.0.3", Port: 9100}, time.Now())

	n.RefreshAndEvict(time.Now(), 2*time.Second)

	neighbor, ok := n.Neighbor()
	require.True(t, ok)
	assert.Equal(t, Endpoint{Host: "10.0.0.2", Port: 9100}, neighbor)
	assert.Equal(t, 3, n.RingSize())
}

func TestRefreshAndEvictWrapsAround(t *testing.T) {
	self := Endpoint{Host: "10.0.0.3", Port: 9100}
	n := New(1, self)

	n.RecordPeerSeen(self, time.Now())
	n.RecordPeerSeen(Endpoint{Host: "10.0.0.1", Port: 9100}, time.Now())
	n.RecordPeerSeen(Endpoint{Host: "10.0.0.2", Port: 9100}, time.Now())

	n.RefreshAndEvict(time.Now(), 2*time.Second)

	neighbor, ok := n.Neighbor()
	require.True(t, ok)
	assert.Equal(t, Endpoint{Host: "10.0.0.1", Port: 9100}, neighbor)
}

func TestNeighborUndefinedBeforeSelfDiscovered(t *testing.T) {
	self := Endpoint{Host: "10.0.0.9", Port: 9100}
	n := New(1, self)

	// A peer beacon arrives before this node's own entry has been
	// inserted by RefreshAndEvict.
	n.RecordPeerSeen(Endpoint{Host: "10.0.0.2", Port: 9100}, time.Now())

	n.mu.Lock()
	n.recomputeNeighborLocked()
	n.mu.Unlock()

	_, ok := n.Neighbor()
	assert.False(t, ok, "neighbor must stay undefined, not panic, until self is in the ring table")
}

func TestRefreshAndEvictDropsStalePeers(t *testing.T) {
	self := Endpoint{Host: "10.0.0.1", Port: 9100}
	n := New(1, self)

	stale := Endpoint{Host: "10.0.0.2", Port: 9100}
	n.RecordPeerSeen(self, time.Now())
	n.RecordPeerSeen(stale, time.Now().Add(-10*time.Second))

	n.RefreshAndEvict(time.Now(), 2*time.Second)

	assert.Equal(t, 1, n.RingSize())
}

func TestBeginElectionGatedOnState(t *testing.T) {
	n := New(1, Endpoint{Host: "h", Port: 1})
	assert.True(t, n.BeginElection())
	assert.False(t, n.BeginElection(), "a second concurrent call must not also win")
}

func TestAbandonElectionRoundAllowsRetry(t *testing.T) {
	n := New(1, Endpoint{Host: "h", Port: 1})
	require.True(t, n.BeginElection())
	assert.Equal(t, Electing, n.State())

	n.AbandonElectionRound()
	assert.Equal(t, FollowerNoLeader, n.State())

	// Must be able to begin another round immediately.
	assert.True(t, n.BeginElection())
}

func TestOnLCRTokenCrownsSelf(t *testing.T) {
	n := New(42, Endpoint{Host: "h", Port: 1})
	require.True(t, n.BeginElection())

	won, _, shouldForward := n.OnLCRToken(42)
	assert.True(t, won)
	assert.False(t, shouldForward)
	assert.Equal(t, Leader, n.State())
}

func TestOnLCRTokenForwardsMax(t *testing.T) {
	n := New(5, Endpoint{Host: "h", Port: 1})

	won, forwardID, shouldForward := n.OnLCRToken(9)
	assert.False(t, won)
	assert.True(t, shouldForward)
	assert.Equal(t, uint64(9), forwardID)

	won, forwardID, shouldForward = n.OnLCRToken(2)
	assert.False(t, won)
	assert.True(t, shouldForward)
	assert.Equal(t, uint64(5), forwardID)
}

func TestOnLCRTokenDroppedWhenAlreadyLeader(t *testing.T) {
	n := New(5, Endpoint{Host: "h", Port: 1})
	n.BecomeLeader()

	_, _, shouldForward := n.OnLCRToken(99)
	assert.False(t, shouldForward)
	assert.Equal(t, Leader, n.State())
}

func TestCheckLeaderTimeoutTransitionsOnExpiry(t *testing.T) {
	n := New(1, Endpoint{Host: "h", Port: 1})
	n.OnLeaderHeartbeat(time.Now().Add(-10 * time.Second))

	state := n.CheckLeaderTimeout(time.Now(), 5*time.Second)
	assert.Equal(t, FollowerNoLeader, state)
}

func TestOnLeaderHeartbeatIgnoredWhenSelfIsLeader(t *testing.T) {
	n := New(1, Endpoint{Host: "h", Port: 1})
	n.BecomeLeader()

	shouldReplicate := n.OnLeaderHeartbeat(time.Now())
	assert.False(t, shouldReplicate)
	assert.Equal(t, Leader, n.State())
}

func TestReplaceElectionsIsAtomic(t *testing.T) {
	n := New(1, Endpoint{Host: "h", Port: 1})
	snap := []model.Snapshot{
		{
			ElectionID:      "e1",
			Candidates:      []string{"a", "b"},
			AuthorizedUsers: []string{"u1"},
			Votes:           map[string]int{"a": 1, "b": 0},
			SeenUsers:       []string{"u1"},
		},
	}
	n.ReplaceElections(snap)
	assert.Equal(t, 1, n.ElectionsCount())

	out := n.SnapshotElections()
	require.Len(t, out, 1)
	assert.Equal(t, "e1", out[0].ElectionID)
}

func TestWithElectionsSeesCurrentState(t *testing.T) {
	n := New(1, Endpoint{Host: "h", Port: 1})
	n.BecomeLeader()

	var seenState State
	err := n.WithElections(func(elections map[string]*model.Election, state State) error {
		seenState = state
		elections["e1"] = model.New("e1", []string{"a"}, []string{"u1"})
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, Leader, seenState)
	assert.Equal(t, 1, n.ElectionsCount())
}
