// Package ringstate holds the node-local state object shared by every
// concurrent activity on a coordination node: ring membership, leader
// election state, and the replicated election dataset. All mutation goes
// through a single node-wide lock, discharging the serialization section
// 5 of the spec requires; no method here performs network I/O.
package ringstate

import (
	"sort"
	"sync"
	"time"

	"github.com/ringvote/coordinator/internal/model"
)

// State is the leader-election state machine position of a node.
type State int

const (
	// FollowerWithLeader believes a leader is alive and recent.
	FollowerWithLeader State = iota
	// FollowerNoLeader has not heard from a leader within the leader timeout.
	FollowerNoLeader
	// Electing has an LCR round in flight that it either started or is
	// waiting to resolve.
	Electing
	// Leader is driving replication and accepting client mutations.
	Leader
)

// Role collapses the four-state machine to the two-valued role exposed by
// the data model (spec.md §3, "role ∈ {leader, follower}").
func (s State) Role() string {
	if s == Leader {
		return "leader"
	}
	return "follower"
}

// Endpoint identifies a peer by its TCP address. It is comparable and
// usable as a map key, matching the ring table's (host, port) keying.
type Endpoint struct {
	Host string
	Port int
}

// Node is the shared state object for one coordination node. A process
// under test may construct several independent Nodes; nothing here is a
// package-level singleton.
type Node struct {
	mu sync.Mutex

	id   uint64
	self Endpoint

	state               State
	electionInProgress  bool
	lastLeaderHeartbeat time.Time

	ringTable map[Endpoint]time.Time
	neighbor  *Endpoint

	elections map[string]*model.Election

	running bool
}

// New constructs a Node for the given identity, starting as
// FollowerNoLeader with an empty ring and no elections.
func New(id uint64, self Endpoint) *Node {
	return &Node{
		id:        id,
		self:      self,
		state:     FollowerNoLeader,
		ringTable: map[Endpoint]time.Time{},
		elections: map[string]*model.Election{},
		running:   true,
	}
}

// ID returns this node's random tie-breaking identifier.
func (n *Node) ID() uint64 { return n.id }

// Self returns this node's own endpoint.
func (n *Node) Self() Endpoint { return n.self }

// Running reports whether the node has not yet been stopped.
func (n *Node) Running() bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.running
}

// Stop marks the node as shutting down; every activity observes this
// within one tick and exits.
func (n *Node) Stop() {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.running = false
}

// State returns the current election-state-machine position.
func (n *Node) State() State {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.state
}

// Role returns "leader" or "follower".
func (n *Node) Role() string {
	return n.State().Role()
}

// IsLeader reports whether the node is currently LEADER.
func (n *Node) IsLeader() bool {
	return n.State() == Leader
}

// --- Ring membership (Discovery owns this section) ---

// RecordPeerSeen updates the ring table's last-seen timestamp for ep.
func (n *Node) RecordPeerSeen(ep Endpoint, now time.Time) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.ringTable[ep] = now
}

// RefreshAndEvict refreshes the local entry, evicts peers stale for more
// than peerTimeout, and recomputes the neighbor. It is the single
// operation driving the "ring-maintenance" tick in spec.md §4.1.
func (n *Node) RefreshAndEvict(now time.Time, peerTimeout time.Duration) {
	n.mu.Lock()
	defer n.mu.Unlock()

	n.ringTable[n.self] = now
	for ep, seen := range n.ringTable {
		if ep == n.self {
			continue
		}
		if now.Sub(seen) > peerTimeout {
			delete(n.ringTable, ep)
		}
	}
	n.recomputeNeighborLocked()
}

func (n *Node) recomputeNeighborLocked() {
	members := make([]Endpoint, 0, len(n.ringTable))
	for ep := range n.ringTable {
		members = append(members, ep)
	}
	sort.Slice(members, func(i, j int) bool {
		if members[i].Host != members[j].Host {
			return members[i].Host < members[j].Host
		}
		return members[i].Port < members[j].Port
	})

	idx := -1
	for i, ep := range members {
		if ep == n.self {
			idx = i
			break
		}
	}
	if idx == -1 {
		// Not-yet-discovered-self: spec.md §9 calls out the original's
		// crash here. Leave the neighbor undefined until the next tick,
		// by which time RefreshAndEvict has inserted our own entry.
		n.neighbor = nil
		return
	}
	next := members[(idx+1)%len(members)]
	n.neighbor = &next
}

// Neighbor returns the current ring successor and whether one has been
// computed yet. It is nil until at least one full beacon round trip has
// completed, per spec.md §4.1.
func (n *Node) Neighbor() (Endpoint, bool) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.neighbor == nil {
		return Endpoint{}, false
	}
	return *n.neighbor, true
}

// RingSize returns the number of live peers, including self.
func (n *Node) RingSize() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.ringTable)
}

// --- Leader election state machine (Leader Election owns this section) ---

// CheckLeaderTimeout transitions FollowerWithLeader -> FollowerNoLeader
// once last-heartbeat age exceeds leaderTimeout. Returns the resulting
// state.
func (n *Node) CheckLeaderTimeout(now time.Time, leaderTimeout time.Duration) State {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.state == FollowerWithLeader && now.Sub(n.lastLeaderHeartbeat) > leaderTimeout {
		n.state = FollowerNoLeader
	}
	return n.state
}

// BeginElection transitions FollowerNoLeader -> Electing if no election
// is already in progress, returning true if this call won the race and
// should drive the LCR round (or self-crown, if alone in the ring).
func (n *Node) BeginElection() bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.state != FollowerNoLeader || n.electionInProgress {
		return false
	}
	n.electionInProgress = true
	n.state = Electing
	return true
}

// BecomeLeader transitions directly to LEADER (the single-node case, or
// after an LCR token returns to its originator).
func (n *Node) BecomeLeader() {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.state = Leader
	n.electionInProgress = false
}

// AbandonElectionRound clears election_in_progress and returns this node
// to FollowerNoLeader so the next timer tick may retry, used when a
// neighbor send fails or a round is started before a neighbor is known
// (spec.md §4.2: "abandon round; the 5s leader-loss timer will retry").
func (n *Node) AbandonElectionRound() {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.electionInProgress = false
	if n.state == Electing {
		n.state = FollowerNoLeader
	}
}

// OnLCRToken applies the LCR forwarding rule for a token carrying id k.
// It returns (won, forwardID, shouldForward): won is true if k == this
// node's id (crown self); otherwise shouldForward is true unless this
// node is already LEADER, in which case the stale token is dropped.
func (n *Node) OnLCRToken(k uint64) (won bool, forwardID uint64, shouldForward bool) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.state == Leader {
		return false, 0, false
	}
	if k == n.id {
		n.state = Leader
		n.electionInProgress = false
		return true, 0, false
	}
	forward := k
	if n.id > forward {
		forward = n.id
	}
	return false, forward, true
}

// OnLeaderHeartbeat applies a received leader broadcast: any state moves
// to FollowerWithLeader (unless this node is itself LEADER, in which case
// it is a stray/duplicate and ignored), election_in_progress clears, and
// the heartbeat clock advances.
func (n *Node) OnLeaderHeartbeat(now time.Time) (shouldReplicate bool) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.lastLeaderHeartbeat = now
	n.electionInProgress = false
	if n.state == Leader {
		return false
	}
	n.state = FollowerWithLeader
	return true
}

// LastLeaderHeartbeat returns the last time a leader broadcast was seen.
func (n *Node) LastLeaderHeartbeat() time.Time {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.lastLeaderHeartbeat
}

// --- Election dataset (Election Model owns the map; Replication and the
// Request Router are the only callers that may mutate it) ---

// WithElections runs fn under the node lock, giving it direct access to
// the elections map. This is the single critical section mentioned in
// spec.md §4.4 and §5: client mutations and LCR processing are
// serialized against it, and the leader check happens inside fn so a
// concurrent demotion can't race a mutation.
func (n *Node) WithElections(fn func(elections map[string]*model.Election, state State) error) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	return fn(n.elections, n.state)
}

// ReplaceElections atomically overwrites the elections map from a
// replicated snapshot. Partial updates are forbidden: callers must decode
// the full payload before calling this.
func (n *Node) ReplaceElections(snapshots []model.Snapshot) {
	n.mu.Lock()
	defer n.mu.Unlock()
	fresh := make(map[string]*model.Election, len(snapshots))
	for _, s := range snapshots {
		fresh[s.ElectionID] = model.FromSnapshot(s)
	}
	n.elections = fresh
}

// SnapshotElections serializes every current election for a leader
// heartbeat.
func (n *Node) SnapshotElections() []model.Snapshot {
	n.mu.Lock()
	defer n.mu.Unlock()
	out := make([]model.Snapshot, 0, len(n.elections))
	for _, e := range n.elections {
		out = append(out, e.ToSnapshot())
	}
	return out
}

// ElectionsCount returns the number of live domain elections.
func (n *Node) ElectionsCount() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.elections)
}
