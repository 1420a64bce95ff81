// Package model implements the vote-tally domain object replicated by the
// coordination plane. It owns no network or concurrency concerns; callers
// are responsible for serializing access (see internal/ringstate).
package model

import "fmt"

// Election is a named vote tally: a fixed slate of candidates, a fixed set
// of authorized voters, and the votes cast so far.
type Election struct {
	ID           string         `json:"election_id"`
	Candidates   []string       `json:"candidates"`
	Authorized   []string       `json:"authorized_users"`
	Tally        map[string]int `json:"votes"`
	SeenVoters   []string       `json:"seen_users"`
	authorizedOK map[string]bool
	candidateOK  map[string]bool
	seenOK       map[string]bool
}

// New builds an Election with a zeroed tally over candidates, in
// declaration order. Candidate order is preserved because Winner() breaks
// ties by first-seen order.
func New(id string, candidates, authorized []string) *Election {
	e := &Election{
		ID:         id,
		Candidates: append([]string(nil), candidates...),
		Authorized: append([]string(nil), authorized...),
		Tally:      make(map[string]int, len(candidates)),
		SeenVoters: nil,
	}
	for _, c := range candidates {
		e.Tally[c] = 0
	}
	e.rebuildIndexes()
	return e
}

// FromSnapshot reconstructs an Election from a wire snapshot, as used by
// replication ingestion. It trusts the payload's tally verbatim; invariants
// are the leader's responsibility to have maintained.
func FromSnapshot(s Snapshot) *Election {
	e := &Election{
		ID:         s.ElectionID,
		Candidates: append([]string(nil), s.Candidates...),
		Authorized: append([]string(nil), s.AuthorizedUsers...),
		Tally:      make(map[string]int, len(s.Votes)),
		SeenVoters: append([]string(nil), s.SeenUsers...),
	}
	for k, v := range s.Votes {
		e.Tally[k] = v
	}
	e.rebuildIndexes()
	return e
}

func (e *Election) rebuildIndexes() {
	e.authorizedOK = make(map[string]bool, len(e.Authorized))
	for _, u := range e.Authorized {
		e.authorizedOK[u] = true
	}
	e.candidateOK = make(map[string]bool, len(e.Candidates))
	for _, c := range e.Candidates {
		e.candidateOK[c] = true
	}
	e.seenOK = make(map[string]bool, len(e.SeenVoters))
	for _, v := range e.SeenVoters {
		e.seenOK[v] = true
	}
}

// RegisterVote applies preconditions 1-4 from the spec in order and
// returns a distinct human-readable message for each outcome. It mutates
// the election only on acceptance.
func (e *Election) RegisterVote(voter, candidate string) string {
	if !e.authorizedOK[voter] {
		return fmt.Sprintf("Error: User '%s' is not authorized to vote.", voter)
	}
	if !e.candidateOK[candidate] {
		return fmt.Sprintf("Error: Candidate '%s' is not a valid candidate.", candidate)
	}
	if e.seenOK[voter] {
		return fmt.Sprintf("Error: User '%s' has already voted.", voter)
	}

	e.Tally[candidate]++
	e.SeenVoters = append(e.SeenVoters, voter)
	e.seenOK[voter] = true
	return fmt.Sprintf("Vote for '%s' by user '%s' has been registered.", candidate, voter)
}

// Winner returns the candidate with the maximum tally, ties broken by
// declaration order. An election with no votes still returns the first
// candidate. Callers are expected to reject empty candidate slates at
// creation time (see router.handleElection); an empty slate here returns
// "" rather than panicking.
func (e *Election) Winner() string {
	if len(e.Candidates) == 0 {
		return ""
	}
	winner := e.Candidates[0]
	best := e.Tally[winner]
	for _, c := range e.Candidates[1:] {
		if e.Tally[c] > best {
			winner = c
			best = e.Tally[c]
		}
	}
	return winner
}

// Snapshot is the wire representation of an Election, replicated wholesale
// in every leader heartbeat.
type Snapshot struct {
	ElectionID      string         `json:"election_id"`
	Candidates      []string       `json:"candidates"`
	AuthorizedUsers []string       `json:"authorized_users"`
	Votes           map[string]int `json:"votes"`
	SeenUsers       []string       `json:"seen_users"`
}

// ToSnapshot serializes the election for replication.
func (e *Election) ToSnapshot() Snapshot {
	votes := make(map[string]int, len(e.Tally))
	for k, v := range e.Tally {
		votes[k] = v
	}
	return Snapshot{
		ElectionID:      e.ID,
		Candidates:      append([]string(nil), e.Candidates...),
		AuthorizedUsers: append([]string(nil), e.Authorized...),
		Votes:           votes,
		SeenUsers:       append([]string(nil), e.SeenVoters...),
	}
}

// CheckInvariants verifies the per-election invariants from the spec. It
// is used by tests and may be called defensively after replication.
func (e *Election) CheckInvariants() error {
	sum := 0
	for _, v := range e.Tally {
		sum += v
	}
	if sum != len(e.SeenVoters) {
		return fmt.Errorf("election %s: tally sum %d != seen voters %d", e.ID, sum, len(e.SeenVoters))
	}
	if len(e.Tally) != len(e.Candidates) {
		return fmt.Errorf("election %s: tally keys %d != candidates %d", e.ID, len(e.Tally), len(e.Candidates))
	}
	for _, v := range e.SeenVoters {
		if !e.authorizedOK[v] {
			return fmt.Errorf("election %s: seen voter %s not authorized", e.ID, v)
		}
	}
	return nil
}
