// Package transport holds the wire message shapes and the UDP/TCP socket
// glue shared by discovery, election, replication, and the request router.
// It performs no business logic: it encodes, decodes, and moves bytes.
package transport

import (
	"encoding/json"
	"fmt"

	"github.com/ringvote/coordinator/internal/model"
)

// Message types recognized on the broadcast and TCP sockets.
const (
	TypeRing         = "ring"
	TypeLeader       = "leader"
	TypeLCR          = "lcr"
	TypeElection     = "election"
	TypeVote         = "vote"
	TypeEndElection  = "end_election"
	TypePing         = "ping"
	TypePong         = "pong"
)

// Envelope is decoded first to dispatch on Type before the full payload
// is parsed into its concrete shape.
type Envelope struct {
	Type string `json:"type"`
}

// RingBeacon is broadcast by every node every beacon interval.
type RingBeacon struct {
	Type string `json:"type"`
	Host string `json:"host"`
	Port int    `json:"port"`
}

// LeaderHeartbeat is broadcast by the leader once per heartbeat interval,
// carrying the full election dataset.
type LeaderHeartbeat struct {
	Type      string           `json:"type"`
	Host      string           `json:"host"`
	Port      int              `json:"port"`
	Elections []model.Snapshot `json:"elections"`
}

// LCRToken is forwarded around the ring during leader election.
type LCRToken struct {
	Type string `json:"type"`
	ID   uint64 `json:"id"`
}

// ElectionRequest creates a new domain election (not to be confused with
// leader election).
type ElectionRequest struct {
	Type       string   `json:"type"`
	ID         string   `json:"id"`
	Candidates []string `json:"candidates"`
	Authorized []string `json:"authorized_users"`
}

// VoteRequest casts a vote.
type VoteRequest struct {
	Type       string `json:"type"`
	ElectionID string `json:"election_id"`
	VoterID    string `json:"id"`
	Candidate  string `json:"candidate"`
}

// EndElectionRequest ends an election and requests the winner.
type EndElectionRequest struct {
	Type string `json:"type"`
	ID   string `json:"id"`
}

// PingRequest is the diagnostic pass-through probe on the peer endpoint.
type PingRequest struct {
	Type string `json:"type"`
}

// PongResponse answers a PingRequest without entering the elections
// critical section; reading the node's role takes the node lock for that
// one read.
type PongResponse struct {
	Type   string `json:"type"`
	NodeID uint64 `json:"node_id"`
	Role   string `json:"role"`
}

// DecodeEnvelope peeks at the message type without committing to a shape.
func DecodeEnvelope(b []byte) (Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(b, &env); err != nil {
		return Envelope{}, fmt.Errorf("decode envelope: %w", err)
	}
	if env.Type == "" {
		return Envelope{}, fmt.Errorf("decode envelope: missing type field")
	}
	return env, nil
}
