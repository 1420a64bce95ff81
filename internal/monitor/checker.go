// Package monitor implements the diagnostic ping probe described in
// spec.md §4.4: an external collaborator can dial a peer's TCP endpoint,
// send a "ping" envelope, and expect a "pong" reply carrying the peer's
// node id and role. It never touches a node's internal lock; it is pure
// client-side dialing, adapted from the teacher's PING/PONG health-check
// dialer in spirit rather than reused verbatim, since the wire shape here
// is a JSON envelope instead of a bare "PING" string.
package monitor

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/ringvote/coordinator/internal/transport"
)

const probeTimeout = 2 * time.Second

// Checker probes coordination-node peer endpoints. It holds no state; one
// value may be reused across probes.
type Checker struct{}

// NewChecker constructs a Checker.
func NewChecker() *Checker {
	return &Checker{}
}

// Result is a peer's answer to a diagnostic ping.
type Result struct {
	NodeID uint64
	Role   string
}

// Ping sends a "ping" envelope to host:port and decodes the "pong" reply.
func (c *Checker) Ping(host string, port int) (Result, error) {
	payload, err := json.Marshal(transport.PingRequest{Type: transport.TypePing})
	if err != nil {
		return Result{}, fmt.Errorf("encode ping: %w", err)
	}

	reply, err := transport.SendTCP(host, port, payload, probeTimeout)
	if err != nil {
		return Result{}, fmt.Errorf("ping %s:%d: %w", host, port, err)
	}

	var pong transport.PongResponse
	if err := json.Unmarshal(reply, &pong); err != nil {
		return Result{}, fmt.Errorf("decode pong from %s:%d: %w", host, port, err)
	}
	return Result{NodeID: pong.NodeID, Role: pong.Role}, nil
}
