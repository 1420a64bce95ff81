// Package election implements Chang-Roberts (LCR) style leader election
// over the logical ring maintained by internal/discovery: detecting
// leader loss, driving the token around the ring, and crowning a winner.
package election

import (
	"encoding/json"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/ringvote/coordinator/internal/config"
	"github.com/ringvote/coordinator/internal/metrics"
	"github.com/ringvote/coordinator/internal/ringstate"
	"github.com/ringvote/coordinator/internal/transport"
)

// pollInterval is how often the timeout/trigger loop wakes up. It is much
// finer than leader-timeout so the 5s bound in spec.md §4.2 is tight.
const pollInterval = 200 * time.Millisecond

// Election drives the leader-election activity for one node.
type Election struct {
	node *ringstate.Node
	cfg  config.Cluster
	log  *logrus.Entry
	mx   *metrics.Collector
}

// New wires a leader-election activity to a node.
func New(node *ringstate.Node, cfg config.Cluster, log *logrus.Entry, mx *metrics.Collector) *Election {
	return &Election{node: node, cfg: cfg, log: log, mx: mx}
}

// RunTimer watches for leader loss and drives new LCR rounds until the
// node stops.
func (e *Election) RunTimer() {
	for e.node.Running() {
		time.Sleep(pollInterval)

		state := e.node.CheckLeaderTimeout(time.Now(), e.cfg.LeaderTimeout)
		if state != ringstate.FollowerNoLeader {
			continue
		}
		if !e.node.BeginElection() {
			continue
		}
		e.startRound()
	}
}

// startRound is called once BeginElection has won the race to transition
// this node into Electing.
func (e *Election) startRound() {
	neighbor, ok := e.node.Neighbor()
	if !ok {
		// Neighbor not yet discovered: abandon, the next timeout fires the
		// retry once a beacon round trip has completed.
		e.log.Debug("election triggered before neighbor discovered; abandoning round")
		e.node.AbandonElectionRound()
		return
	}

	if neighbor == e.node.Self() {
		e.log.Info("single node in ring; becoming leader directly")
		e.node.BecomeLeader()
		e.mx.IncLeaderChange()
		return
	}

	e.log.WithField("neighbor", neighbor).Info("leader not available, starting LCR election")
	e.sendToken(neighbor, e.node.ID())
}

// HandleToken processes an inbound {"type":"lcr","id":k} message,
// applying the forwarding rule from spec.md §4.2.
func (e *Election) HandleToken(k uint64) {
	won, forwardID, shouldForward := e.node.OnLCRToken(k)
	if won {
		e.log.Info("LCR token returned; declaring self leader")
		e.mx.IncLeaderChange()
		return
	}
	if !shouldForward {
		e.log.Debug("already leader; dropping stale LCR token")
		return
	}

	neighbor, ok := e.node.Neighbor()
	if !ok {
		e.log.Warn("cannot forward LCR token: neighbor not yet discovered")
		e.node.AbandonElectionRound()
		return
	}
	e.sendToken(neighbor, forwardID)
}

func (e *Election) sendToken(to ringstate.Endpoint, id uint64) {
	token := transport.LCRToken{Type: transport.TypeLCR, ID: id}
	payload, err := json.Marshal(token)
	if err != nil {
		e.log.WithError(err).Error("encode LCR token")
		e.node.AbandonElectionRound()
		return
	}

	if _, err := transport.SendTCP(to.Host, to.Port, payload, e.cfg.PeerTimeout); err != nil {
		e.log.WithError(err).Warn("LCR neighbor unreachable; abandoning round")
		e.node.AbandonElectionRound()
		return
	}
	e.mx.IncLCRForwarded()
}
