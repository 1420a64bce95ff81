// Package replication implements leader-driven replication of the full
// election dataset: the leader broadcasts a snapshot every heartbeat
// interval, and followers atomically replace their local dataset from
// it. Followers are eventually consistent with the leader, bounded by one
// heartbeat interval plus UDP loss — writes are not durable across leader
// failure (spec.md §4.3, accepted weakness).
package replication

import (
	"encoding/json"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/ringvote/coordinator/internal/config"
	"github.com/ringvote/coordinator/internal/metrics"
	"github.com/ringvote/coordinator/internal/ringstate"
	"github.com/ringvote/coordinator/internal/transport"
)

// Replication runs the leader-only emit loop and the follower ingest
// path for one node.
type Replication struct {
	node *ringstate.Node
	sock *transport.BroadcastSocket
	cfg  config.Cluster
	log  *logrus.Entry
	mx   *metrics.Collector
}

// New wires a replication activity to a node and its broadcast socket.
func New(node *ringstate.Node, sock *transport.BroadcastSocket, cfg config.Cluster, log *logrus.Entry, mx *metrics.Collector) *Replication {
	return &Replication{node: node, sock: sock, cfg: cfg, log: log, mx: mx}
}

// RunEmit broadcasts a full snapshot once per heartbeat interval while
// this node is LEADER. It is a no-op (but keeps ticking, so it reacts
// promptly to a promotion) while the node is a follower.
func (r *Replication) RunEmit() {
	self := r.node.Self()
	for r.node.Running() {
		if r.node.IsLeader() {
			hb := transport.LeaderHeartbeat{
				Type:      transport.TypeLeader,
				Host:      self.Host,
				Port:      self.Port,
				Elections: r.node.SnapshotElections(),
			}
			payload, err := json.Marshal(hb)
			if err != nil {
				r.log.WithError(err).Error("encode leader heartbeat")
			} else if err := r.sock.Send(payload); err != nil {
				r.log.WithError(err).Warn("broadcast leader heartbeat failed")
			}
		}
		time.Sleep(r.cfg.HeartbeatInterval)
	}
}

// Ingest applies a received leader broadcast: resets the heartbeat clock
// and election_in_progress, and — unless this node is itself LEADER —
// atomically replaces the local election dataset. A newly crowned leader
// does not reconcile with the prior leader's last snapshot before
// broadcasting its own; it may resurrect a just-ended election, which is
// the documented weakness from spec.md §9.
func (r *Replication) Ingest(hb transport.LeaderHeartbeat) {
	shouldReplicate := r.node.OnLeaderHeartbeat(time.Now())
	if !shouldReplicate {
		return
	}
	r.node.ReplaceElections(hb.Elections)
	r.mx.SetElectionsActive(r.node.ElectionsCount())
	r.log.WithField("elections", len(hb.Elections)).Debug("replicated leader snapshot")
}
