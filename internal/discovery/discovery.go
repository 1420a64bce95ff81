// Package discovery implements peer discovery and ring membership:
// periodic "ring" beacons, ingestion of both "ring" and "leader"
// broadcasts, and the ring-maintenance tick that evicts stale peers and
// recomputes each node's neighbor.
package discovery

import (
	"encoding/json"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/ringvote/coordinator/internal/config"
	"github.com/ringvote/coordinator/internal/ringstate"
	"github.com/ringvote/coordinator/internal/transport"
)

// LeaderBroadcastHandler is invoked for every "leader" datagram received
// on the broadcast socket. Discovery does not interpret leader broadcasts
// itself — that is Leader Election's and Replication's job — it only
// demultiplexes by message type.
type LeaderBroadcastHandler func(hb transport.LeaderHeartbeat)

// Discovery runs the beacon-emit, broadcast-ingress, and ring-maintenance
// activities for one node.
type Discovery struct {
	node *ringstate.Node
	sock *transport.BroadcastSocket
	cfg  config.Cluster
	log  *logrus.Entry

	onLeader LeaderBroadcastHandler
}

// New wires a Discovery activity to an already-bound broadcast socket.
func New(node *ringstate.Node, sock *transport.BroadcastSocket, cfg config.Cluster, log *logrus.Entry, onLeader LeaderBroadcastHandler) *Discovery {
	return &Discovery{node: node, sock: sock, cfg: cfg, log: log, onLeader: onLeader}
}

// RunBeacon periodically broadcasts this node's {"type":"ring",...}
// beacon until the node stops. It blocks; run it in its own goroutine.
func (d *Discovery) RunBeacon() {
	self := d.node.Self()
	for d.node.Running() {
		msg := transport.RingBeacon{Type: transport.TypeRing, Host: self.Host, Port: self.Port}
		payload, err := json.Marshal(msg)
		if err != nil {
			d.log.WithError(err).Error("encode ring beacon")
		} else if err := d.sock.Send(payload); err != nil {
			d.log.WithError(err).Warn("broadcast ring beacon failed")
		}
		time.Sleep(d.cfg.BeaconInterval)
	}
}

// RunIngress reads broadcast datagrams until the node stops, dispatching
// "ring" messages into the ring table and "leader" messages to onLeader.
// Recv is bounded by a 1s deadline so the running flag is re-checked
// regularly even with no traffic.
func (d *Discovery) RunIngress() {
	for d.node.Running() {
		payload, err := d.sock.Recv(1 * time.Second)
		if err != nil {
			continue // timeout or transient recv error; re-check Running
		}

		env, err := transport.DecodeEnvelope(payload)
		if err != nil {
			d.log.WithError(err).Debug("drop malformed broadcast message")
			continue
		}

		switch env.Type {
		case transport.TypeRing:
			var beacon transport.RingBeacon
			if err := json.Unmarshal(payload, &beacon); err != nil {
				d.log.WithError(err).Debug("drop malformed ring beacon")
				continue
			}
			d.node.RecordPeerSeen(ringstate.Endpoint{Host: beacon.Host, Port: beacon.Port}, time.Now())

		case transport.TypeLeader:
			var hb transport.LeaderHeartbeat
			if err := json.Unmarshal(payload, &hb); err != nil {
				d.log.WithError(err).Warn("drop malformed leader broadcast; prior snapshot retained")
				continue
			}
			if d.onLeader != nil {
				d.onLeader(hb)
			}

		default:
			d.log.WithField("type", env.Type).Debug("drop broadcast message of unknown type")
		}
	}
}

// RunRingMaintenance periodically refreshes the local ring entry, evicts
// stale peers, and recomputes the neighbor. The first pass runs one beacon
// interval after start, so the neighbor stays undefined until beacons have
// had a full round to arrive.
func (d *Discovery) RunRingMaintenance() {
	for d.node.Running() {
		time.Sleep(d.cfg.BeaconInterval)
		d.node.RefreshAndEvict(time.Now(), d.cfg.PeerTimeout)
	}
}
