// Package coordnode assembles one coordination node from its five
// concurrent activities (Discovery, Leader Election, Replication,
// Request Router, and the Metrics exporter) sharing one ringstate.Node.
// Two Servers built in the same process are fully independent: nothing
// here is a package-level singleton.
package coordnode

import (
	"context"
	"crypto/rand"
	"fmt"
	"math/big"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/ringvote/coordinator/internal/config"
	"github.com/ringvote/coordinator/internal/discovery"
	"github.com/ringvote/coordinator/internal/election"
	"github.com/ringvote/coordinator/internal/logging"
	"github.com/ringvote/coordinator/internal/metrics"
	"github.com/ringvote/coordinator/internal/replication"
	"github.com/ringvote/coordinator/internal/ringstate"
	"github.com/ringvote/coordinator/internal/router"
	"github.com/ringvote/coordinator/internal/transport"
)

// Server wires together the five activities sharing one node's state.
type Server struct {
	Node    *ringstate.Node
	Metrics *metrics.Collector

	cfg  config.Cluster
	log  *logrus.Entry
	sock *transport.BroadcastSocket

	disc *discovery.Discovery
	elec *election.Election
	repl *replication.Replication
	rtr  *router.Router
}

// RandomNodeID samples a positive 62-bit identifier uniformly at random,
// making collisions between live cluster members astronomically unlikely
// (spec.md §3).
func RandomNodeID() (uint64, error) {
	max := new(big.Int).Lsh(big.NewInt(1), 62)
	n, err := rand.Int(rand.Reader, max)
	if err != nil {
		return 0, fmt.Errorf("generate node id: %w", err)
	}
	return n.Uint64() + 1, nil
}

// New builds a Server for the given peer endpoint. It binds the
// broadcast socket eagerly so a bind failure at startup is caught before
// any activity starts (spec.md §6: bind failure is fatal).
func New(host string, port int, cfg config.Cluster, baseLog *logrus.Logger) (*Server, error) {
	id, err := RandomNodeID()
	if err != nil {
		return nil, err
	}

	self := ringstate.Endpoint{Host: host, Port: port}
	node := ringstate.New(id, self)
	entry := logging.With(baseLog, id, host, port)

	sock, err := transport.NewBroadcastSocket(cfg.BroadcastHost, cfg.BroadcastPort)
	if err != nil {
		return nil, fmt.Errorf("bind broadcast socket: %w", err)
	}

	mx := metrics.NewCollector()
	repl := replication.New(node, sock, cfg, entry, mx)
	elec := election.New(node, cfg, entry, mx)
	disc := discovery.New(node, sock, cfg, entry, repl.Ingest)
	rtr := router.New(node, cfg, entry, mx, elec.HandleToken)

	return &Server{
		Node:    node,
		Metrics: mx,
		cfg:     cfg,
		log:     entry,
		sock:    sock,
		disc:    disc,
		elec:    elec,
		repl:    repl,
		rtr:     rtr,
	}, nil
}

// Run starts every activity and blocks until ctx is cancelled or the
// always-on peer listener fails to bind. On return, the node has been
// stopped and its broadcast socket closed.
func (s *Server) Run(ctx context.Context) error {
	go s.disc.RunBeacon()
	go s.disc.RunIngress()
	go s.disc.RunRingMaintenance()
	go s.elec.RunTimer()
	go s.repl.RunEmit()
	go s.rtr.RunLeaderListener()
	go s.runMetricsSync()

	if s.cfg.MetricsAddr != "" {
		go func() {
			if err := s.Metrics.Serve(ctx, s.cfg.MetricsAddr); err != nil {
				s.log.WithError(err).Warn("metrics server stopped")
			}
		}()
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- s.rtr.RunPeerListener()
	}()

	var runErr error
	select {
	case <-ctx.Done():
	case runErr = <-errCh:
	}

	s.Node.Stop()
	_ = s.sock.Close()
	return runErr
}

// runMetricsSync keeps the ring-size and role gauges current without
// having discovery or the election timer reach into metrics directly.
func (s *Server) runMetricsSync() {
	for s.Node.Running() {
		s.Metrics.SetRingSize(s.Node.RingSize())
		s.Metrics.SetLeader(s.Node.IsLeader())
		s.Metrics.SetElectionsActive(s.Node.ElectionsCount())
		time.Sleep(s.cfg.BeaconInterval)
	}
}
