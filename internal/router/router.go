// Package router implements the request router: it accepts client TCP
// connections on the node's own peer endpoint (always bound) and on the
// leader-only endpoint (bound whenever and only while this node is
// LEADER), decodes one JSON object per connection, and dispatches it by
// message type.
package router

import (
	"encoding/json"
	"fmt"
	"net"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/ringvote/coordinator/internal/config"
	"github.com/ringvote/coordinator/internal/metrics"
	"github.com/ringvote/coordinator/internal/model"
	"github.com/ringvote/coordinator/internal/ringstate"
	"github.com/ringvote/coordinator/internal/transport"
)

// requestReadTimeout bounds how long a connection may take to finish
// sending its one request (the client half-closes its write side).
const requestReadTimeout = 2 * time.Second

// acceptPollInterval is the readiness-check granularity on TCP accept.
const acceptPollInterval = 1 * time.Second

// TokenHandler processes an inbound LCR token; it has no reply.
type TokenHandler func(id uint64)

// Router dispatches decoded client and peer requests against a node.
type Router struct {
	node *ringstate.Node
	cfg  config.Cluster
	log  *logrus.Entry
	mx   *metrics.Collector

	onToken TokenHandler
}

// New builds a Router bound to a node's state and its LCR token handler.
func New(node *ringstate.Node, cfg config.Cluster, log *logrus.Entry, mx *metrics.Collector, onToken TokenHandler) *Router {
	return &Router{node: node, cfg: cfg, log: log, mx: mx, onToken: onToken}
}

// RunPeerListener binds the node's own (host, port) endpoint for its
// entire lifetime, accepting lcr and diagnostic ping traffic (and, in
// principle, any other recognized message type).
func (r *Router) RunPeerListener() error {
	self := r.node.Self()
	addr := net.JoinHostPort(self.Host, fmt.Sprintf("%d", self.Port))
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("bind peer endpoint %s: %w", addr, err)
	}
	defer ln.Close()

	r.log.WithField("addr", addr).Info("peer endpoint listening")
	r.acceptLoop(ln, "peer")
	return nil
}

// RunLeaderListener binds (LEADER_HOST, LEADER_PORT) only while this node
// is LEADER, closing it the moment the node steps down, and rebinding if
// it is re-elected.
func (r *Router) RunLeaderListener() {
	addr := net.JoinHostPort(r.cfg.LeaderHost, fmt.Sprintf("%d", r.cfg.LeaderPort))

	var ln net.Listener
	for r.node.Running() {
		if r.node.IsLeader() && ln == nil {
			var err error
			ln, err = net.Listen("tcp", addr)
			if err != nil {
				r.log.WithError(err).Error("bind leader endpoint failed")
				time.Sleep(acceptPollInterval)
				continue
			}
			r.log.WithField("addr", addr).Info("leader endpoint bound")
			go r.acceptLoop(ln, "leader")
		} else if !r.node.IsLeader() && ln != nil {
			r.log.WithField("addr", addr).Info("stepped down; closing leader endpoint")
			ln.Close()
			ln = nil
		}
		time.Sleep(acceptPollInterval)
	}
	if ln != nil {
		ln.Close()
	}
}

func (r *Router) acceptLoop(ln net.Listener, label string) {
	tcpLn, _ := ln.(*net.TCPListener)
	for r.node.Running() {
		if tcpLn != nil {
			_ = tcpLn.SetDeadline(time.Now().Add(acceptPollInterval))
		}
		conn, err := ln.Accept()
		if err != nil {
			if ne, ok := err.(net.Error); ok && ne.Timeout() {
				continue
			}
			if !r.node.Running() {
				return
			}
			r.log.WithError(err).WithField("endpoint", label).Warn("accept failed")
			continue
		}
		go r.handleConnection(conn)
	}
}

func (r *Router) handleConnection(conn net.Conn) {
	reqID := uuid.NewString()
	defer conn.Close()

	payload, err := transport.ReadRequest(conn, requestReadTimeout)
	if err != nil {
		r.log.WithError(err).WithField("req_id", reqID).Warn("read client request failed")
		return
	}
	if len(payload) == 0 {
		return
	}

	env, err := transport.DecodeEnvelope(payload)
	if err != nil {
		r.log.WithError(err).WithField("req_id", reqID).Debug("drop malformed client request")
		r.reply(conn, "Error: malformed request")
		return
	}

	log := r.log.WithFields(logrus.Fields{"req_id": reqID, "type": env.Type})

	switch env.Type {
	case transport.TypeElection:
		var req transport.ElectionRequest
		if err := json.Unmarshal(payload, &req); err != nil {
			r.reply(conn, "Error: malformed election request")
			return
		}
		r.reply(conn, r.handleElection(req))

	case transport.TypeVote:
		var req transport.VoteRequest
		if err := json.Unmarshal(payload, &req); err != nil {
			r.reply(conn, "Error: malformed vote request")
			return
		}
		r.reply(conn, r.handleVote(req))

	case transport.TypeEndElection:
		var req transport.EndElectionRequest
		if err := json.Unmarshal(payload, &req); err != nil {
			r.reply(conn, "Error: malformed end_election request")
			return
		}
		r.reply(conn, r.handleEndElection(req))

	case transport.TypeLCR:
		var token transport.LCRToken
		if err := json.Unmarshal(payload, &token); err != nil {
			log.WithError(err).Debug("drop malformed lcr token")
			return
		}
		if r.onToken != nil {
			r.onToken(token.ID)
		}
		// No reply by design (spec.md §4.4).

	case transport.TypePing:
		resp := transport.PongResponse{Type: transport.TypePong, NodeID: r.node.ID(), Role: r.node.Role()}
		b, err := json.Marshal(resp)
		if err == nil {
			_, _ = conn.Write(b)
		}

	default:
		log.Debug("unknown request type")
		r.reply(conn, fmt.Sprintf("Error: unknown message type '%s'", env.Type))
	}
}

func (r *Router) reply(conn net.Conn, msg string) {
	if _, err := conn.Write([]byte(msg)); err != nil {
		r.log.WithError(err).Warn("write client reply failed")
	}
}

func (r *Router) handleElection(req transport.ElectionRequest) string {
	var result string
	_ = r.node.WithElections(func(elections map[string]*model.Election, state ringstate.State) error {
		if state != ringstate.Leader {
			result = "Error: not the leader; reconnect to the current leader"
			return nil
		}
		if _, exists := elections[req.ID]; exists {
			result = fmt.Sprintf("Election id %s already exists", req.ID)
			return nil
		}
		if len(req.Candidates) == 0 {
			result = "Error: an election must have at least one candidate"
			return nil
		}
		elections[req.ID] = model.New(req.ID, req.Candidates, req.Authorized)
		r.mx.IncElectionCreated()
		r.mx.SetElectionsActive(len(elections))
		result = fmt.Sprintf("Election %s added successfully.", req.ID)
		return nil
	})
	return result
}

func (r *Router) handleVote(req transport.VoteRequest) string {
	var result string
	_ = r.node.WithElections(func(elections map[string]*model.Election, state ringstate.State) error {
		if state != ringstate.Leader {
			result = "Error: not the leader; reconnect to the current leader"
			return nil
		}
		e, ok := elections[req.ElectionID]
		if !ok {
			result = fmt.Sprintf("Error: Election id %s unknown", req.ElectionID)
			return nil
		}
		result = e.RegisterVote(req.VoterID, req.Candidate)
		if len(result) >= 5 && result[:5] == "Error" {
			r.mx.IncVoteRejected()
		} else {
			r.mx.IncVoteAccepted()
		}
		return nil
	})
	return result
}

func (r *Router) handleEndElection(req transport.EndElectionRequest) string {
	var result string
	_ = r.node.WithElections(func(elections map[string]*model.Election, state ringstate.State) error {
		if state != ringstate.Leader {
			result = "Error: not the leader; reconnect to the current leader"
			return nil
		}
		e, ok := elections[req.ID]
		if !ok {
			result = fmt.Sprintf("Election id %s not found", req.ID)
			return nil
		}
		winner := e.Winner()
		result = fmt.Sprintf("Election %s ended. The winner is %s.", req.ID, winner)
		delete(elections, req.ID)
		r.mx.IncElectionEnded()
		r.mx.SetElectionsActive(len(elections))
		return nil
	})
	return result
}
