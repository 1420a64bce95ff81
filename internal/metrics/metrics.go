// Package metrics exposes the node's coordination-plane counters and
// gauges over Prometheus, adapted from the reference platform's
// metrics.Collector singleton into per-node instances so that multiple
// nodes in one test binary do not share state.
package metrics

import (
	"context"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Collector holds one node's exported metrics.
type Collector struct {
	registry *prometheus.Registry

	ringSize         prometheus.Gauge
	isLeader         prometheus.Gauge
	electionsActive  prometheus.Gauge
	electionsCreated prometheus.Counter
	votesAccepted    prometheus.Counter
	votesRejected    prometheus.Counter
	electionsEnded   prometheus.Counter
	lcrForwarded     prometheus.Counter
	leaderChanges    prometheus.Counter
}

// NewCollector builds and registers a fresh metric set on its own
// registry, so that Collector instances never collide across nodes.
func NewCollector() *Collector {
	reg := prometheus.NewRegistry()
	c := &Collector{
		registry: reg,
		ringSize: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "ringvote_ring_size",
			Help: "Number of live peers in this node's ring table.",
		}),
		isLeader: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "ringvote_is_leader",
			Help: "1 if this node currently believes it is the leader, else 0.",
		}),
		electionsActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "ringvote_elections_active",
			Help: "Number of domain elections currently held in memory.",
		}),
		electionsCreated: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "ringvote_elections_created_total",
			Help: "Total domain elections created by this leader.",
		}),
		votesAccepted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "ringvote_votes_accepted_total",
			Help: "Total votes accepted by this leader.",
		}),
		votesRejected: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "ringvote_votes_rejected_total",
			Help: "Total votes rejected (unauthorized, duplicate, unknown candidate).",
		}),
		electionsEnded: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "ringvote_elections_ended_total",
			Help: "Total domain elections ended by this leader.",
		}),
		lcrForwarded: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "ringvote_lcr_tokens_forwarded_total",
			Help: "Total LCR election tokens forwarded to this node's ring neighbor.",
		}),
		leaderChanges: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "ringvote_leader_changes_total",
			Help: "Total times this node transitioned into the LEADER role.",
		}),
	}
	reg.MustRegister(
		c.ringSize, c.isLeader, c.electionsActive, c.electionsCreated,
		c.votesAccepted, c.votesRejected, c.electionsEnded, c.lcrForwarded,
		c.leaderChanges,
	)
	return c
}

func (c *Collector) SetRingSize(n int) { c.ringSize.Set(float64(n)) }
func (c *Collector) SetLeader(isLeader bool) {
	if isLeader {
		c.isLeader.Set(1)
	} else {
		c.isLeader.Set(0)
	}
}
func (c *Collector) SetElectionsActive(n int) { c.electionsActive.Set(float64(n)) }
func (c *Collector) IncElectionCreated()      { c.electionsCreated.Inc() }
func (c *Collector) IncVoteAccepted()         { c.votesAccepted.Inc() }
func (c *Collector) IncVoteRejected()         { c.votesRejected.Inc() }
func (c *Collector) IncElectionEnded()        { c.electionsEnded.Inc() }
func (c *Collector) IncLCRForwarded()         { c.lcrForwarded.Inc() }
func (c *Collector) IncLeaderChange()         { c.leaderChanges.Inc() }

// Serve starts an HTTP server exporting the registry at /metrics, and
// shuts it down when ctx is cancelled. It runs independently of the
// coordination-plane sockets so scraping never contends with the node's
// critical section.
func (c *Collector) Serve(ctx context.Context, addr string) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{}))
	srv := &http.Server{Addr: addr, Handler: mux}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	case err := <-errCh:
		if err == http.ErrServerClosed {
			return nil
		}
		return err
	}
}
