// Package telemetry wires the ambient logging and metrics stack:
// zerolog for structured logs (grounded on blastbao-leifdb's
// github.com/rs/zerolog/log usage) and a small set of
// prometheus/client_golang gauges/counters describing Raft node state
// (grounded on the prometheus dependency carried by cuemby-warren,
// ChuLiYu-raft-recovery, and bencoepp-bib).
package telemetry

import (
	"context"
	"net/http"
	"os"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// ConfigureLogging sets the global zerolog logger's level and output
// format. nodeID is attached to every subsequent log line so
// multi-node local runs are easy to grep.
func ConfigureLogging(nodeID int, debug bool) {
	level := zerolog.InfoLevel
	if debug {
		level = zerolog.DebugLevel
	}
	zerolog.SetGlobalLevel(level)
	zerolog.TimeFieldFormat = time.RFC3339

	log.Logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}).
		With().
		Timestamp().
		Int("node", nodeID).
		Logger()
}

// Metrics is the set of Raft-state gauges and RPC counters exposed on
// the metrics endpoint described in SPEC_FULL.md §6.
type Metrics struct {
	Role        prometheus.Gauge
	CurrentTerm prometheus.Gauge
	CommitIndex prometheus.Gauge
	LastApplied prometheus.Gauge
	RPCsSent    *prometheus.CounterVec
	RPCsRecv    *prometheus.CounterVec
}

// NewMetrics constructs and registers the metrics on the given
// registerer. Passing prometheus.NewRegistry() keeps tests isolated
// from the global default registry.
func NewMetrics(nodeID int, reg prometheus.Registerer) *Metrics {
	labels := prometheus.Labels{"node": strconv.Itoa(nodeID)}

	m := &Metrics{
		Role: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace:   "raft",
			Name:        "role",
			Help:        "Current role: 0=Follower, 1=Candidate, 2=Leader.",
			ConstLabels: labels,
		}),
		CurrentTerm: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace:   "raft",
			Name:        "current_term",
			Help:        "Current term as observed by this node.",
			ConstLabels: labels,
		}),
		CommitIndex: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace:   "raft",
			Name:        "commit_index",
			Help:        "Highest log index known committed.",
			ConstLabels: labels,
		}),
		LastApplied: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace:   "raft",
			Name:        "last_applied",
			Help:        "Highest log index applied to the FSM.",
			ConstLabels: labels,
		}),
		RPCsSent: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace:   "raft",
			Name:        "rpcs_sent_total",
			Help:        "Outbound peer RPCs by kind.",
			ConstLabels: labels,
		}, []string{"rpc"}),
		RPCsRecv: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace:   "raft",
			Name:        "rpcs_received_total",
			Help:        "Inbound RPCs (peer and client) by kind.",
			ConstLabels: labels,
		}, []string{"rpc"}),
	}

	reg.MustRegister(m.Role, m.CurrentTerm, m.CommitIndex, m.LastApplied, m.RPCsSent, m.RPCsRecv)
	return m
}

// ServeMetrics starts the secondary /healthz and /metrics listener
// described in SPEC_FULL.md §6. It runs until ctx is cancelled, and is
// a no-op if addr is empty (the default, metrics disabled).
func ServeMetrics(ctx context.Context, addr string, gatherer prometheus.Gatherer) {
	if addr == "" {
		return
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})
	mux.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))

	srv := &http.Server{Addr: addr, Handler: mux}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	log.Info().Str("addr", addr).Msg("metrics listener starting")
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		log.Error().Err(err).Msg("metrics listener stopped")
	}
}
