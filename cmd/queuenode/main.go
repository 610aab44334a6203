// Command queuenode runs one member of a music-queue Raft cluster:
// it loads configuration, wires the FSM, stable store and gRPC peer
// transport together, and serves both the Raft/client RPCs and the
// optional metrics listener until interrupted.
package main

import (
	"context"
	"net"
	"os"
	"os/signal"
	"syscall"

	"github.com/benbjohnson/clock"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"google.golang.org/grpc"

	"github.com/CSE-5306-004-DISTRIBUTED-SYSTEMS/Project3/internal/config"
	"github.com/CSE-5306-004-DISTRIBUTED-SYSTEMS/Project3/internal/fsm"
	"github.com/CSE-5306-004-DISTRIBUTED-SYSTEMS/Project3/internal/raft"
	"github.com/CSE-5306-004-DISTRIBUTED-SYSTEMS/Project3/internal/telemetry"
	"github.com/CSE-5306-004-DISTRIBUTED-SYSTEMS/Project3/internal/transport"
)

func main() {
	var configPath string

	root := &cobra.Command{
		Use:   "queuenode",
		Short: "Run one member of a music-queue Raft cluster",
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(configPath)
		},
	}
	root.Flags().StringVar(&configPath, "config", "", "optional yaml file supplying node_id/port/peers and tunables")

	if err := root.Execute(); err != nil {
		log.Fatal().Err(err).Msg("queuenode exited")
	}
}

func run(configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	telemetry.ConfigureLogging(int(cfg.NodeID), cfg.Debug)
	registry := prometheus.NewRegistry()
	metrics := telemetry.NewMetrics(int(cfg.NodeID), registry)

	stable := raft.NewMemoryStableStore()
	machine := fsm.New()
	peerTransport := transport.NewGRPCTransport(cfg.Peers)
	defer peerTransport.Close()

	node := raft.New(cfg.RaftConfig(), peerTransport, stable, machine, metrics, clock.New())
	node.Start()
	defer node.Stop()

	grpcServer := grpc.NewServer()
	transport.RegisterServer(grpcServer, node)

	listener, err := net.Listen("tcp", cfg.ListenAddr())
	if err != nil {
		return err
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	go telemetry.ServeMetrics(ctx, cfg.MetricsAddr, registry)

	go func() {
		<-ctx.Done()
		log.Info().Msg("shutting down queuenode")
		grpcServer.GracefulStop()
	}()

	log.Info().Int("node", int(cfg.NodeID)).Str("addr", cfg.ListenAddr()).Msg("queuenode serving")
	return grpcServer.Serve(listener)
}
