// Command electiond runs a demo election cluster in a single process:
// every configured peer gets its own Election instance, wired together
// with an in-process transport.LoopbackTransport so the protocol can be
// observed end-to-end without a real network stack (spec §1's transport
// Non-goal). Structured the way the teacher's cmd/server/main.go wires
// flags into a running node, generalized to cobra + viper and to a
// multi-member demo rather than a single gRPC-addressed one.
package main

import (
	"context"
	"fmt"
	"math/rand"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"sync"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/quorumkit/election/agent"
	"github.com/quorumkit/election/archive"
	"github.com/quorumkit/election/config"
	"github.com/quorumkit/election/election"
	"github.com/quorumkit/election/markfile"
	"github.com/quorumkit/election/membertable"
	"github.com/quorumkit/election/metrics"
	"github.com/quorumkit/election/transport"
)

func main() {
	root := &cobra.Command{
		Use:   "electiond",
		Short: "Run a demo leader-election cluster in one process",
		RunE:  run,
	}
	config.BindFlags(root.Flags())
	root.Flags().String("metrics-addr", ":9090", "Prometheus /metrics listen address")

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(cmd *cobra.Command, _ []string) error {
	logger, err := zap.NewProduction()
	if err != nil {
		return err
	}
	defer logger.Sync()

	cfg, err := config.Load(cmd.Flags())
	if err != nil {
		return err
	}
	metricsAddr, _ := cmd.Flags().GetString("metrics-addr")

	if len(cfg.Peers) == 0 {
		cfg.Peers = map[membertable.ID]string{0: "loopback"}
	}

	reg := prometheus.NewRegistry()
	http.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	go func() {
		if err := http.ListenAndServe(metricsAddr, nil); err != nil {
			logger.Warn("metrics server stopped", zap.Error(err))
		}
	}()

	registry := transport.NewLoopbackRegistry(time.Now().UnixNano())

	tables := make(map[membertable.ID]*membertable.Table, len(cfg.Peers))
	for id := range cfg.Peers {
		peers := make(map[membertable.ID]membertable.Sender, len(cfg.Peers))
		for peerID := range cfg.Peers {
			peers[peerID] = loopbackSender{id: peerID}
		}
		tables[id] = membertable.NewTable(id, peers)
	}

	var appointedLeaderID *membertable.ID
	if cfg.HasAppointedLeader {
		id := membertable.ID(cfg.AppointedLeaderID)
		appointedLeaderID = &id
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var wg sync.WaitGroup
	for id := range cfg.Peers {
		id := id
		dataDir := filepath.Join(cfg.DataDir, fmt.Sprintf("member-%d", id))

		mf, err := markfile.Open(dataDir)
		if err != nil {
			return fmt.Errorf("member %d: open markfile: %w", id, err)
		}
		log, err := archive.Open(dataDir)
		if err != nil {
			return fmt.Errorf("member %d: open archive: %w", id, err)
		}

		memberLogger := logger.With(zap.Int("memberId", int(id)))
		a := agent.New(memberLogger)
		m := metrics.New(reg, id)

		el := election.NewElection(election.Params{
			Self:      id,
			Members:   tables[id],
			MarkFile:  mf,
			Archive:   log,
			RemoteLog: log,
			Agent:     a,
			Metrics:   m,
			Config: election.Config{
				StatusInterval:          cfg.StatusInterval,
				LeaderHeartbeatInterval: cfg.LeaderHeartbeatInterval,
				ElectionTimeout:         cfg.ElectionTimeout,
				StartupStatusTimeout:    cfg.StartupStatusTimeout,
				AppointedLeaderID:       appointedLeaderID,
				LogChannel:              cfg.LogChannel,
				LogEndpoint:             cfg.LogEndpoint,
			},
			Rand:      rand.New(rand.NewSource(int64(id) + 1)),
			Logger:    memberLogger,
			IsStartup: true,
		})
		lt := registry.Register(id, el.Handlers())
		el.SetTransport(lt)

		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := agent.RunLoop(ctx, el, 20*time.Millisecond); err != nil {
				memberLogger.Warn("election loop stopped", zap.Error(err))
			}
		}()
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh
	logger.Info("shutting down")
	cancel()
	wg.Wait()
	return nil
}

// loopbackSender is the demo-only Sender handle: the loopback transport
// addresses members by id directly, so no real connection info is
// needed beyond the id itself.
type loopbackSender struct{ id membertable.ID }

func (s loopbackSender) ID() membertable.ID { return s.id }
