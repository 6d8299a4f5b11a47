package main

import (
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"sync"
	"syscall"

	"github.com/axiomesh/axiom-kit/log"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/sirupsen/logrus"
	"github.com/urfave/cli/v2"

	"github.com/axiomesh/constitution"
	"github.com/axiomesh/constitution/api"
	"github.com/axiomesh/constitution/core"
	"github.com/axiomesh/constitution/identity"
	"github.com/axiomesh/constitution/metrics"
	"github.com/axiomesh/constitution/repo"
	"github.com/axiomesh/constitution/snapshot"
	"github.com/axiomesh/constitution/store"
	"github.com/axiomesh/constitution/sweeper"
)

// node holds the components every command needs: the loaded repo, the
// SQLite store and an engine on top of it.
type node struct {
	repo   *repo.Repo
	logger *logrus.Logger
	store  *store.Store
	engine *core.Engine
}

func loadRepo(ctx *cli.Context) (*repo.Repo, error) {
	p, err := getRootPath(ctx)
	if err != nil {
		return nil, err
	}
	return repo.Load(p)
}

func newNode(r *repo.Repo, m *metrics.Metrics) (*node, error) {
	logger := log.New()
	logger.SetLevel(log.ParseLevel(r.Config.Log.Level))

	st, err := store.OpenFileDB(r.DatabaseDir(), r.Config.Database.Filename, logger.WithField("component", "store"))
	if err != nil {
		return nil, err
	}

	opts := []core.Option{
		core.WithLogger(logger.WithField("component", "engine")),
		core.WithVerifier(identity.NewVerifier(logger.WithField("component", "identity"))),
	}
	if m != nil {
		opts = append(opts, core.WithMetrics(m))
	}
	if r.Config.Snapshot.Enabled {
		client, err := snapshot.NewClient(r.Config.Snapshot, logger.WithField("component", "snapshot"))
		if err != nil {
			_ = st.Close()
			return nil, fmt.Errorf("new snapshot client: %w", err)
		}
		opts = append(opts, core.WithOracle(client))
	}

	engine, err := core.NewEngine(st, r.Config.Governance, opts...)
	if err != nil {
		_ = st.Close()
		return nil, fmt.Errorf("new engine: %w", err)
	}

	return &node{
		repo:   r,
		logger: logger,
		store:  st,
		engine: engine,
	}, nil
}

func (n *node) close() {
	if err := n.store.Close(); err != nil {
		n.logger.WithField("err", err).Warn("close store")
	}
}

func start(ctx *cli.Context) error {
	r, err := loadRepo(ctx)
	if err != nil {
		return err
	}

	err = log.Initialize(
		log.WithReportCaller(r.Config.Log.ReportCaller),
		log.WithPersist(true),
		log.WithFilePath(filepath.Join(r.Config.RepoRoot, repo.LogsDirName)),
		log.WithFileName(r.Config.Log.Filename),
		log.WithMaxAge(r.Config.Log.MaxAge),
		log.WithRotationTime(r.Config.Log.RotationTime),
	)
	if err != nil {
		return fmt.Errorf("log initialize: %w", err)
	}

	printVersion()

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	n, err := newNode(r, metrics.New(registry))
	if err != nil {
		return err
	}

	state, err := sweeper.OpenState(r.SweeperStateDir())
	if err != nil {
		n.close()
		return err
	}
	sw := sweeper.NewSweeper(sweeper.Config{
		Resolver: n.engine,
		State:    state,
		Interval: r.Config.Sweeper.Interval,
		Logger:   n.logger,
	})

	server := api.NewServer(n.engine, api.Config{
		ListenAddr:          r.Config.API.ListenAddr,
		DefaultConstitution: r.Config.Governance.DefaultConstitution,
		Gatherer:            registry,
	}, n.logger.WithField("component", "api"))

	var wg sync.WaitGroup
	wg.Add(1)
	handleShutdown(func() error {
		sw.Stop()
		err := server.Stop()
		if cerr := state.Close(); cerr != nil && err == nil {
			err = cerr
		}
		n.close()
		return err
	}, &wg)

	if err := server.Start(); err != nil {
		return fmt.Errorf("start api server failed: %w", err)
	}
	sw.Start(ctx.Context)

	fmt.Println("=============Constitution is ready=============")

	wg.Wait()

	return nil
}

func printVersion() {
	fmt.Printf("Constitution version: %s-%s-%s\n", constitution.CurrentVersion, constitution.CurrentBranch, constitution.CurrentCommit)
	fmt.Printf("App build date: %s\n", constitution.BuildDate)
	fmt.Printf("System version: %s\n", constitution.Platform)
	fmt.Printf("Golang version: %s\n", constitution.GoVersion)
	fmt.Println()
}

func handleShutdown(stopFn func() error, wg *sync.WaitGroup) {
	var stop = make(chan os.Signal, 2)
	signal.Notify(stop, syscall.SIGTERM)
	signal.Notify(stop, syscall.SIGINT)

	go func() {
		<-stop
		fmt.Println("received interrupt signal, shutting down...")
		if err := stopFn(); err != nil {
			panic(err)
		}
		wg.Done()
		os.Exit(0)
	}()
}
