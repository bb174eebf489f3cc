// Command preforkd is a pre-forked, event-driven HTTP/1.x static file
// origin server. One master process owns the listening socket and
// supervises a fixed pool of worker processes, each running its own
// single-threaded epoll event loop (spec.md §2).
//
// Re-grounded from the teacher's graceful_restarts demos: this binary
// plays both the master role (SpawnWorkers/MasterLoop from
// internal/master) and the worker role (Run from internal/worker),
// distinguished at startup by the PREFORKD_WORKER environment variable a
// spawned child always carries, the same way
// graceful_restarts/SocketHandoff/main.go tells a re-exec'd child apart
// from the original parent via GRACEFUL_RESTART.
package main

import (
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/jessevdk/go-flags"

	"preforkd/internal/config"
	"preforkd/internal/fileserver"
	"preforkd/internal/logging"
	"preforkd/internal/master"
	"preforkd/internal/metrics"
	"preforkd/internal/worker"
)

type options struct {
	ConfigPath string `short:"c" long:"config" description:"path to the YAML configuration file" default:"preforkd.yaml"`
	Address    string `short:"a" long:"address" description:"override listen.address from the config file"`
	Workers    int    `short:"w" long:"workers" description:"override workers.count from the config file"`
	StaticRoot string `short:"r" long:"root" description:"override static.root from the config file"`
	Backlog    int    `short:"b" long:"backlog" description:"override listen.backlog from the config file"`
}

func main() {
	var opts options
	if _, err := flags.Parse(&opts); err != nil {
		if flagsErr, ok := err.(*flags.Error); ok && flagsErr.Type == flags.ErrHelp {
			os.Exit(0)
		}
		os.Exit(1)
	}

	cfg, err := config.Load(opts.ConfigPath)
	if err != nil {
		os.Exit(1)
	}
	applyFlagOverrides(cfg, &opts)

	if os.Getenv(master.EnvWorkerRole) != "" {
		runWorker(cfg)
		return
	}
	runMaster(cfg)
}

func applyFlagOverrides(cfg *config.Config, opts *options) {
	if opts.Address != "" {
		cfg.Listen.Address = opts.Address
	}
	if opts.Workers > 0 {
		cfg.Workers.Count = opts.Workers
	}
	if opts.StaticRoot != "" {
		cfg.Static.Root = opts.StaticRoot
	}
	if opts.Backlog > 0 {
		cfg.Listen.Backlog = opts.Backlog
	}
	if cfg.Workers.Count > config.MaxWorkers {
		cfg.Workers.Count = config.MaxWorkers
	}
}

func runMaster(cfg *config.Config) {
	log := logging.New("master")
	logging.Phase(log, "starting master")

	met := metrics.New()
	m := master.New(cfg, log, met)
	if err := m.AcquireListener(); err != nil {
		log.WithError(err).Fatal("failed to acquire listener")
	}
	if err := m.SpawnWorkers(cfg.Workers.Count); err != nil {
		log.WithError(err).Fatal("failed to spawn workers")
	}

	sig := make(chan os.Signal, 4)
	signal.Notify(sig, syscall.SIGHUP, syscall.SIGTERM, syscall.SIGINT, syscall.SIGCHLD)

	logging.Phase(log, "master ready, supervising workers")
	m.MasterLoop(sig)
}

func runWorker(cfg *config.Config) {
	slot, _ := strconv.Atoi(os.Getenv(master.EnvWorkerSlot))
	log := logging.WithSlot(logging.New("worker"), slot)

	listenFD := workerListenFD()

	files, err := fileserver.New(cfg.Static.Root)
	if err != nil {
		log.WithError(err).Fatal("failed to initialize static file server")
	}

	m := metrics.New()
	w := worker.New(listenFD, log, m, files, cfg.Limits.ReceiveBufferBytes)

	sig := make(chan os.Signal, 2)
	signal.Notify(sig, syscall.SIGTERM, syscall.SIGINT)
	go func() {
		<-sig
		log.Info("received shutdown signal")
		w.Stop()
	}()

	log.Info("worker event loop starting")
	if err := w.Run(); err != nil {
		log.WithError(err).Error("worker event loop exited with error")
		os.Exit(1)
	}
}

func workerListenFD() int {
	fdStr := os.Getenv(master.EnvListenerFD)
	fd, err := strconv.Atoi(fdStr)
	if err != nil {
		return 3
	}
	return fd
}
