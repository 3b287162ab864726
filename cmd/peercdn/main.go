package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/alexflint/go-arg"
	"github.com/azure/peercdn/internal/config"
	"github.com/azure/peercdn/internal/content"
	p2pcontext "github.com/azure/peercdn/internal/context"
	"github.com/azure/peercdn/internal/distribution"
	"github.com/azure/peercdn/internal/handlers"
	"github.com/azure/peercdn/internal/orchestrator"
	"github.com/azure/peercdn/internal/origin"
	"github.com/azure/peercdn/internal/store"
	"github.com/azure/peercdn/internal/tracker"
	"github.com/azure/peercdn/pkg/descriptor"
	"github.com/azure/peercdn/pkg/metrics"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"github.com/schollz/progressbar/v3"
	"github.com/spf13/afero"
	"golang.org/x/sync/errgroup"
	"gopkg.in/natefinch/lumberjack.v2"
)

func main() {
	args := &Arguments{}
	arg.MustParse(args)

	level := args.LogLevel
	if level == "" {
		level = zerolog.InfoLevel.String()
	}

	ll, err := zerolog.ParseLevel(level)
	if err != nil {
		fmt.Fprintf(os.Stderr, "invalid log level: %s\n", level)
		os.Exit(1)
	}

	zerolog.SetGlobalLevel(ll)
	zerolog.TimeFieldFormat = time.RFC3339Nano

	l := zerolog.New(os.Stdout).With().Timestamp().Str("self", p2pcontext.NodeName).Str("version", version).Logger()
	ctx := l.WithContext(context.Background())

	err = run(ctx, args)
	if err != nil {
		l.Error().Err(err).Msg("command error")
		os.Exit(1)
	}

	l.Info().Msg("command complete")
}

func run(ctx context.Context, args *Arguments) error {
	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGTERM, syscall.SIGINT)
	defer cancel()

	switch {
	case args.Version:
		zerolog.Ctx(ctx).Info().Msg("version") // version field is already added to the logger
		return nil
	case args.Run != nil:
		return runCommand(ctx, args.Run, args.LogLevel)
	case args.Fetch != nil:
		return fetchCommand(ctx, args.Fetch, args.LogLevel)
	case args.Push != nil:
		return pushCommand(ctx, args.Push)
	default:
		return fmt.Errorf("unknown subcommand")
	}
}

// applyLogLevel sets the global level from the config unless the --log-level flag was given.
func applyLogLevel(flag string, cfg config.Config) error {
	if flag != "" || cfg.LogLevel == "" {
		return nil
	}

	ll, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil {
		return fmt.Errorf("invalid log_level %q: %w", cfg.LogLevel, err)
	}

	zerolog.SetGlobalLevel(ll)
	return nil
}

// withLogFile tees the context logger into a rotating log file if one is configured.
func withLogFile(ctx context.Context, cfg config.Config) (context.Context, func()) {
	if cfg.LogFile == "" {
		return ctx, func() {}
	}

	rotator := &lumberjack.Logger{
		Filename:   cfg.LogFile,
		MaxSize:    cfg.LogMaxSizeMB,
		MaxBackups: cfg.LogMaxBackups,
		LocalTime:  true,
	}

	l := zerolog.Ctx(ctx).Output(zerolog.MultiLevelWriter(os.Stdout, rotator))
	return l.WithContext(ctx), func() { _ = rotator.Close() }
}

// node holds the components of a running node.
type node struct {
	store        store.Store
	engine       distribution.Engine
	orchestrator *orchestrator.Orchestrator
}

func (n *node) Close() error {
	return errors.Join(n.engine.Close(), n.store.Close())
}

// newNode opens the stores and swarm engine and creates the orchestrator.
func newNode(ctx context.Context, cfg config.Config, m metrics.Metrics, progress func(total int64) io.Writer) (*node, error) {
	st, err := store.Open(ctx, cfg.Store.DSN)
	if err != nil {
		return nil, err
	}

	cs, err := content.New(afero.NewOsFs(), cfg.Store.DataDir)
	if err != nil {
		return nil, errors.Join(err, st.Close())
	}

	engine, err := distribution.NewTorrentEngine(ctx, distribution.Options{
		DataDir:          cs.Root(),
		ListenPort:       cfg.Torrent.ListenPort,
		Seed:             cfg.Torrent.Seed,
		HandshakeTimeout: cfg.Torrent.HandshakeTimeout.Std(),
		DialTimeout:      cfg.Torrent.DialTimeout.Std(),
		Trackers:         cfg.Torrent.Trackers,
		DisableDHT:       cfg.Torrent.DisableDHT,
	})
	if err != nil {
		return nil, errors.Join(err, st.Close())
	}

	opts := origin.DefaultOptions()
	opts.Retries = cfg.Fetch.Retries
	opts.InitialBackoff = cfg.Fetch.InitialBackoff.Std()
	opts.RequestTimeout = cfg.Fetch.RequestTimeout.Std()
	opts.Metrics = m
	opts.Progress = progress

	o, err := orchestrator.New(st, cs, origin.New(opts), engine, m, orchestrator.Options{
		ChunkSize:           cfg.Fetch.ChunkSize,
		TTL:                 cfg.Fetch.TTL.Std(),
		Concurrency:         cfg.Fetch.Concurrency,
		DistributionTimeout: cfg.Fetch.DistributionTimeout.Std(),
		SwarmFailureTTL:     cfg.Fetch.SwarmFailureTTL.Std(),
	})
	if err != nil {
		return nil, errors.Join(err, engine.Close(), st.Close())
	}

	return &node{store: st, engine: engine, orchestrator: o}, nil
}

func runCommand(ctx context.Context, args *RunCmd, logLevel string) (err error) {
	cfg, err := config.Load(afero.NewOsFs(), args.Config)
	if err != nil {
		return err
	}
	if err := applyLogLevel(logLevel, cfg); err != nil {
		return err
	}
	if args.HttpAddr != "" {
		cfg.HTTPAddr = args.HttpAddr
	}
	if args.TrackerAddr != "" {
		cfg.TrackerAddr = args.TrackerAddr
	}

	ctx, closeLog := withLogFile(ctx, cfg)
	defer closeLog()
	l := zerolog.Ctx(ctx)

	reg := prometheus.NewRegistry()
	var m metrics.Metrics = metrics.NewPromMetrics(reg, p2pcontext.NodeName, "peercdn")
	if cfg.MetricsReportFile != "" {
		mm := metrics.NewMemoryMetrics(afero.NewOsFs(), cfg.MetricsReportFile)
		mm.ReportPeriodically(ctx)
		m = metrics.Fanout(m, mm)
	}
	ctx = metrics.WithContext(ctx, m)

	n, err := newNode(ctx, cfg, m, nil)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := n.Close(); cerr != nil {
			l.Error().Err(cerr).Msg("failed to close node")
		}
	}()

	g, ctx := errgroup.WithContext(ctx)

	trackerSrv := tracker.NewServer(n.store, m, tracker.Options{
		Workers:     cfg.Tracker.Workers,
		MaxPayload:  cfg.Tracker.MaxPayload,
		ReadTimeout: cfg.Tracker.ReadTimeout.Std(),
		TTL:         cfg.Fetch.TTL.Std(),
	})

	g.Go(func() error {
		return trackerSrv.ListenAndServe(ctx, cfg.TrackerAddr)
	})

	httpSrv := &http.Server{
		Addr:    cfg.HTTPAddr,
		Handler: handlers.Handler(ctx, n.orchestrator, m, reg),
	}

	g.Go(func() error {
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		return httpSrv.Shutdown(shutdownCtx)
	})

	l.Info().Str("http", cfg.HTTPAddr).Str("tracker", cfg.TrackerAddr).Str("store", cfg.Store.DataDir).Msg("server start")
	return g.Wait()
}

func fetchCommand(ctx context.Context, args *FetchCmd, logLevel string) error {
	cfg, err := config.Load(afero.NewOsFs(), args.Config)
	if err != nil {
		return err
	}
	if err := applyLogLevel(logLevel, cfg); err != nil {
		return err
	}

	ctx, closeLog := withLogFile(ctx, cfg)
	defer closeLog()
	l := zerolog.Ctx(ctx)

	progress := func(total int64) io.Writer {
		return progressbar.DefaultBytes(total, "downloading")
	}

	n, err := newNode(ctx, cfg, metrics.Nop, progress)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := n.Close(); cerr != nil {
			l.Error().Err(cerr).Msg("failed to close node")
		}
	}()

	res, err := n.orchestrator.Fetch(ctx, args.URL)
	if err != nil {
		return err
	}

	l.Info().
		Str("key", res.Key).
		Str("content_id", res.Descriptor.ContentID.String()).
		Str("cid", res.Descriptor.ContentID.CID().String()).
		Int64("length", res.Descriptor.TotalLength).
		Str("source", string(res.Source)).
		Str("path", res.Path).
		Msg("fetch complete")
	return nil
}

func pushCommand(ctx context.Context, args *PushCmd) error {
	l := zerolog.Ctx(ctx)

	b, err := afero.ReadFile(afero.NewOsFs(), args.File)
	if err != nil {
		return err
	}

	d, err := descriptor.Decode(b)
	if err != nil {
		return err
	}

	if err := tracker.Push(ctx, args.Tracker, args.Key, b); err != nil {
		return err
	}

	l.Info().Str("tracker", args.Tracker).Str("key", args.Key).Str("content_id", d.ContentID.String()).Msg("push complete")
	return nil
}
