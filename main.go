package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/pflag"
	"go.uber.org/multierr"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"aurora-analytics/collector"
	"aurora-analytics/config"
	"aurora-analytics/logger"
	"aurora-analytics/pipeline"
	"aurora-analytics/remote"
	"aurora-analytics/server"
	"aurora-analytics/storage"
	"aurora-analytics/watcher"
)

const usage = `usage: aurora <command> [flags] [args]

commands:
  collect [save]       watch the save file and record a snapshot after every change
  once [save]          record a single snapshot
  import <save>...     record snapshots of several save files, in the given order
  rebuild              regenerate the model from the snapshot log
  serve                serve the model over HTTP
  dump [save]          print a snapshot as JSON without recording it

A save is the AuroraDB.db file or the Aurora directory holding it.
Run "aurora <command> --help" for flags.
`

func main() {
	if len(os.Args) < 2 {
		fmt.Fprint(os.Stderr, usage)
		os.Exit(2)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, os.Args[1], os.Args[2:]); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		stop()
		os.Exit(1)
	}
}

type command func(ctx context.Context, e *env, fs *pflag.FlagSet) error

type env struct {
	cfg *config.Config
	log *zap.Logger
}

func run(ctx context.Context, name string, args []string) error {
	fs := pflag.NewFlagSet(name, pflag.ContinueOnError)
	config.RegisterFlags(fs)

	var cmd command
	switch name {
	case "collect":
		fs.Bool("serve", false, "also run the query server")
		cmd = runCollect
	case "once":
		cmd = runOnce
	case "import":
		fs.String("list", "", "file with one save path per line, read before the positional paths")
		cmd = runImport
	case "rebuild":
		cmd = runRebuild
	case "serve":
		cmd = runServe
	case "dump":
		cmd = runDump
	case "help", "-h", "--help":
		fmt.Print(usage)
		return nil
	default:
		return fmt.Errorf("unknown command %q\n\n%s", name, usage)
	}

	if err := fs.Parse(args); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return nil
		}
		return err
	}

	// a positional save path stands in for --db-path
	if name != "import" && fs.NArg() > 0 {
		if err := fs.Set("db-path", fs.Arg(0)); err != nil {
			return err
		}
	}

	cfg, err := config.Load(fs)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	// dump writes the snapshot to stdout, so its logs go to stderr
	out := os.Stdout
	if name == "dump" {
		out = os.Stderr
	}
	l, err := logger.NewWithWriter(cfg.LogLevel, cfg.LogFormat, out)
	if err != nil {
		return fmt.Errorf("set up logger: %w", err)
	}
	defer logger.Flush(l.Logger)

	l.Logger.Debug("config loaded", zap.Any("config", cfg))
	return cmd(ctx, &env{cfg: cfg, log: l.Logger}, fs)
}

func runCollect(ctx context.Context, e *env, fs *pflag.FlagSet) error {
	src, err := e.source()
	if err != nil {
		return err
	}
	p, err := e.pipeline(src)
	if err != nil {
		return err
	}

	w := &watcher.Watcher{
		Path:     e.cfg.DBPath,
		Debounce: e.cfg.Debounce,
		Settle:   e.cfg.SettleDelay,
		Poll:     e.cfg.PollInterval,
		Log:      e.log,
	}
	if e.cfg.Remote.Enabled() {
		// remote files cannot be watched; the source skips unchanged files
		w.Path = ""
		if w.Poll <= 0 {
			w.Poll = e.cfg.Debounce
		}
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return w.Run(gctx, p.RunPass) })
	if serve, _ := fs.GetBool("serve"); serve {
		srv := e.server()
		g.Go(func() error { return srv.Run(gctx) })
	}

	err = g.Wait()
	return multierr.Append(err, p.Flush())
}

func runOnce(ctx context.Context, e *env, _ *pflag.FlagSet) error {
	src, err := e.source()
	if err != nil {
		return err
	}
	p, err := e.pipeline(src)
	if err != nil {
		return err
	}
	return p.RunPass(ctx)
}

func runImport(ctx context.Context, e *env, fs *pflag.FlagSet) error {
	var paths []string
	if list, _ := fs.GetString("list"); list != "" {
		listed, err := readLines(list)
		if err != nil {
			return err
		}
		paths = append(paths, listed...)
	}
	paths = append(paths, fs.Args()...)
	if len(paths) == 0 {
		return errors.New("import needs at least one save path")
	}

	sources := make([]collector.Source, 0, len(paths))
	for _, path := range paths {
		sources = append(sources, collector.NewAuroraSource(config.ResolveDBPath(path), e.log))
	}

	p, err := e.pipeline(nil)
	if err != nil {
		return err
	}
	return p.Import(ctx, sources, e.cfg.Import.Workers)
}

func runRebuild(ctx context.Context, e *env, _ *pflag.FlagSet) error {
	p, err := e.pipeline(nil)
	if err != nil {
		return err
	}
	return p.Rebuild(ctx)
}

func runServe(ctx context.Context, e *env, _ *pflag.FlagSet) error {
	return e.server().Run(ctx)
}

func runDump(ctx context.Context, e *env, _ *pflag.FlagSet) error {
	src, err := e.source()
	if err != nil {
		return err
	}
	snap, err := collector.Retry(ctx, src, e.retryPolicy(), e.log)
	if err != nil {
		return err
	}
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(snap)
}

// source builds the configured snapshot source: the remote save file when
// remote.addr is set, the local one otherwise.
func (e *env) source() (collector.Source, error) {
	if err := e.cfg.RequireSource(); err != nil {
		return nil, err
	}
	if !e.cfg.Remote.Enabled() {
		return collector.NewAuroraSource(e.cfg.DBPath, e.log), nil
	}

	rc := e.cfg.Remote
	f := &remote.Fetcher{
		Addr:           rc.Addr,
		User:           rc.User,
		KeyPath:        rc.KeyPath,
		KnownHostsPath: rc.KnownHosts,
		RemotePath:     rc.Path,
		DialTimeout:    rc.DialTimeout,
		Log:            e.log,
	}
	if err := f.Validate(); err != nil {
		return nil, fmt.Errorf("remote source: %w", err)
	}
	return collector.NewRemoteSource(f, rc.CachePath, e.log), nil
}

func (e *env) pipeline(src collector.Source) (*pipeline.Pipeline, error) {
	return pipeline.New(src,
		storage.NewSnapshotLog(e.cfg.LogPath, e.log),
		storage.NewModelStore(e.cfg.ModelPath, e.log),
		pipeline.Options{Retry: e.retryPolicy(), Logger: e.log},
	)
}

func (e *env) server() *server.Server {
	return server.New(e.cfg.ListenAddr, e.cfg.IndexPath, storage.NewModelStore(e.cfg.ModelPath, e.log), e.log)
}

func (e *env) retryPolicy() collector.RetryPolicy {
	return collector.RetryPolicy{
		MaxTries:        e.cfg.Retry.MaxTries,
		InitialInterval: e.cfg.Retry.InitialInterval,
		MaxInterval:     e.cfg.Retry.MaxInterval,
	}
}
