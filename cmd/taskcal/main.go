package main

import (
	"context"
	"errors"
	"flag"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"taskcal/internal/capture"
	"taskcal/internal/config"
	"taskcal/internal/ics"
	appLog "taskcal/internal/log"
	"taskcal/internal/schedule"
	"taskcal/internal/store"
	"taskcal/internal/web"
)

type flagConfig struct {
	configPath string
	listen     string
	database   string
	logLevel   string
	once       bool
	snapshot   string
}

func main() {
	flags := parseFlags()

	conf, err := config.Load(flags.configPath)
	if err != nil {
		appLog.Error("failed to load config", err, "config_path", flags.configPath)
		os.Exit(1)
	}
	if flags.listen != "" {
		conf.Listen = flags.listen
	}
	if flags.database != "" {
		conf.Database = flags.database
	}
	if flags.logLevel != "" {
		conf.LogLevel = flags.logLevel
	}
	appLog.SetLevel(appLog.ParseLevel(conf.LogLevel))

	appLog.Info("taskcal starting", "version", "0.1.0")
	appLog.Info("effective config",
		"listen", conf.Listen,
		"timezone", conf.Timezone,
		"database", conf.Database,
		"refresh", conf.RefreshCron,
		"ics_count", len(conf.ICS),
		"max_occurrences_per_task", conf.Expansion.MaxOccurrencesPerTask,
		"basic_auth", conf.BasicAuth != nil,
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, conf, flags); err != nil {
		appLog.Error("taskcal exited with error", err)
		os.Exit(1)
	}
	appLog.Info("taskcal exiting")
}

func run(ctx context.Context, conf *config.Config, flags flagConfig) error {
	loc, err := conf.Location()
	if err != nil {
		appLog.Warn("unknown timezone; using UTC", "timezone", conf.Timezone)
	}

	db, err := store.NewDB(conf.Database)
	if err != nil {
		return err
	}
	if sqlDB, err := db.DB(); err == nil {
		defer sqlDB.Close()
	}
	repo := store.NewTaskRepository(db)

	syncer := ics.NewSyncer(ics.NewFetcher(conf.CacheDir), repo, sources(conf), conf.DefaultUser, loc)

	srv, err := web.NewServer(conf, repo)
	if err != nil {
		return err
	}

	switch {
	case flags.once:
		return syncer.Run(ctx)
	case flags.snapshot != "":
		return snapshotOnce(ctx, conf, srv, syncer, flags.snapshot)
	}

	var snapshot *capture.Options
	if conf.SnapshotPath != "" {
		opts, err := captureOptions(conf, localURL(conf.Listen), conf.SnapshotPath)
		if err != nil {
			appLog.Warn("agenda snapshots disabled", "path", conf.SnapshotPath, "err", err)
		} else {
			snapshot = &opts
		}
	}

	sched := schedule.New(loc)
	refresh := func(ctx context.Context) error {
		err := syncer.Run(ctx)
		if snapshot != nil {
			if cerr := capture.AgendaPNG(ctx, *snapshot); cerr != nil {
				appLog.Error("agenda snapshot failed", cerr, "path", snapshot.OutputPath)
			}
		}
		return err
	}
	if _, err := sched.Add(ctx, "refresh", conf.RefreshCron, refresh); err != nil {
		return err
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return srv.ListenAndServe(gctx) })
	g.Go(func() error { return sched.Run(gctx) })
	g.Go(func() error {
		if err := refresh(gctx); err != nil {
			appLog.Warn("initial refresh incomplete", "err", err)
		}
		return nil
	})
	return g.Wait()
}

// snapshotOnce serves on an ephemeral port just long enough to sync feeds and
// capture one agenda PNG.
func snapshotOnce(ctx context.Context, conf *config.Config, srv *web.Server, syncer *ics.Syncer, out string) error {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return err
	}
	opts, err := captureOptions(conf, "http://"+ln.Addr().String(), out)
	if err != nil {
		ln.Close()
		return err
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return srv.Serve(gctx, ln) })
	g.Go(func() error {
		defer cancel()
		if err := syncer.Run(gctx); err != nil {
			appLog.Warn("sync before snapshot incomplete", "err", err)
		}
		if err := capture.AgendaPNG(gctx, opts); err != nil {
			return err
		}
		appLog.Info("agenda snapshot written", "path", out)
		return nil
	})
	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

// captureOptions fails when basic auth is configured with only a bcrypt
// hash: the browser would have no password to send and would capture the
// 401 page.
func captureOptions(conf *config.Config, baseURL, out string) (capture.Options, error) {
	opts := capture.Options{
		BaseURL:    baseURL,
		Timezone:   conf.Timezone,
		OutputPath: out,
		Timeout:    45 * time.Second,
	}
	if ba := conf.BasicAuth; ba != nil && ba.Username != "" {
		if ba.Password == "" {
			return capture.Options{}, errors.New("basic auth has no plain password for the browser to send; set basic_auth.password")
		}
		opts.Username = ba.Username
		opts.Password = ba.Password
	}
	return opts, nil
}

// localURL turns a listen address into a URL reachable from this host.
func localURL(listen string) string {
	host, port, err := net.SplitHostPort(listen)
	if err != nil {
		return "http://" + listen
	}
	if host == "" || host == "0.0.0.0" || host == "::" {
		host = "127.0.0.1"
	}
	return "http://" + net.JoinHostPort(host, port)
}

func sources(conf *config.Config) []ics.Source {
	out := make([]ics.Source, 0, len(conf.ICS))
	for _, c := range conf.ICS {
		if c.URL == "" {
			continue
		}
		out = append(out, ics.Source{ID: c.SourceID(), URL: c.URL})
	}
	return out
}

func parseFlags() flagConfig {
	var cfg flagConfig

	flag.StringVar(&cfg.configPath, "config", "./taskcal.yaml", "Path to config file")
	flag.StringVar(&cfg.listen, "listen", "", "HTTP listen address (overrides config if set)")
	flag.StringVar(&cfg.database, "db", "", "Database DSN (overrides config if set)")
	flag.StringVar(&cfg.logLevel, "log-level", "", "debug, info, warn or error (overrides config if set)")
	flag.BoolVar(&cfg.once, "once", false, "Import ICS feeds once and exit")
	flag.StringVar(&cfg.snapshot, "snapshot", "", "Render the agenda to this PNG path and exit")

	flag.Parse()

	return cfg
}
