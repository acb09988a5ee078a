package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/robfig/cron/v3"

	"maginkcal/internal/capture"
	"maginkcal/internal/config"
	"maginkcal/internal/fetch"
	"maginkcal/internal/gcal"
	"maginkcal/internal/ics"
	appLog "maginkcal/internal/log"
	"maginkcal/internal/pipeline"
	"maginkcal/internal/render"
	"maginkcal/internal/web"
)

const version = "0.1.0"

// flagConfig holds CLI flag values.
type flagConfig struct {
	configPath    string
	listen        string
	logLevel      string
	once          bool
	renderOnly    bool
	dump          bool
	listCalendars bool
	authorize     bool
}

func main() {
	flags := parseFlags()
	if flags.logLevel != "" {
		appLog.SetLevel(appLog.ParseLevel(flags.logLevel))
	}
	defer appLog.Sync()

	appLog.Info("maginkcal starting", "version", version)

	conf, err := config.Load(flags.configPath)
	if err != nil {
		appLog.Error("failed to load config", err, "config_path", flags.configPath)
		os.Exit(1)
	}
	if flags.logLevel == "" {
		appLog.SetLevel(appLog.ParseLevel(conf.LogLevel))
	}

	// CLI --listen overrides config file listen if provided.
	if flags.listen != "" {
		conf.Listen = flags.listen
	}
	if err := conf.Validate(); err != nil {
		appLog.Error("invalid config", err, "config_path", flags.configPath)
		os.Exit(1)
	}

	appLog.Info("effective config",
		"listen", conf.Listen,
		"timezone", conf.Timezone,
		"week_start", conf.WeekStart,
		"refresh", conf.RefreshCron,
		"calendars", len(conf.Calendars),
		"output_dir", conf.OutputDir,
		"once", flags.once,
		"render_only", flags.renderOnly,
		"dump", flags.dump,
	)

	// Root context with cancellation on SIGINT/SIGTERM.
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		appLog.Info("signal received, shutting down", "signal", sig.String())
		cancel()
	}()

	if err := run(ctx, conf, flags); err != nil {
		appLog.Error("maginkcal failed", err)
		appLog.Sync()
		os.Exit(1)
	}
	appLog.Info("maginkcal exiting")
}

func parseFlags() flagConfig {
	var cfg flagConfig

	flag.StringVar(&cfg.configPath, "config", config.DefaultPath, "Path to config file")
	flag.StringVar(&cfg.listen, "listen", "", "HTTP listen address (overrides config if set)")
	flag.StringVar(&cfg.logLevel, "log-level", "", "Log level: debug, info, warn, error (overrides config)")
	flag.BoolVar(&cfg.once, "once", false, "Run one fetch+render cycle and exit")
	flag.BoolVar(&cfg.renderOnly, "render-only", false, "Skip fetching; render empty calendars")
	flag.BoolVar(&cfg.dump, "dump", false, "Also write packed 1bpp planes (black.bin, red.bin)")
	flag.BoolVar(&cfg.listCalendars, "list-calendars", false, "List the Google calendars visible to the stored token and exit")
	flag.BoolVar(&cfg.authorize, "authorize", false, "Run the Google OAuth console flow, store the token and exit")

	flag.Parse()

	return cfg
}

func googleCredentials(conf *config.Config) gcal.Credentials {
	return gcal.Credentials{
		CredentialsPath: conf.Google.CredentialsPath,
		TokenPath:       conf.Google.TokenPath,
	}
}

func run(ctx context.Context, conf *config.Config, flags flagConfig) error {
	switch {
	case flags.authorize:
		return gcal.Authorize(ctx, googleCredentials(conf), os.Stdin, os.Stdout)
	case flags.listCalendars:
		return listCalendars(ctx, conf)
	}

	// 렌더링 전에 치명적인 설정 오류(템플릿, 브라우저)를 먼저 확인한다.
	tmpl, err := render.LoadTemplate(conf.TemplatePath)
	if err != nil {
		return err
	}
	surface := &capture.Chromium{
		ExecPath:      conf.Browser.ExecPath,
		RemoteURL:     conf.Browser.RemoteURL,
		SettleTimeout: conf.Browser.SettleTimeout,
		Timeout:       conf.Browser.CaptureTimeout,
	}
	if err := surface.Check(); err != nil {
		return err
	}

	var querier fetch.Querier
	if !flags.renderOnly {
		querier, err = buildRouter(ctx, conf)
		if err != nil {
			return err
		}
	}

	p, err := pipeline.New(pipeline.Options{
		Config:     conf,
		Querier:    querier,
		Surface:    surface,
		Template:   tmpl,
		RenderOnly: flags.renderOnly,
		Dump:       flags.dump,
	})
	if err != nil {
		return err
	}

	if flags.once {
		_, err := p.RunOnce(ctx)
		return err
	}
	return daemon(ctx, conf, p)
}

// buildRouter creates one querier per calendar kind and routes each
// configured calendar id to its backend.
func buildRouter(ctx context.Context, conf *config.Config) (fetch.Router, error) {
	router := make(fetch.Router, len(conf.Calendars))

	if conf.HasKind(config.KindGoogle) {
		svc, err := gcal.NewService(ctx, googleCredentials(conf))
		if err != nil {
			return nil, err
		}
		q := gcal.NewQuerier(svc)
		for _, c := range conf.Calendars {
			if c.Kind == config.KindGoogle {
				router[c.ID] = q
			}
		}
	}

	if conf.HasKind(config.KindICS) {
		loc, err := conf.Location()
		if err != nil {
			return nil, err
		}
		q := &ics.Querier{
			Fetcher:  ics.NewFetcher(filepath.Join(conf.OutputDir, "ics-cache")),
			URLs:     make(map[string]string),
			Location: loc,
		}
		for _, c := range conf.Calendars {
			if c.Kind == config.KindICS {
				q.URLs[c.ID] = c.URL
				router[c.ID] = q
			}
		}
	}
	return router, nil
}

func listCalendars(ctx context.Context, conf *config.Config) error {
	svc, err := gcal.NewService(ctx, googleCredentials(conf))
	if err != nil {
		return err
	}
	cals, err := gcal.ListCalendars(ctx, svc)
	if err != nil {
		return err
	}
	for _, c := range cals {
		primary := ""
		if c.Primary {
			primary = " (primary)"
		}
		fmt.Printf("%s\t%s%s\n", c.ID, c.Summary, primary)
	}
	return nil
}

// daemon runs a cycle immediately, then on every tick of conf.RefreshCron,
// and serves the status API until ctx is cancelled.
func daemon(ctx context.Context, conf *config.Config, p *pipeline.Pipeline) error {
	loc, err := conf.Location()
	if err != nil {
		return err
	}

	logger := cronLogger{}
	scheduler := cron.New(
		cron.WithLocation(loc),
		cron.WithLogger(logger),
		cron.WithChain(cron.Recover(logger), cron.SkipIfStillRunning(logger)),
	)
	refresh := func() {
		if _, err := p.RunOnce(ctx); err != nil {
			appLog.Error("refresh cycle failed", err)
		}
	}
	if _, err := scheduler.AddFunc(conf.RefreshCron, refresh); err != nil {
		return fmt.Errorf("invalid refresh schedule %q: %w", conf.RefreshCron, err)
	}

	srv := web.NewHTTPServer(conf, p)
	srvErr := make(chan error, 1)
	go func() {
		appLog.Info("starting HTTP server", "listen", "http://"+conf.Listen)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			srvErr <- err
		}
		close(srvErr)
	}()

	refresh()
	scheduler.Start()

	select {
	case <-ctx.Done():
	case err := <-srvErr:
		if err != nil {
			cancel := scheduler.Stop()
			<-cancel.Done()
			return fmt.Errorf("http server: %w", err)
		}
	}

	// 진행 중인 사이클이 끝날 때까지 기다린다.
	<-scheduler.Stop().Done()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

// cronLogger routes scheduler logs through the application logger.
type cronLogger struct{}

func (cronLogger) Info(msg string, kv ...any) {
	appLog.Debug("cron: "+msg, kv...)
}

func (cronLogger) Error(err error, msg string, kv ...any) {
	appLog.Error("cron: "+msg, err, kv...)
}
