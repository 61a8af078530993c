package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/vango-go/vai-forms/pkg/capability"
	"github.com/vango-go/vai-forms/pkg/capability/gemini"
	"github.com/vango-go/vai-forms/pkg/delivery"
	"github.com/vango-go/vai-forms/pkg/forms"
	"github.com/vango-go/vai-forms/pkg/gateway/config"
	"github.com/vango-go/vai-forms/pkg/gateway/lifecycle"
	"github.com/vango-go/vai-forms/pkg/gateway/live/sessions"
	"github.com/vango-go/vai-forms/pkg/gateway/safety"
	gatewayserver "github.com/vango-go/vai-forms/pkg/gateway/server"
	"github.com/vango-go/vai-forms/pkg/metrics"
	"github.com/vango-go/vai-forms/pkg/store"
)

func serveCmd(deps cliDeps, newLogger func(*cobra.Command) *slog.Logger) *cobra.Command {
	var addr, formsPath string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the gateway",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := deps.loadConfig()
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			if cmd.Flags().Changed("addr") {
				cfg.Addr = addr
			}
			if cmd.Flags().Changed("forms") {
				cfg.FormsPath = formsPath
			}
			return runServe(cmd.Context(), newLogger(cmd), cfg, deps)
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "listen address (overrides VAI_FORMS_ADDR)")
	cmd.Flags().StringVar(&formsPath, "forms", "", "form definition file or directory (overrides VAI_FORMS_FORMS_PATH)")
	return cmd
}

func openStore(ctx context.Context, cfg config.Config, logger *slog.Logger) (store.Store, lifecycle.Check, error) {
	if cfg.DatabaseURL == "" {
		logger.Warn("VAI_FORMS_DATABASE_URL is not set; sessions are kept in memory and lost on restart")
		return store.NewMemory(), nil, nil
	}
	pg, err := store.OpenPostgres(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, nil, err
	}
	if err := store.Migrate(ctx, pg.Pool()); err != nil {
		_ = pg.Close()
		return nil, nil, err
	}
	return pg, func(ctx context.Context) error { return pg.Pool().Ping(ctx) }, nil
}

func deliveryConfig(cfg config.Config) delivery.Config {
	return delivery.Config{
		Workers:        cfg.DeliveryWorkers,
		QueueSize:      cfg.DeliveryQueueSize,
		MaxAttempts:    cfg.DeliveryMaxAttempts,
		BaseDelay:      cfg.DeliveryBaseDelay,
		MaxDelay:       cfg.DeliveryMaxDelay,
		Timeout:        cfg.DeliveryTimeout,
		RescanInterval: cfg.DeliveryRescanInterval,
		Policy:         safety.Policy{AllowPrivate: cfg.DeliveryAllowPrivateTargets},
	}
}

func runServe(ctx context.Context, logger *slog.Logger, cfg config.Config, deps cliDeps) error {
	if deps.openStore == nil {
		return errors.New("missing openStore dependency")
	}
	if deps.signalNotify == nil || deps.signalStop == nil {
		return errors.New("missing signal dependency")
	}

	registry, err := forms.LoadPath(cfg.FormsPath)
	if err != nil {
		return fmt.Errorf("load forms: %w", err)
	}
	logger.Info("forms loaded", "path", cfg.FormsPath, "forms", registry.IDs())

	st, storeCheck, err := deps.openStore(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer st.Close()

	m := metrics.New(cfg.MetricsNamespace)

	var connector capability.Connector
	if cfg.GeminiAPIKey != "" {
		c, err := gemini.NewConnector(ctx, gemini.Config{
			APIKey: cfg.GeminiAPIKey,
			Model:  cfg.GeminiModel,
			Voice:  cfg.GeminiVoice,
		}, logger)
		if err != nil {
			return err
		}
		connector = c
	} else {
		logger.Warn("no Gemini API key configured; live sessions fall back to typed answers")
	}

	dispatcher := delivery.New(deliveryConfig(cfg), delivery.Dependencies{
		Store:   st,
		Forms:   registry,
		Logger:  logger,
		Metrics: m,
	})

	gw := gatewayserver.New(cfg, gatewayserver.Dependencies{
		Logger:    logger,
		Forms:     registry,
		Store:     st,
		Connector: connector,
		Delivery:  dispatcher,
		Metrics:   m,
	})
	if storeCheck != nil {
		gw.Lifecycle().AddCheck("store", storeCheck)
	}

	bgCtx, bgCancel := context.WithCancel(context.Background())
	defer bgCancel()
	if err := dispatcher.Start(bgCtx); err != nil {
		return fmt.Errorf("start delivery: %w", err)
	}
	defer dispatcher.Stop()

	sweeper := &sessions.Sweeper{
		Store:    st,
		Tracker:  gw.LiveSessions(),
		Interval: cfg.SweepInterval,
		Logger:   logger,
	}
	sweepDone := make(chan struct{})
	go func() {
		defer close(sweepDone)
		sweeper.Run(bgCtx)
	}()
	defer func() {
		bgCancel()
		<-sweepDone
	}()

	httpSrv := gw.HTTPServer()
	logger.Info("starting gateway", "addr", cfg.Addr, "auth_mode", cfg.AuthMode, "durable", cfg.DatabaseURL != "")

	listenErrCh := make(chan error, 1)
	go func() {
		err := httpSrv.ListenAndServe()
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			listenErrCh <- err
			return
		}
		listenErrCh <- nil
	}()

	sigCh := make(chan os.Signal, 1)
	deps.signalNotify(sigCh, os.Interrupt, syscall.SIGTERM)
	defer deps.signalStop(sigCh)

	select {
	case err := <-listenErrCh:
		if err != nil {
			return fmt.Errorf("serve: %w", err)
		}
		return nil
	case <-ctx.Done():
		logger.Info("shutdown requested", "reason", context.Cause(ctx))
	case sig := <-sigCh:
		logger.Info("shutdown signal received", "signal", sig.String())
	}

	gw.SetDraining()
	warned := gw.WarnLiveSessionsDraining()
	logger.Info("draining", "live_sessions", warned)

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.ShutdownGracePeriod)
	defer shutdownCancel()
	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown http server: %w", err)
	}

	waitCtx, waitCancel := context.WithTimeout(context.Background(), cfg.ShutdownGracePeriod)
	defer waitCancel()
	if !gw.WaitLiveSessions(waitCtx) {
		canceled := gw.CancelLiveSessions()
		logger.Warn("canceled live sessions after grace period", "count", canceled)
		quick, quickCancel := context.WithTimeout(context.Background(), 5*time.Second)
		gw.WaitLiveSessions(quick)
		quickCancel()
	}

	if err := <-listenErrCh; err != nil {
		return fmt.Errorf("serve: %w", err)
	}

	logger.Info("gateway stopped")
	return nil
}
