package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/multierr"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/shapestone/shape-httpd/pkg/config"
	"github.com/shapestone/shape-httpd/pkg/httpd"
	"github.com/shapestone/shape-httpd/pkg/logger"
	"github.com/shapestone/shape-httpd/pkg/metrics"
	"github.com/shapestone/shape-httpd/pkg/resource"
	"github.com/shapestone/shape-httpd/pkg/security"
)

func serve(args []string, stderr io.Writer) error {
	fs := flag.NewFlagSet("serve", flag.ContinueOnError)
	fs.SetOutput(stderr)
	flags, err := config.ParseFlags(fs, args)
	if err != nil {
		return err
	}

	// load .env file if present
	if err := config.LoadEnvFile(flags.EnvFile); err != nil {
		return err
	}
	cfg, err := config.Load(flags.Config, !flags.Set["config"])
	if err != nil {
		return err
	}
	if _, err := cfg.ApplyEnv(os.LookupEnv); err != nil {
		return err
	}
	cfg.ApplyFlags(flags)
	if err := cfg.Validate(); err != nil {
		return err
	}

	log, err := logger.New(cfg.Logging.Level, cfg.Logging.Format)
	if err != nil {
		return err
	}
	defer func() { _ = log.Sync() }()
	log.Info("config_loaded",
		zap.String("config", flags.Config),
		zap.String("addr", cfg.Server.Address),
		zap.String("version", version))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m, err := metrics.New(reg)
	if err != nil {
		return err
	}

	opts := cfg.ServerOptions()
	opts.Logger = log
	opts.Metrics = m
	if ac := cfg.AdmissionController(); ac != nil {
		opts.Admission = ac
	}
	if cfg.TLS.Enabled() {
		sec, err := newSecurity(cfg.TLS)
		if err != nil {
			return err
		}
		opts.Security = sec
		log.Info("tls_enabled",
			zap.Bool("self_signed", cfg.TLS.SelfSigned),
			zap.Bool("mutual", sec.MutualTLS()),
			zap.Time("not_after", sec.Leaf().NotAfter))
	}

	store, err := openStore(cfg.Content, log)
	if err != nil {
		return err
	}
	srv := httpd.New(opts)
	if err := mountContent(srv, cfg, store, log); err != nil {
		return multierr.Append(err, store.Close())
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		err := srv.Start()
		if errors.Is(err, httpd.ErrServerClosed) {
			return nil
		}
		return err
	})
	var metricsSrv *http.Server
	if cfg.Metrics.Address != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
		metricsSrv = &http.Server{Addr: cfg.Metrics.Address, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
		g.Go(func() error {
			log.Info("metrics_listening", zap.String("addr", cfg.Metrics.Address))
			if err := metricsSrv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("metrics listener: %w", err)
			}
			return nil
		})
	}
	g.Go(func() error {
		<-gctx.Done()
		log.Info("shutdown_requested")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownGrace.Duration())
		defer cancel()
		err := srv.Stop(shutdownCtx)
		if metricsSrv != nil {
			err = multierr.Append(err, metricsSrv.Shutdown(shutdownCtx))
		}
		return err
	})

	err = g.Wait()
	err = multierr.Append(err, store.Close())
	if err != nil {
		log.Error("server_exited", zap.Error(err))
		return err
	}
	log.Info("server_exited")
	return nil
}

// newSecurity configures a TLS context and wipes the key material once it
// has been installed.
func newSecurity(t config.TLSConfig) (*security.Context, error) {
	info, err := t.LoadSecurityInfo()
	if err != nil {
		return nil, err
	}
	defer info.Zero()
	sec := security.NewContext(t.HandshakeTimeout.Duration())
	if err := sec.Configure(info); err != nil {
		return nil, err
	}
	return sec, nil
}

func openStore(c config.ContentConfig, log *zap.Logger) (resource.Store, error) {
	if c.StorePath == "" {
		return resource.NewMemoryStore(), nil
	}
	return resource.OpenPebble(c.StorePath, log)
}
