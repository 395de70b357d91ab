package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/DoyleJ11/lol-party-sync/internal/config"
	"github.com/DoyleJ11/lol-party-sync/internal/httpapi"
	"github.com/DoyleJ11/lol-party-sync/internal/inject"
	"github.com/DoyleJ11/lol-party-sync/internal/lobbyclient"
	"github.com/DoyleJ11/lol-party-sync/internal/natsbus"
	"github.com/DoyleJ11/lol-party-sync/internal/pairing"
	"github.com/DoyleJ11/lol-party-sync/internal/party"
	"github.com/DoyleJ11/lol-party-sync/internal/ws"
)

func main() {
	configPath := flag.String("config", "partysync.yaml", "path to the YAML config file (empty for env only)")
	envFile := flag.String("env", ".env", "path to a .env file")
	flag.Parse()

	envErr := config.LoadEnvFile(*envFile)

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "partysync: %v\n", err)
		os.Exit(2)
	}

	log, err := newLogger(cfg.Log)
	if err != nil {
		fmt.Fprintf(os.Stderr, "partysync: build logger: %v\n", err)
		os.Exit(2)
	}
	defer func() { _ = log.Sync() }()

	if envErr != nil {
		log.Debug("no .env loaded", zap.String("path", *envFile), zap.Error(envErr))
	}

	if err := run(cfg, log); err != nil {
		log.Fatal("partysync stopped", zap.Error(err))
	}
}

func newLogger(c config.LogConfig) (*zap.Logger, error) {
	zc := zap.NewProductionConfig()
	if c.Development {
		zc = zap.NewDevelopmentConfig()
	}
	if c.Level != "" {
		lvl, err := zap.ParseAtomicLevel(c.Level)
		if err != nil {
			return nil, err
		}
		zc.Level = lvl
	}
	return zc.Build()
}

func newTransport(cfg config.Config, log *zap.Logger) party.Transport {
	if cfg.Transport.Kind == config.TransportNATS {
		nc := natsbus.DefaultConfig()
		nc.URL = cfg.Transport.NATSURL
		if cfg.Transport.SubjectPrefix != "" {
			nc.SubjectPrefix = cfg.Transport.SubjectPrefix
		}
		nc.ReconnectWait = cfg.Transport.ReconnectWait
		return natsbus.New(nc, cfg.LocalPlayerID, log)
	}
	c := ws.NewClient(cfg.Transport.WSURL, log)
	c.SetHeader("X-Player-Id", cfg.LocalPlayerID)
	return c
}

func run(cfg config.Config, log *zap.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	roster, err := pairing.NewRoster(cfg.PairingFile, log)
	if err != nil {
		return err
	}

	clock := clockwork.NewRealClock()
	transport := newTransport(cfg, log)
	injector := inject.NewManifestWriter(cfg.ManifestPath, log)

	pcfg := party.DefaultConfig(cfg.LocalPlayerID)
	pcfg.Limits = cfg.Limits()
	pcfg.DebounceWindow = cfg.Timing.DebounceWindow
	pcfg.SwiftPlayWait = cfg.Timing.SwiftPlayWait
	pcfg.EffectTimeout = cfg.Timing.EffectTimeout

	e := party.New(ctx, pcfg, clock, transport, injector, log)

	lobby := lobbyclient.New(cfg.Lobby.URL)
	if cfg.Lobby.Path != "" {
		lobby.SetPath(cfg.Lobby.Path)
	}
	poller := party.NewPoller(lobby, roster, e.Inbox(), clock, cfg.Lobby.PollInterval, log)

	server := &http.Server{
		Addr:         cfg.HTTPAddr,
		Handler:      httpapi.SetupRoutes(e, log),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	log.Info("partysync starting",
		zap.String("player", cfg.LocalPlayerID),
		zap.String("transport", cfg.Transport.Kind),
		zap.String("http_addr", cfg.HTTPAddr),
		zap.Int("paired_friends", len(roster.Friends())))

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		if err := ignoreCanceled(roster.Watch(gctx)); err != nil {
			log.Warn("pairing roster will not hot reload", zap.Error(err))
		}
		return nil
	})
	g.Go(func() error { return ignoreCanceled(poller.Run(gctx)) })
	g.Go(func() error {
		return ignoreCanceled(party.Consume(gctx, transport, e, clock, cfg.Transport.ReconnectWait, log))
	})
	g.Go(func() error {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		log.Info("shutting down")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			log.Error("http server shutdown failed", zap.Error(err))
		}
		select {
		case e.Inbox() <- party.Shutdown{}:
		case <-e.Done():
		}
		select {
		case <-e.Done():
		case <-shutdownCtx.Done():
		}
		return nil
	})

	return g.Wait()
}

func ignoreCanceled(err error) error {
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}
