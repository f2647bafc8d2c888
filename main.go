package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"nexus/internal/auth"
	"nexus/internal/chat"
	"nexus/internal/commands"
	"nexus/internal/config"
	"nexus/internal/http"
	"nexus/internal/logging"
	"nexus/internal/mirror"
	"nexus/internal/storage"
	"nexus/internal/ws"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"
)

func run(ctx context.Context, addUser string) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	if addUser != "" {
		return commands.AddUser(addUser, cfg)
	}

	if err := logging.Setup(cfg.LogLevel, cfg.LogPretty); err != nil {
		return err
	}
	logger := logging.For("main")

	bbStorage, err := storage.NewBboltStorage(cfg.DBFile)
	if err != nil {
		return err
	}
	defer func() { _ = bbStorage.Close() }()

	authService, err := auth.NewAuthService(ctx, auth.Config{TokenExpiry: cfg.TokenExpiry}, bbStorage)
	if err != nil {
		return err
	}

	history := chat.NewHistory(cfg.HistorySize, bbStorage)

	var mirr mirror.Mirror = mirror.Nop{}
	if cfg.RedisAddr != "" {
		r, err := mirror.Connect(ctx, mirror.Config{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		if err != nil {
			return err
		}
		mirr = r
		logger.Info().Str("addr", cfg.RedisAddr).Msg("mirroring presence to redis")
	}
	defer func() { _ = mirr.Close() }()

	hub := ws.NewHub(ws.Config{
		SendBuffer:       cfg.SendBuffer,
		MaxMessageLength: cfg.MaxMessageLength,
	}, bbStorage, history, mirr)

	wsConfig := ws.ConnectionConfig{PingPeriod: cfg.PingPeriod, ReadLimit: cfg.ReadLimit}
	adminServer := http.NewAdminServer(authService, hub, cfg.AdminAddr)
	apiServer := http.NewAPIServer(authService, hub, bbStorage, history, wsConfig, cfg.APIAddr)

	g, gCtx := errgroup.WithContext(ctx)

	g.Go(adminServer.Start)
	g.Go(apiServer.Start)
	g.Go(func() error {
		return mirr.Run(gCtx)
	})

	// Wait for context cancellation (signal)
	g.Go(func() error {
		<-gCtx.Done()
		logger.Info().Msg("shutting down servers")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		// Hijacked sockets are not tracked by http.Server.
		hub.Shutdown()
		if err := adminServer.Shutdown(shutdownCtx); err != nil {
			logger.Warn().Err(err).Msg("admin server shutdown error")
		}
		if err := apiServer.Shutdown(shutdownCtx); err != nil {
			logger.Warn().Err(err).Msg("API server shutdown error")
		}
		return nil
	})

	return g.Wait()
}

func main() {
	addUser := flag.String("add-user", "", "Username to create (creates user with random password and prints details)")
	flag.Parse()

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx, *addUser); err != nil && !errors.Is(err, context.Canceled) {
		if *addUser != "" {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(1)
		}
		log.Fatal().Err(err).Msg("application error")
	}
}
