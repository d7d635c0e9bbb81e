package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/go-co-op/gocron/v2"
	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"github.com/solmate-gg/solmate-server/internal/archive"
	appcfg "github.com/solmate-gg/solmate-server/internal/config"
	"github.com/solmate-gg/solmate-server/internal/hosted"
	"github.com/solmate-gg/solmate-server/internal/httpapi"
	"github.com/solmate-gg/solmate-server/internal/matchmaking"
	"github.com/solmate-gg/solmate-server/internal/msgcat"
	"github.com/solmate-gg/solmate-server/internal/obslog"
	"github.com/solmate-gg/solmate-server/internal/player"
	"github.com/solmate-gg/solmate-server/internal/room"
	"github.com/solmate-gg/solmate-server/internal/rules"
	"github.com/solmate-gg/solmate-server/internal/settlement"
	"github.com/solmate-gg/solmate-server/internal/ws"
)

func main() {
	_ = godotenv.Load()

	cfg, err := appcfg.Load()
	if err != nil {
		log.Fatalf("config error: %v", err)
	}
	if err := obslog.InitFromEnv(); err != nil {
		log.Fatalf("logger init error: %v", err)
	}
	logger := obslog.L()
	defer logger.Sync() //nolint:errcheck

	cat, err := msgcat.New(cfg.MessageOverrideDir)
	if err != nil {
		logger.Fatal("msgcat_init_error", zap.Error(err))
	}

	// Durable player stats are optional; without Redis the directory runs
	// purely in memory.
	var store *player.StatsStore
	if cfg.RedisURL != "" {
		store, err = player.NewStatsStore(cfg.RedisURL)
		if err != nil {
			logger.Fatal("redis_init_error", zap.Error(err))
		}
		defer store.Close()
		logger.Info("stats_store_ready")
	}
	dir := player.NewDirectory(store)

	hub := ws.NewHub()
	rooms := room.NewManager(hub, dir, rules.NewChessOracle(), room.Options{
		GameDuration:          cfg.GameDuration,
		ClockTick:             cfg.ClockTick,
		DisconnectGrace:       cfg.DisconnectGrace,
		Retention:             cfg.RoomRetention,
		ActivationDeadline:    cfg.ActivationDeadline,
		CountDisconnectAsLoss: cfg.CountDisconnectAsLoss,
	})

	if cfg.DatabaseURL != "" {
		repo, err := archive.NewRepository(cfg.DatabaseURL)
		if err != nil {
			logger.Fatal("archive_init_error", zap.Error(err))
		}
		defer repo.Close()
		rooms.AttachArchiver(repo)
		logger.Info("archive_ready")
	}
	if cfg.EscrowNotifyURL != "" {
		rooms.AttachSettler(settlement.NewClient(cfg.EscrowNotifyURL))
		logger.Info("settlement_ready", zap.String("url", cfg.EscrowNotifyURL))
	}

	queue := matchmaking.New(cfg.MatchmakeFallback)
	registry := hosted.NewRegistry(cfg.HostGrace, cfg.RoomRetention)

	wsServer := ws.NewServer(hub, dir, queue, registry, rooms, cat, ws.Config{
		OriginPatterns:      originPatterns(cfg.CORSOrigin),
		JoinDeadlineDefault: cfg.JoinDeadlineDefault,
	})

	scheduler, err := gocron.NewScheduler()
	if err != nil {
		logger.Fatal("scheduler_init_error", zap.Error(err))
	}
	if _, err := scheduler.NewJob(
		gocron.DurationJob(cfg.SweepInterval),
		gocron.NewTask(func() { registry.SweepExpired(time.Now()) }),
	); err != nil {
		logger.Fatal("scheduler_job_error", zap.Error(err))
	}
	// Fallback pairs must form even when nobody new enqueues.
	if _, err := scheduler.NewJob(
		gocron.DurationJob(cfg.MatchmakeFallback),
		gocron.NewTask(wsServer.SweepQueue),
	); err != nil {
		logger.Fatal("scheduler_job_error", zap.Error(err))
	}
	scheduler.Start()
	defer scheduler.Shutdown() //nolint:errcheck

	mux := http.NewServeMux()
	mux.Handle("/ws", wsServer)
	api := httpapi.NewServer(dir, queue, registry, rooms, hub, cfg.CORSOrigin, cfg.JoinDeadlineDefault)
	handler := api.Routes(mux)

	srv := &http.Server{
		Addr:         cfg.ListenAddr,
		Handler:      handler,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 0, // websocket writes manage their own deadlines
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		logger.Info("server_listen", zap.String("addr", cfg.ListenAddr))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("server_error", zap.Error(err))
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	logger.Info("server_shutdown")
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		logger.Warn("server_shutdown_error", zap.Error(err))
	}
}

func originPatterns(corsOrigin string) []string {
	corsOrigin = strings.TrimSpace(corsOrigin)
	if corsOrigin == "" || corsOrigin == "*" {
		return []string{"*"}
	}
	var patterns []string
	for _, o := range strings.Split(corsOrigin, ",") {
		o = strings.TrimSpace(o)
		o = strings.TrimPrefix(o, "https://")
		o = strings.TrimPrefix(o, "http://")
		if o != "" {
			patterns = append(patterns, o)
		}
	}
	if len(patterns) == 0 {
		return []string{"*"}
	}
	return patterns
}
