package config

import (
	"errors"
	"os"
	"strconv"
	"strings"
	"time"
)

// AppConfig carries every runtime knob. Product durations (grace windows,
// fallback wait, retention) are configuration, not constants: only their
// existence is load-bearing.
type AppConfig struct {
	ListenAddr string
	CORSOrigin string

	RedisURL        string
	DatabaseURL     string
	EscrowNotifyURL string

	GameDuration       time.Duration
	ClockTick          time.Duration
	DisconnectGrace    time.Duration
	HostGrace          time.Duration
	MatchmakeFallback  time.Duration
	RoomRetention      time.Duration
	SweepInterval      time.Duration
	ActivationDeadline time.Duration

	JoinDeadlineDefault time.Duration

	// Whether a disconnect forfeit counts against the leaver's record the
	// same way a resignation does.
	CountDisconnectAsLoss bool

	MessageOverrideDir string
}

func Load() (*AppConfig, error) {
	cfg := &AppConfig{
		ListenAddr:            ":3001",
		CORSOrigin:            "*",
		GameDuration:          10 * time.Minute,
		ClockTick:             time.Second,
		DisconnectGrace:       30 * time.Second,
		HostGrace:             30 * time.Second,
		MatchmakeFallback:     30 * time.Second,
		RoomRetention:         60 * time.Second,
		SweepInterval:         60 * time.Second,
		ActivationDeadline:    2 * time.Minute,
		JoinDeadlineDefault:   5 * time.Minute,
		CountDisconnectAsLoss: true,
	}

	if v := strings.TrimSpace(os.Getenv("LISTEN_ADDR")); v != "" {
		cfg.ListenAddr = v
	} else if p := strings.TrimSpace(os.Getenv("PORT")); p != "" {
		cfg.ListenAddr = ":" + p
	}
	if v := strings.TrimSpace(os.Getenv("CORS_ORIGIN")); v != "" {
		cfg.CORSOrigin = v
	}

	cfg.RedisURL = strings.TrimSpace(os.Getenv("REDIS_URL"))
	cfg.DatabaseURL = strings.TrimSpace(os.Getenv("DATABASE_URL"))
	cfg.EscrowNotifyURL = strings.TrimSpace(os.Getenv("ESCROW_NOTIFY_URL"))
	cfg.MessageOverrideDir = strings.TrimSpace(os.Getenv("MESSAGE_OVERRIDE_DIR"))

	loadDuration(&cfg.GameDuration, "GAME_DURATION")
	loadDuration(&cfg.ClockTick, "CLOCK_TICK")
	loadDuration(&cfg.DisconnectGrace, "DISCONNECT_GRACE")
	loadDuration(&cfg.HostGrace, "HOST_GRACE")
	loadDuration(&cfg.MatchmakeFallback, "MATCHMAKE_FALLBACK")
	loadDuration(&cfg.RoomRetention, "ROOM_RETENTION")
	loadDuration(&cfg.ActivationDeadline, "ACTIVATION_DEADLINE")
	loadDuration(&cfg.SweepInterval, "SWEEP_INTERVAL")
	loadDuration(&cfg.JoinDeadlineDefault, "JOIN_DEADLINE_DEFAULT")

	if v := strings.TrimSpace(os.Getenv("COUNT_DISCONNECT_AS_LOSS")); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			cfg.CountDisconnectAsLoss = b
		}
	}

	if cfg.GameDuration <= 0 || cfg.ClockTick <= 0 {
		return nil, errors.New("GAME_DURATION and CLOCK_TICK must be positive")
	}
	if cfg.RoomRetention < 0 || cfg.DisconnectGrace < 0 || cfg.HostGrace < 0 {
		return nil, errors.New("grace and retention windows must not be negative")
	}

	return cfg, nil
}

func loadDuration(dst *time.Duration, key string) {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return
	}
	if d, err := time.ParseDuration(v); err == nil && d > 0 {
		*dst = d
	}
}
