package player

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/solmate-gg/solmate-server/internal/domain"
)

const statsTTL = 90 * 24 * time.Hour

// PersistedStats is the durable slice of a player record. Live state
// (connection handle, current room) is deliberately excluded: match
// orchestration is in-memory and scoped to the server process.
type PersistedStats struct {
	XP           int     `json:"xp"`
	GamesPlayed  int     `json:"games_played"`
	GamesWon     int     `json:"games_won"`
	SolProfit    float64 `json:"sol_profit"`
	TotalWagered float64 `json:"total_wagered"`
}

// StatsStore is a write-through Redis cache of accumulated player stats so
// XP and records survive a server restart.
type StatsStore struct {
	rdb *redis.Client
}

func NewStatsStore(redisURL string) (*StatsStore, error) {
	opts, err := parseRedisURL(redisURL)
	if err != nil {
		return nil, err
	}
	rdb := redis.NewClient(opts)
	if err := rdb.Ping(context.Background()).Err(); err != nil {
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return &StatsStore{rdb: rdb}, nil
}

func (s *StatsStore) Close() error {
	if s == nil || s.rdb == nil {
		return nil
	}
	return s.rdb.Close()
}

func (s *StatsStore) Load(ctx context.Context, wallet string) (*PersistedStats, error) {
	raw, err := s.rdb.Get(ctx, statsKey(wallet)).Bytes()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var st PersistedStats
	if err := json.Unmarshal(raw, &st); err != nil {
		return nil, err
	}
	return &st, nil
}

func (s *StatsStore) Save(ctx context.Context, p *domain.Player) error {
	if p == nil {
		return nil
	}
	st := PersistedStats{
		XP:           p.XP,
		GamesPlayed:  p.GamesPlayed,
		GamesWon:     p.GamesWon,
		SolProfit:    p.SolProfit,
		TotalWagered: p.TotalWagered,
	}
	raw, err := json.Marshal(&st)
	if err != nil {
		return err
	}
	return s.rdb.Set(ctx, statsKey(p.WalletAddress), raw, statsTTL).Err()
}

func statsKey(wallet string) string { return "player:stats:" + strings.TrimSpace(wallet) }

func parseRedisURL(raw string) (*redis.Options, error) {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return nil, err
	}
	if u.Scheme != "redis" && u.Scheme != "rediss" {
		return nil, fmt.Errorf("unsupported scheme: %s", u.Scheme)
	}
	db := 0
	if p := strings.TrimPrefix(u.Path, "/"); p != "" {
		if n, err := strconv.Atoi(p); err == nil {
			db = n
		}
	}
	pass, _ := u.User.Password()
	return &redis.Options{Addr: u.Host, Password: pass, DB: db}, nil
}
