// Package player owns the directory of live wallets: who is connected right
// now, under which connection handle, and what their accumulated record is.
package player

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/solmate-gg/solmate-server/internal/domain"
	"github.com/solmate-gg/solmate-server/internal/obslog"
)

var (
	ErrInvalidArgs = errors.New("invalid arguments")
	ErrNotFound    = errors.New("player not found")
)

// Result is one player's share of a finished game, fed into the advisory
// bookkeeping. StakeTier < 0 skips the wager accounting.
type Result struct {
	Won          bool
	Draw         bool
	StakeTier    int
	OpponentRank domain.Rank
}

// Directory maps wallet addresses to live player records. All mutation is
// serialized behind one lock; per-room state lives elsewhere.
type Directory struct {
	mu       sync.RWMutex
	byWallet map[string]*domain.Player
	byConn   map[string]string

	store *StatsStore // optional persistence, may be nil
}

func NewDirectory(store *StatsStore) *Directory {
	return &Directory{
		byWallet: make(map[string]*domain.Player),
		byConn:   make(map[string]string),
		store:    store,
	}
}

// Register upserts the wallet. A known wallet keeps its accumulated stats
// and simply swaps to the new connection handle, which is what makes
// reconnection after a page reload work.
func (d *Directory) Register(ctx context.Context, wallet, connID string) (*domain.Player, error) {
	wallet = strings.TrimSpace(wallet)
	connID = strings.TrimSpace(connID)
	if wallet == "" || connID == "" {
		return nil, ErrInvalidArgs
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	p, ok := d.byWallet[wallet]
	if ok {
		if p.ConnID != "" {
			delete(d.byConn, p.ConnID)
		}
		p.ConnID = connID
	} else {
		p = &domain.Player{
			WalletAddress: wallet,
			ConnID:        connID,
			Rank:          domain.RankNovice,
			RegisteredAt:  time.Now(),
		}
		if d.store != nil {
			if st, err := d.store.Load(ctx, wallet); err != nil {
				obslog.L().Warn("player_stats_load_error", zap.String("wallet", wallet), zap.Error(err))
			} else if st != nil {
				p.XP = st.XP
				p.GamesPlayed = st.GamesPlayed
				p.GamesWon = st.GamesWon
				p.SolProfit = st.SolProfit
				p.TotalWagered = st.TotalWagered
				p.Rank = domain.RankForXP(p.XP)
			}
		}
		d.byWallet[wallet] = p
	}
	d.byConn[connID] = wallet

	cp := *p
	return &cp, nil
}

// ByConn resolves a connection handle to a copy of its player record.
func (d *Directory) ByConn(connID string) *domain.Player {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if wallet, ok := d.byConn[connID]; ok {
		if p, ok := d.byWallet[wallet]; ok {
			cp := *p
			return &cp
		}
	}
	return nil
}

// ByID resolves a wallet address to a copy of its player record.
func (d *Directory) ByID(wallet string) *domain.Player {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if p, ok := d.byWallet[strings.TrimSpace(wallet)]; ok {
		cp := *p
		return &cp
	}
	return nil
}

// RecordResult applies one finished game to the player's record: games
// played/won, XP and rank, and the advisory stake bookkeeping. The numbers
// are display-only; the escrow contract is the authority on funds.
func (d *Directory) RecordResult(ctx context.Context, playerID string, r Result) error {
	d.mu.Lock()
	p, ok := d.byWallet[strings.TrimSpace(playerID)]
	if !ok {
		d.mu.Unlock()
		return ErrNotFound
	}

	p.GamesPlayed++
	if r.Won && !r.Draw {
		p.GamesWon++
	}
	p.XP += domain.XPGain(r.Won && !r.Draw, r.OpponentRank)
	p.Rank = domain.RankForXP(p.XP)

	if domain.ValidStakeTier(r.StakeTier) {
		stake := domain.StakeAmounts[r.StakeTier]
		p.TotalWagered += stake
		switch {
		case r.Draw:
			// stakes returned, no profit movement
		case r.Won:
			p.SolProfit += domain.WinnerNet(stake)
		default:
			p.SolProfit += domain.LoserNet(stake)
		}
	}
	snapshot := *p
	d.mu.Unlock()

	obslog.L().Info("player_result",
		zap.String("wallet", snapshot.WalletAddress),
		zap.Bool("won", r.Won && !r.Draw),
		zap.Bool("draw", r.Draw),
		zap.Int("games_played", snapshot.GamesPlayed),
		zap.Float64("sol_profit", snapshot.SolProfit),
	)

	if d.store != nil {
		if err := d.store.Save(ctx, &snapshot); err != nil {
			obslog.L().Warn("player_stats_save_error", zap.String("wallet", snapshot.WalletAddress), zap.Error(err))
		}
	}
	return nil
}

// SetCurrentRoom binds or clears (roomID == "") the player's active room.
func (d *Directory) SetCurrentRoom(playerID, roomID string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if p, ok := d.byWallet[strings.TrimSpace(playerID)]; ok {
		p.CurrentRoomID = roomID
	}
}

// RemoveByConn drops the record bound to connID unless the player is
// mid-game; disconnect grace handling owns that case.
func (d *Directory) RemoveByConn(connID string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	wallet, ok := d.byConn[connID]
	if !ok {
		return
	}
	delete(d.byConn, connID)
	if p, ok := d.byWallet[wallet]; ok && p.CurrentRoomID == "" {
		delete(d.byWallet, wallet)
	}
}

// Count returns the number of tracked players.
func (d *Directory) Count() int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.byWallet)
}
