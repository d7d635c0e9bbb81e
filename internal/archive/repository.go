// Package archive persists finished games to Postgres. The archive is
// advisory: room state never depends on a write succeeding.
package archive

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	_ "github.com/lib/pq"

	"github.com/solmate-gg/solmate-server/internal/domain"
	"github.com/solmate-gg/solmate-server/internal/room"
)

type Repository struct {
	db *sql.DB
}

func NewRepository(databaseURL string) (*Repository, error) {
	if strings.TrimSpace(databaseURL) == "" {
		return nil, fmt.Errorf("DATABASE_URL is required")
	}
	db, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(16)
	db.SetMaxIdleConns(8)
	db.SetConnMaxLifetime(30 * time.Minute)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		return nil, err
	}
	return &Repository{db: db}, nil
}

func (r *Repository) Close() error {
	if r == nil || r.db == nil {
		return nil
	}
	return r.db.Close()
}

// SaveGame upserts the final record of one game, keyed by room id.
func (r *Repository) SaveGame(ctx context.Context, g *room.FinishedGame) error {
	if r == nil || r.db == nil || g == nil {
		return nil
	}

	pgnResult := mapResultToPGN(g.Winner)
	pgn := buildPGN(g, pgnResult)
	movesSANRaw, _ := json.Marshal(g.MovesSAN)
	duration := g.EndedAt.Sub(g.StartedAt).Milliseconds()
	if duration < 0 {
		duration = 0
	}

	q := `INSERT INTO games (
	    room_id, match_code, match_address, stake_tier,
	    white_wallet, black_wallet,
	    winner, end_reason, moves_san, final_fen, pgn,
	    started_at, ended_at, duration_ms
	  ) VALUES (
	    $1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14
	  ) ON CONFLICT (room_id) DO UPDATE SET
	    match_code=EXCLUDED.match_code,
	    match_address=EXCLUDED.match_address,
	    stake_tier=EXCLUDED.stake_tier,
	    white_wallet=EXCLUDED.white_wallet,
	    black_wallet=EXCLUDED.black_wallet,
	    winner=EXCLUDED.winner,
	    end_reason=EXCLUDED.end_reason,
	    moves_san=EXCLUDED.moves_san,
	    final_fen=EXCLUDED.final_fen,
	    pgn=EXCLUDED.pgn,
	    started_at=EXCLUDED.started_at,
	    ended_at=EXCLUDED.ended_at,
	    duration_ms=EXCLUDED.duration_ms`

	_, err := r.db.ExecContext(ctx, q,
		g.RoomID, g.MatchCode, g.MatchAddress, g.StakeTier,
		g.WhiteWallet, g.BlackWallet,
		string(g.Winner), string(g.Reason), string(movesSANRaw), g.FinalFEN, pgn,
		g.StartedAt, g.EndedAt, duration,
	)
	return err
}

func mapResultToPGN(w domain.Winner) string {
	switch w {
	case domain.WinnerWhite:
		return "1-0"
	case domain.WinnerBlack:
		return "0-1"
	case domain.WinnerDraw:
		return "1/2-1/2"
	default:
		return "*"
	}
}

func buildPGN(g *room.FinishedGame, pgnResult string) string {
	if g == nil {
		return ""
	}
	var b strings.Builder
	date := g.EndedAt
	if date.IsZero() {
		date = time.Now()
	}
	b.WriteString("[Event \"SolMate Staked Match\"]\n")
	b.WriteString("[Site \"solmate.gg\"]\n")
	b.WriteString(fmt.Sprintf("[Date \"%04d.%02d.%02d\"]\n", date.Year(), int(date.Month()), date.Day()))
	b.WriteString(fmt.Sprintf("[White \"%s\"]\n", sanitizePGN(g.WhiteWallet)))
	b.WriteString(fmt.Sprintf("[Black \"%s\"]\n", sanitizePGN(g.BlackWallet)))
	if g.MatchCode != "" {
		b.WriteString(fmt.Sprintf("[Round \"%s\"]\n", sanitizePGN(g.MatchCode)))
	}
	b.WriteString(fmt.Sprintf("[Termination \"%s\"]\n", sanitizePGN(string(g.Reason))))
	b.WriteString(fmt.Sprintf("[Result \"%s\"]\n\n", pgnResult))

	for i := 0; i < len(g.MovesSAN); i += 2 {
		turn := (i / 2) + 1
		b.WriteString(fmt.Sprintf("%d. %s", turn, strings.TrimSpace(g.MovesSAN[i])))
		if i+1 < len(g.MovesSAN) {
			b.WriteString(" ")
			b.WriteString(strings.TrimSpace(g.MovesSAN[i+1]))
		}
		b.WriteString(" ")
	}
	b.WriteString(pgnResult)
	return b.String()
}

func sanitizePGN(s string) string {
	s = strings.ReplaceAll(s, "\\", " ")
	s = strings.ReplaceAll(s, "\"", "'")
	return strings.TrimSpace(s)
}
