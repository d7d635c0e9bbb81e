// Package matchmaking holds the per-stake-tier open queues and the pairing
// scan. The queue never creates rooms itself; it hands matched pairs back to
// the caller so the transport layer stays in charge of notification order.
package matchmaking

import (
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/solmate-gg/solmate-server/internal/domain"
	"github.com/solmate-gg/solmate-server/internal/obslog"
)

var (
	ErrAlreadyQueued = errors.New("player already queued")
	ErrBadStakeTier  = errors.New("invalid stake tier")
)

// Entry is one waiting player.
type Entry struct {
	Wallet     string
	ConnID     string
	Rank       domain.Rank
	SkillTier  domain.SkillTier
	EnqueuedAt time.Time
}

// Pair is a successful match within one tier.
type Pair struct {
	StakeTier int
	A, B      Entry
}

// Queue is safe for concurrent use. Each stake tier is an independent FIFO;
// a wallet may sit in at most one tier at a time.
type Queue struct {
	mu       sync.Mutex
	tiers    map[int][]Entry
	byWallet map[string]int // wallet -> tier

	fallbackAfter time.Duration
}

// New builds a queue whose compatibility fallback engages once the oldest
// entry in a tier has waited at least fallbackAfter.
func New(fallbackAfter time.Duration) *Queue {
	if fallbackAfter <= 0 {
		fallbackAfter = 30 * time.Second
	}
	return &Queue{
		tiers:         make(map[int][]Entry),
		byWallet:      make(map[string]int),
		fallbackAfter: fallbackAfter,
	}
}

// Enqueue appends the entry to its tier and returns the 1-based queue
// position. Joining while already queued in any tier is rejected.
func (q *Queue) Enqueue(tier int, e Entry) (int, error) {
	if !domain.ValidStakeTier(tier) {
		return 0, ErrBadStakeTier
	}
	q.mu.Lock()
	defer q.mu.Unlock()

	if _, queued := q.byWallet[e.Wallet]; queued {
		return 0, ErrAlreadyQueued
	}
	if e.EnqueuedAt.IsZero() {
		e.EnqueuedAt = time.Now()
	}
	q.tiers[tier] = append(q.tiers[tier], e)
	q.byWallet[e.Wallet] = tier

	obslog.L().Info("queue_join",
		zap.String("wallet", e.Wallet),
		zap.Int("stake_tier", tier),
		zap.String("skill_tier", string(e.SkillTier)),
		zap.Int("depth", len(q.tiers[tier])),
	)
	return len(q.tiers[tier]), nil
}

// Leave removes the wallet from whichever tier holds it.
func (q *Queue) Leave(wallet string) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	tier, queued := q.byWallet[wallet]
	if !queued {
		return false
	}
	q.removeLocked(tier, wallet)
	obslog.L().Info("queue_leave", zap.String("wallet", wallet), zap.Int("stake_tier", tier))
	return true
}

// LeaveByConn removes an entry keyed by its connection handle; used on
// socket disconnect, where only the conn id is certain.
func (q *Queue) LeaveByConn(connID string) (string, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	for tier, entries := range q.tiers {
		for _, e := range entries {
			if e.ConnID == connID {
				q.removeLocked(tier, e.Wallet)
				obslog.L().Info("queue_leave", zap.String("wallet", e.Wallet), zap.Int("stake_tier", tier))
				return e.Wallet, true
			}
		}
	}
	return "", false
}

func (q *Queue) removeLocked(tier int, wallet string) {
	entries := q.tiers[tier]
	for i, e := range entries {
		if e.Wallet == wallet {
			q.tiers[tier] = append(entries[:i], entries[i+1:]...)
			break
		}
	}
	delete(q.byWallet, wallet)
}

// Position reports the wallet's tier and 1-based position, if queued.
func (q *Queue) Position(wallet string) (tier, pos int, ok bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	tier, ok = q.byWallet[wallet]
	if !ok {
		return 0, 0, false
	}
	for i, e := range q.tiers[tier] {
		if e.Wallet == wallet {
			return tier, i + 1, true
		}
	}
	return 0, 0, false
}

// Depths returns the entry count per stake tier, including empty tiers.
func (q *Queue) Depths() map[int]int {
	q.mu.Lock()
	defer q.mu.Unlock()
	depths := make(map[int]int, domain.MaxStakeTier+1)
	for tier := 0; tier <= domain.MaxStakeTier; tier++ {
		depths[tier] = len(q.tiers[tier])
	}
	return depths
}

// MatchTier removes and returns every pair the tier can form right now.
// Scan order favors the longest-waiting players: for each entry from the
// front, the first skill-compatible later entry is taken. If nothing is
// compatible but the front entry has waited past the fallback window, the
// two oldest entries are paired regardless of skill.
func (q *Queue) MatchTier(tier int, now time.Time) []Pair {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.matchTierLocked(tier, now)
}

// MatchAll runs the pairing scan across every tier; used by the periodic
// sweep so fallback pairs form even when nobody new enqueues.
func (q *Queue) MatchAll(now time.Time) []Pair {
	q.mu.Lock()
	defer q.mu.Unlock()
	var pairs []Pair
	for tier := 0; tier <= domain.MaxStakeTier; tier++ {
		pairs = append(pairs, q.matchTierLocked(tier, now)...)
	}
	return pairs
}

func (q *Queue) matchTierLocked(tier int, now time.Time) []Pair {
	var pairs []Pair
	for {
		entries := q.tiers[tier]
		if len(entries) < 2 {
			return pairs
		}
		a, b, ok := q.pickPairLocked(entries, now)
		if !ok {
			return pairs
		}
		q.removeLocked(tier, a.Wallet)
		q.removeLocked(tier, b.Wallet)
		pairs = append(pairs, Pair{StakeTier: tier, A: a, B: b})
		obslog.L().Info("queue_match",
			zap.Int("stake_tier", tier),
			zap.String("a", a.Wallet),
			zap.String("b", b.Wallet),
			zap.Duration("a_waited", now.Sub(a.EnqueuedAt)),
		)
	}
}

func (q *Queue) pickPairLocked(entries []Entry, now time.Time) (Entry, Entry, bool) {
	for i := 0; i < len(entries); i++ {
		for j := i + 1; j < len(entries); j++ {
			if domain.SkillCompatible(entries[i].SkillTier, entries[j].SkillTier) {
				return entries[i], entries[j], true
			}
		}
	}
	// Fallback: the head of the queue has waited long enough that any
	// opponent beats none.
	if now.Sub(entries[0].EnqueuedAt) >= q.fallbackAfter {
		return entries[0], entries[1], true
	}
	return Entry{}, Entry{}, false
}
