// Package hosted implements private staked matches joined by a 4-character
// invite code. The registry tracks codes up to the moment both players are
// in a room; live play is the room manager's business.
//
// Matched, cancelled and expired codes are not removed immediately: the
// record is kept, off the byHost index, until the retention sweep, so a
// search on a spent code reports why it is gone instead of "not found".
package hosted

import (
	"errors"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/solmate-gg/solmate-server/internal/domain"
	"github.com/solmate-gg/solmate-server/internal/obslog"
)

var (
	ErrNotFound    = errors.New("match code not found")
	ErrNotJoinable = errors.New("match is no longer joinable")
	ErrExpired     = errors.New("match join deadline passed")
	ErrSelfJoin    = errors.New("host cannot join their own match")
	ErrNotHost     = errors.New("only the host can cancel")
	ErrBadStake    = errors.New("invalid stake tier")
)

type Status string

const (
	StatusWaiting   Status = "waiting"
	StatusMatched   Status = "matched"
	StatusCancelled Status = "cancelled"
	StatusExpired   Status = "expired"
)

// Match is one hosted invite. Copies are handed out; the registry's own
// record is only touched under the registry mutex.
type Match struct {
	Code           string
	OnChainAddress string
	HostWallet     string
	HostConnID     string
	HostRank       domain.Rank
	StakeTier      int
	JoinDeadline   time.Time
	Status         Status
	CreatedAt      time.Time
}

// RemovedFunc observes a match leaving the open-lobby set, with the status
// it closed under. Called outside the registry lock.
type RemovedFunc func(m Match)

// Registry is safe for concurrent use.
type Registry struct {
	mu      sync.Mutex
	byCode  map[string]*Match
	byHost  map[string]string // host wallet -> code, waiting matches only
	grace   map[string]int    // host wallet -> disconnect generation
	removed RemovedFunc

	hostGrace time.Duration
	retention time.Duration
}

// NewRegistry builds a registry whose disconnected hosts get hostGrace to
// reconnect and whose closed records linger for retention before eviction.
func NewRegistry(hostGrace, retention time.Duration) *Registry {
	if hostGrace <= 0 {
		hostGrace = 30 * time.Second
	}
	if retention <= 0 {
		retention = 60 * time.Second
	}
	return &Registry{
		byCode:    make(map[string]*Match),
		byHost:    make(map[string]string),
		grace:     make(map[string]int),
		hostGrace: hostGrace,
		retention: retention,
	}
}

// OnRemoved registers the lobby-removal observer. Set once during wiring.
func (r *Registry) OnRemoved(fn RemovedFunc) { r.removed = fn }

// Host creates a new waiting match and returns it. A host re-hosting while
// an earlier match of theirs is still waiting replaces it; the old code is
// cancelled first.
func (r *Registry) Host(hostWallet, hostConnID string, hostRank domain.Rank, stakeTier int, onChainAddress string, joinDeadline time.Time) (Match, error) {
	if !domain.ValidStakeTier(stakeTier) {
		return Match{}, ErrBadStake
	}
	var replaced *Match

	r.mu.Lock()
	if prevCode, ok := r.byHost[hostWallet]; ok {
		replaced = r.closeLocked(prevCode, StatusCancelled)
	}
	code := newCode()
	for _, taken := r.byCode[code]; taken; _, taken = r.byCode[code] {
		code = newCode()
	}
	m := &Match{
		Code:           code,
		OnChainAddress: onChainAddress,
		HostWallet:     hostWallet,
		HostConnID:     hostConnID,
		HostRank:       hostRank,
		StakeTier:      stakeTier,
		JoinDeadline:   joinDeadline,
		Status:         StatusWaiting,
		CreatedAt:      time.Now(),
	}
	r.byCode[code] = m
	r.byHost[hostWallet] = code
	r.grace[hostWallet]++
	out := *m
	r.mu.Unlock()

	r.notifyRemoved(replaced)
	obslog.L().Info("hosted_create",
		zap.String("match_code", code),
		zap.String("host", hostWallet),
		zap.Int("stake_tier", stakeTier),
		zap.Time("join_deadline", joinDeadline),
	)
	return out, nil
}

// Join claims a waiting match for guestWallet. The registry record moves to
// matched; room creation is the caller's next step. Errors are distinct so
// the client can say why the code failed.
func (r *Registry) Join(code, guestWallet string) (Match, error) {
	code = NormalizeCode(code)

	r.mu.Lock()
	m, ok := r.byCode[code]
	if !ok {
		r.mu.Unlock()
		return Match{}, ErrNotFound
	}
	if m.Status != StatusWaiting {
		r.mu.Unlock()
		return Match{}, ErrNotJoinable
	}
	if !m.JoinDeadline.IsZero() && time.Now().After(m.JoinDeadline) {
		closed := r.closeLocked(code, StatusExpired)
		r.mu.Unlock()
		r.notifyRemoved(closed)
		return Match{}, ErrExpired
	}
	if m.HostWallet == guestWallet {
		r.mu.Unlock()
		return Match{}, ErrSelfJoin
	}
	closed := r.closeLocked(code, StatusMatched)
	out := *closed
	r.mu.Unlock()

	r.notifyRemoved(closed)
	obslog.L().Info("hosted_join",
		zap.String("match_code", code),
		zap.String("host", out.HostWallet),
		zap.String("guest", guestWallet),
	)
	return out, nil
}

// Cancel withdraws a waiting match. Host only.
func (r *Registry) Cancel(code, wallet string) error {
	code = NormalizeCode(code)

	r.mu.Lock()
	m, ok := r.byCode[code]
	if !ok || m.Status != StatusWaiting {
		r.mu.Unlock()
		if !ok {
			return ErrNotFound
		}
		return ErrNotJoinable
	}
	if m.HostWallet != wallet {
		r.mu.Unlock()
		return ErrNotHost
	}
	closed := r.closeLocked(code, StatusCancelled)
	r.mu.Unlock()

	r.notifyRemoved(closed)
	obslog.L().Info("hosted_cancel", zap.String("match_code", code), zap.String("host", wallet))
	return nil
}

// Search resolves a code without claiming it, distinguishing a code that
// never existed (or already aged out) from one that is simply not joinable
// anymore.
func (r *Registry) Search(code string) (Match, error) {
	code = NormalizeCode(code)
	r.mu.Lock()
	defer r.mu.Unlock()
	m, ok := r.byCode[code]
	if !ok {
		return Match{}, ErrNotFound
	}
	if m.Status != StatusWaiting {
		return *m, ErrNotJoinable
	}
	if !m.JoinDeadline.IsZero() && time.Now().After(m.JoinDeadline) {
		return *m, ErrExpired
	}
	return *m, nil
}

// Waiting lists the open matches for the lobby, oldest first.
func (r *Registry) Waiting() []Match {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Match, 0, len(r.byHost))
	for _, code := range r.byHost {
		if m, ok := r.byCode[code]; ok && m.Status == StatusWaiting {
			out = append(out, *m)
		}
	}
	sortMatches(out)
	return out
}

// RefreshHostConn rebinds the host's connection handle after a reconnect
// and invalidates any pending disconnect grace timer.
func (r *Registry) RefreshHostConn(hostWallet, connID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	code, ok := r.byHost[hostWallet]
	if !ok {
		return
	}
	if m, ok := r.byCode[code]; ok {
		m.HostConnID = connID
	}
	r.grace[hostWallet]++
}

// HandleHostDisconnect starts the host grace window. If the host has not
// reconnected when it fires, their waiting match is cancelled. connID must
// be the handle that went away: a teardown from a socket the host already
// replaced via RefreshHostConn is ignored.
func (r *Registry) HandleHostDisconnect(hostWallet, connID string) {
	r.mu.Lock()
	code, ok := r.byHost[hostWallet]
	if !ok {
		r.mu.Unlock()
		return
	}
	if m, ok := r.byCode[code]; ok {
		if m.HostConnID != connID {
			r.mu.Unlock()
			return // stale teardown, the host is on a newer socket
		}
		m.HostConnID = ""
	}
	r.grace[hostWallet]++
	gen := r.grace[hostWallet]
	r.mu.Unlock()

	obslog.L().Info("hosted_host_grace",
		zap.String("match_code", code),
		zap.String("host", hostWallet),
		zap.Duration("grace", r.hostGrace),
	)
	time.AfterFunc(r.hostGrace, func() { r.hostGraceExpired(hostWallet, gen) })
}

func (r *Registry) hostGraceExpired(hostWallet string, gen int) {
	r.mu.Lock()
	if r.grace[hostWallet] != gen {
		r.mu.Unlock()
		return
	}
	code, ok := r.byHost[hostWallet]
	if !ok {
		r.mu.Unlock()
		return
	}
	closed := r.closeLocked(code, StatusCancelled)
	r.mu.Unlock()

	r.notifyRemoved(closed)
	obslog.L().Info("hosted_host_forfeit", zap.String("match_code", code), zap.String("host", hostWallet))
}

// SweepExpired cancels waiting matches past their join deadline and evicts
// closed records older than the retention window. Run periodically.
func (r *Registry) SweepExpired(now time.Time) int {
	var expired []*Match

	r.mu.Lock()
	for code, m := range r.byCode {
		switch m.Status {
		case StatusWaiting:
			if !m.JoinDeadline.IsZero() && now.After(m.JoinDeadline) {
				expired = append(expired, r.closeLocked(code, StatusExpired))
			}
		default:
			if now.Sub(m.CreatedAt) > r.retention {
				delete(r.byCode, code)
			}
		}
	}
	r.mu.Unlock()

	for _, m := range expired {
		r.notifyRemoved(m)
		obslog.L().Info("hosted_expire", zap.String("match_code", m.Code), zap.String("host", m.HostWallet))
	}
	return len(expired)
}

// closeLocked moves a match out of the waiting set. The record stays in
// byCode until retention eviction so late searches can report what happened.
func (r *Registry) closeLocked(code string, status Status) *Match {
	m, ok := r.byCode[code]
	if !ok {
		return nil
	}
	m.Status = status
	if r.byHost[m.HostWallet] == code {
		delete(r.byHost, m.HostWallet)
	}
	return m
}

func (r *Registry) notifyRemoved(m *Match) {
	if m == nil || r.removed == nil {
		return
	}
	r.removed(*m)
}

func sortMatches(ms []Match) {
	sort.Slice(ms, func(i, j int) bool { return ms[i].CreatedAt.Before(ms[j].CreatedAt) })
}
