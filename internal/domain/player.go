package domain

import "time"

// Player is the directory record for a wallet. The connection handle is
// volatile and replaced on every re-registration; accumulated stats persist.
type Player struct {
	WalletAddress string  `json:"walletAddress"`
	ConnID        string  `json:"-"`
	XP            int     `json:"xp"`
	Rank          Rank    `json:"rank"`
	GamesPlayed   int     `json:"gamesPlayed"`
	GamesWon      int     `json:"gamesWon"`
	SolProfit     float64 `json:"solProfit"`
	TotalWagered  float64 `json:"totalWagered"`
	CurrentRoomID string  `json:"currentRoomId,omitempty"`

	RegisteredAt time.Time `json:"-"`
}

// Rank is a display bucket derived purely from XP.
type Rank string

const (
	RankNovice       Rank = "Novice"
	RankAmateur      Rank = "Amateur"
	RankIntermediate Rank = "Intermediate"
	RankAdvanced     Rank = "Advanced"
	RankExpert       Rank = "Expert"
	RankMaster       Rank = "Master"
)

// XP thresholds for each rank.
const (
	xpAmateur      = 100
	xpIntermediate = 500
	xpAdvanced     = 1500
	xpExpert       = 3000
	xpMaster       = 5000
)

// RankForXP maps accumulated XP to a rank.
func RankForXP(xp int) Rank {
	switch {
	case xp >= xpMaster:
		return RankMaster
	case xp >= xpExpert:
		return RankExpert
	case xp >= xpAdvanced:
		return RankAdvanced
	case xp >= xpIntermediate:
		return RankIntermediate
	case xp >= xpAmateur:
		return RankAmateur
	default:
		return RankNovice
	}
}

// XPGain returns the XP awarded for one finished game. Wins pay more, and
// playing a stronger opponent scales the award.
func XPGain(won bool, opponentRank Rank) int {
	base := 10
	if won {
		base = 50
	}
	mult := 1.0
	switch opponentRank {
	case RankAmateur:
		mult = 1.2
	case RankIntermediate:
		mult = 1.5
	case RankAdvanced:
		mult = 1.8
	case RankExpert:
		mult = 2.0
	case RankMaster:
		mult = 2.5
	}
	return int(float64(base) * mult)
}

// SkillTier is a coarse matchmaking bucket derived from profit history.
type SkillTier string

const (
	SkillNew      SkillTier = "new"
	SkillNegative SkillTier = "negative"
	SkillNeutral  SkillTier = "neutral"
	SkillPositive SkillTier = "positive"
)

// SkillTierFor derives the tier from a player's record: fresh wallets are
// "new" until they finish two games, after that net profit beyond +-0.5 SOL
// splits winning from losing players.
func SkillTierFor(p *Player) SkillTier {
	if p == nil || p.GamesPlayed < 2 {
		return SkillNew
	}
	if p.SolProfit < -0.5 {
		return SkillNegative
	}
	if p.SolProfit > 0.5 {
		return SkillPositive
	}
	return SkillNeutral
}

// skillCompat is symmetric: two clusters, with "new" bridging into the
// non-winning one.
var skillCompat = map[SkillTier][]SkillTier{
	SkillNew:      {SkillNew, SkillNegative},
	SkillNegative: {SkillNegative, SkillNew},
	SkillNeutral:  {SkillNeutral, SkillPositive},
	SkillPositive: {SkillPositive, SkillNeutral},
}

// SkillCompatible reports whether two tiers may be paired.
func SkillCompatible(a, b SkillTier) bool {
	for _, t := range skillCompat[a] {
		if t == b {
			return true
		}
	}
	for _, t := range skillCompat[b] {
		if t == a {
			return true
		}
	}
	return false
}

// StakeAmounts maps stake tier to its SOL wager.
var StakeAmounts = map[int]float64{
	0: 0.5,
	1: 1.0,
	2: 2.5,
	3: 5.0,
}

// MaxStakeTier is the highest valid stake tier.
const MaxStakeTier = 3

// ValidStakeTier reports whether tier is inside the closed enumeration.
func ValidStakeTier(tier int) bool {
	_, ok := StakeAmounts[tier]
	return ok
}

// Platform fee retained from the pot before the winner's payout.
const platformFeeRate = 0.10

// WinnerNet is the advisory net profit for the winning side: own stake
// returned plus the opponent's stake, minus the platform fee on the pot.
// Display-only; real fund movement belongs to the on-chain escrow.
func WinnerNet(stake float64) float64 {
	return stake - 2*stake*platformFeeRate
}

// LoserNet is the advisory net loss for the losing side.
func LoserNet(stake float64) float64 {
	return -stake
}
