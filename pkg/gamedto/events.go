package gamedto

// Server->client event names.
const (
	EvPlayerRegistered   = "player:registered"
	EvMatchmakingQueued  = "matchmaking:queued"
	EvMatchmakingMatched = "matchmaking:matched"
	EvMatchmakingLeft    = "matchmaking:left"
	EvMatchmakingStat    = "matchmaking:status"
	EvMatchHosted        = "match:hosted"
	EvMatchPlayerJoined  = "match:playerJoined"
	EvMatchJoined        = "match:joined"
	EvMatchJoinError     = "match:joinError"
	EvMatchFound         = "match:found"
	EvLobbyNewMatch      = "lobby:newMatch"
	EvLobbyMatchRemoved  = "lobby:matchRemoved"
	EvLobbyMatches       = "lobby:matches"
	EvGameJoined         = "game:joined"
	EvGameStart          = "game:start"
	EvGameMove           = "game:move"
	EvGameMoveAccepted   = "game:moveAccepted"
	EvGameTimeUpdate     = "game:timeUpdate"
	EvGameEnd            = "game:end"
	EvError              = "error"
)

type RegisteredEvent struct {
	PlayerID    string `json:"playerId"`
	XP          int    `json:"xp"`
	Rank        string `json:"rank"`
	GamesPlayed int    `json:"gamesPlayed"`
	GamesWon    int    `json:"gamesWon"`
}

type QueuedEvent struct {
	StakeTier     int    `json:"stakeTier"`
	SkillTier     string `json:"skillTier"`
	QueuePosition int    `json:"queuePosition"`
}

type MatchedEvent struct {
	RoomID    string `json:"roomId"`
	StakeTier int    `json:"stakeTier"`
	Player1   string `json:"player1"`
	Player2   string `json:"player2"`
}

type QueueStatusEvent struct {
	Depths map[int]int `json:"depths"`
}

type HostedEvent struct {
	MatchCode      string `json:"matchCode"`
	OnChainAddress string `json:"onChainAddress"`
	JoinDeadline   int64  `json:"joinDeadline"` // unix millis
}

// RegisteredMatchEvent is the POST /matches response. RequestedCode echoes
// a client-proposed code that the server-issued MatchCode replaced.
type RegisteredMatchEvent struct {
	HostedEvent
	RequestedCode string `json:"requestedCode,omitempty"`
}

type PlayerJoinedEvent struct {
	MatchCode   string `json:"matchCode"`
	RoomID      string `json:"roomId"`
	GuestWallet string `json:"guestWallet"`
	YourColor   string `json:"yourColor"`
}

type MatchJoinedEvent struct {
	RoomID    string       `json:"roomId"`
	YourColor string       `json:"yourColor"`
	Opponent  OpponentInfo `json:"opponent"`
	StakeTier int          `json:"stakeTier"`
}

type JoinErrorEvent struct {
	Reason string `json:"reason"`
}

type LobbyMatch struct {
	MatchCode      string `json:"matchCode"`
	OnChainAddress string `json:"onChainAddress"`
	HostWallet     string `json:"hostWallet"`
	StakeTier      int    `json:"stakeTier"`
	JoinDeadline   int64  `json:"joinDeadline"` // unix millis
}

type LobbyMatchesEvent struct {
	Matches []LobbyMatch `json:"matches"`
}

type LobbyMatchRemovedEvent struct {
	MatchCode string `json:"matchCode"`
}

type OpponentInfo struct {
	WalletAddress string `json:"walletAddress"`
	Rank          string `json:"rank"`
}

type GameJoinedEvent struct {
	RoomID           string       `json:"roomId"`
	YourColor        string       `json:"yourColor"`
	Opponent         OpponentInfo `json:"opponent"`
	StakeTier        int          `json:"stakeTier"`
	WhiteRemainingMs int64        `json:"whiteRemainingMs"`
	BlackRemainingMs int64        `json:"blackRemainingMs"`
	Turn             string       `json:"turn"`
	Status           string       `json:"status"`
}

type GameStartEvent struct {
	WhiteRemainingMs int64 `json:"whiteRemainingMs"`
	BlackRemainingMs int64 `json:"blackRemainingMs"`
}

type TimeUpdate struct {
	WhiteRemainingMs int64  `json:"whiteRemainingMs"`
	BlackRemainingMs int64  `json:"blackRemainingMs"`
	Turn             string `json:"turn"`
}

type MoveEvent struct {
	Move       MovePayload `json:"move"`
	TimeUpdate TimeUpdate  `json:"timeUpdate"`
}

type MoveAcceptedEvent struct {
	RoomID     string     `json:"roomId"`
	SAN        string     `json:"san"`
	TimeUpdate TimeUpdate `json:"timeUpdate"`
}

type GameEndEvent struct {
	Winner           string `json:"winner"`
	Reason           string `json:"reason"`
	YourColor        string `json:"yourColor"`
	WhiteRemainingMs int64  `json:"whiteRemainingMs"`
	BlackRemainingMs int64  `json:"blackRemainingMs"`
}

type ErrorEvent struct {
	Message string `json:"message"`
}
