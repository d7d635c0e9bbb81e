package gamedto

import "encoding/json"

// Envelope frames every client->server message. Data is decoded into the
// request struct matching Event; unknown events are a caller error.
type Envelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// Client->server event names.
const (
	EvPlayerRegister    = "player:register"
	EvMatchmakingJoin   = "matchmaking:join"
	EvMatchmakingLeave  = "matchmaking:leave"
	EvMatchmakingStatus = "matchmaking:getStatus"
	EvMatchHost         = "match:host"
	EvMatchJoin         = "match:join"
	EvMatchCancel       = "match:cancel"
	EvMatchSearch       = "match:search"
	EvGameJoinRoom      = "game:joinRoom"
	EvGameMakeMove      = "game:makeMove"
	EvGameResign        = "game:resign"
	EvLobbySubscribe    = "lobby:subscribe"
	EvLobbyUnsubscribe  = "lobby:unsubscribe"
)

type RegisterRequest struct {
	WalletAddress string `json:"walletAddress"`
}

type MatchmakingJoinRequest struct {
	StakeTier int `json:"stakeTier"`
}

type HostMatchRequest struct {
	StakeTier           int    `json:"stakeTier"`
	OnChainAddress      string `json:"onChainAddress"`
	JoinDeadlineMinutes int    `json:"joinDeadlineMinutes"`
}

type JoinMatchRequest struct {
	MatchCode   string `json:"matchCode"`
	GuestWallet string `json:"guestWallet"`
}

type CancelMatchRequest struct {
	MatchCode string `json:"matchCode"`
}

type SearchMatchRequest struct {
	MatchCode string `json:"matchCode"`
}

type JoinRoomRequest struct {
	RoomID string `json:"roomId"`
}

type MakeMoveRequest struct {
	RoomID string      `json:"roomId"`
	Move   MovePayload `json:"move"`
}

type MovePayload struct {
	From        string `json:"from"`
	To          string `json:"to"`
	Promotion   string `json:"promotion,omitempty"`
	SANNotation string `json:"sanNotation"`
}

type ResignRequest struct {
	RoomID string `json:"roomId"`
}

// RegisterHostedMatchRequest is the POST /matches body for matches created
// on-chain before the host's socket is up. MatchCode is advisory only: the
// server always issues its own code and echoes the proposed one back.
type RegisterHostedMatchRequest struct {
	MatchCode      string `json:"matchCode,omitempty"`
	OnChainAddress string `json:"onChainAddress"`
	HostWallet     string `json:"hostWallet"`
	StakeTier      int    `json:"stakeTier"`
	JoinDeadline   int64  `json:"joinDeadline"` // unix millis
}
