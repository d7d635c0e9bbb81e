package domain

import "time"

// Color identifies a chess side.
type Color string

const (
	White Color = "white"
	Black Color = "black"
)

// Other returns the opposing color.
func (c Color) Other() Color {
	if c == White {
		return Black
	}
	return White
}

// Winner is the final verdict of a room. Unlike Color it admits a draw.
type Winner string

const (
	WinnerWhite Winner = "white"
	WinnerBlack Winner = "black"
	WinnerDraw  Winner = "draw"
)

// WinnerFor maps a winning color to its verdict.
func WinnerFor(c Color) Winner {
	if c == White {
		return WinnerWhite
	}
	return WinnerBlack
}

// EndReason explains how a room reached its verdict.
type EndReason string

const (
	EndCheckmate   EndReason = "checkmate"
	EndTimeout     EndReason = "timeout"
	EndResignation EndReason = "resignation"
	EndDraw        EndReason = "draw"
	EndDisconnect  EndReason = "disconnect"
)

// RoomStatus is the linear lifecycle of a game room.
type RoomStatus string

const (
	RoomWaiting  RoomStatus = "waiting"
	RoomActive   RoomStatus = "active"
	RoomFinished RoomStatus = "finished"
)

// GameDuration is the per-player session clock budget.
const GameDuration = 10 * time.Minute

// Move is a single move submission as received from a client. Legality and
// the terminal outcome are the rules oracle's verdict, not the client's.
type Move struct {
	From        string `json:"from"`
	To          string `json:"to"`
	Promotion   string `json:"promotion,omitempty"`
	SANNotation string `json:"sanNotation"`
}
