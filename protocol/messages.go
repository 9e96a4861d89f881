package protocol

import "encoding/json"

// Frame kind discriminators.
const (
	KindHello         = "Hello"
	KindStartNewGame  = "StartNewGame"
	KindGameStarting  = "GameStarting"
	KindJoinGame      = "JoinGame"
	KindSelectGame    = "SelectGame"
	KindFailedToJoin  = "FailedToJoin"
	KindLeaveGame     = "LeaveGame"
	KindChooseGame    = "ChooseGame"
	KindClientUi      = "ClientUi"
	KindClientInput   = "ClientInput"
	KindReturnToLobby = "ReturnToLobby"
)

// Message is one frame of the tagged-union wire protocol.
type Message interface {
	Kind() string
}

// Hello is a courtesy round-trip on connect; the server replies in kind.
type Hello struct {
	Text string `json:"text"`
}

func (Hello) Kind() string { return KindHello }

// StartNewGame asks the server to create a fresh session hosted by the
// sending player.
type StartNewGame struct {
	PlayerID string `json:"playerId"`
}

func (StartNewGame) Kind() string { return KindStartNewGame }

// GameStarting tells the host its session exists. It may be resent when
// membership shrinks back to the hosting-alone state.
type GameStarting struct {
	SessionCode string `json:"sessionCode"`
}

func (GameStarting) Kind() string { return KindGameStarting }

// JoinGame asks to join an existing session by code.
type JoinGame struct {
	SessionCode string `json:"sessionCode"`
	PlayerID    string `json:"playerId"`
}

func (JoinGame) Kind() string { return KindJoinGame }

// SelectGame is broadcast to all members when the membership changes
// pre-game, moving everyone to the mini-game vote screen.
type SelectGame struct {
	SessionCode string `json:"sessionCode"`
}

func (SelectGame) Kind() string { return KindSelectGame }

// FailedToJoin reports why a JoinGame was rejected.
type FailedToJoin struct {
	Reason string `json:"reason"`
}

func (FailedToJoin) Kind() string { return KindFailedToJoin }

// LeaveGame removes the sender from its current session.
type LeaveGame struct{}

func (LeaveGame) Kind() string { return KindLeaveGame }

// ChooseGame is the pre-game vote for a named mini-game.
type ChooseGame struct {
	Name string `json:"name"`
}

func (ChooseGame) Kind() string { return KindChooseGame }

// UICommand is an opaque instruction for the front end.
type UICommand struct {
	Command string `json:"command"`
	Param   any    `json:"param,omitempty"`
}

// ClientUi carries a UI command from the server to a player.
type ClientUi struct {
	Command UICommand `json:"command"`
}

func (ClientUi) Kind() string { return KindClientUi }

// ClientInput carries player input: a flat map of variable name to value.
// Values stay raw here; the engine parses them into typed script values.
type ClientInput struct {
	Inputs map[string]json.RawMessage `json:"inputs"`
}

func (ClientInput) Kind() string { return KindClientInput }

// ReturnToLobby instructs the UI to return to the lobby. A nil reason means
// normal termination.
type ReturnToLobby struct {
	InterruptedReason *string `json:"interruptedReason,omitempty"`
}

func (ReturnToLobby) Kind() string { return KindReturnToLobby }
