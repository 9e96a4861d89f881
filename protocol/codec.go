package protocol

import (
	"encoding/json"
	"fmt"
	"reflect"
)

// Encode serializes a message into one wire frame: the message's JSON object
// with a "kind" discriminator field injected.
func Encode(msg Message) ([]byte, error) {
	body, err := json.Marshal(msg)
	if err != nil {
		return nil, fmt.Errorf("encoding %s frame: %w", msg.Kind(), err)
	}
	head := fmt.Sprintf(`{"kind":%q`, msg.Kind())
	if len(body) <= 2 {
		return []byte(head + "}"), nil
	}
	return append([]byte(head+","), body[1:]...), nil
}

// Decode parses one wire frame into its concrete message value. Unknown
// kinds and malformed frames are errors; callers log and keep the
// connection.
func Decode(data []byte) (Message, error) {
	var envelope struct {
		Kind string `json:"kind"`
	}
	if err := json.Unmarshal(data, &envelope); err != nil {
		return nil, fmt.Errorf("decoding frame envelope: %w", err)
	}

	var target any
	switch envelope.Kind {
	case KindHello:
		target = &Hello{}
	case KindStartNewGame:
		target = &StartNewGame{}
	case KindGameStarting:
		target = &GameStarting{}
	case KindJoinGame:
		target = &JoinGame{}
	case KindSelectGame:
		target = &SelectGame{}
	case KindFailedToJoin:
		target = &FailedToJoin{}
	case KindLeaveGame:
		target = &LeaveGame{}
	case KindChooseGame:
		target = &ChooseGame{}
	case KindClientUi:
		target = &ClientUi{}
	case KindClientInput:
		target = &ClientInput{}
	case KindReturnToLobby:
		target = &ReturnToLobby{}
	default:
		return nil, fmt.Errorf("unknown frame kind %q", envelope.Kind)
	}

	if err := json.Unmarshal(data, target); err != nil {
		return nil, fmt.Errorf("decoding %s frame: %w", envelope.Kind, err)
	}
	return reflect.ValueOf(target).Elem().Interface().(Message), nil
}
