package session

import (
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/promptparty/promptparty/game/engine"
	"github.com/promptparty/promptparty/imagegen"
	"github.com/promptparty/promptparty/protocol"
)

type fakeConn struct {
	msgs []protocol.Message
}

func (c *fakeConn) Send(msg protocol.Message) {
	c.msgs = append(c.msgs, msg)
}

func (c *fakeConn) last() protocol.Message {
	if len(c.msgs) == 0 {
		return nil
	}
	return c.msgs[len(c.msgs)-1]
}

func (c *fakeConn) count(kind string) int {
	n := 0
	for _, msg := range c.msgs {
		if msg.Kind() == kind {
			n++
		}
	}
	return n
}

type fakeScripts map[string]string

func (f fakeScripts) Load(name string) ([]engine.Op, error) {
	src, ok := f[name]
	if !ok {
		return nil, errors.New("script not found")
	}
	return engine.ParseScript([]byte(src))
}

// chanSubmitter hands submitted requests to the test, which plays the
// dispatcher's role.
type chanSubmitter struct {
	reqs chan *imagegen.Request
}

func newChanSubmitter() *chanSubmitter {
	return &chanSubmitter{reqs: make(chan *imagegen.Request, 8)}
}

func (s *chanSubmitter) Submit(r *imagegen.Request) {
	s.reqs <- r
}

func (s *chanSubmitter) waitRequest(t *testing.T) *imagegen.Request {
	t.Helper()
	select {
	case r := <-s.reqs:
		return r
	case <-time.After(2 * time.Second):
		t.Fatal("no generation request submitted")
		return nil
	}
}

func newTestManager(scripts fakeScripts) (*Manager, *chanSubmitter) {
	sub := newChanSubmitter()
	return NewManager(scripts, sub), sub
}

// host creates a session and returns its code.
func host(t *testing.T, m *Manager, conn *fakeConn, player uuid.UUID) string {
	t.Helper()
	m.HandleMessage(conn, protocol.StartNewGame{PlayerID: player.String()})
	starting, ok := conn.last().(protocol.GameStarting)
	if !ok {
		t.Fatalf("got %T after StartNewGame, want GameStarting", conn.last())
	}
	return starting.SessionCode
}

func TestStartNewGame(t *testing.T) {
	m, _ := newTestManager(nil)
	conn := &fakeConn{}

	code := host(t, m, conn, uuid.New())

	if len(code) != codeLength {
		t.Errorf("got code %q, want %d characters", code, codeLength)
	}
	for _, r := range code {
		if (r < 'A' || r > 'Z') && (r < '0' || r > '9') {
			t.Errorf("code %q contains %q outside the uppercase alphanumeric alphabet", code, r)
		}
	}
	if m.Count() != 1 {
		t.Errorf("got %d sessions, want 1", m.Count())
	}
}

func TestJoinBroadcastsSelectGame(t *testing.T) {
	m, _ := newTestManager(nil)
	hostConn, joinConn := &fakeConn{}, &fakeConn{}

	code := host(t, m, hostConn, uuid.New())
	m.HandleMessage(joinConn, protocol.JoinGame{SessionCode: code, PlayerID: uuid.New().String()})

	for _, conn := range []*fakeConn{hostConn, joinConn} {
		sel, ok := conn.last().(protocol.SelectGame)
		if !ok {
			t.Fatalf("got %T, want SelectGame", conn.last())
		}
		if sel.SessionCode != code {
			t.Errorf("got code %q, want %q", sel.SessionCode, code)
		}
	}
	if m.Count() != 1 {
		t.Errorf("got %d sessions, want 1", m.Count())
	}
}

func TestJoinIsCaseInsensitive(t *testing.T) {
	m, _ := newTestManager(nil)
	hostConn, joinConn := &fakeConn{}, &fakeConn{}

	code := host(t, m, hostConn, uuid.New())
	m.HandleMessage(joinConn, protocol.JoinGame{SessionCode: strings.ToLower(code), PlayerID: uuid.New().String()})

	if _, ok := joinConn.last().(protocol.SelectGame); !ok {
		t.Fatalf("got %T, want SelectGame for lowercased code", joinConn.last())
	}
}

func TestJoinUnknownSession(t *testing.T) {
	m, _ := newTestManager(nil)
	conn := &fakeConn{}

	m.HandleMessage(conn, protocol.JoinGame{SessionCode: "ZZZZ", PlayerID: uuid.New().String()})

	if _, ok := conn.last().(protocol.FailedToJoin); !ok {
		t.Fatalf("got %T, want FailedToJoin", conn.last())
	}
}

func TestJoinAfterGameStartRejected(t *testing.T) {
	m, _ := newTestManager(fakeScripts{
		"blocked": `[{"kind": "wait_var", "var": "@never"}]`,
	})
	c1, c2, c3 := &fakeConn{}, &fakeConn{}, &fakeConn{}

	code := host(t, m, c1, uuid.New())
	m.HandleMessage(c2, protocol.JoinGame{SessionCode: code, PlayerID: uuid.New().String()})
	m.HandleMessage(c1, protocol.ChooseGame{Name: "blocked"})
	m.HandleMessage(c2, protocol.ChooseGame{Name: "blocked"})

	m.HandleMessage(c3, protocol.JoinGame{SessionCode: code, PlayerID: uuid.New().String()})

	failed, ok := c3.last().(protocol.FailedToJoin)
	if !ok {
		t.Fatalf("got %T, want FailedToJoin", c3.last())
	}
	if failed.Reason != ErrGameInProgress.Error() {
		t.Errorf("got reason %q", failed.Reason)
	}
}

func TestSoloSessionCannotStart(t *testing.T) {
	m, _ := newTestManager(fakeScripts{
		"any": `[{"kind": "init_state"}]`,
	})
	conn := &fakeConn{}

	code := host(t, m, conn, uuid.New())
	m.HandleMessage(conn, protocol.ChooseGame{Name: "any"})

	sess, ok := m.lookup(code)
	if !ok {
		t.Fatal("session vanished after a solo vote")
	}
	if sess.Started() {
		t.Error("game started with a single player")
	}
}

func TestVoteStartsPluralityWinner(t *testing.T) {
	m, _ := newTestManager(fakeScripts{
		"popular": `[{"kind": "ui", "ui": {"command": "show_popular", "sendToAll": true}}, {"kind": "wait_var", "var": "@never"}]`,
		"niche":   `[{"kind": "ui", "ui": {"command": "show_niche", "sendToAll": true}}, {"kind": "wait_var", "var": "@never"}]`,
	})
	c1, c2, c3 := &fakeConn{}, &fakeConn{}, &fakeConn{}

	code := host(t, m, c1, uuid.New())
	m.HandleMessage(c2, protocol.JoinGame{SessionCode: code, PlayerID: uuid.New().String()})
	m.HandleMessage(c3, protocol.JoinGame{SessionCode: code, PlayerID: uuid.New().String()})

	m.HandleMessage(c1, protocol.ChooseGame{Name: "popular"})
	m.HandleMessage(c2, protocol.ChooseGame{Name: "niche"})
	m.HandleMessage(c3, protocol.ChooseGame{Name: "popular"})

	for i, conn := range []*fakeConn{c1, c2, c3} {
		ui, ok := conn.last().(protocol.ClientUi)
		if !ok {
			t.Fatalf("conn %d: got %T, want ClientUi", i, conn.last())
		}
		if ui.Command.Command != "show_popular" {
			t.Errorf("conn %d: got command %q, want the plurality winner", i, ui.Command.Command)
		}
	}
}

func TestGameFinishDestroysSession(t *testing.T) {
	m, _ := newTestManager(fakeScripts{
		"instant": `[{"kind": "pair_players", "out": "@pairs"}]`,
	})
	c1, c2 := &fakeConn{}, &fakeConn{}

	code := host(t, m, c1, uuid.New())
	m.HandleMessage(c2, protocol.JoinGame{SessionCode: code, PlayerID: uuid.New().String()})
	m.HandleMessage(c1, protocol.ChooseGame{Name: "instant"})
	m.HandleMessage(c2, protocol.ChooseGame{Name: "instant"})

	for i, conn := range []*fakeConn{c1, c2} {
		back, ok := conn.last().(protocol.ReturnToLobby)
		if !ok {
			t.Fatalf("conn %d: got %T, want ReturnToLobby", i, conn.last())
		}
		if back.InterruptedReason != nil {
			t.Errorf("conn %d: got reason %q for a normal finish", i, *back.InterruptedReason)
		}
	}
	if m.Count() != 0 {
		t.Errorf("got %d sessions after the game finished, want 0", m.Count())
	}
}

func TestLastPlayerLeavingDestroysSession(t *testing.T) {
	m, _ := newTestManager(nil)
	conn := &fakeConn{}

	host(t, m, conn, uuid.New())
	m.HandleMessage(conn, protocol.LeaveGame{})

	if m.Count() != 0 {
		t.Errorf("got %d sessions after the last player left, want 0", m.Count())
	}
}

func TestPreGameLeaveResendsGameStarting(t *testing.T) {
	m, _ := newTestManager(nil)
	hostConn, joinConn := &fakeConn{}, &fakeConn{}

	code := host(t, m, hostConn, uuid.New())
	m.HandleMessage(joinConn, protocol.JoinGame{SessionCode: code, PlayerID: uuid.New().String()})
	m.HandleDisconnect(joinConn)

	starting, ok := hostConn.last().(protocol.GameStarting)
	if !ok {
		t.Fatalf("got %T, want GameStarting resent to the remaining host", hostConn.last())
	}
	if starting.SessionCode != code {
		t.Errorf("got code %q, want %q", starting.SessionCode, code)
	}
	if hostConn.count(protocol.KindGameStarting) != 2 {
		t.Errorf("got %d GameStarting frames, want 2", hostConn.count(protocol.KindGameStarting))
	}
}

func TestMidGameDisconnectConvergesBarrier(t *testing.T) {
	m, _ := newTestManager(fakeScripts{
		"barrier": `[
			{"kind": "per_player", "ops": [{"kind": "wait_var", "var": "@@answer"}]},
			{"kind": "wait_var_all", "var": "@@answer"}
		]`,
	})
	c1, c2 := &fakeConn{}, &fakeConn{}
	p1 := uuid.New()

	code := host(t, m, c1, p1)
	m.HandleMessage(c2, protocol.JoinGame{SessionCode: code, PlayerID: uuid.New().String()})
	m.HandleMessage(c1, protocol.ChooseGame{Name: "barrier"})
	m.HandleMessage(c2, protocol.ChooseGame{Name: "barrier"})

	m.HandleDisconnect(c2)
	if m.Count() != 1 {
		t.Fatal("session destroyed by a mid-game disconnect with players remaining")
	}

	m.HandleMessage(c1, protocol.ClientInput{Inputs: map[string]json.RawMessage{
		"@@answer": json.RawMessage(`"blue"`),
	}})

	if _, ok := c1.last().(protocol.ReturnToLobby); !ok {
		t.Fatalf("got %T, want ReturnToLobby after the barrier converged", c1.last())
	}
	if m.Count() != 0 {
		t.Errorf("got %d sessions, want 0", m.Count())
	}
}

func TestGenerationRoundTrip(t *testing.T) {
	m, sub := newTestManager(fakeScripts{
		"render": `[
			{"kind": "txt2img", "params": {"prompt": "a lighthouse", "batch_size": 2}, "out": "@imgs"},
			{"kind": "wait_var", "var": "@imgs"}
		]`,
	})
	c1, c2 := &fakeConn{}, &fakeConn{}

	code := host(t, m, c1, uuid.New())
	m.HandleMessage(c2, protocol.JoinGame{SessionCode: code, PlayerID: uuid.New().String()})
	m.HandleMessage(c1, protocol.ChooseGame{Name: "render"})
	m.HandleMessage(c2, protocol.ChooseGame{Name: "render"})

	req := sub.waitRequest(t)
	if req.SessionCode != code {
		t.Errorf("got request for session %q, want %q", req.SessionCode, code)
	}
	if req.Kind != imagegen.TextToImage || req.Prompt != "a lighthouse" || req.BatchSize != 2 {
		t.Errorf("got request %+v", req)
	}

	req.Deliver(map[string]string{"id-1": "img1", "id-2": "img2"})

	if _, ok := c1.last().(protocol.ReturnToLobby); !ok {
		t.Fatalf("got %T, want ReturnToLobby after delivery finished the game", c1.last())
	}
	if m.Count() != 0 {
		t.Errorf("got %d sessions, want 0", m.Count())
	}
}

func TestLateDeliveryIsDiscarded(t *testing.T) {
	m, sub := newTestManager(fakeScripts{
		"render": `[
			{"kind": "txt2img", "params": {"prompt": "a lighthouse"}, "out": "@imgs"},
			{"kind": "wait_var", "var": "@imgs"}
		]`,
	})
	c1, c2 := &fakeConn{}, &fakeConn{}

	code := host(t, m, c1, uuid.New())
	m.HandleMessage(c2, protocol.JoinGame{SessionCode: code, PlayerID: uuid.New().String()})
	m.HandleMessage(c1, protocol.ChooseGame{Name: "render"})
	m.HandleMessage(c2, protocol.ChooseGame{Name: "render"})

	req := sub.waitRequest(t)
	m.HandleDisconnect(c1)
	m.HandleDisconnect(c2)
	if m.Count() != 0 {
		t.Fatal("session survived all players disconnecting")
	}

	// Must not panic or resurrect the session.
	req.Deliver(map[string]string{"id-1": "late"})
	if m.Count() != 0 {
		t.Errorf("got %d sessions after a late delivery, want 0", m.Count())
	}
}

func TestCreateRejectedWhenCodesExhausted(t *testing.T) {
	m, _ := newTestManager(nil)
	m.maxSessions = 0
	conn := &fakeConn{}

	m.HandleMessage(conn, protocol.StartNewGame{PlayerID: uuid.New().String()})

	failed, ok := conn.last().(protocol.FailedToJoin)
	if !ok {
		t.Fatalf("got %T, want FailedToJoin", conn.last())
	}
	if failed.Reason != ErrCodesExhausted.Error() {
		t.Errorf("got reason %q", failed.Reason)
	}
}
