package session

import (
	"crypto/rand"
	"log"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/promptparty/promptparty/game/vars"
	"github.com/promptparty/promptparty/protocol"
)

const (
	codeAlphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"
	codeLength   = 4
)

// binding records which player a connection authenticated as and which
// session it currently belongs to.
type binding struct {
	player uuid.UUID
	code   string
}

// Manager is the session router: it owns the code-to-session registry,
// the connection-to-player bindings, and the dispatch of decoded frames.
type Manager struct {
	scripts ScriptSource
	images  Submitter

	mu          sync.RWMutex
	sessions    map[string]*Session
	conns       map[Conn]*binding
	maxSessions int
}

// NewManager creates a session manager backed by the given script source
// and generation submitter.
func NewManager(scripts ScriptSource, images Submitter) *Manager {
	max := 1
	for i := 0; i < codeLength; i++ {
		max *= len(codeAlphabet)
	}
	return &Manager{
		scripts:     scripts,
		images:      images,
		sessions:    make(map[string]*Session),
		conns:       make(map[Conn]*binding),
		maxSessions: max,
	}
}

// Count returns the number of live sessions.
func (m *Manager) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sessions)
}

// HandleMessage dispatches one decoded frame from a connection. Unknown or
// server-bound kinds are logged and ignored.
func (m *Manager) HandleMessage(conn Conn, msg protocol.Message) {
	switch msg := msg.(type) {
	case protocol.Hello:
		conn.Send(protocol.Hello{Text: "hello"})
	case protocol.StartNewGame:
		m.startNewGame(conn, msg)
	case protocol.JoinGame:
		m.joinGame(conn, msg)
	case protocol.LeaveGame:
		m.leave(conn)
	case protocol.ChooseGame:
		m.chooseGame(conn, msg)
	case protocol.ClientInput:
		m.clientInput(conn, msg)
	default:
		log.Printf("session: unexpected %s frame from client", msg.Kind())
	}
}

// HandleDisconnect removes a closed connection from its session, if any.
func (m *Manager) HandleDisconnect(conn Conn) {
	m.leave(conn)
}

func (m *Manager) startNewGame(conn Conn, msg protocol.StartNewGame) {
	player, err := uuid.Parse(msg.PlayerID)
	if err != nil {
		log.Printf("session: StartNewGame with bad player id %q: %v", msg.PlayerID, err)
		conn.Send(protocol.FailedToJoin{Reason: "invalid player id"})
		return
	}

	// Hosting a new session implicitly leaves the current one.
	m.leave(conn)

	sess, err := m.create()
	if err != nil {
		log.Printf("session: creating session for %s: %v", player, err)
		conn.Send(protocol.FailedToJoin{Reason: err.Error()})
		return
	}

	if err := sess.AddPlayer(&Player{ID: player, Conn: conn}); err != nil {
		conn.Send(protocol.FailedToJoin{Reason: err.Error()})
		return
	}
	m.bind(conn, player, sess.Code())
}

func (m *Manager) joinGame(conn Conn, msg protocol.JoinGame) {
	player, err := uuid.Parse(msg.PlayerID)
	if err != nil {
		log.Printf("session: JoinGame with bad player id %q: %v", msg.PlayerID, err)
		conn.Send(protocol.FailedToJoin{Reason: "invalid player id"})
		return
	}

	code := strings.ToUpper(msg.SessionCode)
	sess, ok := m.lookup(code)
	if !ok {
		conn.Send(protocol.FailedToJoin{Reason: "session " + code + " not found"})
		return
	}

	m.leave(conn)
	if err := sess.AddPlayer(&Player{ID: player, Conn: conn}); err != nil {
		conn.Send(protocol.FailedToJoin{Reason: err.Error()})
		return
	}
	m.bind(conn, player, code)
}

func (m *Manager) chooseGame(conn Conn, msg protocol.ChooseGame) {
	b, sess, ok := m.resolve(conn)
	if !ok {
		log.Printf("session: ChooseGame from unbound connection")
		return
	}
	if sess.Vote(b.player, msg.Name) {
		m.destroy(sess)
	}
}

func (m *Manager) clientInput(conn Conn, msg protocol.ClientInput) {
	b, sess, ok := m.resolve(conn)
	if !ok {
		log.Printf("session: ClientInput from unbound connection")
		return
	}

	inputs := make(map[string]vars.Value, len(msg.Inputs))
	for key, raw := range msg.Inputs {
		var v vars.Value
		if err := v.UnmarshalJSON(raw); err != nil {
			log.Printf("session %s: input %q from %s: %v", b.code, key, b.player, err)
			continue
		}
		inputs[key] = v
	}

	if sess.Input(b.player, inputs) {
		m.destroy(sess)
	}
}

func (m *Manager) leave(conn Conn) {
	b, sess, ok := m.resolve(conn)
	m.mu.Lock()
	delete(m.conns, conn)
	m.mu.Unlock()
	if !ok {
		return
	}
	if sess.RemovePlayer(b.player) {
		m.destroy(sess)
	}
}

// deliverImages routes a finished generation result to its session. Late
// results for destroyed sessions are discarded here.
func (m *Manager) deliverImages(code string, player uuid.UUID, outVar string, images map[string]string) {
	sess, ok := m.lookup(code)
	if !ok {
		log.Printf("session %s: discarding %d late images for %q", code, len(images), outVar)
		return
	}
	if sess.DeliverImages(player, outVar, images) {
		m.destroy(sess)
	}
}

// create allocates a session under a fresh code. Creation is rejected once
// the code space is saturated; collisions below that simply retry.
func (m *Manager) create() (*Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if len(m.sessions) >= m.maxSessions {
		return nil, ErrCodesExhausted
	}
	var code string
	for {
		code = generateCode()
		if _, taken := m.sessions[code]; !taken {
			break
		}
	}

	sess := newSession(code, m.scripts, m.images, m)
	m.sessions[code] = sess
	return sess, nil
}

func (m *Manager) lookup(code string) (*Session, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	sess, ok := m.sessions[code]
	return sess, ok
}

func (m *Manager) bind(conn Conn, player uuid.UUID, code string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.conns[conn] = &binding{player: player, code: code}
}

// resolve looks up a connection's binding and its session.
func (m *Manager) resolve(conn Conn) (*binding, *Session, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	b, ok := m.conns[conn]
	if !ok {
		return nil, nil, false
	}
	sess, ok := m.sessions[b.code]
	if !ok {
		return nil, nil, false
	}
	return b, sess, true
}

// destroy drops a session and every connection binding pointing at it.
func (m *Manager) destroy(sess *Session) {
	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.sessions, sess.Code())
	for conn, b := range m.conns {
		if b.code == sess.Code() {
			delete(m.conns, conn)
		}
	}
}

// generateCode draws a 4-character uppercase alphanumeric code uniformly.
func generateCode() string {
	buf := make([]byte, codeLength)
	rand.Read(buf)
	for i, b := range buf {
		buf[i] = codeAlphabet[int(b)%len(codeAlphabet)]
	}
	return string(buf)
}
