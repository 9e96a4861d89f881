package session

import (
	"errors"
	"log"
	"math/rand"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/promptparty/promptparty/game/engine"
	"github.com/promptparty/promptparty/game/vars"
	"github.com/promptparty/promptparty/imagegen"
	"github.com/promptparty/promptparty/protocol"
)

var (
	ErrGameInProgress  = errors.New("game already in progress")
	ErrSessionNotFound = errors.New("session not found")
	ErrCodesExhausted  = errors.New("no session codes available")
)

// minPlayersToStart gates the pre-game vote: a player hosting alone cannot
// start a mini-game.
const minPlayersToStart = 2

// Conn is the send side of a player connection. Send must not block; the
// transport buffers and drops on overflow.
type Conn interface {
	Send(msg protocol.Message)
}

// Player binds a client-chosen id to its connection.
type Player struct {
	ID   uuid.UUID
	Conn Conn
}

// ScriptSource supplies parsed scripts by name.
type ScriptSource interface {
	Load(name string) ([]engine.Op, error)
}

// Submitter accepts generation requests for asynchronous processing.
type Submitter interface {
	Submit(r *imagegen.Request)
}

// resultRouter routes finished generation results back to a live session.
// Results for destroyed sessions are discarded at the router.
type resultRouter interface {
	deliverImages(code string, player uuid.UUID, outVar string, images map[string]string)
}

// Session groups players under one code and hosts at most one running Game.
// All state transitions are serialized by its mutex; methods report
// destruction to the caller, which drops the session from the registry.
type Session struct {
	code    string
	scripts ScriptSource
	submit  Submitter
	router  resultRouter

	mu      sync.Mutex
	order   []uuid.UUID
	members map[uuid.UUID]*Player
	votes   map[uuid.UUID]string
	game    *engine.Game
	rng     *rand.Rand
}

func newSession(code string, scripts ScriptSource, submit Submitter, router resultRouter) *Session {
	return &Session{
		code:    code,
		scripts: scripts,
		submit:  submit,
		router:  router,
		members: make(map[uuid.UUID]*Player),
		votes:   make(map[uuid.UUID]string),
		rng:     rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

// Code returns the session's join code.
func (s *Session) Code() string { return s.code }

// Started reports whether a game is running.
func (s *Session) Started() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.game != nil
}

// Members returns a snapshot of the member ids in join order.
func (s *Session) Members() []uuid.UUID {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]uuid.UUID(nil), s.order...)
}

// AddPlayer admits a player. Admission is closed once a game has started.
// The first member is told its session exists; later joins move everyone to
// the mini-game vote screen.
func (s *Session) AddPlayer(p *Player) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.game != nil {
		return ErrGameInProgress
	}
	if _, exists := s.members[p.ID]; !exists {
		s.order = append(s.order, p.ID)
	}
	s.members[p.ID] = p

	if len(s.members) == 1 {
		p.Conn.Send(protocol.GameStarting{SessionCode: s.code})
	} else {
		s.broadcast(protocol.SelectGame{SessionCode: s.code})
	}
	return nil
}

// RemovePlayer drops a member and reports whether the session is now
// destroyed. Pre-game, the remaining members are moved back a screen;
// mid-game, the engine observes the absence on the next pass.
func (s *Session) RemovePlayer(id uuid.UUID) (destroyed bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.members[id]; !exists {
		return false
	}
	delete(s.members, id)
	delete(s.votes, id)
	for i, p := range s.order {
		if p == id {
			s.order = append(s.order[:i], s.order[i+1:]...)
			break
		}
	}

	if len(s.members) == 0 {
		return true
	}

	if s.game == nil {
		if len(s.members) == 1 {
			// Back to hosting alone.
			for _, p := range s.members {
				p.Conn.Send(protocol.GameStarting{SessionCode: s.code})
			}
		} else {
			s.broadcast(protocol.SelectGame{SessionCode: s.code})
		}
		// The departure may have completed the vote.
		return s.maybeStart()
	}

	s.game.RemovePlayer(id)
	s.game.Tick()
	return s.checkFinished()
}

// Vote records a pre-game mini-game choice and reports whether the session
// ended up destroyed (a started game can finish within the same pass).
func (s *Session) Vote(player uuid.UUID, name string) (destroyed bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.game != nil {
		log.Printf("session %s: vote from %s after game start, ignoring", s.code, player)
		return false
	}
	if _, exists := s.members[player]; !exists {
		return false
	}
	s.votes[player] = name
	return s.maybeStart()
}

// Input routes a player input map into the running game.
func (s *Session) Input(player uuid.UUID, inputs map[string]vars.Value) (destroyed bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.game == nil {
		log.Printf("session %s: input from %s with no game running, ignoring", s.code, player)
		return false
	}
	s.game.HandleInput(player, inputs)
	return s.checkFinished()
}

// DeliverImages feeds a finished generation result into the running game.
func (s *Session) DeliverImages(player uuid.UUID, outVar string, images map[string]string) (destroyed bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.game == nil {
		log.Printf("session %s: image result for %q with no game running, discarding", s.code, outVar)
		return false
	}
	s.game.DeliverImages(player, outVar, images)
	return s.checkFinished()
}

// maybeStart starts the plurality-winning script once every member has
// voted and there are enough players. Caller holds the lock.
func (s *Session) maybeStart() (destroyed bool) {
	if len(s.members) < minPlayersToStart || len(s.votes) != len(s.members) {
		return false
	}

	name := s.pluralityWinner()
	ops, err := s.scripts.Load(name)
	if err != nil {
		log.Printf("session %s: loading script %q: %v", s.code, name, err)
		s.votes = make(map[uuid.UUID]string)
		s.broadcast(protocol.SelectGame{SessionCode: s.code})
		return false
	}

	log.Printf("session %s: starting %q with %d players", s.code, name, len(s.members))
	s.game = engine.NewGame(s.code, ops, s.order, (*uiSink)(s), (*generator)(s))
	s.game.Tick()
	return s.checkFinished()
}

// pluralityWinner tallies the vote map, breaking ties uniformly at random.
// Caller holds the lock.
func (s *Session) pluralityWinner() string {
	counts := make(map[string]int)
	var seen []string
	for _, p := range s.order {
		name, ok := s.votes[p]
		if !ok {
			continue
		}
		if counts[name] == 0 {
			seen = append(seen, name)
		}
		counts[name]++
	}

	best := 0
	for _, n := range counts {
		if n > best {
			best = n
		}
	}
	var winners []string
	for _, name := range seen {
		if counts[name] == best {
			winners = append(winners, name)
		}
	}
	return winners[s.rng.Intn(len(winners))]
}

// checkFinished tears the session down when its game has run to completion.
// Caller holds the lock.
func (s *Session) checkFinished() (destroyed bool) {
	if s.game == nil || !s.game.Finished() {
		return false
	}
	s.finish(nil)
	return true
}

// finish notifies every member and releases the game. Caller holds the lock.
func (s *Session) finish(reason *string) {
	s.broadcast(protocol.ReturnToLobby{InterruptedReason: reason})
	s.game = nil
	s.votes = make(map[uuid.UUID]string)
}

// broadcast sends a frame to every member. Caller holds the lock.
func (s *Session) broadcast(msg protocol.Message) {
	for _, id := range s.order {
		s.members[id].Conn.Send(msg)
	}
}

// uiSink adapts the session for the engine's UI output. The engine only
// runs under the session lock, so these methods access state directly.
type uiSink Session

func (s *uiSink) SendToPlayer(player uuid.UUID, command string, param vars.Value) {
	p, ok := s.members[player]
	if !ok {
		log.Printf("session %s: ui %q for departed player %s", s.code, command, player)
		return
	}
	p.Conn.Send(protocol.ClientUi{Command: protocol.UICommand{Command: command, Param: param}})
}

func (s *uiSink) Broadcast(command string, param vars.Value) {
	msg := protocol.ClientUi{Command: protocol.UICommand{Command: command, Param: param}}
	for _, id := range s.order {
		s.members[id].Conn.Send(msg)
	}
}

// generator adapts the session for the engine's generation output. Results
// re-enter through the router so late deliveries to a destroyed session are
// discarded there. Submission runs on its own goroutine because the engine
// calls Generate under the session lock.
type generator Session

func (s *generator) Generate(req engine.GenRequest) {
	kind := imagegen.TextToImage
	switch req.Kind {
	case engine.GenDepth2Img:
		kind = imagegen.DepthToImage
	case engine.GenSketch2Img:
		kind = imagegen.SketchToImage
	}

	code, player, outVar := s.code, req.Player, req.OutVar
	r := &imagegen.Request{
		SessionCode:       code,
		PlayerID:          player,
		OutVar:            outVar,
		Kind:              kind,
		Prompt:            req.Prompt,
		NegativePrompt:    req.NegativePrompt,
		InitImageAsset:    req.InitImageAsset,
		Sketch:            req.Sketch,
		DenoisingStrength: req.DenoisingStrength,
		BatchSize:         req.BatchSize,
		Iterations:        req.Iterations,
		Seed:              req.Seed,
		Deliver: func(images map[string]string) {
			s.router.deliverImages(code, player, outVar, images)
		},
	}
	go s.submit.Submit(r)
}
