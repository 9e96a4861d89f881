package engine

import (
	"log"
	"math/rand"
	"time"

	"github.com/google/uuid"
	"github.com/promptparty/promptparty/game/vars"
)

// UISink receives UI commands the engine emits. Implementations deliver
// them to player connections; calls happen under the owning session's lock,
// in emission order.
type UISink interface {
	SendToPlayer(player uuid.UUID, command string, param vars.Value)
	Broadcast(command string, param vars.Value)
}

// GenKind selects the generation mode of a GenRequest.
type GenKind int

const (
	GenTxt2Img GenKind = iota
	GenDepth2Img
	GenSketch2Img
)

// GenRequest is the engine's view of an image-generation job. The generator
// eventually hands the result back through Game.DeliverImages; the engine
// never blocks on it.
type GenRequest struct {
	Player            uuid.UUID
	OutVar            string
	Kind              GenKind
	Prompt            string
	NegativePrompt    string
	InitImageAsset    string
	Sketch            string
	DenoisingStrength float64
	BatchSize         int
	Iterations        int
	Seed              int64
}

// Generator carries out image-generation requests asynchronously.
type Generator interface {
	Generate(req GenRequest)
}

// cursor is an execution pointer into a script. The global cursor has no
// player and no locals; per-player cursors own one local variable map each.
type cursor struct {
	ops       []Op
	pc        int
	player    uuid.UUID
	hasPlayer bool
	locals    map[string]vars.Value
}

func (c *cursor) finished() bool { return c.pc >= len(c.ops) }

// Game interprets one script for one session: a single global cursor plus
// zero or N per-player cursors, a two-tier variable store, and the per-game
// image cache. All methods must be called under the owning session's lock.
type Game struct {
	code string
	sink UISink
	gen  Generator
	rng  *rand.Rand

	globals   map[string]vars.Value
	global    *cursor
	players   []uuid.UUID
	perPlayer map[uuid.UUID]*cursor
	images    map[string]string
}

// NewGame creates a game over script for the given members, in member
// order. It does not execute anything; call Tick to run the first pass.
func NewGame(code string, script []Op, players []uuid.UUID, sink UISink, gen Generator) *Game {
	return &Game{
		code:      code,
		sink:      sink,
		gen:       gen,
		rng:       rand.New(rand.NewSource(time.Now().UnixNano())),
		globals:   make(map[string]vars.Value),
		global:    &cursor{ops: script},
		players:   append([]uuid.UUID(nil), players...),
		perPlayer: make(map[uuid.UUID]*cursor),
		images:    make(map[string]string),
	}
}

// Finished reports whether the global cursor has run off the end of the
// script. A finished game is terminated by its session.
func (g *Game) Finished() bool { return g.global.finished() }

// Tick runs one work-until-blocked pass. The pass is idempotent: with no
// state change it leaves the world untouched.
func (g *Game) Tick() { g.run() }

// HandleInput writes each entry of a player's input map to the tier its key
// prefix selects, using that player's local context, then runs a pass.
func (g *Game) HandleInput(player uuid.UUID, inputs map[string]vars.Value) {
	scope := g.playerScope(player)
	for key, v := range inputs {
		if err := scope.Set(key, v); err != nil {
			log.Printf("game %s: input %q from player %s: %v", g.code, key, player, err)
		}
	}
	g.run()
}

// DeliverImages folds a finished generation result into the image cache,
// writes the id-to-payload map to the destination variable in the
// originating player's context, and runs a pass.
func (g *Game) DeliverImages(player uuid.UUID, outVar string, images map[string]string) {
	result := vars.EmptyMap()
	for id, payload := range images {
		g.images[id] = payload
		result.Set(id, vars.String(payload))
	}
	scope := g.playerScope(player)
	if err := scope.Set(outVar, result); err != nil {
		log.Printf("game %s: delivering images to %q for player %s: %v", g.code, outVar, player, err)
	}
	g.run()
}

// RemovePlayer drops a departed player's cursor and local context. The next
// pass observes the reduced membership; barriers converge on it.
func (g *Game) RemovePlayer(player uuid.UUID) {
	delete(g.perPlayer, player)
	for i, p := range g.players {
		if p == player {
			g.players = append(g.players[:i], g.players[i+1:]...)
			break
		}
	}
}

// run steps every per-player cursor to its next blocking op, then the
// global cursor, and repeats until a full round makes no progress.
func (g *Game) run() {
	for {
		progress := false
		for _, p := range append([]uuid.UUID(nil), g.players...) {
			if c, ok := g.perPlayer[p]; ok {
				progress = g.step(c) || progress
			}
		}
		progress = g.step(g.global) || progress
		if !progress {
			return
		}
	}
}

// step advances one cursor until it blocks or finishes. It reports whether
// any op executed.
func (g *Game) step(c *cursor) bool {
	moved := false
	for !c.finished() {
		if !g.exec(c, c.ops[c.pc]) {
			break
		}
		c.pc++
		moved = true
	}
	return moved
}

// playerScope builds the scope for writes attributed to a player: their
// local context when they are inside a per-player block, otherwise global
// only.
func (g *Game) playerScope(player uuid.UUID) vars.Scope {
	scope := vars.Scope{Global: g.globals}
	if c, ok := g.perPlayer[player]; ok {
		scope.Local = c.locals
	}
	return scope
}

// scope builds the scope of the executing cursor.
func (g *Game) scope(c *cursor) vars.Scope {
	return vars.Scope{Global: g.globals, Local: c.locals}
}

// setRandSeed pins the RNG for deterministic tests.
func (g *Game) setRandSeed(seed int64) {
	g.rng = rand.New(rand.NewSource(seed))
}
