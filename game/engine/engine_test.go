package engine

import (
	"math/rand"
	"testing"

	"github.com/google/uuid"
	"github.com/promptparty/promptparty/game/vars"
)

type sinkCall struct {
	player  uuid.UUID
	command string
	param   vars.Value
	all     bool
}

type fakeSink struct {
	calls []sinkCall
}

func (s *fakeSink) SendToPlayer(player uuid.UUID, command string, param vars.Value) {
	s.calls = append(s.calls, sinkCall{player: player, command: command, param: param})
}

func (s *fakeSink) Broadcast(command string, param vars.Value) {
	s.calls = append(s.calls, sinkCall{command: command, param: param, all: true})
}

type fakeGen struct {
	reqs []GenRequest
}

func (g *fakeGen) Generate(req GenRequest) {
	g.reqs = append(g.reqs, req)
}

func newTestGame(t *testing.T, script string, players ...uuid.UUID) (*Game, *fakeSink, *fakeGen) {
	t.Helper()
	ops, err := ParseScript([]byte(script))
	if err != nil {
		t.Fatalf("ParseScript() error = %v", err)
	}
	sink := &fakeSink{}
	gen := &fakeGen{}
	g := NewGame("TEST", ops, players, sink, gen)
	g.setRandSeed(1)
	return g, sink, gen
}

func TestThemedDrawingRound(t *testing.T) {
	p1, p2 := uuid.New(), uuid.New()
	g, sink, _ := newTestGame(t, `[
		{"kind": "random_choice", "choices": ["space", "ocean"], "out": "@theme"},
		{"kind": "ui", "ui": {"command": "prompt_drawing", "param": "Draw something about {@theme}", "sendToAll": true}},
		{"kind": "per_player", "ops": [
			{"kind": "wait_var", "var": "@@drawing"},
			{"kind": "copy", "from": "@@drawing", "out": "@@done"}
		]},
		{"kind": "wait_var_all", "var": "@@done"},
		{"kind": "gather_list", "each_var": "@@done", "out": "@drawings"}
	]`, p1, p2)

	g.Tick()

	themes := []string{"space", "ocean"}
	wantTheme := themes[rand.New(rand.NewSource(1)).Intn(2)]
	if len(sink.calls) != 1 {
		t.Fatalf("got %d sink calls, want 1", len(sink.calls))
	}
	call := sink.calls[0]
	if !call.all || call.command != "prompt_drawing" {
		t.Errorf("got call %+v, want broadcast prompt_drawing", call)
	}
	wantParam := "Draw something about " + wantTheme
	if call.param.Str() != wantParam {
		t.Errorf("got param %q, want %q", call.param.Str(), wantParam)
	}
	if g.Finished() {
		t.Fatal("game finished before any player input")
	}

	g.HandleInput(p1, map[string]vars.Value{"@@drawing": vars.String("rocket")})
	if g.Finished() {
		t.Fatal("game finished with one player still pending")
	}
	g.HandleInput(p2, map[string]vars.Value{"@@drawing": vars.String("whale")})

	if !g.Finished() {
		t.Fatal("game not finished after all players submitted")
	}
	want := vars.ListOf(vars.String("rocket"), vars.String("whale"))
	if got := g.globals["@drawings"]; !got.Equal(want) {
		t.Errorf("got @drawings %s, want %s", got.Printable(), want.Printable())
	}
}

func TestBarrierConvergesOnDisconnect(t *testing.T) {
	p1, p2, p3 := uuid.New(), uuid.New(), uuid.New()
	g, _, _ := newTestGame(t, `[
		{"kind": "per_player", "ops": [
			{"kind": "wait_var", "var": "@@vote"}
		]},
		{"kind": "wait_var_all", "var": "@@vote"},
		{"kind": "gather_set", "each_var": "@@vote", "out": "@votes"}
	]`, p1, p2, p3)

	g.Tick()
	g.HandleInput(p1, map[string]vars.Value{"@@vote": vars.String("cats")})
	g.HandleInput(p2, map[string]vars.Value{"@@vote": vars.String("dogs")})
	if g.Finished() {
		t.Fatal("barrier released while a player was still pending")
	}

	g.RemovePlayer(p3)
	g.Tick()

	if !g.Finished() {
		t.Fatal("barrier did not converge on reduced membership")
	}
	want := vars.SetOf(vars.String("cats"), vars.String("dogs"))
	if got := g.globals["@votes"]; !got.Equal(want) {
		t.Errorf("got @votes %s, want %s", got.Printable(), want.Printable())
	}
}

func TestPerPlayerCursorsAdvanceIndependently(t *testing.T) {
	p1, p2 := uuid.New(), uuid.New()
	g, _, _ := newTestGame(t, `[
		{"kind": "per_player", "ops": [
			{"kind": "wait_var", "var": "@@x"},
			{"kind": "copy", "from": "@@x", "out": "@@y"}
		]},
		{"kind": "wait_var_all", "var": "@@y"}
	]`, p1, p2)

	g.Tick()
	g.HandleInput(p1, map[string]vars.Value{"@@x": vars.String("one")})

	if _, ok := g.perPlayer[p1].locals["@@y"]; !ok {
		t.Error("player 1 cursor did not advance after its own input")
	}
	if _, ok := g.perPlayer[p2].locals["@@y"]; ok {
		t.Error("player 2 cursor advanced on another player's input")
	}
}

func TestPassIsIdempotent(t *testing.T) {
	g, sink, _ := newTestGame(t, `[
		{"kind": "ui", "ui": {"command": "show_lobby", "sendToAll": true}},
		{"kind": "wait_var", "var": "@never"}
	]`, uuid.New())

	g.Tick()
	g.Tick()
	g.Tick()

	if len(sink.calls) != 1 {
		t.Errorf("got %d sink calls after repeated passes, want 1", len(sink.calls))
	}
}

func TestUIRoutingInsidePerPlayerBlock(t *testing.T) {
	p1, p2 := uuid.New(), uuid.New()
	g, sink, _ := newTestGame(t, `[
		{"kind": "per_player", "ops": [
			{"kind": "our_player_id", "out": "@@me"},
			{"kind": "ui", "ui": {"command": "show_id", "param": "{@@me}"}}
		]}
	]`, p1, p2)

	g.Tick()

	if len(sink.calls) != 2 {
		t.Fatalf("got %d sink calls, want 2", len(sink.calls))
	}
	for _, call := range sink.calls {
		if call.all {
			t.Errorf("per-player ui call %+v was broadcast", call)
		}
		if call.param.Str() != call.player.String() {
			t.Errorf("player %s got param %q", call.player, call.param.Str())
		}
	}
}

func TestUnknownOpLogsAndAdvances(t *testing.T) {
	g, _, _ := newTestGame(t, `[
		{"kind": "frobnicate"},
		{"kind": "copy", "from": "done", "out": "@marker"}
	]`, uuid.New())

	g.Tick()

	if !g.Finished() {
		t.Fatal("unknown op blocked the cursor")
	}
	if got := g.globals["@marker"]; got.Str() != "done" {
		t.Errorf("op after unknown kind did not run, @marker = %q", got.Str())
	}
}

func TestGenerationRequestAndDelivery(t *testing.T) {
	g, _, gen := newTestGame(t, `[
		{"kind": "copy", "from": "dogs", "out": "@theme"},
		{"kind": "txt2img", "params": {"prompt": "a painting of {@theme}", "batch_size": 2, "seed": 7}, "out": "@imgs"},
		{"kind": "wait_var", "var": "@imgs"}
	]`)

	g.Tick()

	if len(gen.reqs) != 1 {
		t.Fatalf("got %d generation requests, want 1", len(gen.reqs))
	}
	req := gen.reqs[0]
	if req.Kind != GenTxt2Img {
		t.Errorf("got kind %v, want GenTxt2Img", req.Kind)
	}
	if req.Prompt != "a painting of dogs" {
		t.Errorf("got prompt %q, want expanded theme", req.Prompt)
	}
	if req.BatchSize != 2 || req.Seed != 7 || req.Iterations != 1 {
		t.Errorf("got batch=%d seed=%d iters=%d", req.BatchSize, req.Seed, req.Iterations)
	}
	if req.OutVar != "@imgs" {
		t.Errorf("got out var %q, want @imgs", req.OutVar)
	}
	if g.Finished() {
		t.Fatal("cursor passed wait_var before delivery")
	}

	g.DeliverImages(req.Player, req.OutVar, map[string]string{
		"id-1": "payload-1",
		"id-2": "payload-2",
	})

	if !g.Finished() {
		t.Fatal("delivery did not unblock the cursor")
	}
	imgs := g.globals["@imgs"]
	if imgs.Len() != 2 {
		t.Fatalf("got %d delivered images, want 2", imgs.Len())
	}
	if g.images["id-1"] != "payload-1" {
		t.Error("delivered image missing from the game image cache")
	}
}

func TestDepthGenerationCarriesInitImage(t *testing.T) {
	g, _, gen := newTestGame(t, `[
		{"kind": "depth2img", "params": {
			"prompt": "a castle",
			"init_image": "depth/castle.png",
			"denoising_strength": 0.6
		}, "out": "@imgs"}
	]`)

	g.Tick()

	if len(gen.reqs) != 1 {
		t.Fatalf("got %d generation requests, want 1", len(gen.reqs))
	}
	req := gen.reqs[0]
	if req.Kind != GenDepth2Img {
		t.Errorf("got kind %v, want GenDepth2Img", req.Kind)
	}
	if req.InitImageAsset != "depth/castle.png" {
		t.Errorf("got init image %q", req.InitImageAsset)
	}
	if req.DenoisingStrength != 0.6 {
		t.Errorf("got denoising strength %v, want 0.6", req.DenoisingStrength)
	}
}

func TestSketchGenerationUsesResolvedImage(t *testing.T) {
	p1 := uuid.New()
	g, _, gen := newTestGame(t, `[
		{"kind": "per_player", "ops": [
			{"kind": "wait_var", "var": "@@sketch"},
			{"kind": "sketch2img", "prompt": "in the style of {@style}", "image": "@@sketch", "out": "@@imgs"}
		]}
	]`, p1)
	g.globals["@style"] = vars.String("van gogh")

	g.Tick()
	g.HandleInput(p1, map[string]vars.Value{"@@sketch": vars.String("base64sketch")})

	if len(gen.reqs) != 1 {
		t.Fatalf("got %d generation requests, want 1", len(gen.reqs))
	}
	req := gen.reqs[0]
	if req.Kind != GenSketch2Img {
		t.Errorf("got kind %v, want GenSketch2Img", req.Kind)
	}
	if req.Sketch != "base64sketch" {
		t.Errorf("got sketch %q, want the resolved variable", req.Sketch)
	}
	if req.Prompt != "in the style of van gogh" {
		t.Errorf("got prompt %q", req.Prompt)
	}
	if req.Player != p1 {
		t.Errorf("got player %s, want %s", req.Player, p1)
	}
}
