package engine

import (
	"log"
	"strings"

	"github.com/google/uuid"
	"github.com/promptparty/promptparty/game/vars"
)

// defaultSeed is used when a generation op does not name one. Upstreams are
// required to honor it, which keeps renders reproducible.
const defaultSeed = 42

// exec runs one op against its cursor. It returns true when the cursor may
// advance past the op; a false return leaves the cursor blocked on it.
// Script errors (missing arguments, bad types, unknown kinds) log and
// advance so a buggy script cannot deadlock the session.
func (g *Game) exec(c *cursor, op Op) bool {
	switch op.Kind {
	case "init_state":
		return g.opInitState()
	case "ui":
		return g.opUI(c, op)
	case "random_choice":
		return g.opRandomChoice(c, op)
	case "per_player":
		return g.opPerPlayer(c, op)
	case "wait_var":
		return g.opWaitVar(c, op)
	case "wait_var_all":
		return g.opWaitVarAll(c, op)
	case "txt2img":
		return g.opTxt2Img(c, op)
	case "depth2img":
		return g.opDepth2Img(c, op)
	case "sketch2img":
		return g.opSketch2Img(c, op)
	case "keys_to_list":
		return g.opKeysToList(c, op)
	case "gather_set":
		return g.opGather(c, op, gatherSet)
	case "gather_list":
		return g.opGather(c, op, gatherList)
	case "gather_map_by_player":
		return g.opGather(c, op, gatherMap)
	case "gather_images":
		return g.opGatherImages(c, op)
	case "tally":
		return g.opTally(c, op)
	case "select":
		return g.opSelect(c, op)
	case "copy":
		return g.opCopy(c, op)
	case "delete":
		return g.opDelete(c, op)
	case "make_map":
		return g.opMakeMap(c, op)
	case "pair_players":
		return g.opPairPlayers(c, op)
	case "remap_keys":
		return g.opRemapKeys(c, op)
	case "invert_map":
		return g.opInvertMap(c, op)
	case "compose_maps":
		return g.opComposeMaps(c, op)
	case "our_player_id":
		return g.opOurPlayerID(c, op)
	default:
		g.logOp(op, "unknown op kind")
		return true
	}
}

func (g *Game) logOp(op Op, format string, args ...any) {
	prefix := "game " + g.code + ": op " + op.Kind + ": "
	log.Printf(prefix+format, args...)
}

// strArg reads an argument that names something (a variable, a command) and
// so is not expanded.
func (g *Game) strArg(op Op, name string) (string, bool) {
	v, ok := op.Args[name]
	if !ok || v.Kind() != vars.KindString {
		g.logOp(op, "missing or non-string argument %q", name)
		return "", false
	}
	return v.Str(), true
}

// expandArg reads and expands a value-typed argument.
func (g *Game) expandArg(c *cursor, op Op, name string) (vars.Value, bool) {
	v, ok := op.Args[name]
	if !ok {
		g.logOp(op, "missing argument %q", name)
		return vars.Value{}, false
	}
	return vars.Expand(v, g.scope(c)), true
}

// readVar resolves an argument that names a variable and returns that
// variable's value. A lookup miss is logged: ops that take names require
// presence.
func (g *Game) readVar(c *cursor, op Op, argName string) (vars.Value, bool) {
	name, ok := g.strArg(op, argName)
	if !ok {
		return vars.Value{}, false
	}
	v, ok := g.scope(c).Get(name)
	if !ok {
		g.logOp(op, "variable %q not set", name)
		return vars.Value{}, false
	}
	return v, true
}

// mapArg resolves an argument that is either an inline map or the name of a
// variable holding one.
func (g *Game) mapArg(c *cursor, op Op, argName string) (vars.Value, bool) {
	v, ok := op.Args[argName]
	if !ok {
		g.logOp(op, "missing argument %q", argName)
		return vars.Value{}, false
	}
	if v.Kind() == vars.KindString && strings.HasPrefix(v.Str(), vars.GlobalPrefix) {
		v, ok = g.scope(c).Get(v.Str())
		if !ok {
			g.logOp(op, "variable %q not set", argName)
			return vars.Value{}, false
		}
	}
	if v.Kind() != vars.KindMap {
		g.logOp(op, "argument %q is %s, want map", argName, v.Kind())
		return vars.Value{}, false
	}
	return v, true
}

// writeOut writes an op result to its "out" variable.
func (g *Game) writeOut(c *cursor, op Op, v vars.Value) {
	name, ok := g.strArg(op, "out")
	if !ok {
		return
	}
	if err := g.scope(c).Set(name, v); err != nil {
		g.logOp(op, "writing %q: %v", name, err)
	}
}

func (g *Game) opInitState() bool {
	clear(g.globals)
	for _, c := range g.perPlayer {
		clear(c.locals)
	}
	return true
}

func (g *Game) opUI(c *cursor, op Op) bool {
	ui, ok := op.Args["ui"]
	if !ok || ui.Kind() != vars.KindMap {
		g.logOp(op, "missing or non-map argument \"ui\"")
		return true
	}
	command, ok := ui.Get("command")
	if !ok || command.Kind() != vars.KindString {
		g.logOp(op, "ui command missing")
		return true
	}
	var param vars.Value
	if raw, ok := ui.Get("param"); ok {
		param = vars.Expand(raw, g.scope(c))
	}
	sendToAll := false
	if flag, ok := ui.Get("sendToAll"); ok && flag.Kind() == vars.KindBool {
		sendToAll = flag.Bool()
	}

	if c.hasPlayer && !sendToAll {
		g.sink.SendToPlayer(c.player, command.Str(), param)
	} else {
		g.sink.Broadcast(command.Str(), param)
	}
	return true
}

func (g *Game) opRandomChoice(c *cursor, op Op) bool {
	choices, ok := g.expandArg(c, op, "choices")
	if !ok {
		return true
	}
	items := choices.Items()
	if len(items) == 0 {
		g.logOp(op, "choices is empty or not a list")
		return true
	}
	g.writeOut(c, op, items[g.rng.Intn(len(items))])
	return true
}

func (g *Game) opPerPlayer(c *cursor, op Op) bool {
	if c.hasPlayer {
		g.logOp(op, "per_player inside a per-player block")
		return true
	}
	// Re-entering a per_player block discards every previous local context.
	g.perPlayer = make(map[uuid.UUID]*cursor, len(g.players))
	for _, p := range g.players {
		g.perPlayer[p] = &cursor{
			ops:       op.Sub,
			player:    p,
			hasPlayer: true,
			locals:    make(map[string]vars.Value),
		}
	}
	return true
}

func (g *Game) opWaitVar(c *cursor, op Op) bool {
	name, ok := g.strArg(op, "var")
	if !ok {
		return true
	}
	return g.scope(c).Exists(name)
}

func (g *Game) opWaitVarAll(c *cursor, op Op) bool {
	if c.hasPlayer {
		g.logOp(op, "wait_var_all runs only in the global cursor")
		return true
	}
	name, ok := g.strArg(op, "var")
	if !ok {
		return true
	}
	if !strings.HasPrefix(name, vars.LocalPrefix) {
		g.logOp(op, "var %q must be local", name)
		return true
	}
	for _, p := range g.players {
		pc, ok := g.perPlayer[p]
		if !ok {
			continue
		}
		if _, has := pc.locals[name]; !has {
			return false
		}
	}
	return true
}

func genParamStr(params vars.Value, key string) string {
	v, ok := params.Get(key)
	if !ok {
		return ""
	}
	return v.Printable()
}

func genParamNum(params vars.Value, key string, fallback float64) float64 {
	v, ok := params.Get(key)
	if !ok || v.Kind() != vars.KindNumber {
		return fallback
	}
	return v.Num()
}

func (g *Game) submitGen(c *cursor, op Op, req GenRequest) bool {
	out, ok := g.strArg(op, "out")
	if !ok {
		return true
	}
	req.Player = c.player
	req.OutVar = out
	g.gen.Generate(req)
	return true
}

func (g *Game) opTxt2Img(c *cursor, op Op) bool {
	params, ok := g.expandArg(c, op, "params")
	if !ok || params.Kind() != vars.KindMap {
		g.logOp(op, "params must be a map")
		return true
	}
	return g.submitGen(c, op, GenRequest{
		Kind:           GenTxt2Img,
		Prompt:         genParamStr(params, "prompt"),
		NegativePrompt: genParamStr(params, "negative_prompt"),
		BatchSize:      int(genParamNum(params, "batch_size", 1)),
		Iterations:     int(genParamNum(params, "iterations", 1)),
		Seed:           int64(genParamNum(params, "seed", defaultSeed)),
	})
}

func (g *Game) opDepth2Img(c *cursor, op Op) bool {
	params, ok := g.expandArg(c, op, "params")
	if !ok || params.Kind() != vars.KindMap {
		g.logOp(op, "params must be a map")
		return true
	}
	return g.submitGen(c, op, GenRequest{
		Kind:              GenDepth2Img,
		Prompt:            genParamStr(params, "prompt"),
		NegativePrompt:    genParamStr(params, "negative_prompt"),
		InitImageAsset:    genParamStr(params, "init_image"),
		DenoisingStrength: genParamNum(params, "denoising_strength", 0.75),
		BatchSize:         int(genParamNum(params, "batch_size", 1)),
		Iterations:        int(genParamNum(params, "iterations", 1)),
		Seed:              int64(genParamNum(params, "seed", defaultSeed)),
	})
}

func (g *Game) opSketch2Img(c *cursor, op Op) bool {
	prompt, ok := g.expandArg(c, op, "prompt")
	if !ok {
		return true
	}
	image, ok := g.expandArg(c, op, "image")
	if !ok || image.Kind() != vars.KindString {
		g.logOp(op, "image must resolve to a base64 string")
		return true
	}
	return g.submitGen(c, op, GenRequest{
		Kind:       GenSketch2Img,
		Prompt:     prompt.Printable(),
		Sketch:     image.Str(),
		BatchSize:  1,
		Iterations: 1,
		Seed:       defaultSeed,
	})
}

func (g *Game) opKeysToList(c *cursor, op Op) bool {
	m, ok := g.mapArg(c, op, "map_var")
	if !ok {
		return true
	}
	keys := m.Keys()
	elems := make([]vars.Value, len(keys))
	for i, k := range keys {
		elems[i] = vars.String(k)
	}
	g.writeOut(c, op, vars.ListOf(elems...))
	return true
}

type gatherMode int

const (
	gatherSet gatherMode = iota
	gatherList
	gatherMap
)

// opGather collects the value of a local variable from every per-player
// context that holds it, in session-member iteration order.
func (g *Game) opGather(c *cursor, op Op, mode gatherMode) bool {
	name, ok := g.strArg(op, "each_var")
	if !ok {
		return true
	}
	if !strings.HasPrefix(name, vars.LocalPrefix) {
		g.logOp(op, "each_var %q must be local", name)
		return true
	}

	var elems []vars.Value
	result := vars.EmptyMap()
	for _, p := range g.players {
		pc, ok := g.perPlayer[p]
		if !ok {
			continue
		}
		v, has := pc.locals[name]
		if !has {
			continue
		}
		elems = append(elems, v)
		result.Set(p.String(), v)
	}

	switch mode {
	case gatherSet:
		g.writeOut(c, op, vars.SetOf(elems...))
	case gatherList:
		g.writeOut(c, op, vars.ListOf(elems...))
	case gatherMap:
		g.writeOut(c, op, result)
	}
	return true
}

func (g *Game) opGatherImages(c *cursor, op Op) bool {
	ids, ok := g.readVar(c, op, "ids_var")
	if !ok {
		return true
	}
	result := vars.EmptyMap()
	for _, id := range ids.Items() {
		if id.Kind() != vars.KindString {
			g.logOp(op, "image id %v is not a string", id.Printable())
			continue
		}
		payload, ok := g.images[id.Str()]
		if !ok {
			g.logOp(op, "image %s not in cache", id.Str())
			continue
		}
		result.Set(id.Str(), vars.String(payload))
	}
	g.writeOut(c, op, result)
	return true
}

// opTally counts occurrences and writes the value(s) of maximum
// multiplicity as a list, ties preserved in first-seen order.
func (g *Game) opTally(c *cursor, op Op) bool {
	votes, ok := g.readVar(c, op, "votes_var")
	if !ok {
		return true
	}

	type bucket struct {
		value vars.Value
		count int
	}
	var order []string
	buckets := make(map[string]*bucket)
	for _, v := range votes.Items() {
		key := v.Printable()
		b, seen := buckets[key]
		if !seen {
			b = &bucket{value: v}
			buckets[key] = b
			order = append(order, key)
		}
		b.count++
	}

	best := 0
	for _, b := range buckets {
		if b.count > best {
			best = b.count
		}
	}
	var winners []vars.Value
	for _, key := range order {
		if buckets[key].count == best {
			winners = append(winners, buckets[key].value)
		}
	}
	g.writeOut(c, op, vars.ListOf(winners...))
	return true
}

func (g *Game) opSelect(c *cursor, op Op) bool {
	key, ok := g.readVar(c, op, "key_var")
	if !ok {
		return true
	}
	table, ok := g.mapArg(c, op, "table")
	if !ok {
		return true
	}
	scope := g.scope(c)
	expanded := vars.Expand(key, scope)

	chosen, found := table.Get(expanded.Printable())
	if !found {
		g.logOp(op, "key %q not in table", expanded.Printable())
		if out, ok := g.strArg(op, "out"); ok {
			scope.Delete(out)
		}
		return true
	}
	g.writeOut(c, op, vars.Expand(chosen, scope))
	return true
}

func (g *Game) opCopy(c *cursor, op Op) bool {
	from, ok := g.expandArg(c, op, "from")
	if !ok {
		return true
	}
	g.writeOut(c, op, from)
	return true
}

func (g *Game) opDelete(c *cursor, op Op) bool {
	name, ok := g.strArg(op, "var")
	if !ok {
		return true
	}
	if err := g.scope(c).Delete(name); err != nil {
		g.logOp(op, "deleting %q: %v", name, err)
	}
	return true
}

func (g *Game) opMakeMap(c *cursor, op Op) bool {
	keys, ok := g.expandArg(c, op, "keys")
	if !ok {
		return true
	}
	values, ok := g.expandArg(c, op, "values")
	if !ok {
		return true
	}
	keyItems, valueItems := keys.Items(), values.Items()
	if len(keyItems) != len(valueItems) {
		g.logOp(op, "keys and values differ in length: %d vs %d", len(keyItems), len(valueItems))
		return true
	}
	result := vars.EmptyMap()
	for i, k := range keyItems {
		result.Set(k.Printable(), valueItems[i])
	}
	g.writeOut(c, op, result)
	return true
}

// opPairPlayers writes the deterministic cycle pairing: member i maps to
// member (i+1) mod N.
func (g *Game) opPairPlayers(c *cursor, op Op) bool {
	result := vars.EmptyMap()
	n := len(g.players)
	for i, p := range g.players {
		result.Set(p.String(), vars.String(g.players[(i+1)%n].String()))
	}
	g.writeOut(c, op, result)
	return true
}

func (g *Game) opRemapKeys(c *cursor, op Op) bool {
	m, ok := g.mapArg(c, op, "map_var")
	if !ok {
		return true
	}
	keyMap, ok := g.mapArg(c, op, "key_map")
	if !ok {
		return true
	}
	result := vars.EmptyMap()
	for _, k := range m.Keys() {
		newKey, found := keyMap.Get(k)
		if !found {
			continue
		}
		v, _ := m.Get(k)
		result.Set(newKey.Printable(), v)
	}
	g.writeOut(c, op, result)
	return true
}

func (g *Game) opInvertMap(c *cursor, op Op) bool {
	m, ok := g.mapArg(c, op, "map_var")
	if !ok {
		return true
	}
	result := vars.EmptyMap()
	for _, k := range m.Keys() {
		v, _ := m.Get(k)
		key := v.Printable()
		if _, dup := result.Get(key); dup {
			g.logOp(op, "duplicate value %q, keeping first mapping", key)
			continue
		}
		result.Set(key, vars.String(k))
	}
	g.writeOut(c, op, result)
	return true
}

func (g *Game) opComposeMaps(c *cursor, op Op) bool {
	m1, ok := g.mapArg(c, op, "m1")
	if !ok {
		return true
	}
	m2, ok := g.mapArg(c, op, "m2")
	if !ok {
		return true
	}
	result := vars.EmptyMap()
	for _, k := range m1.Keys() {
		v1, _ := m1.Get(k)
		v2, found := m2.Get(v1.Printable())
		if !found {
			g.logOp(op, "key %q missing from second map", v1.Printable())
			continue
		}
		result.Set(k, v2)
	}
	g.writeOut(c, op, result)
	return true
}

func (g *Game) opOurPlayerID(c *cursor, op Op) bool {
	if !c.hasPlayer {
		g.logOp(op, "our_player_id in global cursor")
		return true
	}
	g.writeOut(c, op, vars.String(c.player.String()))
	return true
}
