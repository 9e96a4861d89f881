package engine

import (
	"encoding/json"
	"fmt"

	"github.com/promptparty/promptparty/game/vars"
)

// Op kinds form a closed set; anything else is a script error that logs and
// advances at execution time. OpKinds is exported for script validation.
var OpKinds = map[string]bool{
	"init_state":           true,
	"ui":                   true,
	"random_choice":        true,
	"per_player":           true,
	"wait_var":             true,
	"wait_var_all":         true,
	"txt2img":              true,
	"depth2img":            true,
	"sketch2img":           true,
	"keys_to_list":         true,
	"gather_set":           true,
	"gather_list":          true,
	"gather_map_by_player": true,
	"gather_images":        true,
	"tally":                true,
	"select":               true,
	"copy":                 true,
	"delete":               true,
	"make_map":             true,
	"pair_players":         true,
	"remap_keys":           true,
	"invert_map":           true,
	"compose_maps":         true,
	"our_player_id":        true,
}

// Op is one unit of scripted work: a kind tag plus named arguments stored
// verbatim as authored. Argument values are expanded lazily at execution
// time. Sub holds the parsed sub-script of a per_player op.
type Op struct {
	Kind string
	Args map[string]vars.Value
	Sub  []Op
}

// ParseScript parses a JSON array of op objects into an executable script.
// Each object carries a "kind" field; remaining fields become arguments.
func ParseScript(data []byte) ([]Op, error) {
	var raws []json.RawMessage
	if err := json.Unmarshal(data, &raws); err != nil {
		return nil, fmt.Errorf("parsing script: %w", err)
	}
	ops := make([]Op, 0, len(raws))
	for i, raw := range raws {
		op, err := parseOp(raw)
		if err != nil {
			return nil, fmt.Errorf("parsing op %d: %w", i, err)
		}
		ops = append(ops, op)
	}
	return ops, nil
}

func parseOp(raw json.RawMessage) (Op, error) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(raw, &fields); err != nil {
		return Op{}, err
	}

	kindRaw, ok := fields["kind"]
	if !ok {
		return Op{}, fmt.Errorf("op has no kind field")
	}
	var kind string
	if err := json.Unmarshal(kindRaw, &kind); err != nil {
		return Op{}, fmt.Errorf("op kind: %w", err)
	}

	op := Op{Kind: kind, Args: make(map[string]vars.Value)}
	for name, fieldRaw := range fields {
		if name == "kind" {
			continue
		}
		if name == "ops" {
			var subRaws []json.RawMessage
			if err := json.Unmarshal(fieldRaw, &subRaws); err != nil {
				return Op{}, fmt.Errorf("sub-script: %w", err)
			}
			for i, subRaw := range subRaws {
				sub, err := parseOp(subRaw)
				if err != nil {
					return Op{}, fmt.Errorf("sub-op %d: %w", i, err)
				}
				op.Sub = append(op.Sub, sub)
			}
			continue
		}
		var v vars.Value
		if err := v.UnmarshalJSON(fieldRaw); err != nil {
			return Op{}, fmt.Errorf("argument %q: %w", name, err)
		}
		op.Args[name] = v
	}
	return op, nil
}
