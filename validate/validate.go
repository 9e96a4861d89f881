// Command validate provides a small CLI that validates mini-game script JSON
// files in the ../scripts directory (or a directory given as the first
// argument). It checks:
//   - JSON structure: a top-level array of op objects, each with a kind
//   - Op kinds against the closed catalog
//   - Required arguments per op kind
//   - Nesting: per_player blocks only at the top level
//   - Barrier and gather variables carry the per-player @@ prefix
package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/promptparty/promptparty/game/engine"
	"github.com/promptparty/promptparty/game/vars"
)

// requiredArgs lists the arguments each op kind must carry. Kinds missing
// from the map need none.
var requiredArgs = map[string][]string{
	"ui":                   {"ui"},
	"random_choice":        {"choices", "out"},
	"per_player":           {},
	"wait_var":             {"var"},
	"wait_var_all":         {"var"},
	"txt2img":              {"params", "out"},
	"depth2img":            {"params", "out"},
	"sketch2img":           {"prompt", "image", "out"},
	"keys_to_list":         {"map_var", "out"},
	"gather_set":           {"each_var", "out"},
	"gather_list":          {"each_var", "out"},
	"gather_map_by_player": {"each_var", "out"},
	"gather_images":        {"ids_var", "out"},
	"tally":                {"votes_var", "out"},
	"select":               {"key_var", "table", "out"},
	"copy":                 {"from", "out"},
	"delete":               {"var"},
	"make_map":             {"keys", "values", "out"},
	"pair_players":         {"out"},
	"remap_keys":           {"map_var", "key_map", "out"},
	"invert_map":           {"map_var", "out"},
	"compose_maps":         {"m1", "m2", "out"},
	"our_player_id":        {"out"},
}

// perPlayerVarArgs names arguments that must reference the per-player tier.
var perPlayerVarArgs = map[string]string{
	"wait_var_all":         "var",
	"gather_set":           "each_var",
	"gather_list":          "each_var",
	"gather_map_by_player": "each_var",
}

// ValidationResult captures the outcome of validating a single file.
// If Valid is true, Errors contains informational messages; otherwise it
// accumulates the validation errors that were found.
type ValidationResult struct {
	File   string
	Valid  bool
	Errors []string
}

func (r *ValidationResult) fail(format string, args ...any) {
	r.Valid = false
	r.Errors = append(r.Errors, fmt.Sprintf(format, args...))
}

// validateScript loads and validates a single script JSON file.
func validateScript(filePath string) ValidationResult {
	result := ValidationResult{
		File:   filepath.Base(filePath),
		Valid:  true,
		Errors: []string{},
	}

	data, err := os.ReadFile(filePath)
	if err != nil {
		result.fail("Failed to read file: %v", err)
		return result
	}

	ops, err := engine.ParseScript(data)
	if err != nil {
		result.fail("Invalid script: %v", err)
		return result
	}

	for i, op := range ops {
		validateOp(&result, op, fmt.Sprintf("op %d", i+1), true)
	}

	if result.Valid {
		result.Errors = append(result.Errors, fmt.Sprintf("✓ %d ops validated", len(ops)))
	}
	return result
}

// validateOp checks one op and recurses into per_player sub-scripts.
func validateOp(result *ValidationResult, op engine.Op, where string, topLevel bool) {
	if !engine.OpKinds[op.Kind] {
		result.fail("%s: unknown kind %q", where, op.Kind)
		return
	}

	for _, name := range requiredArgs[op.Kind] {
		if _, ok := op.Args[name]; !ok {
			result.fail("%s (%s): missing required argument %q", where, op.Kind, name)
		}
	}

	if argName, ok := perPlayerVarArgs[op.Kind]; ok {
		if v, present := op.Args[argName]; present {
			if v.Kind() != vars.KindString || !strings.HasPrefix(v.Str(), vars.LocalPrefix) {
				result.fail("%s (%s): %q must name a @@-prefixed variable", where, op.Kind, argName)
			}
		}
	}

	if op.Kind == "per_player" {
		if !topLevel {
			result.fail("%s: per_player blocks cannot nest", where)
			return
		}
		if len(op.Sub) == 0 {
			result.fail("%s: per_player block has no ops", where)
		}
		for i, sub := range op.Sub {
			validateOp(result, sub, fmt.Sprintf("%s, sub-op %d", where, i+1), false)
		}
	} else if len(op.Sub) > 0 {
		result.fail("%s (%s): only per_player carries a sub-script", where, op.Kind)
	}
}

// main scans the scripts directory for *.json files and validates each one,
// printing a concise report and exiting with non-zero status if any are
// invalid.
func main() {
	scriptDir := "../scripts"
	if len(os.Args) > 1 {
		scriptDir = os.Args[1]
	}

	files, err := filepath.Glob(filepath.Join(scriptDir, "*.json"))
	if err != nil {
		fmt.Printf("Error finding script files: %v\n", err)
		os.Exit(1)
	}

	allValid := true
	for _, file := range files {
		result := validateScript(file)

		fmt.Printf("\n%s %s\n", strings.Repeat("=", 20), result.File)

		if result.Valid {
			fmt.Println("✅ VALID")
			for _, info := range result.Errors {
				fmt.Println("  " + info)
			}
		} else {
			fmt.Println("❌ INVALID")
			allValid = false
			for _, err := range result.Errors {
				if !strings.HasPrefix(err, "✓") {
					fmt.Println("  ❌ " + err)
				}
			}
		}
	}

	fmt.Printf("\n%s\n", strings.Repeat("=", 40))
	if allValid {
		fmt.Println("✅ All scripts are valid!")
	} else {
		fmt.Println("❌ Some scripts have errors")
		os.Exit(1)
	}
}
