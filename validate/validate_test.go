package main

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func writeScript(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "script.json")
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("Failed to write script: %v", err)
	}
	return path
}

func hasError(result ValidationResult, fragment string) bool {
	for _, err := range result.Errors {
		if strings.Contains(err, fragment) {
			return true
		}
	}
	return false
}

func TestValidateScript_Valid(t *testing.T) {
	path := writeScript(t, `[
		{"kind": "init_state"},
		{"kind": "random_choice", "choices": ["space", "ocean"], "out": "@theme"},
		{"kind": "ui", "ui": {"command": "prompt_drawing", "param": "Draw {@theme}", "sendToAll": true}},
		{"kind": "per_player", "ops": [
			{"kind": "wait_var", "var": "@@drawing"},
			{"kind": "sketch2img", "prompt": "{@theme}", "image": "@@drawing", "out": "@@imgs"}
		]},
		{"kind": "wait_var_all", "var": "@@imgs"},
		{"kind": "gather_map_by_player", "each_var": "@@imgs", "out": "@all"}
	]`)

	result := validateScript(path)
	if !result.Valid {
		t.Errorf("Expected valid script, but got errors: %v", result.Errors)
	}
}

func TestValidateScript_InvalidJSON(t *testing.T) {
	path := writeScript(t, `{"kind": "ui"}`)

	result := validateScript(path)
	if result.Valid {
		t.Error("Expected invalid script for a non-array document")
	}
	if !hasError(result, "Invalid script") {
		t.Errorf("Expected 'Invalid script' error, got %v", result.Errors)
	}
}

func TestValidateScript_UnknownKind(t *testing.T) {
	path := writeScript(t, `[{"kind": "teleport"}]`)

	result := validateScript(path)
	if result.Valid {
		t.Error("Expected invalid script for an unknown op kind")
	}
	if !hasError(result, "unknown kind") {
		t.Errorf("Expected unknown-kind error, got %v", result.Errors)
	}
}

func TestValidateScript_MissingRequiredArgument(t *testing.T) {
	path := writeScript(t, `[{"kind": "tally", "out": "@winners"}]`)

	result := validateScript(path)
	if result.Valid {
		t.Error("Expected invalid script for a tally without votes_var")
	}
	if !hasError(result, `missing required argument "votes_var"`) {
		t.Errorf("Expected missing-argument error, got %v", result.Errors)
	}
}

func TestValidateScript_NestedPerPlayer(t *testing.T) {
	path := writeScript(t, `[
		{"kind": "per_player", "ops": [
			{"kind": "per_player", "ops": [{"kind": "our_player_id", "out": "@@me"}]}
		]}
	]`)

	result := validateScript(path)
	if result.Valid {
		t.Error("Expected invalid script for nested per_player blocks")
	}
	if !hasError(result, "cannot nest") {
		t.Errorf("Expected nesting error, got %v", result.Errors)
	}
}

func TestValidateScript_BarrierNeedsLocalVar(t *testing.T) {
	path := writeScript(t, `[{"kind": "wait_var_all", "var": "@global"}]`)

	result := validateScript(path)
	if result.Valid {
		t.Error("Expected invalid script for a barrier on a global variable")
	}
	if !hasError(result, "@@-prefixed") {
		t.Errorf("Expected prefix error, got %v", result.Errors)
	}
}

func TestValidateScript_MissingFile(t *testing.T) {
	result := validateScript("/non/existent/script.json")
	if result.Valid {
		t.Error("Expected invalid result for a missing file")
	}
}
