package logging

import (
	"bytes"
	"errors"
	"testing"

	"app_lifecycle/lifecycle"
)

func TestOutcomeField(t *testing.T) {
	var buf bytes.Buffer
	logger := bufferLogger(t, &buf)

	editor, cache := lifecycle.NewIdentity("editor"), lifecycle.NewIdentity("cache")
	out := lifecycle.Aggregate(lifecycle.PhaseClosing, []lifecycle.HandlerResult{
		{Owner: cache, Status: lifecycle.StatusFailed, Err: errors.New("flush: token=abcdefgh1234")},
		{Owner: editor, Status: lifecycle.StatusVetoed, Reason: "unsaved document"},
	}, lifecycle.StateRunning)

	logger.Info("phase finished", OutcomeField(&out), Phase(out.Phase))

	entry := decodeLine(t, &buf)
	if entry["phase"] != "closing" {
		t.Errorf("phase = %v, want closing", entry["phase"])
	}
	obj, ok := entry["outcome"].(map[string]interface{})
	if !ok {
		t.Fatalf("outcome field missing: %v", entry)
	}
	if obj["verdict"] != "vetoed" {
		t.Errorf("verdict = %v, want vetoed", obj["verdict"])
	}
	if obj["vetoed_by"] != editor.String() {
		t.Errorf("vetoed_by = %v, want %s", obj["vetoed_by"], editor)
	}
	results, _ := obj["results"].([]interface{})
	if len(results) != 2 {
		t.Fatalf("results = %v, want 2 entries", results)
	}
	first := results[0].(map[string]interface{})
	if first["error"] != "flush: [REDACTED]" {
		t.Errorf("error = %v, want redacted", first["error"])
	}
}
