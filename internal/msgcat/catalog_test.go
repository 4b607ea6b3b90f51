package msgcat

import (
    "os"
    "path/filepath"
    "strings"
    "testing"
)

func TestEmbeddedMessagesRender(t *testing.T) {
    c, err := New("")
    if err != nil { t.Fatalf("New: %v", err) }
    for _, k := range []string{"round.started", "round.winner", "voting.opened", "generation.failed", "participant.joined", "battle.finished"} {
        if !c.Has(k) { t.Fatalf("missing key %s", k) }
    }
    got, err := c.Render("round.winner", map[string]any{"Name": "Alice", "Round": 2, "Votes": 1})
    if err != nil { t.Fatalf("Render: %v", err) }
    if got != "Alice wins round 2 with 1 vote!" { t.Fatalf("unexpected text: %q", got) }
}

func TestMissingDataIsError(t *testing.T) {
    c, err := New("")
    if err != nil { t.Fatalf("New: %v", err) }
    if _, err := c.Render("round.started", map[string]any{"Round": 1}); err == nil { t.Fatalf("expected missing key error") }
    if _, err := c.Render("no.such.key", nil); err == nil { t.Fatalf("expected template not found") }
}

func TestOverrideDir(t *testing.T) {
    dir := t.TempDir()
    if err := os.WriteFile(filepath.Join(dir, "a.yaml"), []byte("round:\n  started: \"R{{.Round}}: {{.Topic}}\"\n"), 0o644); err != nil { t.Fatalf("write: %v", err) }
    c, err := New(dir)
    if err != nil { t.Fatalf("New: %v", err) }
    got, err := c.Render("round.started", map[string]any{"Round": 3, "Topic": "Cats"})
    if err != nil { t.Fatalf("Render: %v", err) }
    if got != "R3: Cats" { t.Fatalf("override not applied: %q", got) }
    // untouched keys still come from the embedded file
    if !c.Has("voting.opened") { t.Fatalf("embedded key lost") }
}

func TestDuplicateOverrideKeys(t *testing.T) {
    dir := t.TempDir()
    body := []byte("voting:\n  opened: \"x\"\n")
    if err := os.WriteFile(filepath.Join(dir, "a.yaml"), body, 0o644); err != nil { t.Fatalf("write: %v", err) }
    if err := os.WriteFile(filepath.Join(dir, "b.yml"), body, 0o644); err != nil { t.Fatalf("write: %v", err) }
    _, err := New(dir)
    if err == nil || !strings.Contains(err.Error(), "duplicate override key") { t.Fatalf("expected duplicate error, got %v", err) }
}

func TestNonStringLeafRejected(t *testing.T) {
    if _, err := parseYAMLToFlat([]byte("round:\n  started: 5\n")); err == nil { t.Fatalf("expected error for numeric leaf") }
}
