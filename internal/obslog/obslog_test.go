package obslog

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestParseLevel(t *testing.T) {
	cases := map[string]zapcore.Level{
		"debug":   zapcore.DebugLevel,
		" WARN ":  zapcore.WarnLevel,
		"warning": zapcore.WarnLevel,
		"error":   zapcore.ErrorLevel,
		"bogus":   zapcore.InfoLevel,
		"":        zapcore.InfoLevel,
	}
	for in, want := range cases {
		if got := parseLevel(in); got != want {
			t.Fatalf("parseLevel(%q) = %v, want %v", in, got, want)
		}
	}
}

func TestReplaceRestores(t *testing.T) {
	core, logs := observer.New(zapcore.InfoLevel)
	restore := Replace(zap.New(core))
	L().Info("battle_test_event", zap.String("battle_id", "b1"))
	restore()
	L().Info("after_restore")

	if logs.Len() != 1 {
		t.Fatalf("expected 1 entry, got %d", logs.Len())
	}
	if e := logs.All()[0]; e.Message != "battle_test_event" || e.ContextMap()["battle_id"] != "b1" {
		t.Fatalf("unexpected entry: %+v", e)
	}
}

func TestBuildWritesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "battle.log")
	logger, err := Build(Options{Level: "info", Format: "json", ToFile: true, File: path})
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	logger.Info("round_start", zap.Int("round", 1))
	_ = logger.Sync()

	raw, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read log: %v", err)
	}
	if !strings.Contains(string(raw), `"msg":"round_start"`) || !strings.Contains(string(raw), `"round":1`) {
		t.Fatalf("unexpected log content: %s", raw)
	}
}
