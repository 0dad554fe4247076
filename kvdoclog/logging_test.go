package kvdoclog_test

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/arthur-debert/kvdoc/kvdoclog"
)

func TestInitCreatesLogFiles(t *testing.T) {
	dir := t.TempDir()

	loggers, err := kvdoclog.Init(kvdoclog.Options{Dir: dir, Level: "info"})
	if err != nil {
		t.Fatalf("init: %v", err)
	}

	loggers.Main.Info("hello")
	loggers.Commits.Info("commit", "ok", true)
	loggers.IndexMaint.Warn("cleanup failed", "collection", "users")

	for _, name := range []string{"kvdoc.log", "kvdoc-commits.log", "kvdoc-index.log"} {
		path := filepath.Join(dir, name)
		info, err := os.Stat(path)
		if err != nil {
			t.Fatalf("expected %s to exist: %v", name, err)
		}
		if info.Size() == 0 {
			t.Fatalf("expected %s to have content", name)
		}
	}
}

func TestInitDefaultsUnknownLevelToWarn(t *testing.T) {
	dir := t.TempDir()
	loggers, err := kvdoclog.Init(kvdoclog.Options{Dir: dir, Level: "not-a-level"})
	if err != nil {
		t.Fatalf("init: %v", err)
	}
	ctx := context.Background()
	if loggers.Main.Enabled(ctx, slog.LevelInfo) {
		t.Fatalf("expected info to be disabled at the default warn level")
	}
	if !loggers.Main.Enabled(ctx, slog.LevelWarn) {
		t.Fatalf("expected warn to be enabled at the default warn level")
	}
}
