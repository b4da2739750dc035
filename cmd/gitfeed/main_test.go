package main

import (
	"bytes"
	"context"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/jpalmerr/gitfeed"
)

// syncBuffer is a bytes.Buffer safe for a command writing from another
// goroutine.
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

// executeCmd runs the root command with args and returns captured stdout
// and any error.
func executeCmd(t *testing.T, ctx context.Context, out io.Writer, args ...string) error {
	t.Helper()

	// flag values persist on the package-level commands between runs
	for _, c := range []*cobra.Command{serveCmd, validateCmd, showCmd, watchCmd} {
		c.Flags().VisitAll(func(f *pflag.Flag) {
			_ = f.Value.Set(f.DefValue)
			f.Changed = false
		})
	}

	rootCmd.SetOut(out)
	rootCmd.SetErr(io.Discard)
	rootCmd.SetArgs(args)
	return rootCmd.ExecuteContext(ctx)
}

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var buf bytes.Buffer
	err := executeCmd(t, context.Background(), &buf, args...)
	return buf.String(), err
}

// writeConfig writes a config with cache_dir pointing at a fresh temp dir
// plus any extra YAML lines, returning the config path and cache dir.
func writeConfig(t *testing.T, extra string) (string, string) {
	t.Helper()

	dir := t.TempDir()
	cacheDir := filepath.Join(dir, "cache")
	configPath := filepath.Join(dir, "config.yaml")

	content := "resource: ReactiveX/RxSwift\ncache_dir: " + cacheDir + "\n" + extra
	if err := os.WriteFile(configPath, []byte(content), 0o644); err != nil {
		t.Fatalf("failed to write config file: %v", err)
	}
	return configPath, cacheDir
}

// seedHistory persists events through the backend the config selects.
func seedHistory(t *testing.T, storage gitfeed.Storage, path string, events []gitfeed.Event) {
	t.Helper()

	backend, err := gitfeed.OpenHistory(storage, path)
	if err != nil {
		t.Fatalf("OpenHistory() error = %v", err)
	}
	defer func() { _ = backend.Close() }()

	if err := backend.Save(events); err != nil {
		t.Fatalf("Save() error = %v", err)
	}
}

func testEvents(ids ...string) []gitfeed.Event {
	events := make([]gitfeed.Event, len(ids))
	for i, id := range ids {
		events[i] = gitfeed.Event{
			ID:     id,
			Name:   "user-" + id,
			Repo:   "ReactiveX/RxSwift",
			Action: "PushEvent",
		}
	}
	return events
}

func TestVersion(t *testing.T) {
	output, err := run(t, "version")
	if err != nil {
		t.Fatalf("version command error = %v", err)
	}
	if !strings.Contains(output, "gitfeed dev") {
		t.Errorf("output = %q, want to contain 'gitfeed dev'", output)
	}
	if !strings.Contains(output, "commit: none") {
		t.Errorf("output = %q, want commit line", output)
	}
}

func TestRequiresConfigFlag(t *testing.T) {
	for _, sub := range []string{"serve", "validate", "show", "watch"} {
		t.Run(sub, func(t *testing.T) {
			_, err := run(t, sub)
			if err == nil {
				t.Fatalf("%s without --config expected error, got nil", sub)
			}
			if !strings.Contains(err.Error(), "config") {
				t.Errorf("error = %v, want to mention config", err)
			}
		})
	}
}
