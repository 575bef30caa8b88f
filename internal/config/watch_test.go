package config

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type reloads struct {
	mu   sync.Mutex
	cfgs []Config
	errs []error
}

func (r *reloads) change(cfg Config) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.cfgs = append(r.cfgs, cfg)
}

func (r *reloads) fail(err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.errs = append(r.errs, err)
}

func (r *reloads) last() (Config, int, int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.cfgs) == 0 {
		return Config{}, 0, len(r.errs)
	}
	return r.cfgs[len(r.cfgs)-1], len(r.cfgs), len(r.errs)
}

func startWatch(t *testing.T, path string) *reloads {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	r := &reloads{}
	done := make(chan error, 1)
	go func() { done <- Watch(ctx, path, 10*time.Millisecond, r.change, r.fail) }()
	t.Cleanup(func() {
		cancel()
		select {
		case err := <-done:
			assert.NoError(t, err)
		case <-time.After(2 * time.Second):
			t.Error("Watch did not return after cancel")
		}
	})
	return r
}

func TestWatch_ReloadsOnWrite(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	require.NoError(t, os.WriteFile(path, []byte("[prompt]\ncompanion_name = \"Léa\"\n"), 0o644))
	r := startWatch(t, path)

	body := []byte("[prompt]\ncompanion_name = \"Marie\"\nlocation = \"Lyon\"\n")
	require.Eventually(t, func() bool {
		// Rewritten on every tick: the watcher may not be registered yet on the first one.
		_ = os.WriteFile(path, body, 0o644)
		cfg, n, _ := r.last()
		return n > 0 && cfg.Prompt.CompanionName == "Marie"
	}, 3*time.Second, 50*time.Millisecond)

	cfg, _, _ := r.last()
	assert.Equal(t, "Lyon", cfg.Prompt.Location)
}

func TestWatch_InvalidFileKeepsWatching(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	r := startWatch(t, path)

	require.Eventually(t, func() bool {
		_ = os.WriteFile(path, []byte("[prompt\ncompanion_name ="), 0o644)
		_, _, errs := r.last()
		return errs > 0
	}, 3*time.Second, 50*time.Millisecond)

	require.Eventually(t, func() bool {
		_ = os.WriteFile(path, []byte("[prompt]\ntimezone = \"Europe/Paris\"\n"), 0o644)
		cfg, n, _ := r.last()
		return n > 0 && cfg.Prompt.TimeZone == "Europe/Paris"
	}, 3*time.Second, 50*time.Millisecond)
}

func TestWatch_IgnoresOtherFiles(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.toml")
	r := startWatch(t, path)

	for i := 0; i < 5; i++ {
		require.NoError(t, os.WriteFile(filepath.Join(dir, "companion.db"), []byte("x"), 0o644))
		time.Sleep(20 * time.Millisecond)
	}
	time.Sleep(100 * time.Millisecond)
	_, n, errs := r.last()
	assert.Zero(t, n)
	assert.Zero(t, errs)
}

func TestWatch_MissingDirectory(t *testing.T) {
	path := filepath.Join(t.TempDir(), "absent", "config.toml")
	err := Watch(context.Background(), path, 0, func(Config) {}, nil)
	assert.Error(t, err)
}
