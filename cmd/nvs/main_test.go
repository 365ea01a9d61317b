package main

import (
	"bytes"
	"io"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/KevoDB/tinynvs/pkg/common/log"
	"github.com/KevoDB/tinynvs/pkg/config"
	"github.com/KevoDB/tinynvs/pkg/flash"
	"github.com/KevoDB/tinynvs/pkg/store"
)

// run executes the CLI against the image in dir and returns its stdout
func run(t *testing.T, dir string, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	root := newRootCmd()
	root.SetOut(&out)
	root.SetErr(io.Discard)
	root.SetArgs(append([]string{"--image", filepath.Join(dir, "nvs.img"), "--log-level", "error"}, args...))
	err := root.Execute()
	return out.String(), err
}

func TestCLISetGetDelete(t *testing.T) {
	dir := t.TempDir()

	_, err := run(t, dir, "set", "boot.count", "7")
	require.NoError(t, err)

	out, err := run(t, dir, "get", "boot.count")
	require.NoError(t, err)
	assert.Equal(t, "7\n", out)

	_, err = run(t, dir, "delete", "boot.count")
	require.NoError(t, err)

	_, err = run(t, dir, "get", "boot.count")
	assert.ErrorIs(t, err, store.ErrKeyNotFound)
}

func TestCLIArgumentCount(t *testing.T) {
	_, err := run(t, t.TempDir(), "set", "only-key")
	assert.Error(t, err)
}

func TestCLIRotateAndSectors(t *testing.T) {
	dir := t.TempDir()

	_, err := run(t, dir, "set", "a", "1")
	require.NoError(t, err)

	out, err := run(t, dir, "rotate")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(out, "rotated 0 -> "), out)

	out, err = run(t, dir, "sectors")
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(out), "\n")
	require.Len(t, lines, 5)
	assert.Contains(t, lines[0], "SECTOR")
	assert.Equal(t, 1, strings.Count(out, "*"))
	assert.Contains(t, out, "USED")

	out, err = run(t, dir, "stats")
	require.NoError(t, err)
	assert.Contains(t, out, "seq 2")
	assert.Contains(t, out, "keys: 1")

	out, err = run(t, dir, "wl")
	require.NoError(t, err)
	assert.Equal(t, "wear within threshold\n", out)
}

func TestCLIExportImport(t *testing.T) {
	dir := t.TempDir()
	backup := filepath.Join(dir, "backup.nvsi")

	_, err := run(t, dir, "set", "mode", "safe")
	require.NoError(t, err)

	out, err := run(t, dir, "export", "--codec", "snappy", backup)
	require.NoError(t, err)
	assert.Equal(t, "exported 4 sectors of 4096 bytes (snappy)\n", out)

	_, err = run(t, dir, "set", "mode", "fast")
	require.NoError(t, err)

	_, err = run(t, dir, "import", backup)
	require.NoError(t, err)

	out, err = run(t, dir, "get", "mode")
	require.NoError(t, err)
	assert.Equal(t, "safe\n", out)
}

func TestCLIConfigFile(t *testing.T) {
	dir := t.TempDir()
	cfg := config.NewDefaultConfig()
	cfg.SectorSize = 1024
	cfg.SectorCount = 3
	cfg.MaxValueLen = 256
	path := filepath.Join(dir, "nvs.json")
	require.NoError(t, cfg.SaveConfig(path))

	out, err := run(t, dir, "--config", path, "sectors")
	require.NoError(t, err)
	assert.Len(t, strings.Split(strings.TrimSpace(out), "\n"), 4)

	_, err = run(t, dir, "--config", path, "set", "k", strings.Repeat("v", 257))
	assert.ErrorIs(t, err, store.ErrValueTooLarge)
}

func TestShellExec(t *testing.T) {
	st, err := store.Open(flash.NewMemDevice(4096, 4), config.NewDefaultConfig(), store.WithLogger(log.NewDiscard()))
	require.NoError(t, err)

	var out bytes.Buffer
	sh := &shell{st: st, out: &out}

	assert.False(t, sh.exec("SET greeting hello there"))
	assert.Contains(t, out.String(), "OK")

	out.Reset()
	sh.exec("get greeting")
	assert.Equal(t, "hello there\n", out.String())

	out.Reset()
	sh.exec("SET other x")
	out.Reset()
	sh.exec("KEYS")
	assert.Equal(t, "greeting\nother\n2 keys\n", out.String())

	out.Reset()
	sh.exec("DELETE greeting")
	assert.Equal(t, "OK\n", out.String())

	out.Reset()
	sh.exec("GET greeting")
	assert.Equal(t, "Error: key not found\n", out.String())

	out.Reset()
	sh.exec(".rotate")
	assert.True(t, strings.HasPrefix(out.String(), "Rotated 0 -> "), out.String())

	out.Reset()
	sh.exec("SET")
	assert.Contains(t, out.String(), "requires key and value")

	out.Reset()
	sh.exec("SCAN")
	assert.Equal(t, "Unknown command: SCAN\n", out.String())

	out.Reset()
	sh.exec(".wl")
	assert.Equal(t, "Reclaimed: false\n", out.String())

	assert.False(t, sh.exec(""))
	assert.True(t, sh.exec(".exit"))
}
