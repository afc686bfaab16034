package main

import (
	"bytes"
	"context"
	"path/filepath"
	"strings"
	"testing"

	"github.com/always-cache/always-offline/config"
	"github.com/always-cache/always-offline/push"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestKeysCommand(t *testing.T) {
	out := &bytes.Buffer{}
	rootCmd.SetOut(out)
	rootCmd.SetArgs([]string{"keys", "--config", ""})
	require.NoError(t, rootCmd.Execute())

	lines := strings.Split(strings.TrimSpace(out.String()), "\n")
	require.Len(t, lines, 2)
	assert.True(t, strings.HasPrefix(lines[0], "VAPID_PUBLIC="))
	assert.True(t, strings.HasPrefix(lines[1], "VAPID_PRIVATE="))
	assert.Greater(t, len(lines[0]), len("VAPID_PUBLIC="))
}

func TestOpenStore(t *testing.T) {
	dir := t.TempDir()
	stores := map[string]config.Store{
		"memory":  {Provider: config.ProviderMemory},
		"sqlite":  {Provider: config.ProviderSQLite, Path: filepath.Join(dir, "cache.db")},
		"leveldb": {Provider: config.ProviderLevelDB, Path: filepath.Join(dir, "leveldb")},
	}
	for name, s := range stores {
		t.Run(name, func(t *testing.T) {
			store, err := openStore(s)
			require.NoError(t, err)
			defer store.Close()
			assert.NoError(t, store.Open(context.Background(), "pwa-shop-v2-runtime"))
		})
	}
}

func TestOpenRegistry(t *testing.T) {
	registry, closeRegistry, err := openRegistry(config.Store{Provider: config.ProviderSQLite, Path: filepath.Join(t.TempDir(), "subs.db")})
	require.NoError(t, err)
	defer closeRegistry()
	_, ok := registry.(push.SQLiteRegistry)
	assert.True(t, ok)

	registry, _, err = openRegistry(config.Store{Provider: config.ProviderMemory})
	require.NoError(t, err)
	_, ok = registry.(*push.MemRegistry)
	assert.True(t, ok)
}
