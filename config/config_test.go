package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "gram.toml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0600))
	return path
}

func TestFromFile_DefaultsAppliedAndValidated(t *testing.T) {
	path := writeConfig(t, `
[Account]
APIID = 12345
APIHash = "deadbeef"

[[DataCenter]]
ID = 2
Addr = "149.154.167.50:443"

[Proxy]
Addr = "127.0.0.1:1080"
`)
	cfg, err := FromFile(path)
	require.NoError(t, err)
	require.Equal(t, int32(12345), cfg.Account.APIID)
	require.Equal(t, defaultCompressionThreshold, cfg.Debug.CompressionThreshold)
	require.Equal(t, defaultPingIntervalSeconds, cfg.Debug.PingIntervalSeconds)

	dc, ok := cfg.DataCenterByID(2)
	require.True(t, ok)
	require.Equal(t, "149.154.167.50:443", dc.Addr)

	_, ok = cfg.DataCenterByID(4)
	require.False(t, ok)
}

func TestFromFile_RequiresAtLeastOneDataCenter(t *testing.T) {
	path := writeConfig(t, `
[Account]
APIID = 1
APIHash = "x"
`)
	_, err := FromFile(path)
	require.Error(t, err)
}

func TestFromFile_RejectsDuplicateDataCenterIDs(t *testing.T) {
	path := writeConfig(t, `
[[DataCenter]]
ID = 2
Addr = "a:1"

[[DataCenter]]
ID = 2
Addr = "b:2"
`)
	_, err := FromFile(path)
	require.Error(t, err)
}
