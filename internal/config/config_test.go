package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/dmitrijs2005/gokdbx/internal/container"
	"github.com/dmitrijs2005/gokdbx/internal/innerstream"
	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeJSON(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "kdbxctl.json")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestDefault_HeaderOptions(t *testing.T) {
	o, err := Default().HeaderOptions()
	require.NoError(t, err)
	assert.Equal(t, container.DefaultHeaderOptions(), o)
}

func TestLoadJSON_OverlaysPresentKeys(t *testing.T) {
	c := Default()
	path := writeJSON(t, `{"version": 3, "cipher": "twofish", "compression": false}`)
	require.NoError(t, c.LoadJSON(path))

	assert.Equal(t, 3, c.Version)
	assert.Equal(t, "twofish", c.Cipher)
	assert.False(t, c.Compression)
	assert.Equal(t, "argon2id", c.Kdf, "missing keys keep defaults")
	assert.Equal(t, uint64(60000), c.AesRounds)

	o, err := c.HeaderOptions()
	require.NoError(t, err)
	assert.Equal(t, container.Version31, o.Version)
	assert.Equal(t, container.CipherTwofish, o.Cipher)
	assert.Equal(t, container.CompressionNone, o.Compression)
	assert.Equal(t, container.KdfAes, o.Kdf.ID)
	assert.Equal(t, innerstream.Salsa20, o.InnerStream)
}

func TestLoadJSON_Errors(t *testing.T) {
	c := Default()
	require.NoError(t, c.LoadJSON(""))
	require.Error(t, c.LoadJSON(filepath.Join(t.TempDir(), "missing.json")))
	require.Error(t, c.LoadJSON(writeJSON(t, `{"version": "four"}`)))
}

func TestApplyFlags_OnlyChangedFlagsWin(t *testing.T) {
	c := Default()
	require.NoError(t, c.LoadJSON(writeJSON(t, `{"kdf": "aes", "aes_rounds": 1000, "log_level": "warn"}`)))

	fs := pflag.NewFlagSet("test", pflag.ContinueOnError)
	f := BindFlags(fs, Default())
	require.NoError(t, fs.Parse([]string{"--aes-rounds", "5", "--cipher", "chacha20"}))
	c.ApplyFlags(f)

	assert.Equal(t, "aes", c.Kdf)
	assert.Equal(t, uint64(5), c.AesRounds)
	assert.Equal(t, "chacha20", c.Cipher)
	assert.Equal(t, "warn", c.LogLevel)

	o, err := c.HeaderOptions()
	require.NoError(t, err)
	assert.Equal(t, container.KdfSettings{ID: container.KdfAesKdbx4, Rounds: 5}, o.Kdf)
	assert.Equal(t, container.CipherChaCha20, o.Cipher)
}

func TestHeaderOptions_Invalid(t *testing.T) {
	tests := []struct {
		name string
		mod  func(*Config)
	}{
		{"version", func(c *Config) { c.Version = 2 }},
		{"kdf", func(c *Config) { c.Kdf = "scrypt" }},
		{"cipher", func(c *Config) { c.Cipher = "des" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := Default()
			tt.mod(c)
			_, err := c.HeaderOptions()
			require.Error(t, err)
		})
	}
}

func TestHeaderOptions_Argon2(t *testing.T) {
	c := Default()
	c.Argon2Iterations, c.Argon2MemoryMiB, c.Argon2Parallelism = 3, 8, 1
	o, err := c.HeaderOptions()
	require.NoError(t, err)
	assert.Equal(t, container.KdfSettings{ID: container.KdfArgon2id, Iterations: 3, MemoryBytes: 8 << 20, Parallelism: 1}, o.Kdf)
}

func TestHeaderOptions_Argon2d(t *testing.T) {
	c := Default()
	c.Kdf = "argon2d"
	o, err := c.HeaderOptions()
	require.NoError(t, err)
	assert.Equal(t, container.KdfArgon2d, o.Kdf.ID)
	assert.Equal(t, uint64(64<<20), o.Kdf.MemoryBytes)
}
