package config

import (
	"fmt"
	"strings"

	"github.com/dmitrijs2005/gokdbx/internal/container"
	"github.com/dmitrijs2005/gokdbx/internal/innerstream"
	"github.com/google/uuid"
)

// Config holds the format settings used when kdbxctl writes a new file, and
// the log level.
type Config struct {
	Version           int
	Kdf               string
	AesRounds         uint64
	Argon2Iterations  uint64
	Argon2MemoryMiB   uint64
	Argon2Parallelism uint32
	Cipher            string
	Compression       bool
	LogLevel          string
}

// LoadDefaults populates c with the settings of a fresh KDBX 4 file.
func (c *Config) LoadDefaults() {
	a := container.DefaultArgon2id()
	c.Version = 4
	c.Kdf = "argon2id"
	c.AesRounds = container.DefaultAesKdf().Rounds
	c.Argon2Iterations = a.Iterations
	c.Argon2MemoryMiB = a.MemoryBytes >> 20
	c.Argon2Parallelism = a.Parallelism
	c.Cipher = "aes"
	c.Compression = true
	c.LogLevel = "info"
}

// Default returns a Config with defaults applied.
func Default() *Config {
	c := &Config{}
	c.LoadDefaults()
	return c
}

var ciphers = map[string]uuid.UUID{
	"aes":      container.CipherAES256,
	"twofish":  container.CipherTwofish,
	"chacha20": container.CipherChaCha20,
}

// HeaderOptions converts the settings into container header options.
// KDBX 3 always uses AES-KDF and Salsa20 for protected values.
func (c *Config) HeaderOptions() (container.HeaderOptions, error) {
	o := container.DefaultHeaderOptions()
	id, ok := ciphers[strings.ToLower(c.Cipher)]
	if !ok {
		return o, fmt.Errorf("unknown cipher %q", c.Cipher)
	}
	o.Cipher = id
	o.Compression = container.CompressionNone
	if c.Compression {
		o.Compression = container.CompressionGzip
	}

	aes := container.KdfSettings{ID: container.KdfAes, Rounds: c.AesRounds}
	switch c.Version {
	case 3:
		o.Version = container.Version31
		o.Kdf = aes
		o.InnerStream = innerstream.Salsa20
		return o, nil
	case 4:
		o.Version = container.Version40
	default:
		return o, fmt.Errorf("unsupported version %d", c.Version)
	}

	switch strings.ToLower(c.Kdf) {
	case "aes":
		aes.ID = container.KdfAesKdbx4
		o.Kdf = aes
	case "argon2id", "argon2", "argon2d":
		id := container.KdfArgon2id
		if strings.EqualFold(c.Kdf, "argon2d") {
			id = container.KdfArgon2d
		}
		o.Kdf = container.KdfSettings{
			ID:          id,
			Iterations:  c.Argon2Iterations,
			MemoryBytes: c.Argon2MemoryMiB << 20,
			Parallelism: c.Argon2Parallelism,
		}
	default:
		return o, fmt.Errorf("unknown kdf %q", c.Kdf)
	}
	return o, nil
}
