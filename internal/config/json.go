package config

import (
	"encoding/json"
	"fmt"
	"os"
)

// JsonConfig is a DTO used exclusively for JSON unmarshalling. Pointer
// fields tell a missing key from a zero value.
type JsonConfig struct {
	Version           *int    `json:"version"`
	Kdf               *string `json:"kdf"`
	AesRounds         *uint64 `json:"aes_rounds"`
	Argon2Iterations  *uint64 `json:"argon2_iterations"`
	Argon2MemoryMiB   *uint64 `json:"argon2_memory_mib"`
	Argon2Parallelism *uint32 `json:"argon2_parallelism"`
	Cipher            *string `json:"cipher"`
	Compression       *bool   `json:"compression"`
	LogLevel          *string `json:"log_level"`
}

// LoadJSON overlays c with the keys present in the JSON file at path.
// An empty path is a no-op.
func (c *Config) LoadJSON(path string) error {
	if path == "" {
		return nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config: %w", err)
	}
	var jc JsonConfig
	if err := json.Unmarshal(data, &jc); err != nil {
		return fmt.Errorf("parse config %s: %w", path, err)
	}
	set(&c.Version, jc.Version)
	set(&c.Kdf, jc.Kdf)
	set(&c.AesRounds, jc.AesRounds)
	set(&c.Argon2Iterations, jc.Argon2Iterations)
	set(&c.Argon2MemoryMiB, jc.Argon2MemoryMiB)
	set(&c.Argon2Parallelism, jc.Argon2Parallelism)
	set(&c.Cipher, jc.Cipher)
	set(&c.Compression, jc.Compression)
	set(&c.LogLevel, jc.LogLevel)
	return nil
}

func set[T any](dst *T, v *T) {
	if v != nil {
		*dst = *v
	}
}
