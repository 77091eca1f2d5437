package config

import "github.com/spf13/pflag"

// Flags holds the raw values of the format flags. Only flags the user set
// are applied, so JSON values survive unset flags.
type Flags struct {
	fs *pflag.FlagSet
	v  Config
}

// BindFlags registers the format flags on fs with defaults taken from c.
//
//	--format-version int      KDBX major version (3 or 4)
//	--kdf string              argon2id, argon2d or aes
//	--aes-rounds uint         AES-KDF rounds
//	--argon2-iterations uint  Argon2 passes
//	--argon2-memory uint      Argon2 memory in MiB
//	--argon2-parallelism uint Argon2 lanes
//	--cipher string           aes, twofish or chacha20
//	--compress                gzip the payload
//	--log-level string        debug, info, warn or error
func BindFlags(fs *pflag.FlagSet, c *Config) *Flags {
	f := &Flags{fs: fs}
	fs.IntVar(&f.v.Version, "format-version", c.Version, "KDBX major version (3 or 4)")
	fs.StringVar(&f.v.Kdf, "kdf", c.Kdf, "key derivation function: argon2id, argon2d or aes")
	fs.Uint64Var(&f.v.AesRounds, "aes-rounds", c.AesRounds, "AES-KDF rounds")
	fs.Uint64Var(&f.v.Argon2Iterations, "argon2-iterations", c.Argon2Iterations, "Argon2 iterations")
	fs.Uint64Var(&f.v.Argon2MemoryMiB, "argon2-memory", c.Argon2MemoryMiB, "Argon2 memory in MiB")
	fs.Uint32Var(&f.v.Argon2Parallelism, "argon2-parallelism", c.Argon2Parallelism, "Argon2 parallelism")
	fs.StringVar(&f.v.Cipher, "cipher", c.Cipher, "payload cipher: aes, twofish or chacha20")
	fs.BoolVar(&f.v.Compression, "compress", c.Compression, "gzip the payload")
	fs.StringVar(&f.v.LogLevel, "log-level", c.LogLevel, "log level: debug, info, warn or error")
	return f
}

// ApplyFlags copies every explicitly set flag into c.
func (c *Config) ApplyFlags(f *Flags) {
	if f == nil {
		return
	}
	changed := f.fs.Changed
	if changed("format-version") {
		c.Version = f.v.Version
	}
	if changed("kdf") {
		c.Kdf = f.v.Kdf
	}
	if changed("aes-rounds") {
		c.AesRounds = f.v.AesRounds
	}
	if changed("argon2-iterations") {
		c.Argon2Iterations = f.v.Argon2Iterations
	}
	if changed("argon2-memory") {
		c.Argon2MemoryMiB = f.v.Argon2MemoryMiB
	}
	if changed("argon2-parallelism") {
		c.Argon2Parallelism = f.v.Argon2Parallelism
	}
	if changed("cipher") {
		c.Cipher = f.v.Cipher
	}
	if changed("compress") {
		c.Compression = f.v.Compression
	}
	if changed("log-level") {
		c.LogLevel = f.v.LogLevel
	}
}
