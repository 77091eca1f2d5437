// Package config holds the settings of the kdbxctl command.
//
// Sources & precedence
//
//  1. Built-in defaults (see (*Config).LoadDefaults).
//  2. Optional JSON file selected with -c or --config (see (*Config).LoadJSON).
//  3. Command-line flags (see BindFlags and (*Config).ApplyFlags), which
//     override earlier values only when set explicitly.
//
// # JSON schema
//
//	{
//	  "version": 4,
//	  "kdf": "argon2id",
//	  "aes_rounds": 60000,
//	  "argon2_iterations": 2,
//	  "argon2_memory_mib": 64,
//	  "argon2_parallelism": 2,
//	  "cipher": "aes",
//	  "compression": true,
//	  "log_level": "info"
//	}
//
// Fields missing from the file keep their default.
package config
