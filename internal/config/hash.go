package config

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
)

// fingerprint identifies the effective settings of a Config. Formatting, key
// order and comments in the file do not affect it.
type fingerprint [sha256.Size]byte

func fingerprintOf(cfg *Config) (fingerprint, bool) {
	if cfg == nil {
		return fingerprint{}, false
	}
	b, err := json.Marshal(cfg)
	if err != nil {
		return fingerprint{}, false
	}
	return sha256.Sum256(b), true
}

// short is the first 6 bytes in hex, enough to tell reloads apart in logs.
func (f fingerprint) short() string { return hex.EncodeToString(f[:6]) }
