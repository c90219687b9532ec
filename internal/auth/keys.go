// Package auth provides the demo backend's credential primitives: Argon2id
// password hashes, PASETO access tokens, and opaque refresh tokens.
package auth

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
)

// keyLength is the PASETO v4 local key size.
const keyLength = 32

const keyFileName = "auth.key"

// LoadOrGenerateKey returns the token signing key kept in <dataPath>/auth.key,
// creating it on first use so demo sessions survive restarts.
func LoadOrGenerateKey(dataPath string) ([]byte, error) {
	path := filepath.Join(dataPath, keyFileName)

	key, err := readKeyFile(path)
	if err == nil {
		return key, nil
	}
	if !errors.Is(err, fs.ErrNotExist) {
		return nil, err
	}
	return createKeyFile(dataPath, path)
}

func readKeyFile(path string) ([]byte, error) {
	//#nosec G304 -- path is derived from the configured data path
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	encoded := strings.TrimSpace(string(raw))
	if len(encoded) != hex.EncodedLen(keyLength) {
		return nil, fmt.Errorf("invalid auth key length: expected %d hex chars, got %d",
			hex.EncodedLen(keyLength), len(encoded))
	}
	key, err := hex.DecodeString(encoded)
	if err != nil {
		return nil, fmt.Errorf("invalid auth key format: %w", err)
	}
	return key, nil
}

func createKeyFile(dir, path string) ([]byte, error) {
	key := make([]byte, keyLength)
	if _, err := rand.Read(key); err != nil {
		return nil, fmt.Errorf("generate auth key: %w", err)
	}
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("create data directory: %w", err)
	}
	if err := os.WriteFile(path, []byte(hex.EncodeToString(key)), 0o600); err != nil {
		return nil, fmt.Errorf("write auth key: %w", err)
	}
	return key, nil
}
