// Package credstore encrypts a PocketOption session id (SSID) at rest with
// a password-derived AES-256-GCM key, so the engine never needs to keep the
// raw SSID in a plaintext config file.
package credstore

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"golang.org/x/crypto/pbkdf2"
)

const (
	// pbkdf2Iterations is the OWASP-recommended minimum for HMAC-SHA256.
	pbkdf2Iterations = 480_000
	saltLen          = 16
	aesKeyLen        = 32
	currentVersion   = 1
)

// encryptedSSIDJSON is the on-disk format for an encrypted SSID.
type encryptedSSIDJSON struct {
	Version    int    `json:"version"`
	Salt       string `json:"salt"`
	Nonce      string `json:"nonce"`
	Ciphertext string `json:"ciphertext"`
}

// Config carries the information Load needs to resolve an SSID.
type Config struct {
	// RawSSID, if non-empty, is returned directly (no decryption needed).
	RawSSID string

	// EncryptedSSIDPath is a path to a JSON file produced by Encrypt.
	EncryptedSSIDPath string

	// Password decrypts the file at EncryptedSSIDPath.
	Password string
}

// Encrypt encrypts an SSID with a password using PBKDF2-HMAC-SHA256 key
// derivation and AES-256-GCM authenticated encryption, returning the JSON
// blob suitable for writing to disk.
func Encrypt(ssid string, password string) ([]byte, error) {
	if password == "" {
		return nil, errors.New("credstore: password must not be empty")
	}
	if ssid == "" {
		return nil, errors.New("credstore: ssid must not be empty")
	}

	salt := make([]byte, saltLen)
	if _, err := rand.Read(salt); err != nil {
		return nil, fmt.Errorf("credstore: generating salt: %w", err)
	}

	derivedKey := pbkdf2.Key([]byte(password), salt, pbkdf2Iterations, aesKeyLen, sha256.New)

	block, err := aes.NewCipher(derivedKey)
	if err != nil {
		return nil, fmt.Errorf("credstore: creating cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("credstore: creating GCM: %w", err)
	}

	nonce := make([]byte, gcm.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return nil, fmt.Errorf("credstore: generating nonce: %w", err)
	}

	ciphertext := gcm.Seal(nil, nonce, []byte(ssid), nil)

	out := encryptedSSIDJSON{
		Version:    currentVersion,
		Salt:       base64.StdEncoding.EncodeToString(salt),
		Nonce:      base64.StdEncoding.EncodeToString(nonce),
		Ciphertext: base64.StdEncoding.EncodeToString(ciphertext),
	}
	return json.MarshalIndent(out, "", "  ")
}

// Decrypt decrypts a JSON blob produced by Encrypt, returning the SSID.
func Decrypt(encryptedJSON []byte, password string) (string, error) {
	if password == "" {
		return "", errors.New("credstore: password must not be empty")
	}

	var stored encryptedSSIDJSON
	if err := json.Unmarshal(encryptedJSON, &stored); err != nil {
		return "", fmt.Errorf("credstore: parsing encrypted SSID JSON: %w", err)
	}
	if stored.Version != currentVersion {
		return "", fmt.Errorf("credstore: unsupported version %d", stored.Version)
	}

	salt, err := base64.StdEncoding.DecodeString(stored.Salt)
	if err != nil {
		return "", fmt.Errorf("credstore: decoding salt: %w", err)
	}
	nonce, err := base64.StdEncoding.DecodeString(stored.Nonce)
	if err != nil {
		return "", fmt.Errorf("credstore: decoding nonce: %w", err)
	}
	ciphertext, err := base64.StdEncoding.DecodeString(stored.Ciphertext)
	if err != nil {
		return "", fmt.Errorf("credstore: decoding ciphertext: %w", err)
	}

	derivedKey := pbkdf2.Key([]byte(password), salt, pbkdf2Iterations, aesKeyLen, sha256.New)

	block, err := aes.NewCipher(derivedKey)
	if err != nil {
		return "", fmt.Errorf("credstore: creating cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return "", fmt.Errorf("credstore: creating GCM: %w", err)
	}

	plaintext, err := gcm.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return "", fmt.Errorf("credstore: decryption failed (wrong password?): %w", err)
	}
	return string(plaintext), nil
}

// Load resolves an SSID from the given configuration.
//
// Resolution order:
//  1. RawSSID, if set.
//  2. EncryptedSSIDPath decrypted with Password.
//  3. Otherwise, an error.
func Load(cfg Config) (string, error) {
	if cfg.RawSSID != "" {
		return cfg.RawSSID, nil
	}
	if cfg.EncryptedSSIDPath != "" {
		data, err := os.ReadFile(cfg.EncryptedSSIDPath)
		if err != nil {
			return "", fmt.Errorf("credstore: reading encrypted SSID file: %w", err)
		}
		return Decrypt(data, cfg.Password)
	}
	return "", errors.New("credstore: no SSID source configured (set RawSSID or EncryptedSSIDPath)")
}
