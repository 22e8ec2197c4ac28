// Package keyring stores provider API keys encrypted at rest. Values are
// sealed with AES-256-GCM under a key derived from a passphrase via
// PBKDF2-SHA256; the file on disk never sees a plaintext key.
package keyring

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
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"golang.org/x/crypto/pbkdf2"
)

const (
	// FileName is the keyring file inside the data directory.
	FileName = "keys.enc"

	pbkdf2Iterations = 100_000
	saltLength       = 16
	nonceLength      = 12
	keyLength        = 32
)

var (
	// ErrNotFound is returned when no key is stored for a provider.
	ErrNotFound = errors.New("keyring: provider key not found")
	// ErrNoPassphrase is returned when the keyring is used without a
	// passphrase configured.
	ErrNoPassphrase = errors.New("keyring: passphrase is required")
)

// Keyring reads and writes the encrypted key file. Safe for concurrent use.
type Keyring struct {
	path       string
	passphrase string

	mu sync.Mutex
}

// Open prepares a keyring at dir/keys.enc. The file is created lazily on
// the first Set.
func Open(dir, passphrase string) (*Keyring, error) {
	if strings.TrimSpace(dir) == "" {
		return nil, fmt.Errorf("keyring directory is required")
	}
	return &Keyring{
		path:       filepath.Join(dir, FileName),
		passphrase: passphrase,
	}, nil
}

// Set encrypts and stores the API key for a provider, replacing any
// previous value.
func (k *Keyring) Set(provider, apiKey string) error {
	name := normalizeName(provider)
	if name == "" {
		return fmt.Errorf("provider name is required")
	}
	if strings.TrimSpace(apiKey) == "" {
		return fmt.Errorf("api key is required")
	}
	if strings.TrimSpace(k.passphrase) == "" {
		return ErrNoPassphrase
	}

	k.mu.Lock()
	defer k.mu.Unlock()

	entries, err := k.load()
	if err != nil {
		return err
	}

	sealed, err := seal(k.passphrase, apiKey)
	if err != nil {
		return err
	}
	entries[name] = sealed

	return k.save(entries)
}

// Get decrypts the stored API key for a provider.
func (k *Keyring) Get(provider string) (string, error) {
	name := normalizeName(provider)
	if name == "" {
		return "", fmt.Errorf("provider name is required")
	}
	if strings.TrimSpace(k.passphrase) == "" {
		return "", ErrNoPassphrase
	}

	k.mu.Lock()
	defer k.mu.Unlock()

	entries, err := k.load()
	if err != nil {
		return "", err
	}
	sealed, ok := entries[name]
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrNotFound, name)
	}

	return open(k.passphrase, sealed)
}

// List returns the provider names with stored keys, sorted.
func (k *Keyring) List() ([]string, error) {
	k.mu.Lock()
	defer k.mu.Unlock()

	entries, err := k.load()
	if err != nil {
		return nil, err
	}

	names := make([]string, 0, len(entries))
	for name := range entries {
		names = append(names, name)
	}
	sort.Strings(names)
	return names, nil
}

// Delete removes a provider's stored key. Deleting an absent key is an
// ErrNotFound.
func (k *Keyring) Delete(provider string) error {
	name := normalizeName(provider)
	if name == "" {
		return fmt.Errorf("provider name is required")
	}

	k.mu.Lock()
	defer k.mu.Unlock()

	entries, err := k.load()
	if err != nil {
		return err
	}
	if _, ok := entries[name]; !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, name)
	}
	delete(entries, name)

	return k.save(entries)
}

func (k *Keyring) load() (map[string]string, error) {
	data, err := os.ReadFile(k.path)
	if errors.Is(err, os.ErrNotExist) {
		return make(map[string]string), nil
	}
	if err != nil {
		return nil, fmt.Errorf("read keyring: %w", err)
	}

	entries := make(map[string]string)
	if err := json.Unmarshal(data, &entries); err != nil {
		return nil, fmt.Errorf("decode keyring: %w", err)
	}
	return entries, nil
}

func (k *Keyring) save(entries map[string]string) error {
	if err := os.MkdirAll(filepath.Dir(k.path), 0o755); err != nil {
		return fmt.Errorf("create keyring directory: %w", err)
	}

	data, err := json.MarshalIndent(entries, "", "  ")
	if err != nil {
		return fmt.Errorf("encode keyring: %w", err)
	}

	tmp := k.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return fmt.Errorf("write keyring: %w", err)
	}
	if err := os.Rename(tmp, k.path); err != nil {
		return fmt.Errorf("replace keyring: %w", err)
	}
	return nil
}

// seal produces base64(salt || nonce || ciphertext) with a fresh salt and
// nonce per value.
func seal(passphrase, plaintext string) (string, error) {
	salt := make([]byte, saltLength)
	if _, err := rand.Read(salt); err != nil {
		return "", fmt.Errorf("generate salt: %w", err)
	}

	gcm, err := newGCM(passphrase, salt)
	if err != nil {
		return "", err
	}

	nonce := make([]byte, nonceLength)
	if _, err := rand.Read(nonce); err != nil {
		return "", fmt.Errorf("generate nonce: %w", err)
	}

	blob := make([]byte, 0, saltLength+nonceLength+len(plaintext)+gcm.Overhead())
	blob = append(blob, salt...)
	blob = append(blob, nonce...)
	blob = gcm.Seal(blob, nonce, []byte(plaintext), nil)

	return base64.StdEncoding.EncodeToString(blob), nil
}

func open(passphrase, sealed string) (string, error) {
	blob, err := base64.StdEncoding.DecodeString(sealed)
	if err != nil {
		return "", fmt.Errorf("decode key blob: %w", err)
	}
	if len(blob) < saltLength+nonceLength {
		return "", fmt.Errorf("key blob is truncated")
	}

	salt := blob[:saltLength]
	nonce := blob[saltLength : saltLength+nonceLength]
	ciphertext := blob[saltLength+nonceLength:]

	gcm, err := newGCM(passphrase, salt)
	if err != nil {
		return "", err
	}

	plaintext, err := gcm.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return "", fmt.Errorf("decrypt api key (wrong passphrase?): %w", err)
	}
	return string(plaintext), nil
}

func newGCM(passphrase string, salt []byte) (cipher.AEAD, error) {
	key := pbkdf2.Key([]byte(passphrase), salt, pbkdf2Iterations, keyLength, sha256.New)
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("init cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("init gcm: %w", err)
	}
	return gcm, nil
}

func normalizeName(raw string) string {
	return strings.ToLower(strings.TrimSpace(raw))
}
