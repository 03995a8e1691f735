// Package security seals data at rest with a passphrase.
package security

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/json"
	"errors"
	"fmt"

	"golang.org/x/crypto/scrypt"
)

const envelopeVersion = 1

// Upper bounds on the cost parameters accepted from an envelope.
const (
	maxScryptN = 1 << 20
	maxScryptR = 32
	maxScryptP = 16
)

// ErrOpenFailed is returned when sealed data cannot be authenticated,
// either because the passphrase is wrong or the data was modified.
var ErrOpenFailed = errors.New("sealed data could not be opened")

// SealConfig holds the key derivation and cipher parameters.
type SealConfig struct {
	ScryptN   int
	ScryptR   int
	ScryptP   int
	KeyLen    int
	SaltSize  int
	NonceSize int
}

// DefaultSealConfig returns scrypt N=32768, r=8, p=1 feeding AES-256-GCM.
func DefaultSealConfig() SealConfig {
	return SealConfig{
		ScryptN:   32768,
		ScryptR:   8,
		ScryptP:   1,
		KeyLen:    32,
		SaltSize:  16,
		NonceSize: 12,
	}
}

// Validate checks the parameters against minimums for AES-256-GCM.
func (c SealConfig) Validate() error {
	if c.ScryptN < 2 || c.ScryptN&(c.ScryptN-1) != 0 {
		return errors.New("scrypt N must be a power of two greater than 1")
	}
	if c.ScryptR < 1 || c.ScryptP < 1 {
		return errors.New("scrypt r and p must be positive")
	}
	if c.KeyLen != 32 {
		return errors.New("key length must be 32 for AES-256")
	}
	if c.SaltSize < 16 {
		return errors.New("salt must be at least 16 bytes")
	}
	if c.NonceSize != 12 {
		return errors.New("nonce size must be 12 for AES-GCM")
	}
	return nil
}

// envelope is the serialized form of sealed data. The scrypt cost is
// recorded so data sealed with other parameters can still be opened.
type envelope struct {
	Version    uint8  `json:"version"`
	N          int    `json:"n"`
	R          int    `json:"r"`
	P          int    `json:"p"`
	Salt       []byte `json:"salt"`
	Nonce      []byte `json:"nonce"`
	Ciphertext []byte `json:"ciphertext"`
}

// Sealer encrypts and authenticates byte slices with a key derived
// from a passphrase. A fresh salt and nonce are drawn for every Seal.
type Sealer struct {
	passphrase []byte
	cfg        SealConfig
}

func NewSealer(passphrase string, cfg SealConfig) (*Sealer, error) {
	if passphrase == "" {
		return nil, errors.New("passphrase cannot be empty")
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid seal config: %w", err)
	}
	return &Sealer{passphrase: []byte(passphrase), cfg: cfg}, nil
}

func (s *Sealer) Seal(plaintext []byte) ([]byte, error) {
	salt := make([]byte, s.cfg.SaltSize)
	if _, err := rand.Read(salt); err != nil {
		return nil, fmt.Errorf("failed to generate salt: %w", err)
	}
	nonce := make([]byte, s.cfg.NonceSize)
	if _, err := rand.Read(nonce); err != nil {
		return nil, fmt.Errorf("failed to generate nonce: %w", err)
	}

	gcm, err := s.aead(salt, s.cfg.ScryptN, s.cfg.ScryptR, s.cfg.ScryptP)
	if err != nil {
		return nil, err
	}

	env := envelope{
		Version:    envelopeVersion,
		N:          s.cfg.ScryptN,
		R:          s.cfg.ScryptR,
		P:          s.cfg.ScryptP,
		Salt:       salt,
		Nonce:      nonce,
		Ciphertext: gcm.Seal(nil, nonce, plaintext, additionalData(envelopeVersion)),
	}
	out, err := json.Marshal(env)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal envelope: %w", err)
	}
	return out, nil
}

func (s *Sealer) Open(sealed []byte) ([]byte, error) {
	var env envelope
	if err := json.Unmarshal(sealed, &env); err != nil {
		return nil, fmt.Errorf("%w: malformed envelope: %v", ErrOpenFailed, err)
	}
	if env.Version != envelopeVersion {
		return nil, fmt.Errorf("%w: unsupported version %d", ErrOpenFailed, env.Version)
	}
	if len(env.Nonce) != s.cfg.NonceSize || len(env.Salt) == 0 {
		return nil, fmt.Errorf("%w: malformed envelope", ErrOpenFailed)
	}
	if env.N > maxScryptN || env.R > maxScryptR || env.P > maxScryptP {
		return nil, fmt.Errorf("%w: key derivation cost out of range", ErrOpenFailed)
	}

	gcm, err := s.aead(env.Salt, env.N, env.R, env.P)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrOpenFailed, err)
	}
	plaintext, err := gcm.Open(nil, env.Nonce, env.Ciphertext, additionalData(env.Version))
	if err != nil {
		return nil, ErrOpenFailed
	}
	return plaintext, nil
}

func (s *Sealer) aead(salt []byte, n, r, p int) (cipher.AEAD, error) {
	key, err := scrypt.Key(s.passphrase, salt, n, r, p, s.cfg.KeyLen)
	if err != nil {
		return nil, fmt.Errorf("key derivation failed: %w", err)
	}
	defer clear(key)

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("failed to create cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("failed to create GCM: %w", err)
	}
	return gcm, nil
}

func additionalData(version uint8) []byte {
	return []byte{'n', 'l', 's', version}
}
