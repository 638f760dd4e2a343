// Package crypto provides password-derived encryption for at-rest data.
//
// Keys are derived with PBKDF2-HMAC-SHA256 (100k iterations) and payloads
// are sealed with AES-256-GCM. Every call to Encrypt draws a fresh salt
// and nonce, so encrypting the same plaintext twice never yields the same
// ciphertext.
package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"fmt"

	"golang.org/x/crypto/pbkdf2"

	"github.com/starford/laguz/internal/apperr"
)

const (
	saltSize   = 16 // 128-bit salt, unique per encryption target
	nonceSize  = 12 // 96-bit GCM nonce
	keySize    = 32 // AES-256
	iterations = 100_000
)

// Blob is the only form any record takes once it leaves process memory.
type Blob struct {
	Salt       []byte
	IV         []byte
	Ciphertext []byte // includes the GCM authentication tag
}

// Pack returns the durable representation: base64(salt | iv | ciphertext).
func (b Blob) Pack() []byte {
	raw := make([]byte, 0, len(b.Salt)+len(b.IV)+len(b.Ciphertext))
	raw = append(raw, b.Salt...)
	raw = append(raw, b.IV...)
	raw = append(raw, b.Ciphertext...)
	out := make([]byte, base64.StdEncoding.EncodedLen(len(raw)))
	base64.StdEncoding.Encode(out, raw)
	return out
}

// Unpack parses a packed blob. Structural problems (bad base64, short
// payload) report apperr.ErrCorruptedData.
func Unpack(packed []byte) (Blob, error) {
	raw := make([]byte, base64.StdEncoding.DecodedLen(len(packed)))
	n, err := base64.StdEncoding.Decode(raw, packed)
	if err != nil {
		return Blob{}, fmt.Errorf("crypto: decode blob: %w", apperr.ErrCorruptedData)
	}
	raw = raw[:n]
	// GCM tag is 16 bytes, so a valid blob is at least salt+nonce+tag.
	if len(raw) < saltSize+nonceSize+16 {
		return Blob{}, fmt.Errorf("crypto: blob too short (%d bytes): %w", len(raw), apperr.ErrCorruptedData)
	}
	return Blob{
		Salt:       raw[:saltSize],
		IV:         raw[saltSize : saltSize+nonceSize],
		Ciphertext: raw[saltSize+nonceSize:],
	}, nil
}

// DeriveKey derives a 256-bit key from password and salt.
func DeriveKey(password string, salt []byte) []byte {
	return pbkdf2.Key([]byte(password), salt, iterations, keySize, sha256.New)
}

// Encrypt seals plaintext under a key derived from password. A fresh
// random salt and nonce are drawn per call.
func Encrypt(plaintext []byte, password string) (Blob, error) {
	if len(plaintext) == 0 || password == "" {
		return Blob{}, fmt.Errorf("crypto: empty plaintext or password: %w", apperr.ErrInvalidInput)
	}

	salt := make([]byte, saltSize)
	if _, err := rand.Read(salt); err != nil {
		return Blob{}, fmt.Errorf("crypto: read salt: %w", err)
	}
	nonce := make([]byte, nonceSize)
	if _, err := rand.Read(nonce); err != nil {
		return Blob{}, fmt.Errorf("crypto: read nonce: %w", err)
	}

	gcm, err := newGCM(password, salt)
	if err != nil {
		return Blob{}, err
	}

	return Blob{
		Salt:       salt,
		IV:         nonce,
		Ciphertext: gcm.Seal(nil, nonce, plaintext, nil),
	}, nil
}

// Decrypt opens a blob. A wrong password or tampered ciphertext reports
// apperr.ErrAuthenticationFailure; malformed blobs report
// apperr.ErrCorruptedData.
func Decrypt(b Blob, password string) ([]byte, error) {
	if password == "" {
		return nil, fmt.Errorf("crypto: empty password: %w", apperr.ErrInvalidInput)
	}
	if len(b.Salt) != saltSize || len(b.IV) != nonceSize || len(b.Ciphertext) < 16 {
		return nil, fmt.Errorf("crypto: malformed blob: %w", apperr.ErrCorruptedData)
	}

	gcm, err := newGCM(password, b.Salt)
	if err != nil {
		return nil, err
	}

	plaintext, err := gcm.Open(nil, b.IV, b.Ciphertext, nil)
	if err != nil {
		// GCM tag verification failed: wrong key or modified ciphertext.
		return nil, fmt.Errorf("crypto: open: %w", apperr.ErrAuthenticationFailure)
	}
	return plaintext, nil
}

// Rekey decrypts every blob with oldPassword and re-encrypts with
// newPassword. All-or-nothing: if any blob fails to decrypt, no blob is
// re-encrypted and the input map is untouched.
func Rekey(blobs map[string]Blob, oldPassword, newPassword string) (map[string]Blob, error) {
	if newPassword == "" {
		return nil, fmt.Errorf("crypto: empty new password: %w", apperr.ErrInvalidInput)
	}

	// Decrypt everything first so a late failure cannot leave a mixed set.
	plain := make(map[string][]byte, len(blobs))
	for key, b := range blobs {
		pt, err := Decrypt(b, oldPassword)
		if err != nil {
			return nil, fmt.Errorf("crypto: rekey %s: %w", key, err)
		}
		plain[key] = pt
	}

	out := make(map[string]Blob, len(blobs))
	for key, pt := range plain {
		nb, err := Encrypt(pt, newPassword)
		if err != nil {
			return nil, fmt.Errorf("crypto: rekey %s: %w", key, err)
		}
		out[key] = nb
	}
	return out, nil
}

func newGCM(password string, salt []byte) (cipher.AEAD, error) {
	block, err := aes.NewCipher(DeriveKey(password, salt))
	if err != nil {
		return nil, fmt.Errorf("crypto: new cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("crypto: new gcm: %w", err)
	}
	return gcm, nil
}
