// Package cipher keeps user passwords recoverable for the lifetime of a session.
//
// Envelopes are AES-256-CBC with PKCS#7 padding and carry no authentication tag,
// so a tampered envelope is only detected when its padding happens to break.
package cipher

import (
	"bytes"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/hex"
	"strings"

	"github.com/jrsteele09/go-access-broker/internal/errors"
)

const (
	keyHexLength = 64
	ivLength     = aes.BlockSize
	separator    = ":"
)

// Encrypt returns hex(iv):hex(ciphertext) using a fresh IV per call.
func Encrypt(plaintext, key string) (string, error) {
	block, err := newBlock(key)
	if err != nil {
		return "", err
	}

	iv := make([]byte, ivLength)
	if _, err := rand.Read(iv); err != nil {
		return "", errors.Wrapf(err, "failed to generate iv")
	}

	padded := pad([]byte(plaintext), aes.BlockSize)
	out := make([]byte, len(padded))
	cipher.NewCBCEncrypter(block, iv).CryptBlocks(out, padded)

	return hex.EncodeToString(iv) + separator + hex.EncodeToString(out), nil
}

func Decrypt(envelope, key string) (string, error) {
	block, err := newBlock(key)
	if err != nil {
		return "", err
	}

	parts := strings.Split(envelope, separator)
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", errors.ErrMalformedEnvelope
	}

	iv, err := hex.DecodeString(parts[0])
	if err != nil || len(iv) != ivLength {
		return "", errors.ErrMalformedEnvelope
	}
	ct, err := hex.DecodeString(parts[1])
	if err != nil || len(ct) == 0 || len(ct)%aes.BlockSize != 0 {
		return "", errors.ErrMalformedEnvelope
	}

	out := make([]byte, len(ct))
	cipher.NewCBCDecrypter(block, iv).CryptBlocks(out, ct)

	plain, ok := unpad(out, aes.BlockSize)
	if !ok {
		return "", errors.ErrMalformedEnvelope
	}
	return string(plain), nil
}

// GenerateKey returns a random 32 byte key in the hex form Encrypt expects.
func GenerateKey() (string, error) {
	key := make([]byte, 32)
	if _, err := rand.Read(key); err != nil {
		return "", errors.Wrapf(err, "failed to generate key")
	}
	return hex.EncodeToString(key), nil
}

func newBlock(key string) (cipher.Block, error) {
	if len(key) != keyHexLength {
		return nil, errors.ErrInvalidKey
	}
	raw, err := hex.DecodeString(key)
	if err != nil {
		return nil, errors.ErrInvalidKey
	}
	return aes.NewCipher(raw)
}

func pad(b []byte, size int) []byte {
	n := size - len(b)%size
	return append(b, bytes.Repeat([]byte{byte(n)}, n)...)
}

func unpad(b []byte, size int) ([]byte, bool) {
	if len(b) == 0 || len(b)%size != 0 {
		return nil, false
	}
	n := int(b[len(b)-1])
	if n == 0 || n > size || n > len(b) {
		return nil, false
	}
	for _, c := range b[len(b)-n:] {
		if int(c) != n {
			return nil, false
		}
	}
	return b[:len(b)-n], true
}
