package cipher

import (
	"crypto/rand"
	"crypto/sha512"
	"crypto/subtle"
	"encoding/hex"

	"github.com/jrsteele09/go-access-broker/internal/errors"
	"golang.org/x/crypto/pbkdf2"
)

const (
	hashIterations = 10000
	hashLength     = 64
	saltLength     = 16
)

// HashPassword derives a hex PBKDF2-SHA512 hash. An empty salt generates one.
func HashPassword(password, salt string) (hash, usedSalt string, err error) {
	if salt == "" {
		b := make([]byte, saltLength)
		if _, err := rand.Read(b); err != nil {
			return "", "", errors.Wrapf(err, "failed to generate salt")
		}
		salt = hex.EncodeToString(b)
	}
	derived := pbkdf2.Key([]byte(password), []byte(salt), hashIterations, hashLength, sha512.New)
	return hex.EncodeToString(derived), salt, nil
}

func VerifyPassword(password, hash, salt string) bool {
	computed, _, err := HashPassword(password, salt)
	if err != nil || salt == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(computed), []byte(hash)) == 1
}
