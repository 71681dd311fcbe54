package util

import (
	"crypto/rand"
	"encoding/hex"
	"strings"

	"github.com/samber/oops"
)

// APIKeyBytes keeps generated keys at 40 upper-case hex characters, the format
// of keys issued before this service existed.
const APIKeyBytes = 20

type APIKeyGenerator struct{}

func NewAPIKeyGenerator() *APIKeyGenerator {
	return &APIKeyGenerator{}
}

func (g *APIKeyGenerator) Generate() (string, error) {
	buf := make([]byte, APIKeyBytes)

	if _, err := rand.Read(buf); err != nil {
		return "", oops.Code("API_KEY_ENTROPY_FAILED").Wrap(err)
	}

	return strings.ToUpper(hex.EncodeToString(buf)), nil
}
