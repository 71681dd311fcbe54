package util

import (
	"fmt"

	"github.com/samber/oops"
	"golang.org/x/crypto/bcrypt"

	"accounts/internal/core/domain"
)

// DefaultPasswordCost matches the cost of digests already stored by earlier
// deployments.
const DefaultPasswordCost = 10

// bcrypt ignores everything past 72 bytes.
const maxPasswordBytes = 72

type BcryptHasher struct {
	cost int
}

func NewBcryptHasher(cost int) *BcryptHasher {
	if cost == 0 {
		cost = DefaultPasswordCost
	}

	if cost < bcrypt.MinCost {
		cost = bcrypt.MinCost
	}

	if cost > bcrypt.MaxCost {
		cost = bcrypt.MaxCost
	}

	return &BcryptHasher{cost: cost}
}

func (h *BcryptHasher) Cost() int {
	return h.cost
}

func (h *BcryptHasher) Hash(password string) (string, error) {
	if password == "" {
		return "", oops.Code("PASSWORD_EMPTY").Public("password cannot be empty").Wrapf(domain.ErrValidation, "password cannot be empty")
	}

	if len(password) > maxPasswordBytes {
		return "", oops.Code("PASSWORD_TOO_LONG").Public(fmt.Sprintf("password exceeds %d bytes", maxPasswordBytes)).Wrapf(domain.ErrValidation, "password exceeds %d bytes", maxPasswordBytes)
	}

	encrypted, err := bcrypt.GenerateFromPassword([]byte(password), h.cost)

	if err != nil {
		return "", oops.Code("PASSWORD_HASH_FAILED").Wrap(err)
	}

	return string(encrypted), nil
}

func (h *BcryptHasher) Verify(password, hash string) bool {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)) == nil
}
