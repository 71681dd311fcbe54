package factory

import (
	"strings"

	fab "github.com/Goldziher/fabricator"
	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"accounts/internal/core/domain"
)

// AccountSeed holds the free-form values fabricator fills in.
type AccountSeed struct {
	Name     string
	Password string
}

func NewAccountSeed(overrides ...map[string]any) AccountSeed {
	seed := fab.New(AccountSeed{}).Build(overrides...)

	if seed.Name == "" {
		seed.Name = "account"
	}

	if seed.Password == "" {
		seed.Password = "12345678"
	}

	return seed
}

// NewAccount builds an unsaved account with a unique email and API key.
// The password hash uses bcrypt.MinCost to keep tests fast. It panics when
// the password cannot be hashed, e.g. one longer than 72 bytes.
func NewAccount(overrides ...map[string]any) (domain.Account, string) {
	seed := NewAccountSeed(overrides...)
	hash, err := bcrypt.GenerateFromPassword([]byte(seed.Password), bcrypt.MinCost)
	if err != nil {
		panic("factory: hashing account password: " + err.Error())
	}
	id := strings.ReplaceAll(uuid.NewString(), "-", "")

	return domain.Account{
		Name:             seed.Name,
		Email:            id + "@example.com",
		PasswordHash:     string(hash),
		APIKey:           strings.ToUpper(id),
		Roles:            []string{"user"},
		PermissionMatrix: map[string]any{},
		UsageCounters:    map[string]float64{},
	}, seed.Password
}
