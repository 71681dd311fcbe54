package domain

import (
	"testing"
	"time"

	. "github.com/onsi/gomega"
	"github.com/stretchr/testify/assert"
)

func TestAccount_MergeUsage(t *testing.T) {
	t.Run("should keep keys absent from the patch", func(t *testing.T) {
		account := Account{UsageCounters: map[string]float64{"calls": 5}}

		account.MergeUsage(map[string]float64{"errors": 1})

		assert.Equal(t, map[string]float64{"calls": 5, "errors": 1}, account.UsageCounters)
	})

	t.Run("should overwrite, not sum, an existing key", func(t *testing.T) {
		account := Account{UsageCounters: map[string]float64{"calls": 5}}

		account.MergeUsage(map[string]float64{"calls": 9})

		assert.Equal(t, map[string]float64{"calls": 9}, account.UsageCounters)
	})

	t.Run("should allocate counters when nil", func(t *testing.T) {
		account := Account{}

		account.MergeUsage(map[string]float64{"calls": 1})

		assert.Equal(t, map[string]float64{"calls": 1}, account.UsageCounters)
	})
}

func TestAccount_MergePermissions(t *testing.T) {
	RegisterTestingT(t)

	account := Account{PermissionMatrix: map[string]any{
		"reports": map[string]any{"read": true, "write": true},
		"billing": "none",
	}}

	account.MergePermissions(map[string]any{
		"reports": map[string]any{"read": true},
	})

	Expect(account.PermissionMatrix).To(HaveKeyWithValue("billing", "none"))
	Expect(account.PermissionMatrix["reports"]).To(Equal(map[string]any{"read": true}))
}

func TestAccount_APIKeyExpired(t *testing.T) {
	now := time.Now()
	past := now.Add(-time.Minute)
	future := now.Add(time.Minute)

	assert.False(t, (&Account{}).APIKeyExpired(now))
	assert.True(t, (&Account{APIKeyExpiresAt: &past}).APIKeyExpired(now))
	assert.False(t, (&Account{APIKeyExpiresAt: &future}).APIKeyExpired(now))
}

func TestAccount_Public(t *testing.T) {
	RegisterTestingT(t)

	account := Account{
		ID:           "id-1",
		Name:         "Ann",
		Email:        "ann@x.com",
		PasswordHash: "$2a$10$secret",
		Version:      3,
	}

	view := account.Public()

	Expect(view.ID).To(Equal("id-1"))
	Expect(view.Roles).NotTo(BeNil())
	Expect(view.PermissionMatrix).NotTo(BeNil())
	Expect(view.UsageCounters).NotTo(BeNil())
}

func TestNormalizeRoles(t *testing.T) {
	assert.Equal(t, []string{"admin", "client"}, NormalizeRoles([]string{"admin", "", "client", "admin"}))
	assert.Equal(t, []string{}, NormalizeRoles(nil))
}
