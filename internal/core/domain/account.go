package domain

import (
	"time"
)

// Account is the single persisted entity. PasswordHash and Version never leave
// the core; handlers only ever see AccountPublicView.
type Account struct {
	ID               string
	Name             string
	Email            string
	PasswordHash     string
	APIKey           string
	APIKeyExpiresAt  *time.Time
	Roles            []string
	PermissionMatrix map[string]any
	UsageCounters    map[string]float64
	Version          int64
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

type AccountPublicView struct {
	ID               string             `json:"id"`
	Name             string             `json:"name"`
	Email            string             `json:"email"`
	APIKey           string             `json:"apiKey"`
	APIKeyExpiresAt  *time.Time         `json:"apiKeyExpiresAt"`
	Roles            []string           `json:"roles"`
	PermissionMatrix map[string]any     `json:"permissionMatrix"`
	UsageCounters    map[string]float64 `json:"usageCounters"`
	CreatedAt        time.Time          `json:"createdAt"`
	UpdatedAt        time.Time          `json:"updatedAt"`
}

func (a *Account) Public() AccountPublicView {
	return AccountPublicView{
		ID:               a.ID,
		Name:             a.Name,
		Email:            a.Email,
		APIKey:           a.APIKey,
		APIKeyExpiresAt:  a.APIKeyExpiresAt,
		Roles:            nonNilRoles(a.Roles),
		PermissionMatrix: nonNilMatrix(a.PermissionMatrix),
		UsageCounters:    nonNilCounters(a.UsageCounters),
		CreatedAt:        a.CreatedAt,
		UpdatedAt:        a.UpdatedAt,
	}
}

// APIKeyExpired reports whether the key carries an expiry that is not after now.
func (a *Account) APIKeyExpired(now time.Time) bool {
	return a.APIKeyExpiresAt != nil && !now.Before(*a.APIKeyExpiresAt)
}

// MergeUsage copies every key of patch over the current counters. Keys absent
// from patch keep their value.
func (a *Account) MergeUsage(patch map[string]float64) {
	if a.UsageCounters == nil {
		a.UsageCounters = make(map[string]float64, len(patch))
	}

	for k, v := range patch {
		a.UsageCounters[k] = v
	}
}

// MergePermissions is the permission-matrix counterpart of MergeUsage. Nested
// values are replaced wholesale, never merged.
func (a *Account) MergePermissions(patch map[string]any) {
	if a.PermissionMatrix == nil {
		a.PermissionMatrix = make(map[string]any, len(patch))
	}

	for k, v := range patch {
		a.PermissionMatrix[k] = v
	}
}

// NormalizeRoles drops empty labels and duplicates, keeping first occurrence order.
func NormalizeRoles(roles []string) []string {
	seen := make(map[string]struct{}, len(roles))
	out := make([]string, 0, len(roles))

	for _, r := range roles {
		if r == "" {
			continue
		}

		if _, ok := seen[r]; ok {
			continue
		}

		seen[r] = struct{}{}
		out = append(out, r)
	}

	return out
}

func nonNilRoles(r []string) []string {
	if r == nil {
		return []string{}
	}
	return r
}

func nonNilMatrix(m map[string]any) map[string]any {
	if m == nil {
		return map[string]any{}
	}
	return m
}

func nonNilCounters(m map[string]float64) map[string]float64 {
	if m == nil {
		return map[string]float64{}
	}
	return m
}

// PageCursor is the keyset position of the last account of a listed page.
type PageCursor struct {
	CreatedAt time.Time
	ID        string
}
