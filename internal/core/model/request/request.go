package request

type RegisterRequest struct {
	Name             string             `json:"name,omitempty" validate:"required,min=2,max=100"`
	Email            string             `json:"email,omitempty" validate:"required,email,max=255"`
	Password         string             `json:"password,omitempty" validate:"required,max=72"`
	Roles            []string           `json:"roles,omitempty" validate:"omitempty,dive,min=1,max=64"`
	PermissionMatrix map[string]any     `json:"permissionMatrix,omitempty"`
	UsageCounters    map[string]float64 `json:"usageCounters,omitempty"`
	APIKey           string             `json:"apiKey,omitempty" validate:"omitempty,min=16,max=128"`
	APIKeyExpiresAt  string             `json:"apiKeyExpiresAt,omitempty"`
}

type LoginRequest struct {
	Email    string `json:"email,omitempty" validate:"required,email,max=255"`
	Password string `json:"password,omitempty" validate:"required,max=72"`
}

type UpdateUsageRequest struct {
	UsageCounters    map[string]float64 `json:"usageCounters" validate:"required"`
	PermissionMatrix map[string]any     `json:"permissionMatrix,omitempty"`
}

type ChangePasswordRequest struct {
	OldPassword string `json:"oldPassword,omitempty" validate:"required,max=72"`
	NewPassword string `json:"newPassword,omitempty" validate:"required,max=72"`
}

type UpdateProfileRequest struct {
	Name  *string `json:"name,omitempty" validate:"omitempty,min=2,max=100"`
	Email *string `json:"email,omitempty" validate:"omitempty,email,max=255"`
}
