package port

import (
	"context"

	"accounts/internal/core/domain"
	"accounts/internal/core/model/request"
	"accounts/internal/core/model/response"
)

// AccountMutator edits an account in place. Returning an error aborts the
// update without persisting anything.
type AccountMutator func(account *domain.Account) error

type AccountRepository interface {
	CreateUnique(ctx context.Context, account domain.Account) (domain.Account, error)
	GetByID(ctx context.Context, id string) (domain.Account, error)
	GetByEmail(ctx context.Context, email string) (domain.Account, error)
	GetByAPIKey(ctx context.Context, apiKey string) (domain.Account, error)
	Update(ctx context.Context, id string, mutate AccountMutator) (domain.Account, error)
	List(ctx context.Context, limit int, after *domain.PageCursor) ([]domain.Account, bool, error)
}

type AccountService interface {
	Register(ctx context.Context, req *request.RegisterRequest) (domain.AccountPublicView, error)
	Authenticate(ctx context.Context, email, password string) (*domain.Account, error)
	IssueSession(ctx context.Context, account *domain.Account) (*response.SessionResponse, error)
	LookupByAPIKey(ctx context.Context, apiKey string) (domain.AccountPublicView, error)
	UpdateUsageAndPermissions(ctx context.Context, id string, usage map[string]float64, permissions map[string]any) (domain.AccountPublicView, error)
	ChangePassword(ctx context.Context, id, oldPassword, newPassword string) error
	GetByID(ctx context.Context, id string) (domain.AccountPublicView, error)
	UpdateProfile(ctx context.Context, id string, req *request.UpdateProfileRequest) (domain.AccountPublicView, error)
	List(ctx context.Context, limit int, cursor string) (*response.CursorResponse, error)
}
