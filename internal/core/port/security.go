package port

import (
	"time"

	"accounts/internal/core/domain"
)

type PasswordHasher interface {
	Hash(password string) (string, error)
	Verify(password, hash string) bool
}

type APIKeyGenerator interface {
	Generate() (string, error)
}

type TokenIssuer interface {
	Issue(accountID, username string) (string, time.Duration, error)
}

type CursorCodec interface {
	Encode(c domain.PageCursor) string
	Decode(token string) (domain.PageCursor, error)
}
