package service

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/samber/oops"
	"github.com/sethvargo/go-retry"
	"go.opentelemetry.io/otel/attribute"

	"accounts/internal/core/domain"
	"accounts/internal/core/model/request"
	"accounts/internal/core/model/response"
	"accounts/internal/core/port"
	"accounts/internal/core/telemetry"
)

const (
	serviceName = "AccountService"

	DefaultPageSize   = 20
	MaxPageSize       = 100
	DefaultMaxRetries = 5
	DefaultCacheTTL   = 30 * time.Second

	apiKeyCachePrefix = "apikey:"
)

// AccountServiceDeps groups the collaborators of AccountService. Cache and
// Telemetry are optional.
type AccountServiceDeps struct {
	Repo      port.AccountRepository
	Hasher    port.PasswordHasher
	Keys      port.APIKeyGenerator
	Tokens    port.TokenIssuer
	Cursors   port.CursorCodec
	Cache     port.CacheRepository
	CacheTTL  time.Duration
	Telemetry port.Telemetry
	// MaxRetries bounds version-conflict retries per update.
	MaxRetries uint64
}

type AccountService struct {
	repo       port.AccountRepository
	hasher     port.PasswordHasher
	keys       port.APIKeyGenerator
	tokens     port.TokenIssuer
	cursors    port.CursorCodec
	cache      port.CacheRepository
	cacheTTL   time.Duration
	telemetry  port.Telemetry
	maxRetries uint64
	now        func() time.Time

	// dummyHash is compared against when the email is unknown so both
	// failure paths pay for one bcrypt comparison.
	dummyHash string
}

func NewAccountService(deps AccountServiceDeps) (*AccountService, error) {
	if deps.Repo == nil || deps.Hasher == nil || deps.Keys == nil || deps.Tokens == nil || deps.Cursors == nil {
		return nil, oops.Code("SERVICE_MISCONFIGURED").Errorf("account service requires repo, hasher, keys, tokens and cursors")
	}

	if deps.Telemetry == nil {
		deps.Telemetry = telemetry.NewNoOpProbe()
	}

	if deps.CacheTTL <= 0 {
		deps.CacheTTL = DefaultCacheTTL
	}

	if deps.MaxRetries == 0 {
		deps.MaxRetries = DefaultMaxRetries
	}

	dummy, err := deps.Hasher.Hash("account-service-timing-guard")
	if err != nil {
		return nil, oops.Code("SERVICE_MISCONFIGURED").Wrap(err)
	}

	return &AccountService{
		repo:       deps.Repo,
		hasher:     deps.Hasher,
		keys:       deps.Keys,
		tokens:     deps.Tokens,
		cursors:    deps.Cursors,
		cache:      deps.Cache,
		cacheTTL:   deps.CacheTTL,
		telemetry:  deps.Telemetry,
		maxRetries: deps.MaxRetries,
		now:        time.Now,
		dummyHash:  dummy,
	}, nil
}

func (s *AccountService) begin(ctx context.Context, operation, accountID string, attrs ...attribute.KeyValue) (context.Context, func(error)) {
	start := time.Now()
	ctx, span := s.telemetry.StartServiceSpan(ctx, serviceName, operation, accountID, attrs)

	return ctx, func(err error) {
		s.telemetry.RecordServiceOperation(ctx, serviceName, operation, accountID, time.Since(start), err)
		span.End()
	}
}

func (s *AccountService) Register(ctx context.Context, req *request.RegisterRequest) (_ domain.AccountPublicView, err error) {
	ctx, done := s.begin(ctx, "Register", "")
	defer func() { done(err) }()

	if req == nil || req.Name == "" || req.Email == "" {
		return domain.AccountPublicView{}, oops.Code("VALIDATION").Public("name and email are required").Wrapf(domain.ErrValidation, "name and email are required")
	}

	// Advisory only; CreateUnique is what enforces uniqueness.
	if _, err := s.repo.GetByEmail(ctx, req.Email); err == nil {
		return domain.AccountPublicView{}, oops.Code("EMAIL_TAKEN").With("email", req.Email).Public("email already exists").Wrapf(domain.ErrConflict, "email already exists")
	} else if !errors.Is(err, domain.ErrNotFound) {
		return domain.AccountPublicView{}, err
	}

	if req.APIKey != "" {
		if _, err := s.repo.GetByAPIKey(ctx, req.APIKey); err == nil {
			return domain.AccountPublicView{}, oops.Code("API_KEY_TAKEN").With("field", "apiKey").Public("api key already exists").Wrapf(domain.ErrConflict, "api key already exists")
		} else if !errors.Is(err, domain.ErrNotFound) {
			return domain.AccountPublicView{}, err
		}
	}

	apiKey := req.APIKey
	if apiKey == "" {
		if apiKey, err = s.keys.Generate(); err != nil {
			return domain.AccountPublicView{}, err
		}
	}

	var expiresAt *time.Time
	if req.APIKeyExpiresAt != "" {
		t, err := time.Parse(time.RFC3339, req.APIKeyExpiresAt)
		if err != nil {
			return domain.AccountPublicView{}, oops.
				Code("VALIDATION").
				With("field", "apiKeyExpiresAt").
				Public("apiKeyExpiresAt must be an RFC 3339 timestamp").
				Wrapf(domain.ErrValidation, "apiKeyExpiresAt must be an RFC 3339 timestamp")
		}
		t = t.UTC()
		expiresAt = &t
	}

	hash, err := s.hasher.Hash(req.Password)
	if err != nil {
		return domain.AccountPublicView{}, err
	}

	account, err := s.repo.CreateUnique(ctx, domain.Account{
		Name:             req.Name,
		Email:            req.Email,
		PasswordHash:     hash,
		APIKey:           apiKey,
		APIKeyExpiresAt:  expiresAt,
		Roles:            domain.NormalizeRoles(req.Roles),
		PermissionMatrix: req.PermissionMatrix,
		UsageCounters:    req.UsageCounters,
	})

	// Either unique index may have tripped; the store does not say which.
	if errors.Is(err, domain.ErrDuplicateKey) {
		return domain.AccountPublicView{}, oops.Code("ACCOUNT_EXISTS").With("email", req.Email).Public("account already exists").Wrapf(domain.ErrConflict, "account already exists")
	}

	if err != nil {
		return domain.AccountPublicView{}, err
	}

	s.telemetry.RecordBusinessEvent(ctx, "account_registered", "account", account.ID, map[string]any{
		"roles": len(account.Roles),
	})

	return account.Public(), nil
}

func (s *AccountService) Authenticate(ctx context.Context, email, password string) (_ *domain.Account, err error) {
	ctx, done := s.begin(ctx, "Authenticate", "")
	defer func() { done(err) }()

	account, err := s.repo.GetByEmail(ctx, email)

	if errors.Is(err, domain.ErrNotFound) {
		s.hasher.Verify(password, s.dummyHash)
		s.telemetry.RecordAuthFailure(ctx, "unknown_email")
		return nil, invalidCredentials()
	}

	if err != nil {
		return nil, err
	}

	if !s.hasher.Verify(password, account.PasswordHash) {
		s.telemetry.RecordAuthFailure(ctx, "wrong_password")
		return nil, invalidCredentials()
	}

	return &account, nil
}

func invalidCredentials() error {
	return oops.Code("INVALID_CREDENTIALS").Public("invalid email or password").Wrapf(domain.ErrUnauthorized, "invalid email or password")
}

func (s *AccountService) IssueSession(ctx context.Context, account *domain.Account) (_ *response.SessionResponse, err error) {
	if account == nil {
		return nil, oops.Code("VALIDATION").Public("account is required").Wrapf(domain.ErrValidation, "account is required")
	}

	ctx, done := s.begin(ctx, "IssueSession", account.ID)
	defer func() { done(err) }()

	token, expiresIn, err := s.tokens.Issue(account.ID, account.Name)
	if err != nil {
		return nil, oops.Code("TOKEN_ISSUE_FAILED").With("account_id", account.ID).Wrap(err)
	}

	s.telemetry.RecordBusinessEvent(ctx, "session_issued", "account", account.ID, nil)

	return &response.SessionResponse{
		AccessToken: token,
		ExpiresIn:   int64(expiresIn / time.Second),
		User:        account.Public(),
	}, nil
}

func (s *AccountService) LookupByAPIKey(ctx context.Context, apiKey string) (_ domain.AccountPublicView, err error) {
	ctx, done := s.begin(ctx, "LookupByAPIKey", "")
	defer func() { done(err) }()

	if apiKey == "" {
		return domain.AccountPublicView{}, apiKeyNotFound()
	}

	if view, ok := s.cachedView(ctx, apiKey); ok {
		if expired(view.APIKeyExpiresAt, s.now()) {
			s.forgetAPIKey(ctx, apiKey)
			return domain.AccountPublicView{}, apiKeyNotFound()
		}
		return view, nil
	}

	account, err := s.repo.GetByAPIKey(ctx, apiKey)
	if errors.Is(err, domain.ErrNotFound) {
		return domain.AccountPublicView{}, apiKeyNotFound()
	}

	if err != nil {
		return domain.AccountPublicView{}, err
	}

	if account.APIKeyExpired(s.now()) {
		return domain.AccountPublicView{}, apiKeyNotFound()
	}

	view := account.Public()
	s.cacheView(ctx, account.Version, view)

	return view, nil
}

func apiKeyNotFound() error {
	return oops.Code("API_KEY_NOT_FOUND").Public("api key not found").Wrapf(domain.ErrNotFound, "api key not found")
}

func expired(at *time.Time, now time.Time) bool {
	return at != nil && !now.Before(*at)
}

func (s *AccountService) UpdateUsageAndPermissions(ctx context.Context, id string, usage map[string]float64, permissions map[string]any) (_ domain.AccountPublicView, err error) {
	ctx, done := s.begin(ctx, "UpdateUsageAndPermissions", id)
	defer func() { done(err) }()

	account, err := s.updateWithRetry(ctx, "UpdateUsageAndPermissions", id, func(a *domain.Account) error {
		a.MergeUsage(usage)

		if permissions != nil {
			a.MergePermissions(permissions)
		}

		return nil
	})

	if err != nil {
		return domain.AccountPublicView{}, err
	}

	view := account.Public()
	s.cacheView(ctx, account.Version, view)

	return view, nil
}

func (s *AccountService) ChangePassword(ctx context.Context, id, oldPassword, newPassword string) (err error) {
	ctx, done := s.begin(ctx, "ChangePassword", id)
	defer func() { done(err) }()

	// Hashed at most once even when the update is retried.
	var newHash string

	account, err := s.updateWithRetry(ctx, "ChangePassword", id, func(a *domain.Account) error {
		if !s.hasher.Verify(oldPassword, a.PasswordHash) {
			s.telemetry.RecordAuthFailure(ctx, "wrong_old_password")
			return oops.Code("INVALID_OLD_PASSWORD").With("account_id", id).Public("old password is incorrect").Wrapf(domain.ErrUnauthorized, "old password is incorrect")
		}

		if newHash == "" {
			hash, err := s.hasher.Hash(newPassword)
			if err != nil {
				return err
			}
			newHash = hash
		}

		a.PasswordHash = newHash
		return nil
	})

	if err != nil {
		return err
	}

	s.cacheView(ctx, account.Version, account.Public())
	s.telemetry.RecordBusinessEvent(ctx, "password_changed", "account", id, nil)

	return nil
}

func (s *AccountService) GetByID(ctx context.Context, id string) (_ domain.AccountPublicView, err error) {
	ctx, done := s.begin(ctx, "GetByID", id)
	defer func() { done(err) }()

	account, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return domain.AccountPublicView{}, err
	}

	return account.Public(), nil
}

func (s *AccountService) UpdateProfile(ctx context.Context, id string, req *request.UpdateProfileRequest) (_ domain.AccountPublicView, err error) {
	ctx, done := s.begin(ctx, "UpdateProfile", id)
	defer func() { done(err) }()

	if req == nil || (req.Name != nil && *req.Name == "") || (req.Email != nil && *req.Email == "") {
		return domain.AccountPublicView{}, oops.Code("VALIDATION").Public("name and email cannot be blank").Wrapf(domain.ErrValidation, "name and email cannot be blank")
	}

	account, err := s.updateWithRetry(ctx, "UpdateProfile", id, func(a *domain.Account) error {
		if req.Name != nil {
			a.Name = *req.Name
		}

		if req.Email != nil {
			a.Email = *req.Email
		}

		return nil
	})

	if err != nil {
		return domain.AccountPublicView{}, err
	}

	view := account.Public()
	s.cacheView(ctx, account.Version, view)

	return view, nil
}

func (s *AccountService) List(ctx context.Context, limit int, cursor string) (_ *response.CursorResponse, err error) {
	ctx, done := s.begin(ctx, "List", "", attribute.Int("limit", limit))
	defer func() { done(err) }()

	if limit <= 0 {
		limit = DefaultPageSize
	}

	if limit > MaxPageSize {
		limit = MaxPageSize
	}

	var after *domain.PageCursor

	if cursor != "" {
		position, err := s.cursors.Decode(cursor)
		if err != nil {
			return nil, oops.Code("INVALID_CURSOR").With("field", "cursor").Public(err.Error()).Wrapf(domain.ErrValidation, "%s", err.Error())
		}
		after = &position
	}

	accounts, hasNext, err := s.repo.List(ctx, limit, after)
	if err != nil {
		return nil, err
	}

	views := make([]domain.AccountPublicView, 0, len(accounts))
	for i := range accounts {
		views = append(views, accounts[i].Public())
	}

	data, err := json.Marshal(views)
	if err != nil {
		return nil, oops.Code("ENCODE_FAILED").Wrap(err)
	}

	result := &response.CursorResponse{Size: len(views), Data: data}
	result.Pagination.HasNext = hasNext

	if hasNext {
		last := accounts[len(accounts)-1]
		result.Pagination.NextCursor = s.cursors.Encode(domain.PageCursor{CreatedAt: last.CreatedAt, ID: last.ID})
	}

	return result, nil
}

// updateWithRetry runs repo.Update, retrying version conflicts with jittered
// exponential backoff. Exhausted retries and unique violations become
// ErrConflict.
func (s *AccountService) updateWithRetry(ctx context.Context, operation, id string, mutate port.AccountMutator) (domain.Account, error) {
	var updated domain.Account

	backoff := retry.WithMaxRetries(s.maxRetries,
		retry.WithJitterPercent(25, retry.NewExponential(5*time.Millisecond)))

	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		account, err := s.repo.Update(ctx, id, mutate)

		if errors.Is(err, domain.ErrVersionConflict) {
			s.telemetry.RecordRetry(ctx, operation)
			return retry.RetryableError(err)
		}

		if err != nil {
			return err
		}

		updated = account
		return nil
	})

	switch {
	case err == nil:
		return updated, nil
	case errors.Is(err, domain.ErrVersionConflict):
		return domain.Account{}, oops.Code("UPDATE_CONFLICT").With("account_id", id).Public("account was modified concurrently").Wrapf(domain.ErrConflict, "account was modified concurrently")
	case errors.Is(err, domain.ErrDuplicateKey):
		return domain.Account{}, oops.Code("EMAIL_TAKEN").With("account_id", id).Public("email already exists").Wrapf(domain.ErrConflict, "email already exists")
	default:
		return domain.Account{}, err
	}
}

func (s *AccountService) cachedView(ctx context.Context, apiKey string) (domain.AccountPublicView, bool) {
	if s.cache == nil {
		return domain.AccountPublicView{}, false
	}

	raw, err := s.cache.Get(ctx, apiKeyCachePrefix+apiKey)
	if err != nil {
		s.telemetry.RecordCacheLookup(ctx, "api_key", false)
		return domain.AccountPublicView{}, false
	}

	var view domain.AccountPublicView
	if err := json.Unmarshal(raw, &view); err != nil {
		s.telemetry.RecordCacheLookup(ctx, "api_key", false)
		return domain.AccountPublicView{}, false
	}

	s.telemetry.RecordCacheLookup(ctx, "api_key", true)
	return view, true
}

// cacheView publishes view under its API key. Entries are stamped with the
// account version, so neither a lookup that read an older row nor a write
// that committed earlier can replace a newer view.
func (s *AccountService) cacheView(ctx context.Context, version int64, view domain.AccountPublicView) {
	if s.cache == nil {
		return
	}

	raw, err := json.Marshal(view)
	if err == nil {
		_, err = s.cache.SetIfNewer(ctx, apiKeyCachePrefix+view.APIKey, version, raw, s.cacheTTL)
	}

	// Cache failures only cost a database read, but the old entry must go.
	if err != nil {
		s.forgetAPIKey(ctx, view.APIKey)
	}
}

func (s *AccountService) forgetAPIKey(ctx context.Context, apiKey string) {
	if s.cache == nil || apiKey == "" {
		return
	}

	_ = s.cache.Delete(ctx, apiKeyCachePrefix+apiKey)
}

// FlushAPIKeyCache drops every cached API-key view.
func (s *AccountService) FlushAPIKeyCache(ctx context.Context) (err error) {
	ctx, done := s.begin(ctx, "FlushAPIKeyCache", "")
	defer func() { done(err) }()

	if s.cache == nil {
		return nil
	}

	return s.cache.DeleteByPrefix(ctx, apiKeyCachePrefix)
}
