package repository

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/google/uuid"
	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/samber/oops"
	"go.opentelemetry.io/otel/attribute"

	database "accounts/internal/adapter/database/postgres"
	"accounts/internal/core/domain"
	"accounts/internal/core/port"
	"accounts/internal/core/telemetry"
)

const accountsTable = "accounts"

var accountColumns = []string{
	"id",
	"name",
	"email",
	"password_hash",
	"api_key",
	"api_key_expires_at",
	"roles",
	"permission_matrix",
	"usage_counters",
	"version",
	"created_at",
	"updated_at",
}

type AccountRepository struct {
	db        *database.DB
	telemetry port.Telemetry
	now       func() time.Time
}

func NewAccountRepository(db *database.DB, probe port.Telemetry) port.AccountRepository {
	if probe == nil {
		probe = telemetry.NewNoOpProbe()
	}

	return &AccountRepository{db: db, telemetry: probe, now: time.Now}
}

func (r *AccountRepository) CreateUnique(ctx context.Context, account domain.Account) (_ domain.Account, err error) {
	ctx, span := r.telemetry.StartRepositorySpan(ctx, "CreateUnique", accountsTable, nil)
	defer span.End()

	op := telemetry.StartOperation(r.telemetry, ctx, "CreateUnique", accountsTable)
	defer func() { op.End(err) }()

	if account.ID == "" {
		id, err := uuid.NewV7()
		if err != nil {
			return domain.Account{}, oops.Code("ACCOUNT_ID_FAILED").Wrap(err)
		}
		account.ID = id.String()
	}

	// timestamptz keeps microseconds; truncate so cursors round-trip exactly.
	now := r.now().UTC().Truncate(time.Microsecond)
	account.CreatedAt = now
	account.UpdatedAt = now
	account.Version = 1

	roles, matrix, counters, err := encodeJSONColumns(&account)
	if err != nil {
		return domain.Account{}, err
	}

	stmt, args, err := r.db.QueryBuilder.Insert(accountsTable).
		Columns(accountColumns...).
		Values(
			account.ID,
			account.Name,
			account.Email,
			account.PasswordHash,
			account.APIKey,
			timestamptz(account.APIKeyExpiresAt),
			roles,
			matrix,
			counters,
			account.Version,
			account.CreatedAt,
			account.UpdatedAt,
		).
		Suffix("RETURNING " + strings.Join(accountColumns, ", ")).
		ToSql()

	if err != nil {
		return domain.Account{}, oops.Code("QUERY_BUILD_FAILED").Wrap(err)
	}

	saved, err := scanAccount(r.db.Pool.QueryRow(ctx, stmt, args...))
	if err != nil {
		if isUniqueViolation(err) {
			return domain.Account{}, oops.
				Code("ACCOUNT_DUPLICATE").
				With("email", account.Email).
				Wrapf(domain.ErrDuplicateKey, "%s", err.Error())
		}

		return domain.Account{}, oops.Code("ACCOUNT_INSERT_FAILED").Wrap(err)
	}

	return saved, nil
}

func (r *AccountRepository) GetByID(ctx context.Context, id string) (_ domain.Account, err error) {
	ctx, span := r.telemetry.StartRepositorySpan(ctx, "GetByID", accountsTable, []attribute.KeyValue{
		attribute.String("account.id", id),
	})
	defer span.End()

	op := telemetry.StartOperation(r.telemetry, ctx, "GetByID", accountsTable)
	defer func() { op.End(err) }()

	// A malformed id can never match the uuid column.
	if _, parseErr := uuid.Parse(id); parseErr != nil {
		return domain.Account{}, oops.Code("ACCOUNT_NOT_FOUND").With("account_id", id).Wrap(domain.ErrNotFound)
	}

	return r.findOne(ctx, sq.Eq{"id": id})
}

func (r *AccountRepository) GetByEmail(ctx context.Context, email string) (_ domain.Account, err error) {
	ctx, span := r.telemetry.StartRepositorySpan(ctx, "GetByEmail", accountsTable, nil)
	defer span.End()

	op := telemetry.StartOperation(r.telemetry, ctx, "GetByEmail", accountsTable)
	defer func() { op.End(err) }()

	return r.findOne(ctx, sq.Eq{"email": email})
}

func (r *AccountRepository) GetByAPIKey(ctx context.Context, apiKey string) (_ domain.Account, err error) {
	ctx, span := r.telemetry.StartRepositorySpan(ctx, "GetByAPIKey", accountsTable, nil)
	defer span.End()

	op := telemetry.StartOperation(r.telemetry, ctx, "GetByAPIKey", accountsTable)
	defer func() { op.End(err) }()

	return r.findOne(ctx, sq.Eq{"api_key": apiKey})
}

func (r *AccountRepository) Update(ctx context.Context, id string, mutate port.AccountMutator) (_ domain.Account, err error) {
	ctx, span := r.telemetry.StartRepositorySpan(ctx, "Update", accountsTable, []attribute.KeyValue{
		attribute.String("account.id", id),
	})
	defer span.End()

	op := telemetry.StartOperation(r.telemetry, ctx, "Update", accountsTable)
	defer func() { op.End(err) }()

	if _, parseErr := uuid.Parse(id); parseErr != nil {
		return domain.Account{}, oops.Code("ACCOUNT_NOT_FOUND").With("account_id", id).Wrap(domain.ErrNotFound)
	}

	current, err := r.findOne(ctx, sq.Eq{"id": id})
	if err != nil {
		return domain.Account{}, err
	}

	next := current
	if err = mutate(&next); err != nil {
		return domain.Account{}, err
	}

	next.ID = current.ID
	next.CreatedAt = current.CreatedAt
	next.Version = current.Version + 1
	next.UpdatedAt = r.now().UTC().Truncate(time.Microsecond)

	roles, matrix, counters, err := encodeJSONColumns(&next)
	if err != nil {
		return domain.Account{}, err
	}

	stmt, args, err := r.db.QueryBuilder.Update(accountsTable).
		Set("name", next.Name).
		Set("email", next.Email).
		Set("password_hash", next.PasswordHash).
		Set("api_key", next.APIKey).
		Set("api_key_expires_at", timestamptz(next.APIKeyExpiresAt)).
		Set("roles", roles).
		Set("permission_matrix", matrix).
		Set("usage_counters", counters).
		Set("version", next.Version).
		Set("updated_at", next.UpdatedAt).
		Where(sq.Eq{"id": id}).
		Where(sq.Eq{"version": current.Version}).
		ToSql()

	if err != nil {
		return domain.Account{}, oops.Code("QUERY_BUILD_FAILED").Wrap(err)
	}

	tag, err := r.db.Pool.Exec(ctx, stmt, args...)
	if err != nil {
		if isUniqueViolation(err) {
			return domain.Account{}, oops.
				Code("ACCOUNT_DUPLICATE").
				With("account_id", id).
				Wrapf(domain.ErrDuplicateKey, "%s", err.Error())
		}

		return domain.Account{}, oops.Code("ACCOUNT_UPDATE_FAILED").With("account_id", id).Wrap(err)
	}

	if tag.RowsAffected() == 0 {
		return domain.Account{}, oops.
			Code("ACCOUNT_VERSION_CONFLICT").
			With("account_id", id).
			With("version", current.Version).
			Wrap(domain.ErrVersionConflict)
	}

	return next, nil
}

func (r *AccountRepository) List(ctx context.Context, limit int, after *domain.PageCursor) (_ []domain.Account, _ bool, err error) {
	ctx, span := r.telemetry.StartRepositorySpan(ctx, "List", accountsTable, []attribute.KeyValue{
		attribute.Int("limit", limit),
	})
	defer span.End()

	op := telemetry.StartOperation(r.telemetry, ctx, "List", accountsTable)
	defer func() { op.End(err) }()

	query := r.db.QueryBuilder.Select(accountColumns...).
		From(accountsTable).
		OrderBy("created_at ASC", "id ASC").
		Limit(uint64(limit + 1))

	if after != nil {
		query = query.Where("(created_at, id) > (?, ?)", after.CreatedAt.UTC(), after.ID)
	}

	stmt, args, err := query.ToSql()
	if err != nil {
		return nil, false, oops.Code("QUERY_BUILD_FAILED").Wrap(err)
	}

	rows, err := r.db.Pool.Query(ctx, stmt, args...)
	if err != nil {
		return nil, false, oops.Code("ACCOUNT_LIST_FAILED").Wrap(err)
	}
	defer rows.Close()

	accounts := make([]domain.Account, 0, limit)

	for rows.Next() {
		account, err := scanAccount(rows)
		if err != nil {
			return nil, false, oops.Code("ACCOUNT_LIST_FAILED").Wrap(err)
		}
		accounts = append(accounts, account)
	}

	if err = rows.Err(); err != nil {
		return nil, false, oops.Code("ACCOUNT_LIST_FAILED").Wrap(err)
	}

	hasNext := len(accounts) > limit
	if hasNext {
		accounts = accounts[:limit]
	}

	return accounts, hasNext, nil
}

func (r *AccountRepository) findOne(ctx context.Context, where sq.Eq) (domain.Account, error) {
	stmt, args, err := r.db.QueryBuilder.Select(accountColumns...).
		From(accountsTable).
		Where(where).
		Limit(1).
		ToSql()

	if err != nil {
		return domain.Account{}, oops.Code("QUERY_BUILD_FAILED").Wrap(err)
	}

	account, err := scanAccount(r.db.Pool.QueryRow(ctx, stmt, args...))

	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Account{}, oops.Code("ACCOUNT_NOT_FOUND").Wrap(domain.ErrNotFound)
	}

	if err != nil {
		return domain.Account{}, oops.Code("ACCOUNT_SCAN_FAILED").Wrap(err)
	}

	return account, nil
}

func scanAccount(row pgx.Row) (domain.Account, error) {
	var (
		account  domain.Account
		expires  pgtype.Timestamptz
		roles    []byte
		matrix   []byte
		counters []byte
	)

	err := row.Scan(
		&account.ID,
		&account.Name,
		&account.Email,
		&account.PasswordHash,
		&account.APIKey,
		&expires,
		&roles,
		&matrix,
		&counters,
		&account.Version,
		&account.CreatedAt,
		&account.UpdatedAt,
	)

	if err != nil {
		return domain.Account{}, err
	}

	if expires.Valid {
		t := expires.Time.UTC()
		account.APIKeyExpiresAt = &t
	}

	account.CreatedAt = account.CreatedAt.UTC()
	account.UpdatedAt = account.UpdatedAt.UTC()

	if err := json.Unmarshal(roles, &account.Roles); err != nil {
		return domain.Account{}, oops.Code("ACCOUNT_DECODE_FAILED").With("column", "roles").Wrap(err)
	}

	if err := json.Unmarshal(matrix, &account.PermissionMatrix); err != nil {
		return domain.Account{}, oops.Code("ACCOUNT_DECODE_FAILED").With("column", "permission_matrix").Wrap(err)
	}

	if err := json.Unmarshal(counters, &account.UsageCounters); err != nil {
		return domain.Account{}, oops.Code("ACCOUNT_DECODE_FAILED").With("column", "usage_counters").Wrap(err)
	}

	return account, nil
}

func encodeJSONColumns(account *domain.Account) ([]byte, []byte, []byte, error) {
	public := account.Public()

	roles, err := json.Marshal(public.Roles)
	if err != nil {
		return nil, nil, nil, oops.Code("ACCOUNT_ENCODE_FAILED").With("column", "roles").Wrap(err)
	}

	matrix, err := json.Marshal(public.PermissionMatrix)
	if err != nil {
		return nil, nil, nil, oops.Code("ACCOUNT_ENCODE_FAILED").With("column", "permission_matrix").Wrap(err)
	}

	counters, err := json.Marshal(public.UsageCounters)
	if err != nil {
		return nil, nil, nil, oops.Code("ACCOUNT_ENCODE_FAILED").With("column", "usage_counters").Wrap(err)
	}

	return roles, matrix, counters, nil
}

func timestamptz(t *time.Time) pgtype.Timestamptz {
	if t == nil {
		return pgtype.Timestamptz{}
	}
	return pgtype.Timestamptz{Time: t.UTC(), Valid: true}
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == pgerrcode.UniqueViolation
}
