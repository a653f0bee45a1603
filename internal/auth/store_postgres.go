package auth

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"

	id "tenantgate/pkg/domain"
	dErrors "tenantgate/pkg/domain-errors"
)

// PostgresUserStore persists users in PostgreSQL. The unique index on
// (tenant_id, lower(email)) enforces per-tenant email uniqueness.
type PostgresUserStore struct {
	db *sql.DB
}

func NewPostgresUserStore(db *sql.DB) *PostgresUserStore {
	return &PostgresUserStore{db: db}
}

const userColumns = "id, tenant_id, email, password_hash, role, created_at, updated_at"

func (s *PostgresUserStore) Create(ctx context.Context, user *User) error {
	query := `
		INSERT INTO users (id, tenant_id, email, password_hash, role, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`
	_, err := s.db.ExecContext(ctx, query,
		uuid.UUID(user.ID),
		uuid.UUID(user.TenantID),
		normalizeEmail(user.Email),
		user.PasswordHash,
		string(user.Role),
		user.CreatedAt,
		user.UpdatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return dErrors.New(dErrors.CodeConflict, "email already registered for this tenant")
		}
		return fmt.Errorf("create user: %w", err)
	}
	return nil
}

func (s *PostgresUserStore) GetByEmail(ctx context.Context, tenantID id.TenantID, email string) (*User, error) {
	query := fmt.Sprintf("SELECT %s FROM users WHERE tenant_id = $1 AND email = $2", userColumns)
	return s.scanOne(s.db.QueryRowContext(ctx, query, uuid.UUID(tenantID), normalizeEmail(email)))
}

func (s *PostgresUserStore) GetByID(ctx context.Context, tenantID id.TenantID, userID id.PrincipalID) (*User, error) {
	query := fmt.Sprintf("SELECT %s FROM users WHERE tenant_id = $1 AND id = $2", userColumns)
	return s.scanOne(s.db.QueryRowContext(ctx, query, uuid.UUID(tenantID), uuid.UUID(userID)))
}

func (s *PostgresUserStore) CountByTenant(ctx context.Context, tenantID id.TenantID) (int64, error) {
	var n int64
	err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM users WHERE tenant_id = $1", uuid.UUID(tenantID)).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count users: %w", err)
	}
	return n, nil
}

func (s *PostgresUserStore) scanOne(row *sql.Row) (*User, error) {
	var (
		u      User
		userID uuid.UUID
		tenant uuid.UUID
		role   string
	)
	err := row.Scan(&userID, &tenant, &u.Email, &u.PasswordHash, &role, &u.CreatedAt, &u.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan user: %w", err)
	}
	u.ID = id.PrincipalID(userID)
	u.TenantID = id.TenantID(tenant)
	u.Role = id.Role(role)
	return &u, nil
}

// PostgresRefreshTokenStore tracks refresh tokens by JTI.
type PostgresRefreshTokenStore struct {
	db *sql.DB
}

func NewPostgresRefreshTokenStore(db *sql.DB) *PostgresRefreshTokenStore {
	return &PostgresRefreshTokenStore{db: db}
}

func (s *PostgresRefreshTokenStore) Save(ctx context.Context, rec *RefreshTokenRecord) error {
	query := `
		INSERT INTO refresh_tokens (jti, principal_id, tenant_id, expires_at, revoked, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`
	_, err := s.db.ExecContext(ctx, query,
		rec.JTI,
		uuid.UUID(rec.PrincipalID),
		uuid.UUID(rec.TenantID),
		rec.ExpiresAt,
		rec.Revoked,
		rec.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("save refresh token: %w", err)
	}
	return nil
}

func (s *PostgresRefreshTokenStore) Get(ctx context.Context, jti string) (*RefreshTokenRecord, error) {
	var (
		rec       RefreshTokenRecord
		principal uuid.UUID
		tenant    uuid.UUID
	)
	query := "SELECT jti, principal_id, tenant_id, expires_at, revoked, created_at FROM refresh_tokens WHERE jti = $1"
	err := s.db.QueryRowContext(ctx, query, jti).Scan(&rec.JTI, &principal, &tenant, &rec.ExpiresAt, &rec.Revoked, &rec.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get refresh token: %w", err)
	}
	rec.PrincipalID = id.PrincipalID(principal)
	rec.TenantID = id.TenantID(tenant)
	return &rec, nil
}

func (s *PostgresRefreshTokenStore) Revoke(ctx context.Context, jti string) error {
	res, err := s.db.ExecContext(ctx, "UPDATE refresh_tokens SET revoked = TRUE WHERE jti = $1", jti)
	if err != nil {
		return fmt.Errorf("revoke refresh token: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PostgresRefreshTokenStore) RevokeByPrincipal(ctx context.Context, principalID id.PrincipalID) (int, error) {
	res, err := s.db.ExecContext(ctx,
		"UPDATE refresh_tokens SET revoked = TRUE WHERE principal_id = $1 AND NOT revoked",
		uuid.UUID(principalID))
	if err != nil {
		return 0, fmt.Errorf("revoke tokens by principal: %w", err)
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

func (s *PostgresRefreshTokenStore) RevokeByTenant(ctx context.Context, tenantID id.TenantID) (int, error) {
	res, err := s.db.ExecContext(ctx,
		"UPDATE refresh_tokens SET revoked = TRUE WHERE tenant_id = $1 AND NOT revoked",
		uuid.UUID(tenantID))
	if err != nil {
		return 0, fmt.Errorf("revoke tokens by tenant: %w", err)
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

func (s *PostgresRefreshTokenStore) DeleteExpired(ctx context.Context, now time.Time) (int, error) {
	res, err := s.db.ExecContext(ctx, "DELETE FROM refresh_tokens WHERE expires_at < $1", now)
	if err != nil {
		return 0, fmt.Errorf("delete expired refresh tokens: %w", err)
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

// PostgresAPIKeyStore persists tenant API keys.
type PostgresAPIKeyStore struct {
	db *sql.DB
}

func NewPostgresAPIKeyStore(db *sql.DB) *PostgresAPIKeyStore {
	return &PostgresAPIKeyStore{db: db}
}

const apiKeyColumns = "key_id, tenant_id, name, secret_hash, role, revoked, created_at, last_used_at"

func (s *PostgresAPIKeyStore) Create(ctx context.Context, rec *APIKeyRecord) error {
	query := `
		INSERT INTO api_keys (key_id, tenant_id, name, secret_hash, role, revoked, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`
	_, err := s.db.ExecContext(ctx, query,
		string(rec.KeyID),
		uuid.UUID(rec.TenantID),
		rec.Name,
		rec.SecretHash,
		string(rec.Role),
		rec.Revoked,
		rec.CreatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return dErrors.New(dErrors.CodeConflict, "api key id already exists")
		}
		return fmt.Errorf("create api key: %w", err)
	}
	return nil
}

func (s *PostgresAPIKeyStore) GetByKeyID(ctx context.Context, keyID id.APIKeyID) (*APIKeyRecord, error) {
	query := fmt.Sprintf("SELECT %s FROM api_keys WHERE key_id = $1", apiKeyColumns)
	rec, err := scanAPIKey(s.db.QueryRowContext(ctx, query, string(keyID)))
	if err != nil {
		return nil, err
	}
	return rec, nil
}

func (s *PostgresAPIKeyStore) TouchLastUsed(ctx context.Context, keyID id.APIKeyID, at time.Time) error {
	res, err := s.db.ExecContext(ctx, "UPDATE api_keys SET last_used_at = $1 WHERE key_id = $2", at, string(keyID))
	if err != nil {
		return fmt.Errorf("touch api key: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PostgresAPIKeyStore) RevokeByTenant(ctx context.Context, tenantID id.TenantID) (int, error) {
	res, err := s.db.ExecContext(ctx,
		"UPDATE api_keys SET revoked = TRUE WHERE tenant_id = $1 AND NOT revoked",
		uuid.UUID(tenantID))
	if err != nil {
		return 0, fmt.Errorf("revoke api keys by tenant: %w", err)
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

func (s *PostgresAPIKeyStore) ListByTenant(ctx context.Context, tenantID id.TenantID) ([]APIKeyRecord, error) {
	query := fmt.Sprintf("SELECT %s FROM api_keys WHERE tenant_id = $1 ORDER BY created_at", apiKeyColumns)
	rows, err := s.db.QueryContext(ctx, query, uuid.UUID(tenantID))
	if err != nil {
		return nil, fmt.Errorf("list api keys: %w", err)
	}
	defer rows.Close() //nolint:errcheck

	var out []APIKeyRecord
	for rows.Next() {
		rec, err := scanAPIKey(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *rec)
	}
	return out, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanAPIKey(row rowScanner) (*APIKeyRecord, error) {
	var (
		rec      APIKeyRecord
		keyID    string
		tenant   uuid.UUID
		role     string
		lastUsed sql.NullTime
	)
	err := row.Scan(&keyID, &tenant, &rec.Name, &rec.SecretHash, &role, &rec.Revoked, &rec.CreatedAt, &lastUsed)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan api key: %w", err)
	}
	rec.KeyID = id.APIKeyID(keyID)
	rec.TenantID = id.TenantID(tenant)
	rec.Role = id.Role(role)
	if lastUsed.Valid {
		t := lastUsed.Time
		rec.LastUsedAt = &t
	}
	return &rec, nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}
