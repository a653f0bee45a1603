package registry

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"

	id "tenantgate/pkg/domain"
	dErrors "tenantgate/pkg/domain-errors"
)

// PostgresStore persists the tenant catalog in PostgreSQL.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgres constructs a PostgreSQL-backed tenant store.
func NewPostgres(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

const tenantColumns = `id, slug, name, status, plan, domain, database_url, encryption_key_ref, admin_email, created_at, updated_at, deleted_at`

func (s *PostgresStore) Create(ctx context.Context, rec *TenantRecord) error {
	if rec == nil {
		return fmt.Errorf("tenant record is required")
	}
	query := `
		INSERT INTO tenants (` + tenantColumns + `)
		VALUES ($1, $2, $3, $4, $5, NULLIF($6, ''), $7, $8, $9, $10, $11, $12)
	`
	_, err := s.db.ExecContext(ctx, query,
		uuid.UUID(rec.ID),
		string(rec.Slug),
		rec.Name,
		string(rec.Status),
		string(rec.Plan),
		rec.Domain,
		rec.DatabaseURL,
		rec.EncryptionKeyRef,
		rec.AdminEmail,
		rec.CreatedAt,
		rec.UpdatedAt,
		rec.DeletedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return dErrors.New(dErrors.CodeConflict, "tenant slug or domain already in use")
		}
		return fmt.Errorf("create tenant: %w", err)
	}
	return nil
}

func (s *PostgresStore) Update(ctx context.Context, rec *TenantRecord) error {
	query := `
		UPDATE tenants
		SET name = $2, status = $3, plan = $4, domain = NULLIF($5, ''),
		    database_url = $6, encryption_key_ref = $7, admin_email = $8,
		    updated_at = $9, deleted_at = $10
		WHERE id = $1
	`
	res, err := s.db.ExecContext(ctx, query,
		uuid.UUID(rec.ID),
		rec.Name,
		string(rec.Status),
		string(rec.Plan),
		rec.Domain,
		rec.DatabaseURL,
		rec.EncryptionKeyRef,
		rec.AdminEmail,
		rec.UpdatedAt,
		rec.DeletedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return dErrors.New(dErrors.CodeConflict, "tenant domain already in use")
		}
		return fmt.Errorf("update tenant: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update tenant: %w", err)
	}
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PostgresStore) GetByID(ctx context.Context, tenantID id.TenantID) (*TenantRecord, error) {
	query := `SELECT ` + tenantColumns + ` FROM tenants WHERE id = $1`
	return s.scanOne(s.db.QueryRowContext(ctx, query, uuid.UUID(tenantID)), "find tenant by id")
}

func (s *PostgresStore) GetBySlug(ctx context.Context, slug id.Slug) (*TenantRecord, error) {
	query := `SELECT ` + tenantColumns + ` FROM tenants WHERE slug = $1`
	return s.scanOne(s.db.QueryRowContext(ctx, query, string(slug)), "find tenant by slug")
}

func (s *PostgresStore) GetByDomain(ctx context.Context, domain string) (*TenantRecord, error) {
	query := `SELECT ` + tenantColumns + ` FROM tenants WHERE domain = $1`
	return s.scanOne(s.db.QueryRowContext(ctx, query, domain), "find tenant by domain")
}

func (s *PostgresStore) List(ctx context.Context) ([]*TenantRecord, error) {
	query := `SELECT ` + tenantColumns + ` FROM tenants ORDER BY created_at`
	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("list tenants: %w", err)
	}
	defer rows.Close() //nolint:errcheck

	var result []*TenantRecord
	for rows.Next() {
		rec, err := scanTenant(rows)
		if err != nil {
			return nil, fmt.Errorf("list tenants: %w", err)
		}
		result = append(result, rec)
	}
	return result, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func (s *PostgresStore) scanOne(row rowScanner, op string) (*TenantRecord, error) {
	rec, err := scanTenant(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return rec, nil
}

func scanTenant(row rowScanner) (*TenantRecord, error) {
	var (
		rec      TenantRecord
		tenantID uuid.UUID
		slug     string
		status   string
		plan     string
		domain   sql.NullString
	)
	err := row.Scan(
		&tenantID,
		&slug,
		&rec.Name,
		&status,
		&plan,
		&domain,
		&rec.DatabaseURL,
		&rec.EncryptionKeyRef,
		&rec.AdminEmail,
		&rec.CreatedAt,
		&rec.UpdatedAt,
		&rec.DeletedAt,
	)
	if err != nil {
		return nil, err
	}
	rec.ID = id.TenantID(tenantID)
	rec.Slug = id.Slug(slug)
	rec.Status = TenantStatus(status)
	rec.Plan = PlanTier(plan)
	rec.Domain = domain.String
	return &rec, nil
}

// isUniqueViolation checks for PostgreSQL unique constraint violations (SQLSTATE 23505).
func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}
