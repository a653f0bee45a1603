package audit

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"

	id "tenantgate/pkg/domain"
)

// seqRetries bounds how many times an append retries when concurrent inserts
// for the same tenant race to the same sequence number.
const seqRetries = 5

// PostgresStore persists audit entries in PostgreSQL. The table carries no
// UPDATE or DELETE path in this codebase; retention purges run externally.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgres constructs a PostgreSQL-backed audit store.
func NewPostgres(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) Append(ctx context.Context, entry *Entry) error {
	meta, err := json.Marshal(entry.Metadata)
	if err != nil {
		return fmt.Errorf("marshal audit metadata: %w", err)
	}
	if entry.ID == (id.AuditID{}) {
		entry.ID = id.NewAuditID()
	}

	// The per-tenant sequence is computed inside the insert. Two concurrent
	// appends for a tenant can read the same MAX and collide on the
	// UNIQUE(tenant_id, seq) guard; the loser retries with a fresh read
	// rather than dropping the entry.
	query := `
		INSERT INTO audit_entries
			(id, tenant_id, seq, time, actor, actor_kind, action, outcome, security, ip, user_agent, request_id, metadata)
		VALUES
			($1, $2,
			 (SELECT COALESCE(MAX(seq), 0) + 1 FROM audit_entries WHERE tenant_id = $2),
			 $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		RETURNING seq
	`
	for attempt := 0; attempt < seqRetries; attempt++ {
		err = s.db.QueryRowContext(ctx, query,
			uuid.UUID(entry.ID),
			uuid.UUID(entry.TenantID),
			entry.Time,
			entry.Actor,
			string(entry.ActorKind),
			entry.Action,
			string(entry.Outcome),
			entry.Security,
			entry.IP,
			entry.UserAgent,
			entry.RequestID,
			meta,
		).Scan(&entry.Seq)
		if err == nil {
			return nil
		}
		if !isSeqCollision(err) {
			return fmt.Errorf("append audit entry: %w", err)
		}
	}
	return fmt.Errorf("append audit entry: seq contention persisted across %d attempts: %w", seqRetries, err)
}

func isSeqCollision(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}

func (s *PostgresStore) ListByTenant(ctx context.Context, tenantID id.TenantID) ([]Entry, error) {
	query := `
		SELECT id, tenant_id, seq, time, actor, actor_kind, action, outcome, security, ip, user_agent, request_id, metadata
		FROM audit_entries
		WHERE tenant_id = $1
		ORDER BY seq
	`
	rows, err := s.db.QueryContext(ctx, query, uuid.UUID(tenantID))
	if err != nil {
		return nil, fmt.Errorf("list audit entries: %w", err)
	}
	defer rows.Close() //nolint:errcheck

	var result []Entry
	for rows.Next() {
		var (
			e         Entry
			entryID   uuid.UUID
			tenant    uuid.UUID
			actorKind string
			outcome   string
			meta      []byte
		)
		if err := rows.Scan(&entryID, &tenant, &e.Seq, &e.Time, &e.Actor, &actorKind, &e.Action, &outcome, &e.Security, &e.IP, &e.UserAgent, &e.RequestID, &meta); err != nil {
			return nil, fmt.Errorf("scan audit entry: %w", err)
		}
		e.ID = id.AuditID(entryID)
		e.TenantID = id.TenantID(tenant)
		e.ActorKind = ActorKind(actorKind)
		e.Outcome = Outcome(outcome)
		if len(meta) > 0 {
			if err := json.Unmarshal(meta, &e.Metadata); err != nil {
				return nil, fmt.Errorf("unmarshal audit metadata: %w", err)
			}
		}
		result = append(result, e)
	}
	return result, rows.Err()
}
