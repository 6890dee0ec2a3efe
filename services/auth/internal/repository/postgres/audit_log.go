package postgres

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/karaca/identity/services/auth/internal/domain"
)

// AuditLogRepository implements repository.AuditLogRepository using PostgreSQL.
// Rows are append-only; the single permitted in-place update is anonymization.
type AuditLogRepository struct {
	db DB
}

// NewAuditLogRepository creates a new PostgreSQL-backed audit log repository.
func NewAuditLogRepository(db DB) *AuditLogRepository {
	return &AuditLogRepository{db: db}
}

const auditColumns = `id, user_id, performed_by, action, resource, ip_address, user_agent,
		metadata, success, error_message, created_at`

// Append inserts a new audit row.
func (r *AuditLogRepository) Append(ctx context.Context, e *domain.AuditLog) error {
	query := `
		INSERT INTO audit_logs (id, user_id, performed_by, action, resource, ip_address,
			user_agent, metadata, success, error_message, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`

	metadata := e.Metadata
	if metadata == nil {
		metadata = map[string]any{}
	}

	_, err := querier(ctx, r.db).Exec(ctx, query,
		e.ID, e.UserID, e.PerformedBy, e.Action, e.Resource, e.IPAddress,
		e.UserAgent, metadata, e.Success, e.ErrorMessage, e.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert audit log: %w", err)
	}

	return nil
}

// ListByUser returns a page of the user's audit rows, newest first, plus the
// total count.
func (r *AuditLogRepository) ListByUser(ctx context.Context, userID string, offset, limit int) ([]domain.AuditLog, int, error) {
	return r.Query(ctx, domain.AuditFilter{UserID: userID}, offset, limit)
}

// Query returns a filtered page of audit rows plus the total count matching
// the filter.
func (r *AuditLogRepository) Query(ctx context.Context, f domain.AuditFilter, offset, limit int) ([]domain.AuditLog, int, error) {
	where, args := buildAuditWhere(f)
	q := querier(ctx, r.db)

	var total int
	countQuery := `SELECT COUNT(*) FROM audit_logs` + where
	if err := q.QueryRow(ctx, countQuery, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count audit logs: %w", err)
	}

	query := `SELECT ` + auditColumns + ` FROM audit_logs` + where +
		` ORDER BY created_at DESC OFFSET $` + strconv.Itoa(len(args)+1) +
		` LIMIT $` + strconv.Itoa(len(args)+2)
	args = append(args, offset, limit)

	rows, err := q.Query(ctx, query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("query audit logs: %w", err)
	}
	defer rows.Close()

	var entries []domain.AuditLog
	for rows.Next() {
		var e domain.AuditLog
		if err := scanAuditRow(rows, &e); err != nil {
			return nil, 0, fmt.Errorf("scan audit row: %w", err)
		}
		entries = append(entries, e)
	}

	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("iterate audit rows: %w", err)
	}

	if entries == nil {
		entries = []domain.AuditLog{}
	}

	return entries, total, nil
}

// AnonymizeForUser overwrites identifying fields on every row of the user
// with the anonymization sentinel. The user id itself is preserved so
// aggregate queries keep working.
func (r *AuditLogRepository) AnonymizeForUser(ctx context.Context, userID string) error {
	query := `
		UPDATE audit_logs
		SET resource = $1, ip_address = $1, user_agent = $1, metadata = $2
		WHERE user_id = $3`

	_, err := querier(ctx, r.db).Exec(ctx, query,
		domain.AnonymizedSentinel, map[string]any{"anonymized": true}, userID)
	if err != nil {
		return fmt.Errorf("anonymize audit logs: %w", err)
	}

	return nil
}

// DeleteOlderThan removes rows created before cutoff and returns the count.
func (r *AuditLogRepository) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	ct, err := querier(ctx, r.db).Exec(ctx, `DELETE FROM audit_logs WHERE created_at < $1`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("delete old audit logs: %w", err)
	}
	return ct.RowsAffected(), nil
}

// buildAuditWhere translates a filter into a WHERE clause and its arguments.
func buildAuditWhere(f domain.AuditFilter) (string, []any) {
	var conds []string
	var args []any

	add := func(cond string, arg any) {
		args = append(args, arg)
		conds = append(conds, fmt.Sprintf(cond, len(args)))
	}

	if f.UserID != "" {
		add("user_id = $%d", f.UserID)
	}
	if f.Action != "" {
		add("action = $%d", f.Action)
	}
	if f.Success != nil {
		add("success = $%d", *f.Success)
	}
	if !f.From.IsZero() {
		add("created_at >= $%d", f.From)
	}
	if !f.To.IsZero() {
		add("created_at <= $%d", f.To)
	}

	if len(conds) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(conds, " AND "), args
}

func scanAuditRow(row pgx.Row, e *domain.AuditLog) error {
	return row.Scan(
		&e.ID,
		&e.UserID,
		&e.PerformedBy,
		&e.Action,
		&e.Resource,
		&e.IPAddress,
		&e.UserAgent,
		&e.Metadata,
		&e.Success,
		&e.ErrorMessage,
		&e.CreatedAt,
	)
}
