package governance

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
)

type sqlStore struct {
	db *sqlx.DB
}

// NewSQLStore creates a PostgreSQL-backed request store.
func NewSQLStore(db *sqlx.DB) Store {
	return &sqlStore{db: db}
}

type requestRow struct {
	ID                   string         `db:"id"`
	UserID               string         `db:"user_id"`
	RequestedBy          string         `db:"requested_by"`
	RequestedPermissions pq.StringArray `db:"requested_permissions"`
	RequestedRoles       pq.StringArray `db:"requested_roles"`
	Reason               string         `db:"reason"`
	Justification        string         `db:"justification"`
	Status               string         `db:"status"`
	ApprovedBy           sql.NullString `db:"approved_by"`
	ApprovedAt           sql.NullTime   `db:"approved_at"`
	RejectedBy           sql.NullString `db:"rejected_by"`
	RejectedAt           sql.NullTime   `db:"rejected_at"`
	RejectionReason      sql.NullString `db:"rejection_reason"`
	ExpiredAt            sql.NullTime   `db:"expired_at"`
	Metadata             []byte         `db:"metadata"`
	CreatedAt            time.Time      `db:"created_at"`
	UpdatedAt            time.Time      `db:"updated_at"`
}

func timePtr(t sql.NullTime) *time.Time {
	if !t.Valid {
		return nil
	}
	v := t.Time.UTC()
	return &v
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *t, Valid: true}
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func (r requestRow) request() (AccessRequest, error) {
	req := AccessRequest{
		ID:                   r.ID,
		UserID:               r.UserID,
		RequestedBy:          r.RequestedBy,
		RequestedPermissions: []string(r.RequestedPermissions),
		RequestedRoles:       []string(r.RequestedRoles),
		Reason:               r.Reason,
		Justification:        r.Justification,
		Status:               Status(r.Status),
		ApprovedBy:           r.ApprovedBy.String,
		ApprovedAt:           timePtr(r.ApprovedAt),
		RejectedBy:           r.RejectedBy.String,
		RejectedAt:           timePtr(r.RejectedAt),
		RejectionReason:      r.RejectionReason.String,
		ExpiredAt:            timePtr(r.ExpiredAt),
		CreatedAt:            r.CreatedAt.UTC(),
		UpdatedAt:            r.UpdatedAt.UTC(),
	}
	if len(r.Metadata) > 0 {
		if err := json.Unmarshal(r.Metadata, &req.Metadata); err != nil {
			return AccessRequest{}, fmt.Errorf("failed to decode metadata of request %s: %w", r.ID, err)
		}
	}
	return req, nil
}

func toRequestRow(r AccessRequest) (requestRow, error) {
	md, err := json.Marshal(r.Metadata)
	if err != nil {
		return requestRow{}, fmt.Errorf("failed to encode request metadata: %w", err)
	}
	return requestRow{
		ID:                   r.ID,
		UserID:               r.UserID,
		RequestedBy:          r.RequestedBy,
		RequestedPermissions: pq.StringArray(r.RequestedPermissions),
		RequestedRoles:       pq.StringArray(r.RequestedRoles),
		Reason:               r.Reason,
		Justification:        r.Justification,
		Status:               string(r.Status),
		ApprovedBy:           nullString(r.ApprovedBy),
		ApprovedAt:           nullTime(r.ApprovedAt),
		RejectedBy:           nullString(r.RejectedBy),
		RejectedAt:           nullTime(r.RejectedAt),
		RejectionReason:      nullString(r.RejectionReason),
		ExpiredAt:            nullTime(r.ExpiredAt),
		Metadata:             md,
		CreatedAt:            r.CreatedAt,
		UpdatedAt:            r.UpdatedAt,
	}, nil
}

const requestColumns = `id, user_id, requested_by, requested_permissions, requested_roles, reason, justification, status,
	approved_by, approved_at, rejected_by, rejected_at, rejection_reason, expired_at, metadata, created_at, updated_at`

func (s *sqlStore) Create(ctx context.Context, r AccessRequest) error {
	row, err := toRequestRow(r)
	if err != nil {
		return err
	}
	_, err = s.db.NamedExecContext(ctx,
		`INSERT INTO access_requests (`+requestColumns+`)
		 VALUES (:id, :user_id, :requested_by, :requested_permissions, :requested_roles, :reason, :justification, :status,
		 :approved_by, :approved_at, :rejected_by, :rejected_at, :rejection_reason, :expired_at, :metadata, :created_at, :updated_at)`,
		row)
	return err
}

func (s *sqlStore) Get(ctx context.Context, id string) (AccessRequest, error) {
	var row requestRow
	if err := s.db.GetContext(ctx, &row, `SELECT `+requestColumns+` FROM access_requests WHERE id = $1`, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return AccessRequest{}, fmt.Errorf("%w: %s", ErrNotFound, id)
		}
		return AccessRequest{}, err
	}
	return row.request()
}

func (s *sqlStore) List(ctx context.Context, status Status) ([]AccessRequest, error) {
	query := `SELECT ` + requestColumns + ` FROM access_requests`
	var args []any
	if status != "" {
		query += ` WHERE status = $1`
		args = append(args, string(status))
	}
	query += ` ORDER BY created_at, id`

	var rows []requestRow
	if err := s.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, err
	}
	out := make([]AccessRequest, 0, len(rows))
	for _, row := range rows {
		r, err := row.request()
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, nil
}

func (s *sqlStore) Transition(ctx context.Context, r AccessRequest) error {
	row, err := toRequestRow(r)
	if err != nil {
		return err
	}
	res, err := s.db.NamedExecContext(ctx,
		`UPDATE access_requests SET status = :status, approved_by = :approved_by, approved_at = :approved_at,
		 rejected_by = :rejected_by, rejected_at = :rejected_at, rejection_reason = :rejection_reason,
		 expired_at = :expired_at, updated_at = :updated_at
		 WHERE id = :id AND status = 'pending'`, row)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		cur, err := s.Get(ctx, r.ID)
		if err != nil {
			return err
		}
		return fmt.Errorf("%w: request %s is %s", ErrInvalidState, r.ID, cur.Status)
	}
	return nil
}
