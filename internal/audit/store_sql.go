package audit

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
)

type sqlStore struct {
	db *sqlx.DB
}

// NewSQLStore creates a PostgreSQL-backed audit store.
func NewSQLStore(db *sqlx.DB) Store {
	return &sqlStore{db: db}
}

type row struct {
	ID            string         `db:"id"`
	Timestamp     time.Time      `db:"timestamp"`
	UserID        string         `db:"user_id"`
	Action        string         `db:"action"`
	Resource      sql.NullString `db:"resource"`
	ResourceID    sql.NullString `db:"resource_id"`
	Success       bool           `db:"success"`
	FailureReason sql.NullString `db:"failure_reason"`
	RiskScore     sql.NullInt64  `db:"risk_score"`
	Metadata      []byte         `db:"metadata"`
	IPAddress     sql.NullString `db:"ip_address"`
	UserAgent     sql.NullString `db:"user_agent"`
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func (r row) entry() (Entry, error) {
	e := Entry{
		ID:            r.ID,
		Timestamp:     r.Timestamp,
		UserID:        r.UserID,
		Action:        Action(r.Action),
		Resource:      r.Resource.String,
		ResourceID:    r.ResourceID.String,
		Success:       r.Success,
		FailureReason: r.FailureReason.String,
		IPAddress:     r.IPAddress.String,
		UserAgent:     r.UserAgent.String,
	}
	if r.RiskScore.Valid {
		score := int(r.RiskScore.Int64)
		e.RiskScore = &score
	}
	if len(r.Metadata) > 0 {
		if err := json.Unmarshal(r.Metadata, &e.Metadata); err != nil {
			return Entry{}, fmt.Errorf("failed to decode audit metadata: %w", err)
		}
	}
	return e, nil
}

// Append only inserts; the sweeper trims the table to the cap.
func (s *sqlStore) Append(ctx context.Context, e Entry, _ int) error {
	var metadata []byte
	if e.Metadata != nil {
		b, err := json.Marshal(e.Metadata)
		if err != nil {
			return fmt.Errorf("failed to serialize metadata: %w", err)
		}
		metadata = b
	}
	var risk sql.NullInt64
	if e.RiskScore != nil {
		risk = sql.NullInt64{Int64: int64(*e.RiskScore), Valid: true}
	}

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO audit_log (id, timestamp, user_id, action, resource, resource_id, success, failure_reason, risk_score, metadata, ip_address, user_agent)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`,
		e.ID, e.Timestamp, e.UserID, string(e.Action), nullString(e.Resource), nullString(e.ResourceID),
		e.Success, nullString(e.FailureReason), risk, metadata, nullString(e.IPAddress), nullString(e.UserAgent))
	if err != nil {
		return fmt.Errorf("failed to insert audit entry: %w", err)
	}
	return nil
}

func (s *sqlStore) Query(ctx context.Context, f Filter) ([]Entry, int, error) {
	var (
		where []string
		args  []interface{}
	)
	add := func(clause string, arg interface{}) {
		args = append(args, arg)
		where = append(where, strings.Replace(clause, "?", "$"+strconv.Itoa(len(args)), 1))
	}
	if f.UserID != "" {
		add("user_id = ?", f.UserID)
	}
	if f.Resource != "" {
		add("resource = ?", f.Resource)
	}
	if f.ResourceID != "" {
		add("resource_id = ?", f.ResourceID)
	}
	if f.Action != "" {
		add("action = ?", string(f.Action))
	}
	if !f.From.IsZero() {
		add("timestamp >= ?", f.From)
	}
	if !f.To.IsZero() {
		add("timestamp <= ?", f.To)
	}
	if f.Success != nil {
		add("success = ?", *f.Success)
	}

	clause := ""
	if len(where) > 0 {
		clause = " WHERE " + strings.Join(where, " AND ")
	}

	var total int
	if err := s.db.GetContext(ctx, &total, `SELECT COUNT(*) FROM audit_log`+clause, args...); err != nil {
		return nil, 0, err
	}

	query := `SELECT * FROM audit_log` + clause + ` ORDER BY timestamp DESC, id DESC`
	if f.Limit > 0 {
		args = append(args, f.Limit)
		query += ` LIMIT $` + strconv.Itoa(len(args))
	}
	if f.Offset > 0 {
		args = append(args, f.Offset)
		query += ` OFFSET $` + strconv.Itoa(len(args))
	}

	var rows []row
	if err := s.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, 0, err
	}
	entries := make([]Entry, 0, len(rows))
	for _, r := range rows {
		e, err := r.entry()
		if err != nil {
			return nil, 0, err
		}
		entries = append(entries, e)
	}
	return entries, total, nil
}

func (s *sqlStore) GetEvent(ctx context.Context, id string) (Entry, error) {
	var r row
	err := s.db.GetContext(ctx, &r, `SELECT * FROM audit_log WHERE id = $1`, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Entry{}, fmt.Errorf("%w: %s", ErrNotFound, id)
		}
		return Entry{}, err
	}
	return r.entry()
}

func (s *sqlStore) PruneBefore(ctx context.Context, cutoff time.Time) (int, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM audit_log WHERE timestamp < $1`, cutoff)
	if err != nil {
		return 0, err
	}
	n, err := res.RowsAffected()
	return int(n), err
}

func (s *sqlStore) Trim(ctx context.Context, maxEntries int) (int, error) {
	if maxEntries <= 0 {
		return 0, nil
	}
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM audit_log WHERE id IN (
			SELECT id FROM audit_log ORDER BY timestamp DESC, id DESC OFFSET $1
		)`, maxEntries)
	if err != nil {
		return 0, fmt.Errorf("failed to trim audit log: %w", err)
	}
	n, err := res.RowsAffected()
	return int(n), err
}

func (s *sqlStore) Count(ctx context.Context) (int, error) {
	var n int
	err := s.db.GetContext(ctx, &n, `SELECT COUNT(*) FROM audit_log`)
	return n, err
}
