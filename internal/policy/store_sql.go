package policy

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

// NewSQLStore creates a PostgreSQL-backed policy store.
func NewSQLStore(db *sqlx.DB) Store {
	return &sqlStore{db: db}
}

type policyRow struct {
	ID               string    `db:"id"`
	Name             string    `db:"name"`
	Description      string    `db:"description"`
	Type             string    `db:"type"`
	Rules            []byte    `db:"rules"`
	IsActive         bool      `db:"is_active"`
	EnforcementLevel string    `db:"enforcement_level"`
	CreatedBy        string    `db:"created_by"`
	CreatedAt        time.Time `db:"created_at"`
	UpdatedAt        time.Time `db:"updated_at"`
}

func (r policyRow) policy() (Policy, error) {
	p := Policy{
		ID:               r.ID,
		Name:             r.Name,
		Description:      r.Description,
		Type:             Type(r.Type),
		IsActive:         r.IsActive,
		EnforcementLevel: EnforcementLevel(r.EnforcementLevel),
		CreatedBy:        r.CreatedBy,
		CreatedAt:        r.CreatedAt.UTC(),
		UpdatedAt:        r.UpdatedAt.UTC(),
	}
	if err := json.Unmarshal(r.Rules, &p.Rules); err != nil {
		return Policy{}, fmt.Errorf("failed to decode rules of policy %s: %w", r.ID, err)
	}
	return p, nil
}

func toPolicyRow(p Policy) (policyRow, error) {
	rules, err := json.Marshal(p.Rules)
	if err != nil {
		return policyRow{}, fmt.Errorf("failed to encode rules: %w", err)
	}
	return policyRow{
		ID:               p.ID,
		Name:             p.Name,
		Description:      p.Description,
		Type:             string(p.Type),
		Rules:            rules,
		IsActive:         p.IsActive,
		EnforcementLevel: string(p.EnforcementLevel),
		CreatedBy:        p.CreatedBy,
		CreatedAt:        p.CreatedAt,
		UpdatedAt:        p.UpdatedAt,
	}, nil
}

const policyColumns = `id, name, description, type, rules, is_active, enforcement_level, created_by, created_at, updated_at`

func (s *sqlStore) Create(ctx context.Context, p Policy) error {
	row, err := toPolicyRow(p)
	if err != nil {
		return err
	}
	_, err = s.db.NamedExecContext(ctx,
		`INSERT INTO security_policies (`+policyColumns+`)
		 VALUES (:id, :name, :description, :type, :rules, :is_active, :enforcement_level, :created_by, :created_at, :updated_at)`,
		row)
	var pqErr *pq.Error
	if errors.As(err, &pqErr) && pqErr.Code == "23505" {
		return fmt.Errorf("%w: %s", ErrAlreadyExists, p.ID)
	}
	return err
}

func (s *sqlStore) Get(ctx context.Context, id string) (Policy, error) {
	var row policyRow
	err := s.db.GetContext(ctx, &row, `SELECT `+policyColumns+` FROM security_policies WHERE id = $1`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return Policy{}, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if err != nil {
		return Policy{}, err
	}
	return row.policy()
}

func (s *sqlStore) List(ctx context.Context) ([]Policy, error) {
	var rows []policyRow
	if err := s.db.SelectContext(ctx, &rows, `SELECT `+policyColumns+` FROM security_policies ORDER BY id`); err != nil {
		return nil, err
	}
	out := make([]Policy, 0, len(rows))
	for _, row := range rows {
		p, err := row.policy()
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, nil
}

func (s *sqlStore) Update(ctx context.Context, p Policy) error {
	row, err := toPolicyRow(p)
	if err != nil {
		return err
	}
	res, err := s.db.NamedExecContext(ctx,
		`UPDATE security_policies SET name = :name, description = :description, type = :type, rules = :rules,
		 is_active = :is_active, enforcement_level = :enforcement_level, updated_at = :updated_at
		 WHERE id = :id`, row)
	if err != nil {
		return err
	}
	return expectRow(res, p.ID)
}

func (s *sqlStore) Delete(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM security_policies WHERE id = $1`, id)
	if err != nil {
		return err
	}
	return expectRow(res, id)
}

func expectRow(res sql.Result, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return nil
}
