package rbac

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

// NewSQLStore creates a PostgreSQL-backed RBAC store.
func NewSQLStore(db *sqlx.DB) Store {
	return &sqlStore{db: db}
}

const uniqueViolation = "23505"

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == uniqueViolation
}

type roleRow struct {
	ID           string         `db:"id"`
	Name         string         `db:"name"`
	Description  string         `db:"description"`
	Type         string         `db:"type"`
	Permissions  []byte         `db:"permissions"`
	Hierarchy    int            `db:"hierarchy"`
	InheritsFrom pq.StringArray `db:"inherits_from"`
	IsActive     bool           `db:"is_active"`
	CreatedBy    string         `db:"created_by"`
	CreatedAt    time.Time      `db:"created_at"`
	UpdatedAt    time.Time      `db:"updated_at"`
}

func (r roleRow) role() (Role, error) {
	role := Role{
		ID:           r.ID,
		Name:         r.Name,
		Description:  r.Description,
		Type:         RoleType(r.Type),
		Hierarchy:    r.Hierarchy,
		InheritsFrom: []string(r.InheritsFrom),
		IsActive:     r.IsActive,
		CreatedBy:    r.CreatedBy,
		CreatedAt:    r.CreatedAt.UTC(),
		UpdatedAt:    r.UpdatedAt.UTC(),
	}
	if len(r.Permissions) > 0 {
		if err := json.Unmarshal(r.Permissions, &role.Permissions); err != nil {
			return Role{}, fmt.Errorf("failed to decode permissions of role %s: %w", r.ID, err)
		}
	}
	return role, nil
}

func toRoleRow(r Role) (roleRow, error) {
	perms, err := json.Marshal(r.Permissions)
	if err != nil {
		return roleRow{}, fmt.Errorf("failed to encode permissions: %w", err)
	}
	return roleRow{
		ID:           r.ID,
		Name:         r.Name,
		Description:  r.Description,
		Type:         string(r.Type),
		Permissions:  perms,
		Hierarchy:    r.Hierarchy,
		InheritsFrom: pq.StringArray(r.InheritsFrom),
		IsActive:     r.IsActive,
		CreatedBy:    r.CreatedBy,
		CreatedAt:    r.CreatedAt,
		UpdatedAt:    r.UpdatedAt,
	}, nil
}

const roleColumns = `id, name, description, type, permissions, hierarchy, inherits_from, is_active, created_by, created_at, updated_at`

func (s *sqlStore) CreateRole(ctx context.Context, r Role) error {
	row, err := toRoleRow(r)
	if err != nil {
		return err
	}
	_, err = s.db.NamedExecContext(ctx,
		`INSERT INTO roles (`+roleColumns+`)
		 VALUES (:id, :name, :description, :type, :permissions, :hierarchy, :inherits_from, :is_active, :created_by, :created_at, :updated_at)`,
		row)
	if isUniqueViolation(err) {
		return fmt.Errorf("%w: role %s", ErrAlreadyExists, r.Name)
	}
	return err
}

func (s *sqlStore) getRole(ctx context.Context, query string, arg any) (Role, error) {
	var row roleRow
	if err := s.db.GetContext(ctx, &row, query, arg); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Role{}, fmt.Errorf("%w: role %v", ErrNotFound, arg)
		}
		return Role{}, err
	}
	return row.role()
}

func (s *sqlStore) GetRole(ctx context.Context, id string) (Role, error) {
	return s.getRole(ctx, `SELECT `+roleColumns+` FROM roles WHERE id = $1`, id)
}

func (s *sqlStore) GetRoleByName(ctx context.Context, name string) (Role, error) {
	return s.getRole(ctx, `SELECT `+roleColumns+` FROM roles WHERE lower(name) = lower($1)`, name)
}

func (s *sqlStore) ListRoles(ctx context.Context) ([]Role, error) {
	var rows []roleRow
	if err := s.db.SelectContext(ctx, &rows, `SELECT `+roleColumns+` FROM roles ORDER BY hierarchy DESC, id`); err != nil {
		return nil, err
	}
	roles := make([]Role, 0, len(rows))
	for _, row := range rows {
		r, err := row.role()
		if err != nil {
			return nil, err
		}
		roles = append(roles, r)
	}
	return roles, nil
}

func (s *sqlStore) UpdateRole(ctx context.Context, r Role) error {
	row, err := toRoleRow(r)
	if err != nil {
		return err
	}
	res, err := s.db.NamedExecContext(ctx,
		`UPDATE roles SET name = :name, description = :description, permissions = :permissions,
		 hierarchy = :hierarchy, inherits_from = :inherits_from, is_active = :is_active, updated_at = :updated_at
		 WHERE id = :id`, row)
	if isUniqueViolation(err) {
		return fmt.Errorf("%w: role name %q", ErrAlreadyExists, r.Name)
	}
	if err != nil {
		return err
	}
	return expectRow(res, r.ID)
}

func (s *sqlStore) DeleteRole(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM roles WHERE id = $1`, id)
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
		return fmt.Errorf("%w: role %s", ErrNotFound, id)
	}
	return nil
}

type assignmentRow struct {
	ID         string         `db:"id"`
	UserID     string         `db:"user_id"`
	RoleID     string         `db:"role_id"`
	AssignedBy string         `db:"assigned_by"`
	AssignedAt time.Time      `db:"assigned_at"`
	ExpiresAt  sql.NullTime   `db:"expires_at"`
	IsActive   bool           `db:"is_active"`
	RemovedBy  sql.NullString `db:"removed_by"`
	RemovedAt  sql.NullTime   `db:"removed_at"`
	Metadata   []byte         `db:"metadata"`
}

func (r assignmentRow) assignment() (Assignment, error) {
	a := Assignment{
		ID:         r.ID,
		UserID:     r.UserID,
		RoleID:     r.RoleID,
		AssignedBy: r.AssignedBy,
		AssignedAt: r.AssignedAt.UTC(),
		IsActive:   r.IsActive,
		RemovedBy:  r.RemovedBy.String,
	}
	if r.ExpiresAt.Valid {
		t := r.ExpiresAt.Time.UTC()
		a.ExpiresAt = &t
	}
	if r.RemovedAt.Valid {
		t := r.RemovedAt.Time.UTC()
		a.RemovedAt = &t
	}
	if len(r.Metadata) > 0 {
		if err := json.Unmarshal(r.Metadata, &a.Metadata); err != nil {
			return Assignment{}, fmt.Errorf("failed to decode assignment metadata: %w", err)
		}
	}
	return a, nil
}

const assignmentColumns = `id, user_id, role_id, assigned_by, assigned_at, expires_at, is_active, removed_by, removed_at, metadata`

func scanAssignments(rows []assignmentRow) ([]Assignment, error) {
	out := make([]Assignment, 0, len(rows))
	for _, row := range rows {
		a, err := row.assignment()
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, nil
}

func (s *sqlStore) UpsertAssignment(ctx context.Context, a Assignment, rm Removal) ([]Assignment, error) {
	metadata, err := json.Marshal(a.Metadata)
	if err != nil {
		return nil, fmt.Errorf("failed to encode assignment metadata: %w", err)
	}
	var expires sql.NullTime
	if a.ExpiresAt != nil {
		expires = sql.NullTime{Time: *a.ExpiresAt, Valid: true}
	}

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback() }()

	var prior []assignmentRow
	if err := tx.SelectContext(ctx, &prior,
		`UPDATE role_assignments
		 SET is_active = FALSE, removed_by = $3, removed_at = $4,
		     metadata = jsonb_set(metadata, '{removal_reason}', to_jsonb($5::text))
		 WHERE user_id = $1 AND role_id = $2 AND is_active
		 RETURNING `+assignmentColumns,
		a.UserID, a.RoleID, rm.By, rm.At, rm.Reason); err != nil {
		return nil, fmt.Errorf("failed to supersede assignment: %w", err)
	}

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO role_assignments (`+assignmentColumns+`)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, NULL, NULL, $8)`,
		a.ID, a.UserID, a.RoleID, a.AssignedBy, a.AssignedAt, expires, a.IsActive, metadata); err != nil {
		if isUniqueViolation(err) {
			return nil, fmt.Errorf("%w: concurrent assignment of %s to %s", ErrInvalidState, a.RoleID, a.UserID)
		}
		return nil, fmt.Errorf("failed to insert assignment: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return scanAssignments(prior)
}

func (s *sqlStore) RemoveAssignment(ctx context.Context, userID, roleID string, rm Removal) (Assignment, bool, error) {
	var rows []assignmentRow
	if err := s.db.SelectContext(ctx, &rows,
		`UPDATE role_assignments
		 SET is_active = FALSE, removed_by = $3, removed_at = $4,
		     metadata = jsonb_set(metadata, '{removal_reason}', to_jsonb($5::text))
		 WHERE user_id = $1 AND role_id = $2 AND is_active
		 RETURNING `+assignmentColumns,
		userID, roleID, rm.By, rm.At, rm.Reason); err != nil {
		return Assignment{}, false, err
	}
	if len(rows) == 0 {
		return Assignment{}, false, nil
	}
	a, err := rows[0].assignment()
	return a, err == nil, err
}

func (s *sqlStore) ListAssignments(ctx context.Context, f AssignmentFilter) ([]Assignment, error) {
	query := `SELECT ` + assignmentColumns + ` FROM role_assignments
		WHERE ($1 = '' OR user_id = $1) AND ($2 = '' OR role_id = $2) AND (NOT $3 OR is_active)
		ORDER BY assigned_at, id`
	var rows []assignmentRow
	if err := s.db.SelectContext(ctx, &rows, query, f.UserID, f.RoleID, f.ActiveOnly); err != nil {
		return nil, err
	}
	return scanAssignments(rows)
}

func (s *sqlStore) ExpireLapsed(ctx context.Context, now time.Time, rm Removal) ([]Assignment, error) {
	var rows []assignmentRow
	if err := s.db.SelectContext(ctx, &rows,
		`UPDATE role_assignments
		 SET is_active = FALSE, removed_by = $2, removed_at = $3,
		     metadata = jsonb_set(metadata, '{removal_reason}', to_jsonb($4::text))
		 WHERE is_active AND expires_at IS NOT NULL AND expires_at <= $1
		 RETURNING `+assignmentColumns,
		now, rm.By, rm.At, rm.Reason); err != nil {
		return nil, err
	}
	return scanAssignments(rows)
}
