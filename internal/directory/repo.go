package directory

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/ej-follero/icct-sas-ver-1-sub010/internal/model"
)

// Repository reads identity data from Postgres.
type Repository struct {
	db *sql.DB
}

// NewRepository creates a repo.
func NewRepository(db *sql.DB) *Repository {
	return &Repository{db: db}
}

// Registration is one row of the badge registry: which user a card is
// currently assigned to.
type Registration struct {
	UserID int64
	Role   model.IdentityRole
}

// StudentByBadge looks a student up by the badge stamped on the student row.
func (r *Repository) StudentByBadge(ctx context.Context, badgeID string) (*model.Identity, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT s.id, s.user_id, s.full_name, s.status, s.department_id
		FROM students s
		WHERE s.rfid_tag = $1
	`, badgeID)
	return scanIdentity(row, model.RoleStudent, badgeID)
}

// InstructorByBadge looks an instructor up by badge.
func (r *Repository) InstructorByBadge(ctx context.Context, badgeID string) (*model.Identity, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT i.id, i.user_id, i.full_name, i.status, i.department_id
		FROM instructors i
		WHERE i.rfid_tag = $1
	`, badgeID)
	return scanIdentity(row, model.RoleInstructor, badgeID)
}

// ActiveRegistration returns the active registry assignment for a badge, if
// any. Retired assignments never resolve.
func (r *Repository) ActiveRegistration(ctx context.Context, badgeID string) (*Registration, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT c.user_id, c.user_role
		FROM rfid_cards c
		WHERE c.card_uid = $1 AND c.status = 'ACTIVE'
		ORDER BY c.assigned_at DESC
		LIMIT 1
	`, badgeID)
	var reg Registration
	if err := row.Scan(&reg.UserID, &reg.Role); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return &reg, nil
}

// StudentByID fetches a student identity by primary key. The badge on the
// returned identity is whatever the student row carries.
func (r *Repository) StudentByID(ctx context.Context, id int64) (*model.Identity, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT s.id, s.user_id, s.full_name, s.status, s.department_id, COALESCE(s.rfid_tag, '')
		FROM students s
		WHERE s.id = $1
	`, id)
	var ident model.Identity
	var dept sql.NullInt64
	if err := row.Scan(&ident.ID, &ident.UserID, &ident.Name, &ident.Status, &dept, &ident.BadgeID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	ident.Role = model.RoleStudent
	ident.DepartmentID = dept.Int64
	return &ident, nil
}

// StudentByUserID fetches a student identity by owning user.
func (r *Repository) StudentByUserID(ctx context.Context, userID int64, badgeID string) (*model.Identity, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT s.id, s.user_id, s.full_name, s.status, s.department_id
		FROM students s
		WHERE s.user_id = $1
	`, userID)
	return scanIdentity(row, model.RoleStudent, badgeID)
}

// InstructorByUserID fetches an instructor identity by owning user.
func (r *Repository) InstructorByUserID(ctx context.Context, userID int64, badgeID string) (*model.Identity, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT i.id, i.user_id, i.full_name, i.status, i.department_id
		FROM instructors i
		WHERE i.user_id = $1
	`, userID)
	return scanIdentity(row, model.RoleInstructor, badgeID)
}

// UpsertReader ensures a reader-device row exists; the gateway registers
// readers on first contact.
func (r *Repository) UpsertReader(ctx context.Context, deviceID string) error {
	if deviceID == "" {
		return errors.New("device id required")
	}
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO readers (device_id)
		VALUES ($1)
		ON CONFLICT (device_id) DO NOTHING
	`, deviceID)
	return err
}

// SaveRefreshToken stores a reader refresh token for rotation checks.
func (r *Repository) SaveRefreshToken(ctx context.Context, deviceID, token string, expiresAt time.Time) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO refresh_tokens (device_id, token, expires_at)
		VALUES ($1, $2, $3)
	`, deviceID, token, expiresAt)
	return err
}

func scanIdentity(row *sql.Row, role model.IdentityRole, badgeID string) (*model.Identity, error) {
	var id model.Identity
	var dept sql.NullInt64
	if err := row.Scan(&id.ID, &id.UserID, &id.Name, &id.Status, &dept); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	id.Role = role
	id.BadgeID = badgeID
	id.DepartmentID = dept.Int64
	return &id, nil
}
