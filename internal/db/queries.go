package db

import (
	"database/sql"
	"strings"
	"time"

	"github.com/hpungsan/drip/internal/email"
	"github.com/hpungsan/drip/internal/errors"
)

// ErrUniqueConstraint is returned when an insert violates a UNIQUE constraint.
var ErrUniqueConstraint = &errors.DripError{
	Code:    "UNIQUE_CONSTRAINT",
	Status:  409,
	Message: "unique constraint violation",
}

// User is a row of the users table.
type User struct {
	ID        string
	Email     string
	IsPro     bool
	CreatedAt int64
}

// InsertUser stores a new user.
func InsertUser(db *sql.DB, u *User) error {
	_, err := db.Exec(
		`INSERT INTO users (id, email, is_pro, created_at) VALUES (?, ?, ?, ?)`,
		u.ID, u.Email, u.IsPro, u.CreatedAt,
	)
	if err != nil {
		if isUniqueConstraintError(err) {
			return ErrUniqueConstraint
		}
		return errors.NewInternal(err)
	}
	return nil
}

// GetUserByEmail retrieves a user by normalized email.
func GetUserByEmail(db *sql.DB, emailAddr string) (*User, error) {
	return scanUser(db.QueryRow(
		`SELECT id, email, is_pro, created_at FROM users WHERE email = ?`, emailAddr,
	), emailAddr)
}

// GetUserByID retrieves a user by id.
func GetUserByID(db *sql.DB, id string) (*User, error) {
	return scanUser(db.QueryRow(
		`SELECT id, email, is_pro, created_at FROM users WHERE id = ?`, id,
	), id)
}

func scanUser(row *sql.Row, identifier string) (*User, error) {
	var u User
	err := row.Scan(&u.ID, &u.Email, &u.IsPro, &u.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, &errors.DripError{
			Code:    errors.ErrNotFound,
			Status:  404,
			Message: "user not found: " + identifier,
		}
	}
	if err != nil {
		return nil, errors.NewInternal(err)
	}
	return &u, nil
}

// SetUserPro sets the pro flag of a user.
func SetUserPro(db *sql.DB, userID string, pro bool) error {
	result, err := db.Exec(`UPDATE users SET is_pro = ? WHERE id = ?`, pro, userID)
	if err != nil {
		return errors.NewInternal(err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return errors.NewInternal(err)
	}
	if rowsAffected == 0 {
		return errors.NewNotFound(userID)
	}
	return nil
}

// InsertEmail stores a rewrite record.
func InsertEmail(db *sql.DB, rec *email.Record) error {
	_, err := db.Exec(`
		INSERT INTO emails (id, user_id, original, rewritten, roast, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`,
		rec.ID, rec.UserID, rec.Original, rec.Rewritten, toNullString(rec.Roast), rec.CreatedAt.UnixMilli(),
	)
	if err != nil {
		return errors.NewInternal(err)
	}
	return nil
}

// ListEmails returns a user's records newest first. limit <= 0 returns all.
func ListEmails(db *sql.DB, userID string, limit int) ([]email.Record, error) {
	query := `
		SELECT id, user_id, original, rewritten, roast, created_at
		FROM emails
		WHERE user_id = ?
		ORDER BY created_at DESC, id DESC
	`
	args := []any{userID}
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := db.Query(query, args...)
	if err != nil {
		return nil, errors.NewInternal(err)
	}
	defer rows.Close()

	recs := []email.Record{}
	for rows.Next() {
		var (
			rec       email.Record
			roast     sql.NullString
			createdAt int64
		)
		if err := rows.Scan(&rec.ID, &rec.UserID, &rec.Original, &rec.Rewritten, &roast, &createdAt); err != nil {
			return nil, errors.NewInternal(err)
		}
		rec.Roast = fromNullString(roast)
		rec.CreatedAt = time.UnixMilli(createdAt).UTC()
		recs = append(recs, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.NewInternal(err)
	}
	return recs, nil
}

// CountEmailsSince counts a user's records created at or after since.
func CountEmailsSince(db *sql.DB, userID string, since time.Time) (int, error) {
	var n int
	err := db.QueryRow(
		`SELECT COUNT(*) FROM emails WHERE user_id = ? AND created_at >= ?`,
		userID, since.UnixMilli(),
	).Scan(&n)
	if err != nil {
		return 0, errors.NewInternal(err)
	}
	return n, nil
}

// GetSessionUserID returns the signed-in user id, or "" when signed out.
func GetSessionUserID(db *sql.DB) (string, error) {
	var id string
	err := db.QueryRow(`SELECT user_id FROM session WHERE slot = 1`).Scan(&id)
	if err == sql.ErrNoRows {
		return "", nil
	}
	if err != nil {
		return "", errors.NewInternal(err)
	}
	return id, nil
}

// SetSessionUserID stores the signed-in user, replacing any previous one.
func SetSessionUserID(db *sql.DB, userID string, at time.Time) error {
	_, err := db.Exec(`
		INSERT INTO session (slot, user_id, signed_in_at) VALUES (1, ?, ?)
		ON CONFLICT(slot) DO UPDATE SET user_id = excluded.user_id, signed_in_at = excluded.signed_in_at
	`, userID, at.Unix())
	if err != nil {
		return errors.NewInternal(err)
	}
	return nil
}

// ClearSession removes the signed-in user.
func ClearSession(db *sql.DB) error {
	if _, err := db.Exec(`DELETE FROM session WHERE slot = 1`); err != nil {
		return errors.NewInternal(err)
	}
	return nil
}

// isUniqueConstraintError checks if the error is a SQLite UNIQUE constraint violation.
func isUniqueConstraintError(err error) bool {
	if err == nil {
		return false
	}
	return strings.Contains(err.Error(), "UNIQUE constraint failed")
}

// toNullString converts a *string to sql.NullString.
func toNullString(s *string) sql.NullString {
	if s == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *s, Valid: true}
}

// fromNullString converts a sql.NullString to *string.
func fromNullString(ns sql.NullString) *string {
	if !ns.Valid {
		return nil
	}
	return &ns.String
}
