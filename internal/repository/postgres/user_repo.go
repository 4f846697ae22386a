package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/and161185/homestock/internal/errs"
	"github.com/and161185/homestock/internal/model"
	"github.com/gofrs/uuid/v5"
	"github.com/jackc/pgx/v5"
)

// UserRepo implements UserRepository using PostgreSQL.
type UserRepo struct{ db *DB }

// NewUserRepo constructs a user repository.
func NewUserRepo(db *DB) *UserRepo { return &UserRepo{db: db} }

// Create inserts a new user row.
func (r *UserRepo) Create(ctx context.Context, u *model.User) error {
	const q = `
INSERT INTO users (id, email, first_name, last_name, pwd_hash)
VALUES ($1, $2, $3, $4, $5)
RETURNING created_at`
	err := r.db.Pool.QueryRow(ctx, q, u.ID, u.Email, u.FullName.FirstName, u.FullName.LastName, u.PwdHash).
		Scan(&u.CreatedAt)
	if isUniqueViolation(err) {
		return errs.ErrAlreadyExists
	}
	return err
}

// GetByID selects a user by ID. The password hash is not loaded.
func (r *UserRepo) GetByID(ctx context.Context, id uuid.UUID) (*model.User, error) {
	const q = `
SELECT id, email, first_name, last_name, picture, is_verified, created_at
FROM users WHERE id=$1`
	var u model.User
	err := r.db.Pool.QueryRow(ctx, q, id).
		Scan(&u.ID, &u.Email, &u.FullName.FirstName, &u.FullName.LastName, &u.Picture, &u.IsVerified, &u.CreatedAt)
	if err != nil {
		return nil, notFound(err)
	}
	return &u, nil
}

// GetByEmail selects a user by email, including the password hash.
func (r *UserRepo) GetByEmail(ctx context.Context, email string) (*model.User, error) {
	const q = `
SELECT id, email, first_name, last_name, picture, is_verified, created_at, pwd_hash
FROM users WHERE email=$1`
	var u model.User
	err := r.db.Pool.QueryRow(ctx, q, email).
		Scan(&u.ID, &u.Email, &u.FullName.FirstName, &u.FullName.LastName, &u.Picture, &u.IsVerified, &u.CreatedAt, &u.PwdHash)
	if err != nil {
		return nil, notFound(err)
	}
	return &u, nil
}

// UpdateProfile changes profile fields only.
func (r *UserRepo) UpdateProfile(ctx context.Context, id uuid.UUID, p model.ProfileUpdate) (*model.User, error) {
	const q = `
UPDATE users SET first_name=$2, last_name=$3, picture=$4
WHERE id=$1
RETURNING id, email, first_name, last_name, picture, is_verified, created_at`
	var u model.User
	err := r.db.Pool.QueryRow(ctx, q, id, p.FullName.FirstName, p.FullName.LastName, p.Picture).
		Scan(&u.ID, &u.Email, &u.FullName.FirstName, &u.FullName.LastName, &u.Picture, &u.IsVerified, &u.CreatedAt)
	if err != nil {
		return nil, notFound(err)
	}
	return &u, nil
}

// UpdatePasswordHash replaces the stored hash.
func (r *UserRepo) UpdatePasswordHash(ctx context.Context, id uuid.UUID, hash []byte) error {
	const q = `UPDATE users SET pwd_hash=$2 WHERE id=$1`
	return r.execOne(ctx, q, id, hash)
}

// SetVerifyOTP stores a verification code, restarting its window.
func (r *UserRepo) SetVerifyOTP(ctx context.Context, id uuid.UUID, code string, expiresAt time.Time) error {
	const q = `UPDATE users SET verify_otp=$2, verify_otp_expire_at=$3 WHERE id=$1`
	return r.execOne(ctx, q, id, code, expiresAt)
}

// ConsumeVerifyOTP verifies the account only if the code is still pending.
func (r *UserRepo) ConsumeVerifyOTP(ctx context.Context, id uuid.UUID, code string, now time.Time) error {
	const q = `
UPDATE users
SET is_verified = true, verify_otp = NULL, verify_otp_expire_at = NULL
WHERE id = $1 AND verify_otp = $2 AND verify_otp_expire_at > $3`
	tag, err := r.db.Pool.Exec(ctx, q, id, code, now)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return errs.ErrInvalidOTP
	}
	return nil
}

// ClearVerifyOTP drops the pending verification code.
func (r *UserRepo) ClearVerifyOTP(ctx context.Context, id uuid.UUID) error {
	const q = `UPDATE users SET verify_otp=NULL, verify_otp_expire_at=NULL WHERE id=$1`
	return r.execOne(ctx, q, id)
}

// SetResetOTP stores a reset code, restarting its window.
func (r *UserRepo) SetResetOTP(ctx context.Context, id uuid.UUID, code string, expiresAt time.Time) error {
	const q = `UPDATE users SET reset_otp=$2, reset_otp_expire_at=$3 WHERE id=$1`
	return r.execOne(ctx, q, id, code, expiresAt)
}

// ResetPasswordWithOTP swaps the hash only if the reset code is still pending.
func (r *UserRepo) ResetPasswordWithOTP(ctx context.Context, email, code string, hash []byte, now time.Time) error {
	const q = `
UPDATE users
SET pwd_hash = $3, reset_otp = NULL, reset_otp_expire_at = NULL
WHERE email = $1 AND reset_otp = $2 AND reset_otp_expire_at > $4`
	tag, err := r.db.Pool.Exec(ctx, q, email, code, hash, now)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return errs.ErrInvalidOTP
	}
	return nil
}

// ClearResetOTP drops the pending reset code.
func (r *UserRepo) ClearResetOTP(ctx context.Context, id uuid.UUID) error {
	const q = `UPDATE users SET reset_otp=NULL, reset_otp_expire_at=NULL WHERE id=$1`
	return r.execOne(ctx, q, id)
}

func (r *UserRepo) execOne(ctx context.Context, q string, args ...any) error {
	tag, err := r.db.Pool.Exec(ctx, q, args...)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return errs.ErrNotFound
	}
	return nil
}

func notFound(err error) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return errs.ErrNotFound
	}
	return fmt.Errorf("query user: %w", err)
}
