// Package repository defines storage interfaces implemented by concrete backends.
package repository

import (
	"context"
	"time"

	"github.com/and161185/homestock/internal/model"
	"github.com/gofrs/uuid/v5"
)

// UserRepository is the credential store.
type UserRepository interface {
	// Create inserts a new user; a taken email yields errs.ErrAlreadyExists.
	Create(ctx context.Context, u *model.User) error
	// GetByID loads a user by ID without the password hash.
	GetByID(ctx context.Context, id uuid.UUID) (*model.User, error)
	// GetByEmail loads a user by lowercase email, including the password hash.
	GetByEmail(ctx context.Context, email string) (*model.User, error)
	// UpdateProfile changes name and picture and returns the updated user.
	UpdateProfile(ctx context.Context, id uuid.UUID, p model.ProfileUpdate) (*model.User, error)
	// UpdatePasswordHash replaces the stored password hash.
	UpdatePasswordHash(ctx context.Context, id uuid.UUID, hash []byte) error

	// SetVerifyOTP stores a pending verification code, replacing any previous one.
	SetVerifyOTP(ctx context.Context, id uuid.UUID, code string, expiresAt time.Time) error
	// ConsumeVerifyOTP marks the account verified and clears the code in one
	// conditional update; errs.ErrInvalidOTP if the code is not pending at now.
	ConsumeVerifyOTP(ctx context.Context, id uuid.UUID, code string, now time.Time) error
	// ClearVerifyOTP drops any pending verification code.
	ClearVerifyOTP(ctx context.Context, id uuid.UUID) error

	// SetResetOTP stores a pending password reset code, replacing any previous one.
	SetResetOTP(ctx context.Context, id uuid.UUID, code string, expiresAt time.Time) error
	// ResetPasswordWithOTP replaces the hash and clears the reset code in one
	// conditional update; errs.ErrInvalidOTP if the code is not pending at now.
	ResetPasswordWithOTP(ctx context.Context, email, code string, hash []byte, now time.Time) error
	// ClearResetOTP drops any pending reset code.
	ClearResetOTP(ctx context.Context, id uuid.UUID) error
}
