// Package model defines domain entities used by services and repositories.
package model

import (
	"time"

	"github.com/gofrs/uuid/v5"
)

// Tokens collects the issued session token.
type Tokens struct {
	AccessToken string
	ExpiresAt   time.Time // token expiry (for cookie Max-Age and diagnostics)
}

// FullName is the profile name of an account.
type FullName struct {
	FirstName string `json:"firstname"`
	LastName  string `json:"lastname"`
}

// User represents an account. Credential and OTP fields never leave the server:
// they are excluded from JSON and PwdHash is only loaded by GetByEmail.
type User struct {
	ID         uuid.UUID `json:"id"`
	Email      string    `json:"email"` // unique, lowercase
	FullName   FullName  `json:"fullname"`
	Picture    string    `json:"picture,omitempty"`
	IsVerified bool      `json:"isAccountVerified"`
	CreatedAt  time.Time `json:"createdAt"`

	PwdHash []byte `json:"-"`

	VerifyOTP         string    `json:"-"` // empty when no code is pending
	VerifyOTPExpireAt time.Time `json:"-"`
	ResetOTP          string    `json:"-"`
	ResetOTPExpireAt  time.Time `json:"-"`
}

// ActiveVerifyOTP reports the pending verification code, treating an expired one as absent.
func (u *User) ActiveVerifyOTP(now time.Time) (string, bool) {
	if u.VerifyOTP == "" || !u.VerifyOTPExpireAt.After(now) {
		return "", false
	}
	return u.VerifyOTP, true
}

// ActiveResetOTP reports the pending reset code, treating an expired one as absent.
func (u *User) ActiveResetOTP(now time.Time) (string, bool) {
	if u.ResetOTP == "" || !u.ResetOTPExpireAt.After(now) {
		return "", false
	}
	return u.ResetOTP, true
}

// Public returns a copy with all credential material stripped.
func (u User) Public() User {
	u.PwdHash = nil
	u.VerifyOTP = ""
	u.VerifyOTPExpireAt = time.Time{}
	u.ResetOTP = ""
	u.ResetOTPExpireAt = time.Time{}
	return u
}

// ProfileUpdate holds the mutable, non-credential profile fields.
type ProfileUpdate struct {
	FullName FullName
	Picture  string
}

// Principal is the identity resolved for an authenticated request.
type Principal struct {
	UserID uuid.UUID
	Token  string
	User   User
}
