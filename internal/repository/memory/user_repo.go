// Package memory contains in-process implementations of repository interfaces
// for development and tests. Conditional updates run under a single mutex,
// matching the atomicity of their SQL counterparts.
package memory

import (
	"context"
	"sync"
	"time"

	"github.com/and161185/homestock/internal/errs"
	"github.com/and161185/homestock/internal/model"
	"github.com/and161185/homestock/internal/otp"
	"github.com/gofrs/uuid/v5"
)

// UserRepo is an in-memory UserRepository.
type UserRepo struct {
	mu      sync.Mutex
	byID    map[uuid.UUID]*model.User
	byEmail map[string]uuid.UUID
}

// NewUserRepo constructs an empty repository.
func NewUserRepo() *UserRepo {
	return &UserRepo{byID: map[uuid.UUID]*model.User{}, byEmail: map[string]uuid.UUID{}}
}

func (r *UserRepo) Create(_ context.Context, u *model.User) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, taken := r.byEmail[u.Email]; taken {
		return errs.ErrAlreadyExists
	}
	if u.CreatedAt.IsZero() {
		u.CreatedAt = time.Now().UTC()
	}
	cpy := *u
	cpy.PwdHash = append([]byte(nil), u.PwdHash...)
	r.byID[u.ID] = &cpy
	r.byEmail[u.Email] = u.ID
	return nil
}

func (r *UserRepo) GetByID(_ context.Context, id uuid.UUID) (*model.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	u, ok := r.byID[id]
	if !ok {
		return nil, errs.ErrNotFound
	}
	c := *u
	c.PwdHash = nil
	return &c, nil
}

func (r *UserRepo) GetByEmail(_ context.Context, email string) (*model.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	id, ok := r.byEmail[email]
	if !ok {
		return nil, errs.ErrNotFound
	}
	c := *r.byID[id]
	c.PwdHash = append([]byte(nil), c.PwdHash...)
	return &c, nil
}

func (r *UserRepo) UpdateProfile(_ context.Context, id uuid.UUID, p model.ProfileUpdate) (*model.User, error) {
	var out model.User
	err := r.update(id, func(u *model.User) {
		u.FullName = p.FullName
		u.Picture = p.Picture
		out = *u
	})
	if err != nil {
		return nil, err
	}
	out.PwdHash = nil
	return &out, nil
}

func (r *UserRepo) UpdatePasswordHash(_ context.Context, id uuid.UUID, hash []byte) error {
	return r.update(id, func(u *model.User) { u.PwdHash = append([]byte(nil), hash...) })
}

func (r *UserRepo) SetVerifyOTP(_ context.Context, id uuid.UUID, code string, expiresAt time.Time) error {
	return r.update(id, func(u *model.User) {
		u.VerifyOTP = code
		u.VerifyOTPExpireAt = expiresAt
	})
}

func (r *UserRepo) ConsumeVerifyOTP(_ context.Context, id uuid.UUID, code string, now time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	u, ok := r.byID[id]
	if !ok {
		return errs.ErrInvalidOTP
	}
	if stored, active := u.ActiveVerifyOTP(now); !active || !otp.Match(code, stored) {
		return errs.ErrInvalidOTP
	}
	u.IsVerified = true
	u.VerifyOTP = ""
	u.VerifyOTPExpireAt = time.Time{}
	return nil
}

func (r *UserRepo) ClearVerifyOTP(_ context.Context, id uuid.UUID) error {
	return r.update(id, func(u *model.User) {
		u.VerifyOTP = ""
		u.VerifyOTPExpireAt = time.Time{}
	})
}

func (r *UserRepo) SetResetOTP(_ context.Context, id uuid.UUID, code string, expiresAt time.Time) error {
	return r.update(id, func(u *model.User) {
		u.ResetOTP = code
		u.ResetOTPExpireAt = expiresAt
	})
}

func (r *UserRepo) ResetPasswordWithOTP(_ context.Context, email, code string, hash []byte, now time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	id, ok := r.byEmail[email]
	if !ok {
		return errs.ErrInvalidOTP
	}
	u := r.byID[id]
	if stored, active := u.ActiveResetOTP(now); !active || !otp.Match(code, stored) {
		return errs.ErrInvalidOTP
	}
	u.PwdHash = append([]byte(nil), hash...)
	u.ResetOTP = ""
	u.ResetOTPExpireAt = time.Time{}
	return nil
}

func (r *UserRepo) ClearResetOTP(_ context.Context, id uuid.UUID) error {
	return r.update(id, func(u *model.User) {
		u.ResetOTP = ""
		u.ResetOTPExpireAt = time.Time{}
	})
}

// Delete removes an account. No API route deletes users; operators and tests do.
func (r *UserRepo) Delete(_ context.Context, id uuid.UUID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	u, ok := r.byID[id]
	if !ok {
		return errs.ErrNotFound
	}
	delete(r.byEmail, u.Email)
	delete(r.byID, id)
	return nil
}

func (r *UserRepo) update(id uuid.UUID, fn func(u *model.User)) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	u, ok := r.byID[id]
	if !ok {
		return errs.ErrNotFound
	}
	fn(u)
	return nil
}
