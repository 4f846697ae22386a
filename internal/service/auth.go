// Package service contains the authentication and credential lifecycle service.
package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	pkgcrypto "github.com/and161185/homestock/internal/crypto"
	"github.com/and161185/homestock/internal/errs"
	"github.com/and161185/homestock/internal/limiter"
	"github.com/and161185/homestock/internal/mailer"
	"github.com/and161185/homestock/internal/model"
	"github.com/and161185/homestock/internal/otp"
	"github.com/and161185/homestock/internal/repository"
	"github.com/and161185/homestock/internal/token"
	"github.com/gofrs/uuid/v5"
	"go.uber.org/zap"
)

// NameInput is the nested fullname of registration and profile requests.
type NameInput struct {
	FirstName string `json:"firstname" validate:"required,min=3"`
	LastName  string `json:"lastname" validate:"omitempty,min=3"`
}

// RegisterInput is the registration request.
type RegisterInput struct {
	FullName NameInput `json:"fullname"`
	Email    string    `json:"email" validate:"required,email"`
	Password string    `json:"password" validate:"required,min=6,max=72"`
}

// ProfileInput is the profile update request.
type ProfileInput struct {
	FullName NameInput `json:"fullname"`
	Picture  string    `json:"picture" validate:"omitempty,url"`
}

type resetInput struct {
	Email       string `json:"email" validate:"required,email"`
	OTP         string `json:"otp"`
	NewPassword string `json:"newPassword" validate:"required,min=6,max=72"`
}

type newPasswordInput struct {
	NewPassword string `json:"newPassword" validate:"required,min=6,max=72"`
}

type emailInput struct {
	Email string `json:"email" validate:"required,email"`
}

// AuthService defines registration, session and credential lifecycle operations.
type AuthService interface {
	// Register creates an unverified account and opens a session for it.
	Register(ctx context.Context, in RegisterInput) (model.Tokens, model.User, error)
	// LoginWithIP applies rate-limiting and authenticates the user.
	LoginWithIP(ctx context.Context, email, password, ip string) (model.Tokens, model.User, error)
	// Logout revokes the presented token.
	Logout(ctx context.Context, tok string) error
	// Authenticate resolves a presented token into a principal.
	Authenticate(ctx context.Context, tok string) (model.Principal, error)
	// UpdateProfile changes non-credential profile fields.
	UpdateProfile(ctx context.Context, userID uuid.UUID, in ProfileInput) (model.User, error)
	// SendVerifyOTP issues and mails a new email verification code.
	SendVerifyOTP(ctx context.Context, userID uuid.UUID) error
	// VerifyOTP consumes a verification code and marks the account verified.
	VerifyOTP(ctx context.Context, userID uuid.UUID, code string) error
	// SendResetOTP issues and mails a password reset code if the account exists.
	SendResetOTP(ctx context.Context, email string) error
	// ResetPassword consumes a reset code and sets a new password.
	ResetPassword(ctx context.Context, email, code, newPassword, ip string) error
	// ChangePassword sets a new password after re-checking the current one.
	ChangePassword(ctx context.Context, userID uuid.UUID, oldPassword, newPassword string) error
}

type AuthServiceImpl struct {
	users     repository.UserRepository
	blacklist repository.BlacklistRepository
	tokens    *token.Manager
	otps      *otp.Generator
	mail      mailer.Sender
	lim       limiter.Limiter
	log       *zap.Logger
	now       func() time.Time
}

// NewAuthService constructs AuthService with required dependencies.
func NewAuthService(
	users repository.UserRepository,
	blacklist repository.BlacklistRepository,
	tokens *token.Manager,
	otps *otp.Generator,
	mail mailer.Sender,
	lim limiter.Limiter,
	log *zap.Logger,
) *AuthServiceImpl {
	return &AuthServiceImpl{
		users:     users,
		blacklist: blacklist,
		tokens:    tokens,
		otps:      otps,
		mail:      mail,
		lim:       lim,
		log:       log,
		now:       time.Now,
	}
}

// NormalizeEmail trims and lowercases an email address.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// Register validates input, stores the account and issues a session token.
// No verification code is sent; that is a separate caller-initiated step.
func (s *AuthServiceImpl) Register(ctx context.Context, in RegisterInput) (model.Tokens, model.User, error) {
	in.Email = NormalizeEmail(in.Email)
	in.FullName.FirstName = strings.TrimSpace(in.FullName.FirstName)
	in.FullName.LastName = strings.TrimSpace(in.FullName.LastName)
	if err := validateStruct(&in); err != nil {
		return model.Tokens{}, model.User{}, err
	}

	uid, err := uuid.NewV4()
	if err != nil {
		return model.Tokens{}, model.User{}, err
	}
	hash, err := pkgcrypto.HashPassword([]byte(in.Password))
	if err != nil {
		return model.Tokens{}, model.User{}, err
	}
	u := &model.User{
		ID:       uid,
		Email:    in.Email,
		FullName: model.FullName{FirstName: in.FullName.FirstName, LastName: in.FullName.LastName},
		PwdHash:  hash,
	}
	if err := s.users.Create(ctx, u); err != nil {
		if errors.Is(err, errs.ErrAlreadyExists) {
			return model.Tokens{}, model.User{}, errs.ErrAlreadyExists
		}
		return model.Tokens{}, model.User{}, fmt.Errorf("create user: %w", err)
	}

	tok, err := s.issue(uid)
	if err != nil {
		return model.Tokens{}, model.User{}, err
	}
	return tok, u.Public(), nil
}

// LoginWithIP authenticates with rate limiting by (email, ip).
// Unknown email and wrong password are indistinguishable to the caller.
func (s *AuthServiceImpl) LoginWithIP(ctx context.Context, email, password, ip string) (model.Tokens, model.User, error) {
	email = NormalizeEmail(email)
	ipHash := limiter.HashIP(ip)

	allowed, _, err := s.lim.Allow(ctx, email, ipHash)
	if err != nil {
		return model.Tokens{}, model.User{}, err
	}
	if !allowed {
		return model.Tokens{}, model.User{}, errs.ErrRateLimited
	}

	u, err := s.users.GetByEmail(ctx, email)
	if err != nil && !errors.Is(err, errs.ErrNotFound) {
		return model.Tokens{}, model.User{}, fmt.Errorf("load user: %w", err)
	}
	var ok bool
	if u != nil {
		ok = pkgcrypto.VerifyPassword([]byte(password), u.PwdHash)
	} else {
		pkgcrypto.BurnCompare([]byte(password))
	}
	if !ok {
		if blocked, _, ferr := s.lim.Failure(ctx, email, ipHash); ferr == nil && blocked {
			return model.Tokens{}, model.User{}, errs.ErrRateLimited
		}
		return model.Tokens{}, model.User{}, errs.ErrInvalidCredentials
	}

	// Success: reset counters (best-effort).
	_ = s.lim.Success(ctx, email, ipHash)

	tok, err := s.issue(u.ID)
	if err != nil {
		return model.Tokens{}, model.User{}, err
	}
	return tok, u.Public(), nil
}

// Logout revokes tok. Tokens that are already expired or were never valid
// cannot authenticate anyway and are not stored.
func (s *AuthServiceImpl) Logout(ctx context.Context, tok string) error {
	if tok == "" {
		return errs.ErrNoToken
	}
	if _, err := s.tokens.Verify(tok); err != nil {
		return nil
	}
	if err := s.blacklist.Add(ctx, tok); err != nil {
		return fmt.Errorf("blacklist add: %w", err)
	}
	return nil
}

// Authenticate checks blacklist, signature and expiry, then loads the account.
// A valid token whose account no longer exists is rejected.
func (s *AuthServiceImpl) Authenticate(ctx context.Context, tok string) (model.Principal, error) {
	if tok == "" {
		return model.Principal{}, errs.ErrUnauthorized
	}
	revoked, err := s.blacklist.IsBlacklisted(ctx, tok)
	if err != nil {
		return model.Principal{}, fmt.Errorf("blacklist lookup: %w", err)
	}
	if revoked {
		return model.Principal{}, errs.ErrUnauthorized
	}
	uid, err := s.tokens.Verify(tok)
	if err != nil {
		return model.Principal{}, errs.ErrUnauthorized
	}
	u, err := s.users.GetByID(ctx, uid)
	if err != nil {
		if errors.Is(err, errs.ErrNotFound) {
			return model.Principal{}, errs.ErrUnauthorized
		}
		return model.Principal{}, fmt.Errorf("load principal: %w", err)
	}
	return model.Principal{UserID: uid, Token: tok, User: u.Public()}, nil
}

// UpdateProfile validates and stores profile fields.
func (s *AuthServiceImpl) UpdateProfile(ctx context.Context, userID uuid.UUID, in ProfileInput) (model.User, error) {
	in.FullName.FirstName = strings.TrimSpace(in.FullName.FirstName)
	in.FullName.LastName = strings.TrimSpace(in.FullName.LastName)
	in.Picture = strings.TrimSpace(in.Picture)
	if err := validateStruct(&in); err != nil {
		return model.User{}, err
	}
	u, err := s.users.UpdateProfile(ctx, userID, model.ProfileUpdate{
		FullName: model.FullName{FirstName: in.FullName.FirstName, LastName: in.FullName.LastName},
		Picture:  in.Picture,
	})
	if err != nil {
		return model.User{}, fmt.Errorf("update profile: %w", err)
	}
	return u.Public(), nil
}

// SendVerifyOTP stores a fresh code (overwriting any pending one) and mails it.
func (s *AuthServiceImpl) SendVerifyOTP(ctx context.Context, userID uuid.UUID) error {
	u, err := s.users.GetByID(ctx, userID)
	if err != nil {
		return fmt.Errorf("load user: %w", err)
	}
	if u.IsVerified {
		return errs.ErrAlreadyVerified
	}
	code, exp, err := s.otps.Generate()
	if err != nil {
		return fmt.Errorf("generate otp: %w", err)
	}
	if err := s.users.SetVerifyOTP(ctx, userID, code, exp); err != nil {
		return fmt.Errorf("store otp: %w", err)
	}
	if err := s.mail.Send(ctx, mailer.Message{To: u.Email, Purpose: mailer.PurposeVerify, Code: code, ExpiresAt: exp}); err != nil {
		if cerr := s.users.ClearVerifyOTP(ctx, userID); cerr != nil {
			s.log.Warn("clear undelivered verify otp", zap.Error(cerr))
		}
		return fmt.Errorf("deliver otp: %w", err)
	}
	return nil
}

// VerifyOTP consumes code for the principal. Wrong and expired codes both yield ErrInvalidOTP
// and leave the pending code in place.
func (s *AuthServiceImpl) VerifyOTP(ctx context.Context, userID uuid.UUID, code string) error {
	code = strings.TrimSpace(code)
	u, err := s.users.GetByID(ctx, userID)
	if err != nil {
		return fmt.Errorf("load user: %w", err)
	}
	if u.IsVerified {
		return errs.ErrAlreadyVerified
	}
	if !s.otps.WellFormed(code) {
		return errs.ErrInvalidOTP
	}
	if err := s.users.ConsumeVerifyOTP(ctx, userID, code, s.now()); err != nil {
		if errors.Is(err, errs.ErrInvalidOTP) {
			return errs.ErrInvalidOTP
		}
		return fmt.Errorf("consume otp: %w", err)
	}
	return nil
}

// SendResetOTP answers the same way whether or not the email is registered.
func (s *AuthServiceImpl) SendResetOTP(ctx context.Context, email string) error {
	in := emailInput{Email: NormalizeEmail(email)}
	if err := validateStruct(&in); err != nil {
		return err
	}
	u, err := s.users.GetByEmail(ctx, in.Email)
	if err != nil {
		if errors.Is(err, errs.ErrNotFound) {
			return nil
		}
		return fmt.Errorf("load user: %w", err)
	}
	code, exp, err := s.otps.Generate()
	if err != nil {
		return fmt.Errorf("generate otp: %w", err)
	}
	if err := s.users.SetResetOTP(ctx, u.ID, code, exp); err != nil {
		return fmt.Errorf("store otp: %w", err)
	}
	if err := s.mail.Send(ctx, mailer.Message{To: u.Email, Purpose: mailer.PurposeReset, Code: code, ExpiresAt: exp}); err != nil {
		s.log.Error("deliver reset otp", zap.Error(err))
		if cerr := s.users.ClearResetOTP(ctx, u.ID); cerr != nil {
			s.log.Warn("clear undelivered reset otp", zap.Error(cerr))
		}
	}
	return nil
}

// ResetPassword sets a new password if code is the pending reset code for email.
// No session is issued; the user logs in afterwards.
func (s *AuthServiceImpl) ResetPassword(ctx context.Context, email, code, newPassword, ip string) error {
	in := resetInput{Email: NormalizeEmail(email), OTP: strings.TrimSpace(code), NewPassword: newPassword}
	if err := validateStruct(&in); err != nil {
		return err
	}
	key := "reset:" + in.Email
	ipHash := limiter.HashIP(ip)
	allowed, _, err := s.lim.Allow(ctx, key, ipHash)
	if err != nil {
		return err
	}
	if !allowed {
		return errs.ErrRateLimited
	}
	if !s.otps.WellFormed(in.OTP) {
		return s.resetFailed(ctx, key, ipHash)
	}

	hash, err := pkgcrypto.HashPassword([]byte(in.NewPassword))
	if err != nil {
		return err
	}
	if err := s.users.ResetPasswordWithOTP(ctx, in.Email, in.OTP, hash, s.now()); err != nil {
		if errors.Is(err, errs.ErrInvalidOTP) {
			return s.resetFailed(ctx, key, ipHash)
		}
		return fmt.Errorf("reset password: %w", err)
	}
	_ = s.lim.Success(ctx, key, ipHash)
	return nil
}

func (s *AuthServiceImpl) resetFailed(ctx context.Context, key string, ipHash []byte) error {
	if blocked, _, ferr := s.lim.Failure(ctx, key, ipHash); ferr == nil && blocked {
		return errs.ErrRateLimited
	}
	return errs.ErrInvalidOTP
}

// ChangePassword re-verifies oldPassword before anything else; a session alone never suffices.
// A pending reset code is dropped on success.
func (s *AuthServiceImpl) ChangePassword(ctx context.Context, userID uuid.UUID, oldPassword, newPassword string) error {
	u, err := s.users.GetByID(ctx, userID)
	if err != nil {
		return fmt.Errorf("load user: %w", err)
	}
	full, err := s.users.GetByEmail(ctx, u.Email)
	if err != nil {
		return fmt.Errorf("load credentials: %w", err)
	}
	if !pkgcrypto.VerifyPassword([]byte(oldPassword), full.PwdHash) {
		return errs.ErrWrongPassword
	}
	if err := validateStruct(&newPasswordInput{NewPassword: newPassword}); err != nil {
		return err
	}
	hash, err := pkgcrypto.HashPassword([]byte(newPassword))
	if err != nil {
		return err
	}
	if err := s.users.UpdatePasswordHash(ctx, userID, hash); err != nil {
		return fmt.Errorf("update password: %w", err)
	}
	if err := s.users.ClearResetOTP(ctx, userID); err != nil {
		s.log.Warn("clear reset otp after password change", zap.Error(err))
	}
	return nil
}

// issue creates a session token for userID.
func (s *AuthServiceImpl) issue(userID uuid.UUID) (model.Tokens, error) {
	access, exp, err := s.tokens.Issue(userID)
	if err != nil {
		return model.Tokens{}, err
	}
	return model.Tokens{AccessToken: access, ExpiresAt: exp}, nil
}
