// Package httpserver exposes the HomeStock auth API over HTTP.
package httpserver

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/and161185/homestock/internal/errs"
	"github.com/and161185/homestock/internal/model"
	"github.com/and161185/homestock/internal/service"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// CookieConfig controls the session cookie.
type CookieConfig struct {
	Domain string
	Secure bool
	MaxAge int // seconds
}

// HealthFunc reports whether backing storage is reachable.
type HealthFunc func(ctx context.Context) error

// Server wires the auth service into gin handlers.
type Server struct {
	auth   service.AuthService
	cookie CookieConfig
	health HealthFunc
	log    *zap.Logger
}

// New constructs a Server. health may be nil.
func New(auth service.AuthService, cookie CookieConfig, health HealthFunc, log *zap.Logger) *Server {
	return &Server{auth: auth, cookie: cookie, health: health, log: log}
}

// Router builds the gin engine with all routes mounted.
func (s *Server) Router() *gin.Engine {
	r := gin.New()
	// ClientIP must come from the socket, not from spoofable headers.
	_ = r.SetTrustedProxies(nil)
	r.Use(Recoverer(s.log), RequestLogger(s.log))

	r.GET("/healthz", s.Health)

	api := r.Group("/api/auth")
	api.POST("/register", s.Register)
	api.POST("/login", s.Login)
	api.POST("/logout", s.Logout)
	api.GET("/logout", s.Logout)
	api.POST("/reset-password/send-otp", s.SendResetOTP)
	api.PUT("/reset-password", s.ResetPassword)

	sess := api.Group("", RequireSession(s.auth, s.log))
	sess.GET("/profile", s.Profile)
	sess.PUT("/profile", s.UpdateProfile)
	sess.POST("/verify/send-otp", s.SendVerifyOTP)
	sess.POST("/verify", s.VerifyOTP)
	sess.PUT("/update-password", s.UpdatePassword)

	return r
}

type sessionResponse struct {
	Token     string     `json:"token"`
	ExpiresAt time.Time  `json:"expiresAt"`
	User      model.User `json:"user"`
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type otpRequest struct {
	OTP string `json:"otp"`
}

type emailRequest struct {
	Email string `json:"email"`
}

type resetRequest struct {
	Email       string `json:"email"`
	OTP         string `json:"otp"`
	NewPassword string `json:"newPassword"`
}

type passwordRequest struct {
	OldPassword string `json:"oldPassword"`
	NewPassword string `json:"newPassword"`
}

func message(c *gin.Context, code int, msg string) {
	c.JSON(code, gin.H{"message": msg})
}

// bind decodes a JSON body; false means a 400 was already written.
func bind(c *gin.Context, dst any) bool {
	if err := c.ShouldBindJSON(dst); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return false
	}
	return true
}

func (s *Server) setSession(c *gin.Context, tok string) {
	c.SetSameSite(http.SameSiteLaxMode)
	c.SetCookie(CookieName, tok, s.cookie.MaxAge, "/", s.cookie.Domain, s.cookie.Secure, true)
}

func (s *Server) clearSession(c *gin.Context) {
	c.SetSameSite(http.SameSiteLaxMode)
	c.SetCookie(CookieName, "", -1, "/", s.cookie.Domain, s.cookie.Secure, true)
}

func principal(c *gin.Context) (model.Principal, bool) {
	p, ok := PrincipalFromCtx(c.Request.Context())
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
	}
	return p, ok
}

// Health answers liveness probes.
func (s *Server) Health(c *gin.Context) {
	if s.health != nil {
		if err := s.health(c.Request.Context()); err != nil {
			s.log.Warn("health", zap.Error(err))
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unavailable"})
			return
		}
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// Register creates an account and opens a session.
func (s *Server) Register(c *gin.Context) {
	var in service.RegisterInput
	if !bind(c, &in) {
		return
	}
	tok, u, err := s.auth.Register(c.Request.Context(), in)
	if err != nil {
		s.writeError(c, "register", err)
		return
	}
	s.setSession(c, tok.AccessToken)
	c.JSON(http.StatusCreated, sessionResponse{Token: tok.AccessToken, ExpiresAt: tok.ExpiresAt, User: u})
}

// Login authenticates by email and password.
func (s *Server) Login(c *gin.Context) {
	var req loginRequest
	if !bind(c, &req) {
		return
	}
	tok, u, err := s.auth.LoginWithIP(c.Request.Context(), req.Email, req.Password, c.ClientIP())
	if err != nil {
		s.writeError(c, "login", err)
		return
	}
	s.setSession(c, tok.AccessToken)
	c.JSON(http.StatusOK, sessionResponse{Token: tok.AccessToken, ExpiresAt: tok.ExpiresAt, User: u})
}

// Logout revokes the presented token and clears the cookie.
func (s *Server) Logout(c *gin.Context) {
	tok := tokenFromRequest(c.Request)
	if err := s.auth.Logout(c.Request.Context(), tok); err != nil {
		s.writeError(c, "logout", err)
		return
	}
	s.clearSession(c)
	message(c, http.StatusOK, "logged out")
}

// Profile returns the caller's public record.
func (s *Server) Profile(c *gin.Context) {
	p, ok := principal(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, p.User)
}

// UpdateProfile changes the caller's name or picture.
func (s *Server) UpdateProfile(c *gin.Context) {
	p, ok := principal(c)
	if !ok {
		return
	}
	var in service.ProfileInput
	if !bind(c, &in) {
		return
	}
	u, err := s.auth.UpdateProfile(c.Request.Context(), p.UserID, in)
	if err != nil {
		s.writeError(c, "update profile", err)
		return
	}
	c.JSON(http.StatusOK, u)
}

// SendVerifyOTP mails a verification code to the caller.
func (s *Server) SendVerifyOTP(c *gin.Context) {
	p, ok := principal(c)
	if !ok {
		return
	}
	if err := s.auth.SendVerifyOTP(c.Request.Context(), p.UserID); err != nil {
		s.writeError(c, "send verify otp", err)
		return
	}
	message(c, http.StatusOK, "verification code sent")
}

// VerifyOTP marks the caller's email verified.
func (s *Server) VerifyOTP(c *gin.Context) {
	p, ok := principal(c)
	if !ok {
		return
	}
	var req otpRequest
	if !bind(c, &req) {
		return
	}
	if err := s.auth.VerifyOTP(c.Request.Context(), p.UserID, req.OTP); err != nil {
		s.writeError(c, "verify otp", err)
		return
	}
	message(c, http.StatusOK, "email verified")
}

// SendResetOTP always answers the same way so account existence does not leak.
func (s *Server) SendResetOTP(c *gin.Context) {
	var req emailRequest
	if !bind(c, &req) {
		return
	}
	if err := s.auth.SendResetOTP(c.Request.Context(), req.Email); err != nil {
		s.writeError(c, "send reset otp", err)
		return
	}
	message(c, http.StatusOK, "if the account exists, a code has been sent")
}

// ResetPassword consumes a reset code and sets a new password.
func (s *Server) ResetPassword(c *gin.Context) {
	var req resetRequest
	if !bind(c, &req) {
		return
	}
	if err := s.auth.ResetPassword(c.Request.Context(), req.Email, req.OTP, req.NewPassword, c.ClientIP()); err != nil {
		s.writeError(c, "reset password", err)
		return
	}
	message(c, http.StatusOK, "password has been reset")
}

// UpdatePassword changes the caller's password.
func (s *Server) UpdatePassword(c *gin.Context) {
	p, ok := principal(c)
	if !ok {
		return
	}
	var req passwordRequest
	if !bind(c, &req) {
		return
	}
	if err := s.auth.ChangePassword(c.Request.Context(), p.UserID, req.OldPassword, req.NewPassword); err != nil {
		s.writeError(c, "update password", err)
		return
	}
	message(c, http.StatusOK, "password updated")
}

// writeError maps domain errors to status codes; anything unknown is a logged 500.
func (s *Server) writeError(c *gin.Context, op string, err error) {
	var verr *errs.ValidationError
	switch {
	case errors.As(err, &verr):
		c.JSON(http.StatusBadRequest, gin.H{"error": errs.ErrValidation.Error(), "fields": verr.Fields})
	case errors.Is(err, errs.ErrAlreadyExists):
		c.JSON(http.StatusConflict, gin.H{"error": "email already registered"})
	case errors.Is(err, errs.ErrInvalidCredentials):
		c.JSON(http.StatusUnauthorized, gin.H{"error": errs.ErrInvalidCredentials.Error()})
	case errors.Is(err, errs.ErrRateLimited):
		c.JSON(http.StatusTooManyRequests, gin.H{"error": "too many attempts"})
	case errors.Is(err, errs.ErrInvalidOTP):
		c.JSON(http.StatusBadRequest, gin.H{"error": errs.ErrInvalidOTP.Error()})
	case errors.Is(err, errs.ErrAlreadyVerified):
		c.JSON(http.StatusBadRequest, gin.H{"error": errs.ErrAlreadyVerified.Error()})
	case errors.Is(err, errs.ErrNoToken):
		c.JSON(http.StatusBadRequest, gin.H{"error": errs.ErrNoToken.Error()})
	case errors.Is(err, errs.ErrWrongPassword):
		c.JSON(http.StatusBadRequest, gin.H{"error": errs.ErrWrongPassword.Error()})
	case errors.Is(err, errs.ErrUnauthorized), errors.Is(err, errs.ErrNotFound):
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
	default:
		s.log.Error(op, zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal"})
	}
}
