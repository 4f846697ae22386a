package service

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/and161185/homestock/internal/errs"
	"github.com/and161185/homestock/internal/limiter"
	"github.com/and161185/homestock/internal/mailer"
	"github.com/and161185/homestock/internal/model"
	"github.com/and161185/homestock/internal/otp"
	"github.com/and161185/homestock/internal/repository"
	"github.com/and161185/homestock/internal/repository/memory"
	"github.com/and161185/homestock/internal/token"
	"github.com/gofrs/uuid/v5"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

type fakeLimiter struct {
	allowOK  bool
	allowErr error

	failBlocked bool
	failErr     error

	successErr error

	allowCalls   int
	failureCalls int
	successCalls int
}

var _ limiter.Limiter = (*fakeLimiter)(nil)

func (l *fakeLimiter) Allow(context.Context, string, []byte) (bool, time.Duration, error) {
	l.allowCalls++
	return l.allowOK, 0, l.allowErr
}
func (l *fakeLimiter) Success(context.Context, string, []byte) error {
	l.successCalls++
	return l.successErr
}
func (l *fakeLimiter) Failure(context.Context, string, []byte) (bool, time.Duration, error) {
	l.failureCalls++
	return l.failBlocked, 0, l.failErr
}

type fakeMailer struct {
	mu   sync.Mutex
	sent []mailer.Message
	err  error
}

func (m *fakeMailer) Send(_ context.Context, msg mailer.Message) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	m.sent = append(m.sent, msg)
	return nil
}

func (m *fakeMailer) last(t *testing.T) mailer.Message {
	t.Helper()
	m.mu.Lock()
	defer m.mu.Unlock()
	require.NotEmpty(t, m.sent, "no mail sent")
	return m.sent[len(m.sent)-1]
}

// brokenUsers fails every call with err.
type brokenUsers struct {
	repository.UserRepository
	err error
}

func (b brokenUsers) GetByEmail(context.Context, string) (*model.User, error) { return nil, b.err }
func (b brokenUsers) GetByID(context.Context, uuid.UUID) (*model.User, error) { return nil, b.err }

type env struct {
	svc   *AuthServiceImpl
	users *memory.UserRepo
	bl    *memory.BlacklistRepo
	lim   *fakeLimiter
	mail  *fakeMailer
}

func newEnv(t *testing.T) *env {
	t.Helper()
	users := memory.NewUserRepo()
	bl := memory.NewBlacklistRepo(24 * time.Hour)
	lim := &fakeLimiter{allowOK: true}
	mail := &fakeMailer{}
	svc := NewAuthService(users, bl, token.NewManager([]byte("secret"), time.Hour),
		otp.NewGenerator(6, 10*time.Minute), mail, lim, zaptest.NewLogger(t))
	return &env{svc: svc, users: users, bl: bl, lim: lim, mail: mail}
}

func (e *env) register(t *testing.T, email, password string) (model.Tokens, model.User) {
	t.Helper()
	tok, u, err := e.svc.Register(context.Background(), RegisterInput{
		FullName: NameInput{FirstName: "Alice", LastName: "Smith"},
		Email:    email,
		Password: password,
	})
	require.NoError(t, err)
	return tok, u
}

func TestAuth_Register(t *testing.T) {
	t.Parallel()
	e := newEnv(t)
	ctx := context.Background()

	tok, u := e.register(t, "  Alice@Example.COM ", "secret1")
	require.NotEmpty(t, tok.AccessToken)
	require.Equal(t, "alice@example.com", u.Email)
	require.False(t, u.IsVerified)
	require.Nil(t, u.PwdHash, "returned user must not carry the hash")
	require.Empty(t, e.mail.sent, "register must not send a verification code")

	p, err := e.svc.Authenticate(ctx, tok.AccessToken)
	require.NoError(t, err)
	require.Equal(t, u.ID, p.UserID)

	_, _, err = e.svc.Register(ctx, RegisterInput{
		FullName: NameInput{FirstName: "Other"}, Email: "alice@example.com", Password: "another1",
	})
	require.ErrorIs(t, err, errs.ErrAlreadyExists)
	require.NotErrorIs(t, err, errs.ErrValidation)
}

func TestAuth_Register_Validation(t *testing.T) {
	t.Parallel()
	e := newEnv(t)

	_, _, err := e.svc.Register(context.Background(), RegisterInput{
		FullName: NameInput{FirstName: "Al", LastName: "X"},
		Email:    "not-an-email",
		Password: "12345",
	})
	require.ErrorIs(t, err, errs.ErrValidation)
	var ve *errs.ValidationError
	require.ErrorAs(t, err, &ve)
	require.Contains(t, ve.Fields, "email")
	require.Contains(t, ve.Fields, "password")
	require.Contains(t, ve.Fields, "fullname.firstname")
	require.Contains(t, ve.Fields, "fullname.lastname")
	require.Equal(t, "must be at least 6 characters long", ve.Fields["password"])
}

func TestAuth_Login_IndistinguishableFailures(t *testing.T) {
	t.Parallel()
	e := newEnv(t)
	ctx := context.Background()
	_, u := e.register(t, "alice@example.com", "secret1")

	_, _, errWrong := e.svc.LoginWithIP(ctx, "alice@example.com", "wrong-pw", "1.1.1.1")
	_, _, errMissing := e.svc.LoginWithIP(ctx, "nobody@example.com", "secret1", "1.1.1.1")
	require.ErrorIs(t, errWrong, errs.ErrInvalidCredentials)
	require.ErrorIs(t, errMissing, errs.ErrInvalidCredentials)
	require.Equal(t, errWrong.Error(), errMissing.Error())
	require.Equal(t, 2, e.lim.failureCalls)

	tok, got, err := e.svc.LoginWithIP(ctx, "ALICE@example.com", "secret1", "1.1.1.1")
	require.NoError(t, err)
	require.Equal(t, u.ID, got.ID)
	require.Nil(t, got.PwdHash)
	require.True(t, tok.ExpiresAt.After(time.Now()))
	require.Equal(t, 1, e.lim.successCalls)
}

func TestAuth_Login_RateLimiter(t *testing.T) {
	t.Parallel()
	e := newEnv(t)
	ctx := context.Background()
	e.register(t, "alice@example.com", "secret1")

	e.lim.allowErr = errors.New("lim-err")
	_, _, err := e.svc.LoginWithIP(ctx, "alice@example.com", "secret1", "")
	require.Error(t, err)
	e.lim.allowErr = nil

	e.lim.allowOK = false
	_, _, err = e.svc.LoginWithIP(ctx, "alice@example.com", "secret1", "")
	require.ErrorIs(t, err, errs.ErrRateLimited)
	e.lim.allowOK = true

	e.lim.failBlocked = true
	_, _, err = e.svc.LoginWithIP(ctx, "alice@example.com", "wrong", "")
	require.ErrorIs(t, err, errs.ErrRateLimited)
}

func TestAuth_Login_StorageErrorIsInternal(t *testing.T) {
	t.Parallel()
	e := newEnv(t)
	boom := errors.New("db down")
	e.svc.users = brokenUsers{err: boom}

	_, _, err := e.svc.LoginWithIP(context.Background(), "a@b.c", "secret1", "")
	require.ErrorIs(t, err, boom)
	require.NotErrorIs(t, err, errs.ErrInvalidCredentials)
}

func TestAuth_LogoutAndAuthenticate(t *testing.T) {
	t.Parallel()
	e := newEnv(t)
	ctx := context.Background()
	tok, _ := e.register(t, "alice@example.com", "secret1")

	require.ErrorIs(t, e.svc.Logout(ctx, ""), errs.ErrNoToken)

	require.NoError(t, e.svc.Logout(ctx, tok.AccessToken))
	require.NoError(t, e.svc.Logout(ctx, tok.AccessToken), "logout is idempotent")
	require.NoError(t, e.svc.Logout(ctx, "garbage.token.value"), "logout never fails on token state")

	_, err := e.svc.Authenticate(ctx, tok.AccessToken)
	require.ErrorIs(t, err, errs.ErrUnauthorized)

	_, err = e.svc.Authenticate(ctx, "")
	require.ErrorIs(t, err, errs.ErrUnauthorized)
	_, err = e.svc.Authenticate(ctx, "garbage")
	require.ErrorIs(t, err, errs.ErrUnauthorized)
}

func TestAuth_Authenticate_BlacklistExpiryDoesNotReviveExpiredToken(t *testing.T) {
	t.Parallel()
	e := newEnv(t)
	ctx := context.Background()
	_, u := e.register(t, "alice@example.com", "secret1")

	now := time.Now()
	clock := now
	tm := token.NewManager([]byte("secret"), time.Hour).WithClock(func() time.Time { return clock })
	e.svc.tokens = tm
	e.bl.WithClock(func() time.Time { return clock })

	tok, _, err := tm.Issue(u.ID)
	require.NoError(t, err)
	require.NoError(t, e.svc.Logout(ctx, tok))

	clock = now.Add(30 * time.Minute)
	_, err = e.svc.Authenticate(ctx, tok)
	require.ErrorIs(t, err, errs.ErrUnauthorized, "blacklisted while still signed-valid")

	clock = now.Add(25 * time.Hour)
	_, err = e.svc.Authenticate(ctx, tok)
	require.ErrorIs(t, err, errs.ErrUnauthorized, "blacklist record gone but token itself expired")
}

func TestAuth_Authenticate_BlacklistIsAdditiveRevocation(t *testing.T) {
	t.Parallel()
	e := newEnv(t)
	ctx := context.Background()
	_, u := e.register(t, "alice@example.com", "secret1")

	now := time.Now()
	clock := now
	tm := token.NewManager([]byte("secret"), 48*time.Hour).WithClock(func() time.Time { return clock })
	bl := memory.NewBlacklistRepo(time.Hour).WithClock(func() time.Time { return clock })
	e.svc.tokens = tm
	e.svc.blacklist = bl

	tok, _, err := tm.Issue(u.ID)
	require.NoError(t, err)
	require.NoError(t, e.svc.Logout(ctx, tok))
	_, err = e.svc.Authenticate(ctx, tok)
	require.ErrorIs(t, err, errs.ErrUnauthorized)

	clock = now.Add(2 * time.Hour)
	p, err := e.svc.Authenticate(ctx, tok)
	require.NoError(t, err, "once the record expires only signature and expiry decide")
	require.Equal(t, u.ID, p.UserID)
}

func TestAuth_Authenticate_DeletedUserRejected(t *testing.T) {
	t.Parallel()
	e := newEnv(t)
	ctx := context.Background()
	tok, u := e.register(t, "alice@example.com", "secret1")

	require.NoError(t, e.users.Delete(ctx, u.ID))
	_, err := e.svc.Authenticate(ctx, tok.AccessToken)
	require.ErrorIs(t, err, errs.ErrUnauthorized)
}

func TestAuth_VerifyOTP_Flow(t *testing.T) {
	t.Parallel()
	e := newEnv(t)
	ctx := context.Background()
	_, u := e.register(t, "alice@example.com", "secret1")

	require.NoError(t, e.svc.SendVerifyOTP(ctx, u.ID))
	first := e.mail.last(t).Code
	require.NoError(t, e.svc.SendVerifyOTP(ctx, u.ID))
	second := e.mail.last(t)
	require.Equal(t, mailer.PurposeVerify, second.Purpose)
	require.Equal(t, "alice@example.com", second.To)

	if first != second.Code {
		require.ErrorIs(t, e.svc.VerifyOTP(ctx, u.ID, first), errs.ErrInvalidOTP, "resend replaces the pending code")
	}
	require.ErrorIs(t, e.svc.VerifyOTP(ctx, u.ID, "abcdef"), errs.ErrInvalidOTP)
	require.ErrorIs(t, e.svc.VerifyOTP(ctx, u.ID, ""), errs.ErrInvalidOTP)

	require.NoError(t, e.svc.VerifyOTP(ctx, u.ID, second.Code))
	err := e.svc.VerifyOTP(ctx, u.ID, second.Code)
	require.True(t, errors.Is(err, errs.ErrAlreadyVerified) || errors.Is(err, errs.ErrInvalidOTP))

	require.ErrorIs(t, e.svc.SendVerifyOTP(ctx, u.ID), errs.ErrAlreadyVerified)
}

func TestAuth_VerifyOTP_Expired(t *testing.T) {
	t.Parallel()
	e := newEnv(t)
	ctx := context.Background()
	_, u := e.register(t, "alice@example.com", "secret1")

	require.NoError(t, e.svc.SendVerifyOTP(ctx, u.ID))
	code := e.mail.last(t).Code

	e.svc.now = func() time.Time { return time.Now().Add(11 * time.Minute) }
	require.ErrorIs(t, e.svc.VerifyOTP(ctx, u.ID, code), errs.ErrInvalidOTP)
}

func TestAuth_VerifyOTP_ConcurrentSingleSuccess(t *testing.T) {
	t.Parallel()
	e := newEnv(t)
	ctx := context.Background()
	_, u := e.register(t, "alice@example.com", "secret1")
	require.NoError(t, e.svc.SendVerifyOTP(ctx, u.ID))
	code := e.mail.last(t).Code

	var wins atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := e.svc.VerifyOTP(ctx, u.ID, code)
			switch {
			case err == nil:
				wins.Add(1)
			case errors.Is(err, errs.ErrInvalidOTP), errors.Is(err, errs.ErrAlreadyVerified):
			default:
				t.Errorf("unexpected: %v", err)
			}
		}()
	}
	wg.Wait()
	require.Equal(t, int32(1), wins.Load())
}

func TestAuth_SendVerifyOTP_MailFailureClearsCode(t *testing.T) {
	t.Parallel()
	e := newEnv(t)
	ctx := context.Background()
	_, u := e.register(t, "alice@example.com", "secret1")

	e.mail.err = errors.New("smtp down")
	require.Error(t, e.svc.SendVerifyOTP(ctx, u.ID))
	full, err := e.users.GetByEmail(ctx, u.Email)
	require.NoError(t, err)
	require.Empty(t, full.VerifyOTP)
}

func TestAuth_ResetPassword_EndToEnd(t *testing.T) {
	t.Parallel()
	e := newEnv(t)
	ctx := context.Background()
	e.register(t, "alice@example.com", "secret1")

	require.NoError(t, e.svc.SendResetOTP(ctx, "nobody@example.com"), "unknown email answers the same")
	require.Empty(t, e.mail.sent)

	require.NoError(t, e.svc.SendResetOTP(ctx, "Alice@example.com"))
	msg := e.mail.last(t)
	require.Equal(t, mailer.PurposeReset, msg.Purpose)

	require.ErrorIs(t, e.svc.ResetPassword(ctx, "alice@example.com", "12345", "newpass1", ""), errs.ErrInvalidOTP)
	require.ErrorIs(t, e.svc.ResetPassword(ctx, "alice@example.com", msg.Code, "short", ""), errs.ErrValidation)

	require.NoError(t, e.svc.ResetPassword(ctx, "alice@example.com", msg.Code, "newpass1", ""))
	require.ErrorIs(t, e.svc.ResetPassword(ctx, "alice@example.com", msg.Code, "newpass2", ""), errs.ErrInvalidOTP,
		"reset code is single-use")

	_, _, err := e.svc.LoginWithIP(ctx, "alice@example.com", "secret1", "")
	require.ErrorIs(t, err, errs.ErrInvalidCredentials)
	_, _, err = e.svc.LoginWithIP(ctx, "alice@example.com", "newpass1", "")
	require.NoError(t, err)
}

func TestAuth_ResetPassword_ExpiredAndUnknown(t *testing.T) {
	t.Parallel()
	e := newEnv(t)
	ctx := context.Background()
	e.register(t, "alice@example.com", "secret1")
	require.NoError(t, e.svc.SendResetOTP(ctx, "alice@example.com"))
	code := e.mail.last(t).Code

	require.ErrorIs(t, e.svc.ResetPassword(ctx, "bob@example.com", code, "newpass1", ""), errs.ErrInvalidOTP)

	e.svc.now = func() time.Time { return time.Now().Add(time.Hour) }
	require.ErrorIs(t, e.svc.ResetPassword(ctx, "alice@example.com", code, "newpass1", ""), errs.ErrInvalidOTP)

	e.lim.failBlocked = true
	require.ErrorIs(t, e.svc.ResetPassword(ctx, "alice@example.com", code, "newpass1", ""), errs.ErrRateLimited)
}

func TestAuth_ResetPassword_MalformedCodesAreGenericFailures(t *testing.T) {
	t.Parallel()
	e := newEnv(t)
	ctx := context.Background()
	e.register(t, "alice@example.com", "secret1")
	require.NoError(t, e.svc.SendResetOTP(ctx, "alice@example.com"))

	for _, code := range []string{"abcdef", "", "12345", "1234567", "12 456"} {
		err := e.svc.ResetPassword(ctx, "alice@example.com", code, "newpass1", "")
		require.ErrorIs(t, err, errs.ErrInvalidOTP, "code %q", code)
		require.NotErrorIs(t, err, errs.ErrValidation, "code %q", code)
	}
	require.Equal(t, 5, e.lim.failureCalls, "every bad code counts against the limiter")
}

func TestAuth_SendResetOTP_Validation(t *testing.T) {
	t.Parallel()
	e := newEnv(t)
	require.ErrorIs(t, e.svc.SendResetOTP(context.Background(), "nope"), errs.ErrValidation)

	e.mail.err = errors.New("smtp down")
	e.register(t, "alice@example.com", "secret1")
	require.NoError(t, e.svc.SendResetOTP(context.Background(), "alice@example.com"),
		"delivery failure must not change the response")
}

func TestAuth_ChangePassword(t *testing.T) {
	t.Parallel()
	e := newEnv(t)
	ctx := context.Background()
	_, u := e.register(t, "alice@example.com", "secret1")

	require.ErrorIs(t, e.svc.ChangePassword(ctx, u.ID, "wrong-old", "newpass1"), errs.ErrWrongPassword)
	require.ErrorIs(t, e.svc.ChangePassword(ctx, u.ID, "wrong-old", "x"), errs.ErrWrongPassword,
		"old password is checked regardless of new password validity")
	require.ErrorIs(t, e.svc.ChangePassword(ctx, u.ID, "secret1", "x"), errs.ErrValidation)

	require.NoError(t, e.svc.SendResetOTP(ctx, "alice@example.com"))
	resetCode := e.mail.last(t).Code

	require.NoError(t, e.svc.ChangePassword(ctx, u.ID, "secret1", "newpass1"))

	_, _, err := e.svc.LoginWithIP(ctx, "alice@example.com", "secret1", "")
	require.ErrorIs(t, err, errs.ErrInvalidCredentials)
	_, _, err = e.svc.LoginWithIP(ctx, "alice@example.com", "newpass1", "")
	require.NoError(t, err)

	require.ErrorIs(t, e.svc.ResetPassword(ctx, "alice@example.com", resetCode, "another1", ""), errs.ErrInvalidOTP,
		"password change drops pending reset code")
}

func TestAuth_UpdateProfile(t *testing.T) {
	t.Parallel()
	e := newEnv(t)
	ctx := context.Background()
	_, u := e.register(t, "alice@example.com", "secret1")

	got, err := e.svc.UpdateProfile(ctx, u.ID, ProfileInput{
		FullName: NameInput{FirstName: "Alicia", LastName: "Smith"},
		Picture:  "https://cdn.example.com/a.png",
	})
	require.NoError(t, err)
	require.Equal(t, "Alicia", got.FullName.FirstName)
	require.Equal(t, "https://cdn.example.com/a.png", got.Picture)

	_, err = e.svc.UpdateProfile(ctx, u.ID, ProfileInput{FullName: NameInput{FirstName: "Al"}, Picture: "not a url"})
	require.ErrorIs(t, err, errs.ErrValidation)

	_, _, err = e.svc.LoginWithIP(ctx, "alice@example.com", "secret1", "")
	require.NoError(t, err, "profile update must not touch credentials")
}

func TestRunBlacklistJanitor(t *testing.T) {
	t.Parallel()
	bl := memory.NewBlacklistRepo(time.Millisecond)
	require.NoError(t, bl.Add(context.Background(), "tok"))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		RunBlacklistJanitor(ctx, bl, time.Millisecond, 5*time.Millisecond, zaptest.NewLogger(t))
		close(done)
	}()
	require.Eventually(t, func() bool { return bl.Len() == 0 }, time.Second, 5*time.Millisecond)
	cancel()
	<-done
}
