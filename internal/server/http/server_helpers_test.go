package httpserver

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/and161185/homestock/internal/limiter"
	"github.com/and161185/homestock/internal/mailer"
	"github.com/and161185/homestock/internal/otp"
	"github.com/and161185/homestock/internal/repository/memory"
	"github.com/and161185/homestock/internal/service"
	"github.com/and161185/homestock/internal/token"
	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

var testKey = []byte("test-sign-key")

type captureMailer struct {
	mu   sync.Mutex
	sent []mailer.Message
}

func (m *captureMailer) Send(_ context.Context, msg mailer.Message) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sent = append(m.sent, msg)
	return nil
}

func (m *captureMailer) lastCode(t *testing.T, p mailer.Purpose) string {
	t.Helper()
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := len(m.sent) - 1; i >= 0; i-- {
		if m.sent[i].Purpose == p {
			return m.sent[i].Code
		}
	}
	t.Fatalf("no %s mail sent", p)
	return ""
}

type harness struct {
	router *gin.Engine
	users  *memory.UserRepo
	bl     *memory.BlacklistRepo
	mail   *captureMailer
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	log := zaptest.NewLogger(t)
	users := memory.NewUserRepo()
	bl := memory.NewBlacklistRepo(24 * time.Hour)
	mail := &captureMailer{}
	lim := limiter.NewMemory(limiter.Policy{Window: time.Minute, MaxFails: 3, BlockFor: time.Minute})
	svc := service.NewAuthService(users, bl, token.NewManager(testKey, time.Hour),
		otp.NewGenerator(6, 10*time.Minute), mail, lim, log)
	srv := New(svc, CookieConfig{MaxAge: 3600}, nil, log)
	return &harness{router: srv.Router(), users: users, bl: bl, mail: mail}
}

type call struct {
	method string
	path   string
	body   any
	token  string // sent as Bearer
	cookie string // sent as session cookie
}

func (h *harness) do(t *testing.T, c call) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if c.body != nil {
		if raw, ok := c.body.(string); ok {
			buf.WriteString(raw)
		} else {
			require.NoError(t, json.NewEncoder(&buf).Encode(c.body))
		}
	}
	req := httptest.NewRequest(c.method, c.path, &buf)
	req.Header.Set("Content-Type", "application/json")
	req.RemoteAddr = "203.0.113.7:5555"
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	if c.cookie != "" {
		req.AddCookie(&http.Cookie{Name: CookieName, Value: c.cookie})
	}
	rec := httptest.NewRecorder()
	h.router.ServeHTTP(rec, req)
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out), rec.Body.String())
	return out
}

func (h *harness) register(t *testing.T, email, password string) string {
	t.Helper()
	rec := h.do(t, call{method: http.MethodPost, path: "/api/auth/register", body: map[string]any{
		"fullname": map[string]string{"firstname": "Alice", "lastname": "Smith"},
		"email":    email,
		"password": password,
	}})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	return decode(t, rec)["token"].(string)
}

func sessionCookie(rec *httptest.ResponseRecorder) *http.Cookie {
	for _, c := range rec.Result().Cookies() {
		if c.Name == CookieName {
			return c
		}
	}
	return nil
}

func makeJWT(t *testing.T, sub string, key []byte, method jwt.SigningMethod, iat time.Time, ttl time.Duration) string {
	t.Helper()
	claims := jwt.RegisteredClaims{
		Subject:   sub,
		IssuedAt:  jwt.NewNumericDate(iat),
		ExpiresAt: jwt.NewNumericDate(iat.Add(ttl)),
	}
	s, err := jwt.NewWithClaims(method, claims).SignedString(key)
	require.NoError(t, err)
	return s
}
