package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"regexp"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"phone-auth-service/internal/gateway"
	"phone-auth-service/internal/ledger"
	"phone-auth-service/internal/phone"
	"phone-auth-service/internal/repository/memory"
	"phone-auth-service/internal/service"
	"phone-auth-service/internal/session"
)

const testNumber = "+237650000000"

type stubGateway struct {
	reachable   bool
	lastMessage string
}

func (g *stubGateway) CheckReachable(ctx context.Context, phoneNumber string) gateway.CheckResult {
	return gateway.CheckResult{Reachable: g.reachable}
}

func (g *stubGateway) Send(ctx context.Context, phoneNumber, message string) gateway.SendResult {
	g.lastMessage = message
	return gateway.SendResult{Delivered: true, Reference: "msg-1"}
}

type stubLimiter struct {
	mu     sync.Mutex
	count  int
	locked bool
}

func (l *stubLimiter) IncrementIPCounter(ctx context.Context, ip string, ttl time.Duration) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.count++
	return l.count, nil
}

func (l *stubLimiter) SetTemporaryLock(ctx context.Context, key string, ttl time.Duration) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.locked = true
	return nil
}

func (l *stubLimiter) IsLocked(ctx context.Context, key string) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.locked, nil
}

func (l *stubLimiter) snapshot() (int, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.count, l.locked
}

func newTestServer(t *testing.T) (*httptest.Server, *stubGateway) {
	t.Helper()
	return newTestServerWithLimiter(t, nil, 0)
}

func newTestServerWithLimiter(t *testing.T, limiter RateLimiter, limit int) (*httptest.Server, *stubGateway) {
	t.Helper()

	normalizer, err := phone.NewNormalizer("+237", `^\+[1-9][0-9]{7,14}$`)
	require.NoError(t, err)

	gw := &stubGateway{reachable: true}
	ldg := ledger.New(memory.NewChallengeStore(), ledger.Config{
		CodeLength:  6,
		TTL:         5 * time.Minute,
		MaxAttempts: 3,
		Cooldown:    60 * time.Second,
	})
	issuer := session.NewIssuer(memory.NewSessionStore(), nil, session.Config{})
	resolver := service.NewRepositoryUserResolver(memory.NewUserStore())

	svc := service.NewPhoneAuthService(normalizer, gw, ldg, issuer, resolver, nil,
		service.Config{MessageTemplate: "Code: {code}, valid {ttl} minutes"})

	authHandler := NewAuthHandler(svc, limiter, limit, zap.NewNop())
	router := NewRouter(authHandler, zap.NewNop(), false)

	srv := httptest.NewServer(router)
	t.Cleanup(srv.Close)
	return srv, gw
}

func postJSON(t *testing.T, url string, body interface{}, headers map[string]string) (*http.Response, Response) {
	t.Helper()

	payload, err := json.Marshal(body)
	require.NoError(t, err)

	req, err := http.NewRequest(http.MethodPost, url, bytes.NewReader(payload))
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	var envelope Response
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&envelope))
	return resp, envelope
}

var codePattern = regexp.MustCompile(`\d{6}`)

func requestAndVerify(t *testing.T, srv *httptest.Server, gw *stubGateway) (accessToken, refreshToken string) {
	t.Helper()

	resp, _ := postJSON(t, srv.URL+"/api/v1/auth/phone/request-code",
		map[string]string{"phoneNumber": testNumber}, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	code := codePattern.FindString(gw.lastMessage)
	require.NotEmpty(t, code)

	resp, envelope := postJSON(t, srv.URL+"/api/v1/auth/phone/verify-code",
		map[string]string{"phoneNumber": testNumber, "code": code}, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	data, ok := envelope.Data.(map[string]interface{})
	require.True(t, ok)
	sess, ok := data["session"].(map[string]interface{})
	require.True(t, ok)
	return sess["accessToken"].(string), sess["refreshToken"].(string)
}

func TestRequestCodeEndpoint(t *testing.T) {
	srv, gw := newTestServer(t)

	resp, envelope := postJSON(t, srv.URL+"/api/v1/auth/phone/request-code",
		map[string]string{"phoneNumber": "650 000 000"}, nil)

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.True(t, envelope.Success)

	data := envelope.Data.(map[string]interface{})
	assert.NotEmpty(t, data["correlationId"])
	assert.Equal(t, float64(300), data["expiresInSeconds"])
	assert.Equal(t, float64(60), data["canResendAfterSeconds"])
	assert.NotEmpty(t, gw.lastMessage)
}

func TestRequestCodeEndpointValidation(t *testing.T) {
	srv, _ := newTestServer(t)

	resp, envelope := postJSON(t, srv.URL+"/api/v1/auth/phone/request-code",
		map[string]string{}, nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.False(t, envelope.Success)

	resp, envelope = postJSON(t, srv.URL+"/api/v1/auth/phone/request-code",
		map[string]string{"phoneNumber": "garbage"}, nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, "INVALID_PHONE_FORMAT", envelope.Error)
}

func TestRequestCodeEndpointCooldown(t *testing.T) {
	srv, _ := newTestServer(t)

	resp, _ := postJSON(t, srv.URL+"/api/v1/auth/phone/request-code",
		map[string]string{"phoneNumber": testNumber}, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp, envelope := postJSON(t, srv.URL+"/api/v1/auth/phone/request-code",
		map[string]string{"phoneNumber": testNumber}, nil)
	assert.Equal(t, http.StatusTooManyRequests, resp.StatusCode)
	assert.Equal(t, "COOLDOWN_ACTIVE", envelope.Error)

	data := envelope.Data.(map[string]interface{})
	assert.Greater(t, data["cooldownSeconds"].(float64), float64(0))
}

func TestVerifyCodeEndpoint(t *testing.T) {
	srv, gw := newTestServer(t)

	access, refresh := requestAndVerify(t, srv, gw)
	assert.NotEmpty(t, access)
	assert.NotEmpty(t, refresh)
	assert.NotEqual(t, access, refresh)
}

func TestVerifyCodeEndpointWrongCode(t *testing.T) {
	srv, gw := newTestServer(t)

	resp, _ := postJSON(t, srv.URL+"/api/v1/auth/phone/request-code",
		map[string]string{"phoneNumber": testNumber}, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	wrong := "000000"
	if codePattern.FindString(gw.lastMessage) == wrong {
		wrong = "000001"
	}

	resp, envelope := postJSON(t, srv.URL+"/api/v1/auth/phone/verify-code",
		map[string]string{"phoneNumber": testNumber, "code": wrong}, nil)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	assert.Equal(t, "INVALID_CODE", envelope.Error)

	data := envelope.Data.(map[string]interface{})
	assert.Equal(t, float64(2), data["remainingAttempts"])
}

func TestVerifyCodeEndpointNoChallenge(t *testing.T) {
	srv, _ := newTestServer(t)

	resp, envelope := postJSON(t, srv.URL+"/api/v1/auth/phone/verify-code",
		map[string]string{"phoneNumber": testNumber, "code": "123456"}, nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	assert.Equal(t, "NO_ACTIVE_CHALLENGE", envelope.Error)
}

func TestRefreshEndpoint(t *testing.T) {
	srv, gw := newTestServer(t)
	_, refresh := requestAndVerify(t, srv, gw)

	resp, envelope := postJSON(t, srv.URL+"/api/v1/auth/session/refresh",
		map[string]string{"refreshToken": refresh}, nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.True(t, envelope.Success)

	resp, envelope = postJSON(t, srv.URL+"/api/v1/auth/session/refresh",
		map[string]string{"refreshToken": "bogus"}, nil)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	assert.Equal(t, "SESSION_INVALID", envelope.Error)
}

func TestLogoutEndpoint(t *testing.T) {
	srv, gw := newTestServer(t)
	access, _ := requestAndVerify(t, srv, gw)

	// Missing bearer token.
	resp, _ := postJSON(t, srv.URL+"/api/v1/auth/logout", nil, nil)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	resp, envelope := postJSON(t, srv.URL+"/api/v1/auth/logout", nil,
		map[string]string{"Authorization": "Bearer " + access})
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.True(t, envelope.Success)

	// The token died with the logout.
	resp, _ = postJSON(t, srv.URL+"/api/v1/auth/logout", nil,
		map[string]string{"Authorization": "Bearer " + access})
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestListSessionsEndpoint(t *testing.T) {
	srv, gw := newTestServer(t)
	access, _ := requestAndVerify(t, srv, gw)

	req, err := http.NewRequest(http.MethodGet, srv.URL+"/api/v1/auth/sessions", nil)
	require.NoError(t, err)
	req.Header.Set("Authorization", "Bearer "+access)

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	var envelope Response
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&envelope))
	views, ok := envelope.Data.([]interface{})
	require.True(t, ok)
	require.Len(t, views, 1)

	// The listing never echoes credentials.
	view := views[0].(map[string]interface{})
	_, hasToken := view["accessToken"]
	assert.False(t, hasToken)
}

func TestRateLimitMiddleware(t *testing.T) {
	limiter := &stubLimiter{}
	srv, _ := newTestServerWithLimiter(t, limiter, 2)

	verify := func() (*http.Response, Response) {
		return postJSON(t, srv.URL+"/api/v1/auth/phone/verify-code",
			map[string]string{"phoneNumber": testNumber, "code": "123456"}, nil)
	}

	// Within the window the request reaches the service (404, no
	// challenge exists).
	for i := 0; i < 2; i++ {
		resp, _ := verify()
		assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	}

	resp, envelope := verify()
	assert.Equal(t, http.StatusTooManyRequests, resp.StatusCode)
	assert.Equal(t, "RATE_LIMITED", envelope.Error)

	// Hammering far past the window parks the source.
	for i := 0; i < 5; i++ {
		resp, _ = verify()
		assert.Equal(t, http.StatusTooManyRequests, resp.StatusCode)
	}
	count, locked := limiter.snapshot()
	require.True(t, locked)

	// Locked sources are rejected before the counter moves.
	resp, envelope = verify()
	assert.Equal(t, http.StatusTooManyRequests, resp.StatusCode)
	assert.Equal(t, "RATE_LIMITED", envelope.Error)
	after, _ := limiter.snapshot()
	assert.Equal(t, count, after)
}

func TestHealthAndNotFound(t *testing.T) {
	srv, _ := newTestServer(t)

	resp, err := http.Get(srv.URL + "/health")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp, err = http.Get(srv.URL + "/api/v1/auth/nope")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}
