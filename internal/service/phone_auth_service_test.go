package service

import (
	"context"
	"regexp"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"phone-auth-service/internal/gateway"
	"phone-auth-service/internal/ledger"
	"phone-auth-service/internal/model"
	"phone-auth-service/internal/phone"
	"phone-auth-service/internal/repository/memory"
	"phone-auth-service/internal/session"
)

const testNumber = "+237650000000"

// fakeGateway is a scriptable delivery channel.
type fakeGateway struct {
	reachable   bool
	checkErr    gateway.ErrorKind
	sendErr     gateway.ErrorKind
	reference   string
	lastMessage string
	sendCalls   int
}

func (g *fakeGateway) CheckReachable(ctx context.Context, phoneNumber string) gateway.CheckResult {
	if g.checkErr != gateway.ErrNone {
		return gateway.CheckResult{Err: g.checkErr, Detail: "scripted failure"}
	}
	return gateway.CheckResult{Reachable: g.reachable}
}

func (g *fakeGateway) Send(ctx context.Context, phoneNumber, message string) gateway.SendResult {
	g.sendCalls++
	g.lastMessage = message
	if g.sendErr != gateway.ErrNone {
		return gateway.SendResult{Err: g.sendErr, Detail: "scripted failure"}
	}
	return gateway.SendResult{Delivered: true, Reference: g.reference}
}

type testEnv struct {
	svc        *PhoneAuthService
	gw         *fakeGateway
	challenges *memory.ChallengeStore
	users      *memory.UserStore
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	normalizer, err := phone.NewNormalizer("+237", `^\+[1-9][0-9]{7,14}$`)
	require.NoError(t, err)

	gw := &fakeGateway{reachable: true, reference: "msg-1"}
	challenges := memory.NewChallengeStore()
	users := memory.NewUserStore()
	sessions := memory.NewSessionStore()

	ldg := ledger.New(challenges, ledger.Config{
		CodeLength:  6,
		TTL:         5 * time.Minute,
		MaxAttempts: 3,
		Cooldown:    60 * time.Second,
	})
	issuer := session.NewIssuer(sessions, nil, session.Config{})
	resolver := NewRepositoryUserResolver(users)

	svc := NewPhoneAuthService(normalizer, gw, ldg, issuer, resolver, nil,
		Config{MessageTemplate: "Your verification code is {code}. It expires in {ttl} minutes."})

	return &testEnv{svc: svc, gw: gw, challenges: challenges, users: users}
}

var codePattern = regexp.MustCompile(`\d{6}`)

func (e *testEnv) sentCode(t *testing.T) string {
	t.Helper()
	code := codePattern.FindString(e.gw.lastMessage)
	require.NotEmpty(t, code, "no code found in %q", e.gw.lastMessage)
	return code
}

func requireKind(t *testing.T, err error, kind ErrorKind) *Error {
	t.Helper()
	var svcErr *Error
	require.ErrorAs(t, err, &svcErr)
	require.Equal(t, kind, svcErr.Kind)
	return svcErr
}

func TestRequestCode(t *testing.T) {
	env := newTestEnv(t)

	result, err := env.svc.RequestCode(context.Background(), "650 000 000", "", "203.0.113.7")
	require.NoError(t, err)
	assert.NotEmpty(t, result.CorrelationID)
	assert.Equal(t, 300, result.ExpiresInSeconds)
	assert.Equal(t, 60, result.CanResendAfter)

	assert.Contains(t, env.gw.lastMessage, "It expires in 5 minutes.")
	env.sentCode(t)

	rows := env.challenges.History(testNumber, DefaultPurpose)
	require.Len(t, rows, 1)
	assert.Equal(t, model.StatusPending, rows[0].Status)
	assert.Equal(t, "msg-1", rows[0].DeliveryRef)
}

func TestRequestCodeInvalidPhone(t *testing.T) {
	env := newTestEnv(t)

	_, err := env.svc.RequestCode(context.Background(), "not a number", "", "")
	requireKind(t, err, KindInvalidPhoneFormat)
	assert.Equal(t, 0, env.gw.sendCalls)
}

func TestRequestCodeCooldown(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	_, err := env.svc.RequestCode(ctx, testNumber, "", "")
	require.NoError(t, err)

	_, err = env.svc.RequestCode(ctx, testNumber, "", "")
	svcErr := requireKind(t, err, KindCooldownActive)
	assert.Greater(t, svcErr.CooldownSeconds, 0)
	assert.LessOrEqual(t, svcErr.CooldownSeconds, 61)
	assert.Equal(t, 1, env.gw.sendCalls)
}

func TestRequestCodeUnreachableNumber(t *testing.T) {
	env := newTestEnv(t)
	env.gw.reachable = false

	_, err := env.svc.RequestCode(context.Background(), testNumber, "", "")
	requireKind(t, err, KindNotReachable)

	// No challenge is created and no code is spent on a dead number.
	assert.Empty(t, env.challenges.History(testNumber, DefaultPurpose))
	assert.Equal(t, 0, env.gw.sendCalls)
}

func TestRequestCodeChannelDown(t *testing.T) {
	env := newTestEnv(t)
	env.gw.checkErr = gateway.ErrServiceUnavailable

	_, err := env.svc.RequestCode(context.Background(), testNumber, "", "")
	requireKind(t, err, KindServiceUnavailable)
}

func TestRequestCodeDeliveryTimeout(t *testing.T) {
	env := newTestEnv(t)
	env.gw.sendErr = gateway.ErrTimeout

	_, err := env.svc.RequestCode(context.Background(), testNumber, "", "")
	requireKind(t, err, KindDeliveryTimeout)

	// The message may have gone out, so the challenge stays pending and
	// the code remains verifiable.
	rows := env.challenges.History(testNumber, DefaultPurpose)
	require.Len(t, rows, 1)
	assert.Equal(t, model.StatusPending, rows[0].Status)
}

func TestRequestCodeDeliveryFailed(t *testing.T) {
	env := newTestEnv(t)
	env.gw.sendErr = gateway.ErrServiceUnavailable

	_, err := env.svc.RequestCode(context.Background(), testNumber, "", "")
	requireKind(t, err, KindDeliveryFailed)
}

func TestVerifyCodeCreatesUserAndSession(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	_, err := env.svc.RequestCode(ctx, testNumber, "", "")
	require.NoError(t, err)

	result, err := env.svc.VerifyCode(ctx, testNumber, env.sentCode(t), "", model.DeviceMetadata{
		DeviceName: "Pixel 8",
		IPAddress:  "203.0.113.7",
	})
	require.NoError(t, err)

	assert.True(t, result.IsNewUser)
	require.NotNil(t, result.User)
	assert.NotEmpty(t, result.User.ID)
	assert.Equal(t, testNumber, result.User.Phone)
	assert.Contains(t, result.User.Name, "0000")

	require.NotNil(t, result.Session)
	assert.NotEmpty(t, result.Session.Token)
	assert.NotEmpty(t, result.Session.RefreshToken)

	stored, err := env.users.FindByID(ctx, result.User.ID)
	require.NoError(t, err)
	assert.NotNil(t, stored.PhoneVerifiedAt)
	assert.NotNil(t, stored.LastLogin)
}

func TestVerifyCodeExistingUser(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	require.NoError(t, env.users.Create(ctx, &model.User{
		ID:    "user-1",
		Phone: testNumber,
	}))

	_, err := env.svc.RequestCode(ctx, testNumber, "", "")
	require.NoError(t, err)

	result, err := env.svc.VerifyCode(ctx, testNumber, env.sentCode(t), "", model.DeviceMetadata{})
	require.NoError(t, err)
	assert.False(t, result.IsNewUser)
	assert.Equal(t, "user-1", result.User.ID)
}

func TestVerifyCodeWrongCode(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	_, err := env.svc.RequestCode(ctx, testNumber, "", "")
	require.NoError(t, err)

	code := env.sentCode(t)
	wrong := "000000"
	if wrong == code {
		wrong = "000001"
	}

	_, err = env.svc.VerifyCode(ctx, testNumber, wrong, "", model.DeviceMetadata{})
	svcErr := requireKind(t, err, KindInvalidCode)
	assert.Equal(t, 2, svcErr.RemainingAttempts)

	_, err = env.svc.VerifyCode(ctx, testNumber, wrong, "", model.DeviceMetadata{})
	svcErr = requireKind(t, err, KindInvalidCode)
	assert.Equal(t, 1, svcErr.RemainingAttempts)

	_, err = env.svc.VerifyCode(ctx, testNumber, wrong, "", model.DeviceMetadata{})
	svcErr = requireKind(t, err, KindMaxAttemptsReached)
	assert.Equal(t, 0, svcErr.RemainingAttempts)

	// Even the right code is dead now.
	_, err = env.svc.VerifyCode(ctx, testNumber, code, "", model.DeviceMetadata{})
	requireKind(t, err, KindMaxAttemptsReached)
}

func TestVerifyCodeWithoutRequest(t *testing.T) {
	env := newTestEnv(t)

	_, err := env.svc.VerifyCode(context.Background(), testNumber, "123456", "", model.DeviceMetadata{})
	requireKind(t, err, KindNoActiveChallenge)
}

func TestVerifyCodeReplay(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	_, err := env.svc.RequestCode(ctx, testNumber, "", "")
	require.NoError(t, err)

	code := env.sentCode(t)
	_, err = env.svc.VerifyCode(ctx, testNumber, code, "", model.DeviceMetadata{})
	require.NoError(t, err)

	_, err = env.svc.VerifyCode(ctx, testNumber, code, "", model.DeviceMetadata{})
	requireKind(t, err, KindAlreadyResolved)
}

func verifiedSession(t *testing.T, env *testEnv) *model.Session {
	t.Helper()
	ctx := context.Background()

	_, err := env.svc.RequestCode(ctx, testNumber, "", "")
	require.NoError(t, err)
	result, err := env.svc.VerifyCode(ctx, testNumber, env.sentCode(t), "", model.DeviceMetadata{})
	require.NoError(t, err)
	return result.Session
}

func TestAuthenticateAndLogout(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	sess := verifiedSession(t, env)

	got, err := env.svc.Authenticate(ctx, sess.Token)
	require.NoError(t, err)
	assert.Equal(t, sess.UserID, got.UserID)

	require.NoError(t, env.svc.Logout(ctx, sess.Token))

	_, err = env.svc.Authenticate(ctx, sess.Token)
	requireKind(t, err, KindSessionInvalid)

	err = env.svc.Logout(ctx, sess.Token)
	requireKind(t, err, KindSessionInvalid)
}

func TestRefreshSession(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	sess := verifiedSession(t, env)

	renewed, err := env.svc.RefreshSession(ctx, sess.RefreshToken)
	require.NoError(t, err)
	assert.NotEqual(t, sess.Token, renewed.Token)

	_, err = env.svc.Authenticate(ctx, sess.Token)
	requireKind(t, err, KindSessionInvalid)

	_, err = env.svc.RefreshSession(ctx, "bogus")
	requireKind(t, err, KindSessionInvalid)
}

func TestLogoutAllAndListSessions(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	first := verifiedSession(t, env)

	// Rotating replaces the first credential pair, leaving one active.
	renewed, err := env.svc.RefreshSession(ctx, first.RefreshToken)
	require.NoError(t, err)

	sessions, err := env.svc.ListSessions(ctx, renewed.Token)
	require.NoError(t, err)
	assert.Len(t, sessions, 1)

	revoked, err := env.svc.LogoutAll(ctx, renewed.Token)
	require.NoError(t, err)
	assert.Equal(t, 1, revoked)

	_, err = env.svc.ListSessions(ctx, renewed.Token)
	requireKind(t, err, KindSessionInvalid)
}
