package service

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"phone-auth-service/internal/audit"
	"phone-auth-service/internal/gateway"
	"phone-auth-service/internal/ledger"
	"phone-auth-service/internal/model"
	"phone-auth-service/internal/phone"
	"phone-auth-service/internal/session"
	"phone-auth-service/internal/util"
)

// DefaultPurpose is used when a request names no verification context.
const DefaultPurpose = "login"

// Config carries the orchestration knobs that belong to no single
// collaborator.
type Config struct {
	MessageTemplate string
}

// RequestCodeResult is returned on a successful code request. The
// correlation id is the challenge id; clients echo it for support
// lookups but it grants nothing.
type RequestCodeResult struct {
	CorrelationID    string `json:"correlationId"`
	ExpiresInSeconds int    `json:"expiresInSeconds"`
	CanResendAfter   int    `json:"canResendAfterSeconds"`
}

// VerifyCodeResult is returned on a successful verification.
type VerifyCodeResult struct {
	User      *model.User    `json:"user"`
	Session   *model.Session `json:"session"`
	IsNewUser bool           `json:"isNewUser"`
}

// PhoneAuthService orchestrates the request-code and verify-code flows
// across the normalizer, delivery gateway, ledger, user resolver and
// session issuer. It holds no state of its own; every decision that
// must be atomic lives in the ledger or the stores.
type PhoneAuthService struct {
	normalizer *phone.Normalizer
	gateway    gateway.Gateway
	ledger     *ledger.Ledger
	issuer     *session.Issuer
	resolver   UserResolver
	recorder   *audit.Recorder
	cfg        Config
	now        func() time.Time
}

func NewPhoneAuthService(
	normalizer *phone.Normalizer,
	gw gateway.Gateway,
	ldg *ledger.Ledger,
	issuer *session.Issuer,
	resolver UserResolver,
	recorder *audit.Recorder,
	cfg Config,
) *PhoneAuthService {
	return &PhoneAuthService{
		normalizer: normalizer,
		gateway:    gw,
		ledger:     ldg,
		issuer:     issuer,
		resolver:   resolver,
		recorder:   recorder,
		cfg:        cfg,
		now:        time.Now,
	}
}

// RequestCode runs the issuance flow: normalize, cooldown, reachability
// probe, ledger create, send. A send failure leaves the challenge
// pending so the client may retry verification if the message did go
// out, or request again after the cooldown.
func (s *PhoneAuthService) RequestCode(ctx context.Context, rawPhone, purpose, ipAddress string) (*RequestCodeResult, error) {
	if purpose == "" {
		purpose = DefaultPurpose
	}

	canonical, err := s.normalizer.Normalize(rawPhone)
	if err != nil {
		return nil, newError(KindInvalidPhoneFormat, "phone number is not a valid international number")
	}

	remaining, err := s.ledger.CooldownRemaining(ctx, canonical, purpose)
	if err != nil {
		return nil, s.internal("cooldown check failed", err)
	}
	if remaining > 0 {
		return nil, cooldownError(remaining)
	}

	check := s.gateway.CheckReachable(ctx, canonical)
	if check.Err != gateway.ErrNone {
		return nil, s.gatewayCheckError(check)
	}
	if !check.Reachable {
		return nil, newError(KindNotReachable, "phone number is not reachable on the delivery channel")
	}

	ch, err := s.ledger.Create(ctx, canonical, purpose)
	if err != nil {
		var cd *ledger.CooldownError
		if errors.As(err, &cd) {
			return nil, cooldownError(cd.Remaining)
		}
		return nil, s.internal("challenge creation failed", err)
	}

	message := s.formatMessage(ch)
	send := s.gateway.Send(ctx, canonical, message)
	if send.Err != gateway.ErrNone {
		s.recorder.Record(audit.Event{
			Type:        audit.EventDeliveryFailed,
			PhoneHash:   phone.Hash(canonical),
			Purpose:     purpose,
			ChallengeID: ch.ID.String(),
			IPAddress:   ipAddress,
			Detail:      send.Detail,
		})
		if send.Err == gateway.ErrTimeout {
			return nil, newError(KindDeliveryTimeout, "code delivery timed out, it may still arrive")
		}
		return nil, newError(KindDeliveryFailed, "code could not be delivered")
	}

	if send.Reference != "" {
		if err := s.ledger.RecordDelivery(ctx, ch, send.Reference); err != nil {
			util.Warn("Failed to record delivery reference",
				util.String("challenge_id", ch.ID.String()),
				util.ErrorField(err))
		}
	}

	s.recorder.Record(audit.Event{
		Type:        audit.EventCodeRequested,
		PhoneHash:   phone.Hash(canonical),
		Purpose:     purpose,
		ChallengeID: ch.ID.String(),
		DeliveryRef: send.Reference,
		IPAddress:   ipAddress,
	})

	cfg := s.ledger.Config()
	return &RequestCodeResult{
		CorrelationID:    ch.ID.String(),
		ExpiresInSeconds: int(cfg.TTL.Seconds()),
		CanResendAfter:   int(cfg.Cooldown.Seconds()),
	}, nil
}

// VerifyCode consumes one attempt against the active challenge and, on
// success, resolves or creates the user and mints a session.
func (s *PhoneAuthService) VerifyCode(ctx context.Context, rawPhone, code, purpose string, device model.DeviceMetadata) (*VerifyCodeResult, error) {
	if purpose == "" {
		purpose = DefaultPurpose
	}

	canonical, err := s.normalizer.Normalize(rawPhone)
	if err != nil {
		return nil, newError(KindInvalidPhoneFormat, "phone number is not a valid international number")
	}

	ch, err := s.ledger.Verify(ctx, canonical, purpose, code)
	if err != nil {
		return nil, s.verifyError(err, canonical, purpose, device.IPAddress)
	}

	user, isNew, err := s.resolver.Resolve(ctx, canonical)
	if err != nil {
		return nil, s.internal("user resolution failed", err)
	}
	if err := s.resolver.RecordVerification(ctx, user.ID, s.now().UTC()); err != nil {
		util.Warn("Failed to record verification on user",
			util.String("user_id", user.ID),
			util.ErrorField(err))
	}

	sess, err := s.issuer.Mint(ctx, user.ID, device)
	if err != nil {
		return nil, s.internal("session mint failed", err)
	}

	phoneHash := phone.Hash(canonical)
	s.recorder.Record(audit.Event{
		Type:        audit.EventCodeVerified,
		PhoneHash:   phoneHash,
		Purpose:     purpose,
		ChallengeID: ch.ID.String(),
		UserID:      user.ID,
		IPAddress:   device.IPAddress,
	})
	s.recorder.Record(audit.Event{
		Type:      audit.EventSessionMinted,
		PhoneHash: phoneHash,
		UserID:    user.ID,
		IPAddress: device.IPAddress,
	})

	return &VerifyCodeResult{
		User:      user,
		Session:   sess,
		IsNewUser: isNew,
	}, nil
}

// RefreshSession rotates the credential pair behind a refresh token.
func (s *PhoneAuthService) RefreshSession(ctx context.Context, refreshToken string) (*model.Session, error) {
	renewed, err := s.issuer.Refresh(ctx, refreshToken)
	if err != nil {
		if errors.Is(err, session.ErrInvalidRefresh) {
			return nil, newError(KindSessionInvalid, "refresh token is invalid or expired")
		}
		return nil, s.internal("session refresh failed", err)
	}

	s.recorder.Record(audit.Event{
		Type:   audit.EventSessionRefreshed,
		UserID: renewed.UserID,
	})
	return renewed, nil
}

// Authenticate resolves a bearer token to its session.
func (s *PhoneAuthService) Authenticate(ctx context.Context, token string) (*model.Session, error) {
	sess, err := s.issuer.Validate(ctx, token)
	if err != nil {
		if errors.Is(err, session.ErrInvalidSession) {
			return nil, newError(KindSessionInvalid, "session is invalid or expired")
		}
		return nil, s.internal("session validation failed", err)
	}
	return sess, nil
}

// Logout revokes the session behind the token.
func (s *PhoneAuthService) Logout(ctx context.Context, token string) error {
	sess, err := s.issuer.Validate(ctx, token)
	if err != nil {
		if errors.Is(err, session.ErrInvalidSession) {
			return newError(KindSessionInvalid, "session is invalid or expired")
		}
		return s.internal("session validation failed", err)
	}

	if err := s.issuer.Revoke(ctx, token); err != nil {
		return s.internal("session revoke failed", err)
	}

	s.recorder.Record(audit.Event{
		Type:   audit.EventSessionRevoked,
		UserID: sess.UserID,
	})
	return nil
}

// LogoutAll revokes every active session of the token's owner and
// returns how many were revoked.
func (s *PhoneAuthService) LogoutAll(ctx context.Context, token string) (int, error) {
	sess, err := s.issuer.Validate(ctx, token)
	if err != nil {
		if errors.Is(err, session.ErrInvalidSession) {
			return 0, newError(KindSessionInvalid, "session is invalid or expired")
		}
		return 0, s.internal("session validation failed", err)
	}

	revoked, err := s.issuer.RevokeAll(ctx, sess.UserID)
	if err != nil {
		return 0, s.internal("bulk revoke failed", err)
	}

	s.recorder.Record(audit.Event{
		Type:   audit.EventSessionRevoked,
		UserID: sess.UserID,
		Detail: "all devices: " + strconv.Itoa(revoked),
	})
	return revoked, nil
}

// ListSessions returns the active sessions of the token's owner.
func (s *PhoneAuthService) ListSessions(ctx context.Context, token string) ([]*model.Session, error) {
	sess, err := s.issuer.Validate(ctx, token)
	if err != nil {
		if errors.Is(err, session.ErrInvalidSession) {
			return nil, newError(KindSessionInvalid, "session is invalid or expired")
		}
		return nil, s.internal("session validation failed", err)
	}
	return s.issuer.ListActive(ctx, sess.UserID)
}

func (s *PhoneAuthService) verifyError(err error, canonical, purpose, ipAddress string) error {
	var invalid *ledger.InvalidCodeError
	switch {
	case errors.Is(err, ledger.ErrNoActiveChallenge):
		return newError(KindNoActiveChallenge, "no code was requested for this number")
	case errors.Is(err, ledger.ErrAlreadyResolved):
		return newError(KindAlreadyResolved, "this code was already used")
	case errors.Is(err, ledger.ErrExpired):
		return newError(KindCodeExpired, "the code has expired, request a new one")
	case errors.Is(err, ledger.ErrMaxAttemptsReached):
		return newError(KindMaxAttemptsReached, "too many failed attempts, request a new code")
	case errors.As(err, &invalid):
		if invalid.Blocked {
			s.recorder.Record(audit.Event{
				Type:      audit.EventChallengeBlocked,
				PhoneHash: phone.Hash(canonical),
				Purpose:   purpose,
				IPAddress: ipAddress,
			})
			e := newError(KindMaxAttemptsReached, "invalid code, no attempts remaining")
			e.RemainingAttempts = 0
			return e
		}
		e := newError(KindInvalidCode, "invalid code")
		e.RemainingAttempts = invalid.Remaining
		return e
	default:
		return s.internal("verification failed", err)
	}
}

func (s *PhoneAuthService) gatewayCheckError(check gateway.CheckResult) error {
	switch check.Err {
	case gateway.ErrNotReachable:
		return newError(KindNotReachable, "phone number is not reachable on the delivery channel")
	default:
		return newError(KindServiceUnavailable, "delivery channel is unavailable, try again later")
	}
}

func (s *PhoneAuthService) formatMessage(ch *model.Challenge) string {
	ttlMinutes := int(s.ledger.Config().TTL.Minutes())
	msg := strings.ReplaceAll(s.cfg.MessageTemplate, "{code}", ch.Code)
	return strings.ReplaceAll(msg, "{ttl}", strconv.Itoa(ttlMinutes))
}

func (s *PhoneAuthService) internal(msg string, err error) error {
	util.Error(msg, util.ErrorField(err))
	return newError(KindInternal, "internal error")
}

func cooldownError(remaining time.Duration) error {
	e := newError(KindCooldownActive, fmt.Sprintf("wait %d seconds before requesting a new code",
		int(remaining.Seconds())+1))
	e.CooldownSeconds = int(remaining.Seconds()) + 1
	return e
}
