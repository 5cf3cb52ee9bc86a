package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"phone-auth-service/internal/model"
	"phone-auth-service/internal/service"
	"phone-auth-service/internal/util"
)

const (
	// Sources exceeding lockoutMultiplier times the per-window limit
	// get parked outright instead of burning a counter per request.
	lockoutMultiplier = 3
	lockoutDuration   = 15 * time.Minute
)

// RateLimiter is the throttle surface the handler needs. A nil limiter
// disables rate limiting entirely.
type RateLimiter interface {
	IncrementIPCounter(ctx context.Context, ipAddress string, ttl time.Duration) (int, error)
	SetTemporaryLock(ctx context.Context, key string, ttl time.Duration) error
	IsLocked(ctx context.Context, key string) (bool, error)
}

// AuthHandler exposes the phone verification and session endpoints.
type AuthHandler struct {
	auth        *service.PhoneAuthService
	rateLimiter RateLimiter
	rateLimit   int
	logger      *zap.Logger
}

func NewAuthHandler(auth *service.PhoneAuthService, rateLimiter RateLimiter, rateLimit int, logger *zap.Logger) *AuthHandler {
	return &AuthHandler{
		auth:        auth,
		rateLimiter: rateLimiter,
		rateLimit:   rateLimit,
		logger:      logger,
	}
}

// Response is the standard API envelope.
type Response struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data,omitempty"`
	Error   string      `json:"error,omitempty"`
	Message string      `json:"message,omitempty"`
}

func successResponse(data interface{}, message string) Response {
	return Response{
		Success: true,
		Data:    data,
		Message: message,
	}
}

type requestCodeRequest struct {
	PhoneNumber string `json:"phoneNumber"`
	Context     string `json:"context,omitempty"`
}

type verifyCodeRequest struct {
	PhoneNumber string `json:"phoneNumber"`
	Code        string `json:"code"`
	Context     string `json:"context,omitempty"`
	DeviceName  string `json:"deviceName,omitempty"`
	DeviceType  string `json:"deviceType,omitempty"`
}

type refreshRequest struct {
	RefreshToken string `json:"refreshToken"`
}

// RegisterRoutes mounts the auth surface under the given router.
func (h *AuthHandler) RegisterRoutes(router chi.Router) {
	router.Route("/auth", func(r chi.Router) {
		r.Group(func(r chi.Router) {
			r.Use(h.rateLimitMiddleware)
			r.Post("/phone/request-code", h.RequestCode)
			r.Post("/phone/verify-code", h.VerifyCode)
		})

		r.Post("/session/refresh", h.RefreshSession)
		r.Post("/logout", h.Logout)
		r.Post("/logout-all", h.LogoutAll)
		r.Get("/sessions", h.ListSessions)
	})
}

func (h *AuthHandler) RequestCode(w http.ResponseWriter, r *http.Request) {
	start := time.Now()

	var req requestCodeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.respondBadRequest(w, "Invalid request body")
		return
	}
	if strings.TrimSpace(req.PhoneNumber) == "" {
		h.respondBadRequest(w, "phoneNumber is required")
		return
	}

	result, err := h.auth.RequestCode(r.Context(), util.SanitizeInput(req.PhoneNumber),
		util.SanitizeInput(req.Context), r.RemoteAddr)
	if err != nil {
		h.respondServiceError(w, err)
		return
	}

	h.respondWithJSON(w, http.StatusOK, successResponse(result, "Verification code sent"))
	h.logger.Info("Code requested via HTTP",
		util.String("correlation_id", result.CorrelationID),
		util.Duration("duration", time.Since(start)))
}

func (h *AuthHandler) VerifyCode(w http.ResponseWriter, r *http.Request) {
	start := time.Now()

	var req verifyCodeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.respondBadRequest(w, "Invalid request body")
		return
	}
	if strings.TrimSpace(req.PhoneNumber) == "" || strings.TrimSpace(req.Code) == "" {
		h.respondBadRequest(w, "phoneNumber and code are required")
		return
	}

	device := model.DeviceMetadata{
		DeviceName: util.SanitizeInput(req.DeviceName),
		DeviceType: util.SanitizeInput(req.DeviceType),
		IPAddress:  r.RemoteAddr,
		UserAgent:  r.UserAgent(),
	}

	result, err := h.auth.VerifyCode(r.Context(), util.SanitizeInput(req.PhoneNumber),
		strings.TrimSpace(req.Code), util.SanitizeInput(req.Context), device)
	if err != nil {
		h.respondServiceError(w, err)
		return
	}

	h.respondWithJSON(w, http.StatusOK, successResponse(result, "Phone number verified"))
	h.logger.Info("Code verified via HTTP",
		util.String("user_id", result.User.ID),
		util.Bool("is_new_user", result.IsNewUser),
		util.Duration("duration", time.Since(start)))
}

func (h *AuthHandler) RefreshSession(w http.ResponseWriter, r *http.Request) {
	var req refreshRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.respondBadRequest(w, "Invalid request body")
		return
	}
	if req.RefreshToken == "" {
		h.respondBadRequest(w, "refreshToken is required")
		return
	}

	renewed, err := h.auth.RefreshSession(r.Context(), req.RefreshToken)
	if err != nil {
		h.respondServiceError(w, err)
		return
	}

	h.respondWithJSON(w, http.StatusOK, successResponse(renewed, "Session refreshed"))
}

func (h *AuthHandler) Logout(w http.ResponseWriter, r *http.Request) {
	token, ok := bearerToken(r)
	if !ok {
		h.respondUnauthorized(w)
		return
	}

	if err := h.auth.Logout(r.Context(), token); err != nil {
		h.respondServiceError(w, err)
		return
	}

	h.respondWithJSON(w, http.StatusOK, successResponse(nil, "Logged out"))
}

func (h *AuthHandler) LogoutAll(w http.ResponseWriter, r *http.Request) {
	token, ok := bearerToken(r)
	if !ok {
		h.respondUnauthorized(w)
		return
	}

	revoked, err := h.auth.LogoutAll(r.Context(), token)
	if err != nil {
		h.respondServiceError(w, err)
		return
	}

	h.respondWithJSON(w, http.StatusOK, successResponse(
		map[string]int{"revokedSessions": revoked}, "Logged out from all devices"))
}

func (h *AuthHandler) ListSessions(w http.ResponseWriter, r *http.Request) {
	token, ok := bearerToken(r)
	if !ok {
		h.respondUnauthorized(w)
		return
	}

	sessions, err := h.auth.ListSessions(r.Context(), token)
	if err != nil {
		h.respondServiceError(w, err)
		return
	}

	// Secrets never leave through the listing endpoint.
	type sessionView struct {
		CreatedAt    time.Time            `json:"createdAt"`
		ExpiresAt    time.Time            `json:"expiresAt"`
		LastActivity time.Time            `json:"lastActivity"`
		Device       model.DeviceMetadata `json:"device"`
	}
	views := make([]sessionView, 0, len(sessions))
	for _, s := range sessions {
		views = append(views, sessionView{
			CreatedAt:    s.CreatedAt,
			ExpiresAt:    s.ExpiresAt,
			LastActivity: s.LastActivity,
			Device:       s.Device,
		})
	}

	h.respondWithJSON(w, http.StatusOK, successResponse(views, ""))
}

// rateLimitMiddleware applies a fixed per-IP window to the
// unauthenticated endpoints, with a temporary lock for sources that
// blow far past the limit. Without a limiter backend it passes
// everything through.
func (h *AuthHandler) rateLimitMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if h.rateLimiter == nil || h.rateLimit <= 0 {
			next.ServeHTTP(w, r)
			return
		}

		locked, err := h.rateLimiter.IsLocked(r.Context(), r.RemoteAddr)
		if err != nil {
			// Degraded limiter must not take authentication down.
			util.Warn("Rate limiter unavailable", util.ErrorField(err))
			next.ServeHTTP(w, r)
			return
		}
		if locked {
			h.respondRateLimited(w)
			return
		}

		count, err := h.rateLimiter.IncrementIPCounter(r.Context(), r.RemoteAddr, time.Minute)
		if err != nil {
			util.Warn("Rate limiter unavailable", util.ErrorField(err))
			next.ServeHTTP(w, r)
			return
		}
		if count > h.rateLimit {
			if count > h.rateLimit*lockoutMultiplier {
				if err := h.rateLimiter.SetTemporaryLock(r.Context(), r.RemoteAddr, lockoutDuration); err == nil {
					h.logger.Warn("Source temporarily locked",
						util.String("remote_addr", r.RemoteAddr),
						util.Duration("lockout", lockoutDuration))
				}
			}
			h.respondRateLimited(w)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (h *AuthHandler) respondRateLimited(w http.ResponseWriter) {
	h.respondWithJSON(w, http.StatusTooManyRequests, Response{
		Success: false,
		Error:   "RATE_LIMITED",
		Message: "too many requests, slow down",
	})
}

func (h *AuthHandler) respondServiceError(w http.ResponseWriter, err error) {
	var svcErr *service.Error
	if !errors.As(err, &svcErr) {
		h.respondWithJSON(w, http.StatusInternalServerError, Response{
			Success: false,
			Error:   string(service.KindInternal),
			Message: "internal error",
		})
		return
	}

	resp := Response{
		Success: false,
		Error:   string(svcErr.Kind),
		Message: svcErr.Message,
	}
	details := map[string]int{}
	if svcErr.RemainingAttempts >= 0 {
		details["remainingAttempts"] = svcErr.RemainingAttempts
	}
	if svcErr.CooldownSeconds >= 0 {
		details["cooldownSeconds"] = svcErr.CooldownSeconds
	}
	if len(details) > 0 {
		resp.Data = details
	}

	h.respondWithJSON(w, statusForKind(svcErr.Kind), resp)
}

func statusForKind(kind service.ErrorKind) int {
	switch kind {
	case service.KindInvalidPhoneFormat:
		return http.StatusBadRequest
	case service.KindCooldownActive, service.KindMaxAttemptsReached:
		return http.StatusTooManyRequests
	case service.KindNotReachable:
		return http.StatusUnprocessableEntity
	case service.KindServiceUnavailable:
		return http.StatusServiceUnavailable
	case service.KindDeliveryTimeout:
		return http.StatusGatewayTimeout
	case service.KindDeliveryFailed:
		return http.StatusBadGateway
	case service.KindNoActiveChallenge:
		return http.StatusNotFound
	case service.KindAlreadyResolved:
		return http.StatusConflict
	case service.KindCodeExpired:
		return http.StatusGone
	case service.KindInvalidCode, service.KindSessionInvalid:
		return http.StatusUnauthorized
	default:
		return http.StatusInternalServerError
	}
}

func bearerToken(r *http.Request) (string, bool) {
	auth := r.Header.Get("Authorization")
	if !strings.HasPrefix(auth, "Bearer ") {
		return "", false
	}
	token := strings.TrimPrefix(auth, "Bearer ")
	return token, token != ""
}

func (h *AuthHandler) respondBadRequest(w http.ResponseWriter, message string) {
	h.respondWithJSON(w, http.StatusBadRequest, Response{
		Success: false,
		Error:   "BAD_REQUEST",
		Message: message,
	})
}

func (h *AuthHandler) respondUnauthorized(w http.ResponseWriter) {
	h.respondWithJSON(w, http.StatusUnauthorized, Response{
		Success: false,
		Error:   string(service.KindSessionInvalid),
		Message: "missing or malformed bearer token",
	})
}

func (h *AuthHandler) respondWithJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if payload == nil {
		return
	}
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		h.logger.Error("Failed to encode response", util.ErrorField(err))
	}
}
