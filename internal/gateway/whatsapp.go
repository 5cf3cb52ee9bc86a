package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"go.uber.org/zap"

	"phone-auth-service/internal/config"
	"phone-auth-service/internal/phone"
	"phone-auth-service/internal/util"
)

// WhatsAppGateway talks to the message-delivery sidecar over HTTP. The
// sidecar exposes /status, /check-number and /send-otp and answers with
// an envelope of the form {success, data:{...}, error}.
type WhatsAppGateway struct {
	baseURL     string
	client      *http.Client
	checkClient *http.Client
	retry       retryConfig
	codeLength  int
	logger      *zap.Logger
}

type gatewayEnvelope struct {
	Success bool   `json:"success"`
	Error   string `json:"error,omitempty"`
	Data    struct {
		Connected bool   `json:"connected"`
		Exists    bool   `json:"exists"`
		JID       string `json:"jid"`
		MessageID string `json:"messageId"`
	} `json:"data"`
}

func NewWhatsAppGateway(cfg config.GatewayConfig, codeLength int, logger *zap.Logger) *WhatsAppGateway {
	return &WhatsAppGateway{
		baseURL: cfg.BaseURL,
		client:  &http.Client{Timeout: cfg.Timeout},
		// Reachability probes use a shorter bound so a wedged channel
		// cannot eat the whole request budget before the send.
		checkClient: &http.Client{Timeout: cfg.CheckTimeout},
		retry: retryConfig{
			attempts: cfg.RetryAttempts,
			delay:    cfg.RetryDelay,
		},
		codeLength: codeLength,
		logger:     logger,
	}
}

// CheckReachable verifies the destination before a code is spent on it.
// It fails closed: if the channel's own status probe reports the
// connection down, the number counts as unreachable rather than risking
// a silently dropped message.
func (g *WhatsAppGateway) CheckReachable(ctx context.Context, phoneNumber string) CheckResult {
	connected, kind, detail := g.channelConnected(ctx)
	if kind != ErrNone {
		return CheckResult{Err: kind, Detail: detail}
	}
	if !connected {
		return CheckResult{Err: ErrServiceUnavailable, Detail: "delivery channel is not connected"}
	}

	var env gatewayEnvelope
	var status int
	err := retryTransient(ctx, g.retry, func(ctx context.Context) error {
		var callErr error
		status, callErr = g.post(ctx, g.checkClient, "/check-number",
			map[string]interface{}{"phoneNumber": phoneNumber}, &env)
		return callErr
	})
	if err != nil {
		return CheckResult{Err: classifyTransportError(err), Detail: err.Error()}
	}

	switch {
	case status >= 200 && status < 300:
		if !env.Success {
			return CheckResult{Err: ErrUnknown, Detail: env.Error}
		}
		return CheckResult{Reachable: env.Data.Exists, Reference: env.Data.JID}
	case status == http.StatusNotFound:
		return CheckResult{Err: ErrNotReachable, Detail: "number not found on channel"}
	case status == http.StatusServiceUnavailable, status >= 500:
		g.logger.Warn("delivery channel reachability check failed",
			util.String("phone", phone.Mask(phoneNumber)),
			util.Int("status", status))
		return CheckResult{Err: ErrServiceUnavailable, Detail: fmt.Sprintf("gateway returned HTTP %d", status)}
	default:
		return CheckResult{Err: ErrUnknown, Detail: fmt.Sprintf("gateway returned HTTP %d", status)}
	}
}

// Send transmits the formatted message. Only transient transport
// failures are retried; a rejected request is final and a timed-out one
// is ambiguous (the message may have been delivered), so neither is
// re-sent.
func (g *WhatsAppGateway) Send(ctx context.Context, phoneNumber, message string) SendResult {
	var env gatewayEnvelope
	var status int
	err := retryTransient(ctx, g.retry, func(ctx context.Context) error {
		var callErr error
		status, callErr = g.post(ctx, g.client, "/send-otp", map[string]interface{}{
			"phoneNumber": phoneNumber,
			"message":     message,
			"otpLength":   g.codeLength,
		}, &env)
		return callErr
	})
	if err != nil {
		kind := classifyTransportError(err)
		g.logger.Error("message send failed",
			util.String("phone", phone.Mask(phoneNumber)),
			util.String("kind", string(kind)),
			util.ErrorField(err))
		return SendResult{Err: kind, Detail: err.Error()}
	}

	switch {
	case status >= 200 && status < 300:
		if !env.Success {
			return SendResult{Err: ErrUnknown, Detail: env.Error}
		}
		return SendResult{Delivered: true, Reference: env.Data.MessageID}
	case status == http.StatusServiceUnavailable, status >= 500:
		return SendResult{Err: ErrServiceUnavailable, Detail: fmt.Sprintf("gateway returned HTTP %d", status)}
	default:
		return SendResult{Err: ErrUnknown, Detail: fmt.Sprintf("gateway returned HTTP %d", status)}
	}
}

// channelConnected probes GET /status.
func (g *WhatsAppGateway) channelConnected(ctx context.Context) (bool, ErrorKind, string) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, g.baseURL+"/status", nil)
	if err != nil {
		return false, ErrUnknown, err.Error()
	}

	resp, err := g.checkClient.Do(req)
	if err != nil {
		return false, classifyTransportError(err), err.Error()
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return false, ErrServiceUnavailable, fmt.Sprintf("status probe returned HTTP %d", resp.StatusCode)
	}

	var probe struct {
		Connected bool `json:"connected"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&probe); err != nil {
		return false, ErrMalformedResponse, err.Error()
	}
	return probe.Connected, ErrNone, ""
}

// post issues one JSON request and decodes the envelope. Decode errors
// on 2xx responses are malformed-response failures; on error statuses
// the body shape is irrelevant.
func (g *WhatsAppGateway) post(ctx context.Context, client *http.Client, path string, payload interface{}, out *gatewayEnvelope) (int, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return 0, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, g.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return 0, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := client.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return resp.StatusCode, errMalformedBody
		}
	}
	return resp.StatusCode, nil
}

var errMalformedBody = errors.New("malformed gateway response body")

func classifyTransportError(err error) ErrorKind {
	switch {
	case errors.Is(err, errMalformedBody):
		return ErrMalformedResponse
	case errors.Is(err, context.DeadlineExceeded):
		return ErrTimeout
	default:
		if isTimeout(err) {
			return ErrTimeout
		}
		return ErrServiceUnavailable
	}
}

func isTimeout(err error) bool {
	var t interface{ Timeout() bool }
	return errors.As(err, &t) && t.Timeout()
}
