package gateway

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"phone-auth-service/internal/config"
)

type sidecarStub struct {
	connected      bool
	statusCode     int
	checkStatus    int
	checkResponse  string
	sendStatus     int
	sendResponse   string
	sendDelay     time.Duration
	sendCalls     int
	lastSendBody  map[string]interface{}
	lastCheckBody map[string]interface{}
}

func (s *sidecarStub) server(t *testing.T) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()

	mux.HandleFunc("/status", func(w http.ResponseWriter, r *http.Request) {
		status := s.statusCode
		if status == 0 {
			status = http.StatusOK
		}
		w.WriteHeader(status)
		json.NewEncoder(w).Encode(map[string]bool{"connected": s.connected})
	})

	mux.HandleFunc("/check-number", func(w http.ResponseWriter, r *http.Request) {
		json.NewDecoder(r.Body).Decode(&s.lastCheckBody)
		status := s.checkStatus
		if status == 0 {
			status = http.StatusOK
		}
		w.WriteHeader(status)
		w.Write([]byte(s.checkResponse))
	})

	mux.HandleFunc("/send-otp", func(w http.ResponseWriter, r *http.Request) {
		s.sendCalls++
		json.NewDecoder(r.Body).Decode(&s.lastSendBody)
		if s.sendDelay > 0 {
			time.Sleep(s.sendDelay)
		}
		status := s.sendStatus
		if status == 0 {
			status = http.StatusOK
		}
		w.WriteHeader(status)
		w.Write([]byte(s.sendResponse))
	})

	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func newTestGateway(t *testing.T, baseURL string) *WhatsAppGateway {
	t.Helper()
	return NewWhatsAppGateway(config.GatewayConfig{
		BaseURL:       baseURL,
		Timeout:       500 * time.Millisecond,
		CheckTimeout:  500 * time.Millisecond,
		RetryAttempts: 2,
		RetryDelay:    time.Millisecond,
	}, 6, zap.NewNop())
}

func TestCheckReachable(t *testing.T) {
	stub := &sidecarStub{
		connected:     true,
		checkResponse: `{"success":true,"data":{"exists":true,"jid":"237650000000@s.whatsapp.net"}}`,
	}
	gw := newTestGateway(t, stub.server(t).URL)

	result := gw.CheckReachable(context.Background(), "+237650000000")
	assert.Equal(t, ErrNone, result.Err)
	assert.True(t, result.Reachable)
	assert.Equal(t, "237650000000@s.whatsapp.net", result.Reference)
	assert.Equal(t, "+237650000000", stub.lastCheckBody["phoneNumber"])
}

func TestCheckReachableNumberAbsent(t *testing.T) {
	stub := &sidecarStub{
		connected:     true,
		checkResponse: `{"success":true,"data":{"exists":false}}`,
	}
	gw := newTestGateway(t, stub.server(t).URL)

	result := gw.CheckReachable(context.Background(), "+237650000000")
	assert.Equal(t, ErrNone, result.Err)
	assert.False(t, result.Reachable)
}

func TestCheckReachableChannelDisconnected(t *testing.T) {
	stub := &sidecarStub{connected: false}
	gw := newTestGateway(t, stub.server(t).URL)

	result := gw.CheckReachable(context.Background(), "+237650000000")
	assert.Equal(t, ErrServiceUnavailable, result.Err)
	assert.False(t, result.Reachable)
}

func TestCheckReachableNotFound(t *testing.T) {
	stub := &sidecarStub{
		connected:   true,
		checkStatus: http.StatusNotFound,
	}
	gw := newTestGateway(t, stub.server(t).URL)

	result := gw.CheckReachable(context.Background(), "+237650000000")
	assert.Equal(t, ErrNotReachable, result.Err)
}

func TestCheckReachableGatewayDown(t *testing.T) {
	gw := newTestGateway(t, "http://127.0.0.1:1")

	result := gw.CheckReachable(context.Background(), "+237650000000")
	assert.Equal(t, ErrServiceUnavailable, result.Err)
}

func TestSend(t *testing.T) {
	stub := &sidecarStub{
		connected:    true,
		sendResponse: `{"success":true,"data":{"messageId":"3EB0C4317D2"}}`,
	}
	gw := newTestGateway(t, stub.server(t).URL)

	result := gw.Send(context.Background(), "+237650000000", "Your verification code is 123456.")
	assert.Equal(t, ErrNone, result.Err)
	assert.True(t, result.Delivered)
	assert.Equal(t, "3EB0C4317D2", result.Reference)

	assert.Equal(t, "+237650000000", stub.lastSendBody["phoneNumber"])
	assert.Equal(t, "Your verification code is 123456.", stub.lastSendBody["message"])
	assert.Equal(t, float64(6), stub.lastSendBody["otpLength"])
}

func TestSendRejected(t *testing.T) {
	stub := &sidecarStub{
		sendResponse: `{"success":false,"error":"recipient blocked the sender"}`,
	}
	gw := newTestGateway(t, stub.server(t).URL)

	result := gw.Send(context.Background(), "+237650000000", "msg")
	assert.Equal(t, ErrUnknown, result.Err)
	assert.False(t, result.Delivered)
	assert.Equal(t, "recipient blocked the sender", result.Detail)
}

func TestSendServiceUnavailable(t *testing.T) {
	stub := &sidecarStub{
		sendStatus:   http.StatusServiceUnavailable,
		sendResponse: `{}`,
	}
	gw := newTestGateway(t, stub.server(t).URL)

	result := gw.Send(context.Background(), "+237650000000", "msg")
	assert.Equal(t, ErrServiceUnavailable, result.Err)
}

func TestSendTimeoutNotRetried(t *testing.T) {
	stub := &sidecarStub{
		sendDelay:    2 * time.Second,
		sendResponse: `{"success":true}`,
	}
	gw := newTestGateway(t, stub.server(t).URL)

	result := gw.Send(context.Background(), "+237650000000", "msg")
	assert.Equal(t, ErrTimeout, result.Err)

	// An ambiguous send must not be duplicated.
	assert.Equal(t, 1, stub.sendCalls)
}

func TestSendMalformedBody(t *testing.T) {
	stub := &sidecarStub{
		sendResponse: `this is not json`,
	}
	gw := newTestGateway(t, stub.server(t).URL)

	result := gw.Send(context.Background(), "+237650000000", "msg")
	assert.Equal(t, ErrMalformedResponse, result.Err)
}

func TestSendContextCancelled(t *testing.T) {
	stub := &sidecarStub{
		sendDelay:    time.Second,
		sendResponse: `{"success":true}`,
	}
	gw := newTestGateway(t, stub.server(t).URL)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	result := gw.Send(ctx, "+237650000000", "msg")
	require.NotEqual(t, ErrNone, result.Err)
	assert.Equal(t, ErrTimeout, result.Err)
}
