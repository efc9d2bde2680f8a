package transport

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ignite/dmflow/internal/channels"
)

func testChannel() *channels.Channel {
	return &channels.Channel{
		PlatformUserID: "17841400000000000",
		AccessToken:    "test-token",
	}
}

func TestSendDM_Success(t *testing.T) {
	var gotPath, gotAuth string
	var gotBody map[string]interface{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotAuth = r.Header.Get("Authorization")
		json.NewDecoder(r.Body).Decode(&gotBody)
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"recipient_id":"u-1","message_id":"m-1"}`))
	}))
	defer srv.Close()

	sender := NewGraphSender(srv.URL, 5*time.Second)
	latency, err := sender.SendDM(context.Background(), testChannel(), "u-1", "Hey Sam!")
	require.NoError(t, err)
	assert.GreaterOrEqual(t, latency, int64(0))

	assert.Equal(t, "/17841400000000000/messages", gotPath)
	assert.Equal(t, "Bearer test-token", gotAuth)
	recipient := gotBody["recipient"].(map[string]interface{})
	message := gotBody["message"].(map[string]interface{})
	assert.Equal(t, "u-1", recipient["id"])
	assert.Equal(t, "Hey Sam!", message["text"])
}

func TestSendDM_StatusClassification(t *testing.T) {
	tests := []struct {
		status        int
		wantTransient bool
	}{
		{http.StatusTooManyRequests, true},
		{http.StatusInternalServerError, true},
		{http.StatusBadGateway, true},
		{http.StatusServiceUnavailable, true},
		{http.StatusGatewayTimeout, true},
		{http.StatusBadRequest, false},
		{http.StatusForbidden, false},
		{http.StatusNotFound, false},
	}
	for _, tt := range tests {
		t.Run(http.StatusText(tt.status), func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
			}))
			defer srv.Close()

			sender := NewGraphSender(srv.URL, 5*time.Second)
			_, err := sender.SendDM(context.Background(), testChannel(), "u-1", "hi")
			require.Error(t, err)
			assert.Equal(t, tt.wantTransient, IsTransient(err))
		})
	}
}

func TestSendDM_UsesPlatformErrorMessage(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
		w.Write([]byte(`{"error":{"message":"User cannot receive messages","code":10}}`))
	}))
	defer srv.Close()

	sender := NewGraphSender(srv.URL, 5*time.Second)
	_, err := sender.SendDM(context.Background(), testChannel(), "u-1", "hi")
	require.Error(t, err)
	assert.Equal(t, "permanent: User cannot receive messages", Reason(err))
}

func TestSendDM_NetworkFailureIsTransient(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	srv.Close() // connection refused from here on

	sender := NewGraphSender(srv.URL, time.Second)
	_, err := sender.SendDM(context.Background(), testChannel(), "u-1", "hi")
	require.Error(t, err)
	assert.True(t, IsTransient(err))
}

func TestErrorClassHelpers(t *testing.T) {
	assert.True(t, IsTransient(Transient("busy", nil)))
	assert.False(t, IsTransient(Permanent("blocked", nil)))
	// Unclassified errors get the benefit of the doubt and retry.
	assert.True(t, IsTransient(context.DeadlineExceeded))
	assert.Equal(t, "transient: busy", Reason(Transient("busy", nil)))
}
