package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/ignite/dmflow/internal/channels"
)

// GraphSender sends DMs through the platform Graph API.
type GraphSender struct {
	baseURL string
	http    *http.Client
}

func NewGraphSender(baseURL string, timeout time.Duration) *GraphSender {
	return &GraphSender{
		baseURL: baseURL,
		http:    &http.Client{Timeout: timeout},
	}
}

type graphMessageRequest struct {
	Recipient struct {
		ID string `json:"id"`
	} `json:"recipient"`
	Message struct {
		Text string `json:"text"`
	} `json:"message"`
}

type graphErrorResponse struct {
	Error struct {
		Message   string `json:"message"`
		Code      int    `json:"code"`
		Subcode   int    `json:"error_subcode"`
		FBTraceID string `json:"fbtrace_id"`
	} `json:"error"`
}

// SendDM posts one message to {baseURL}/{platformUserID}/messages using the
// channel's stored token. Latency covers request start to acknowledgment.
func (g *GraphSender) SendDM(ctx context.Context, channel *channels.Channel, recipientID, text string) (int64, error) {
	var body graphMessageRequest
	body.Recipient.ID = recipientID
	body.Message.Text = text
	payload, err := json.Marshal(body)
	if err != nil {
		return 0, Permanent("encode message payload", err)
	}

	url := fmt.Sprintf("%s/%s/messages", g.baseURL, channel.PlatformUserID)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return 0, Permanent("build request", err)
	}
	req.Header.Set("Content-Type", "application/json")

	token, err := channel.TokenSource().Token()
	if err != nil {
		return 0, Permanent("channel credentials unavailable", err)
	}
	token.SetAuthHeader(req)

	start := time.Now()
	resp, err := g.http.Do(req)
	if err != nil {
		// Network or timeout failure; the platform may never have seen it.
		return 0, Transient("platform unreachable", err)
	}
	defer resp.Body.Close()
	latency := time.Since(start).Milliseconds()

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		io.Copy(io.Discard, resp.Body)
		return latency, nil
	}

	var apiErr graphErrorResponse
	json.NewDecoder(resp.Body).Decode(&apiErr)
	reason := apiErr.Error.Message
	if reason == "" {
		reason = http.StatusText(resp.StatusCode)
	}

	if isRetryableStatus(resp.StatusCode) {
		return latency, Transient(reason, fmt.Errorf("platform returned %d", resp.StatusCode))
	}
	return latency, Permanent(reason, fmt.Errorf("platform returned %d", resp.StatusCode))
}

// isRetryableStatus returns true if the HTTP status code indicates a
// transient server-side condition. 429 and 5xx retry; other 4xx codes are
// recipient or policy problems that a retry cannot fix.
func isRetryableStatus(statusCode int) bool {
	switch statusCode {
	case http.StatusTooManyRequests,
		http.StatusInternalServerError,
		http.StatusBadGateway,
		http.StatusServiceUnavailable,
		http.StatusGatewayTimeout:
		return true
	default:
		return false
	}
}
