package client

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/karaca/identity/pkg/httpclient"
)

// auditDispatchTimeout bounds one fire-and-forget audit append.
const auditDispatchTimeout = 5 * time.Second

// internalTokenHeader carries the optional shared secret between services.
const internalTokenHeader = "X-Internal-Token"

// HTTPDoer is the interface for executing HTTP requests.
type HTTPDoer interface {
	Do(ctx context.Context, req *http.Request) (*http.Response, error)
}

// AuditClient appends audit rows via the auth service's internal endpoint.
// Appends are fire-and-forget: the mail flow has already happened, so a
// failed append is logged and dropped.
type AuditClient struct {
	httpClient   HTTPDoer
	baseURL      string
	sharedSecret string
	logger       *slog.Logger
}

// NewAuditClient creates a client for the auth service at baseURL.
func NewAuditClient(httpClient HTTPDoer, baseURL, sharedSecret string, logger *slog.Logger) *AuditClient {
	return &AuditClient{
		httpClient:   httpClient,
		baseURL:      baseURL,
		sharedSecret: sharedSecret,
		logger:       logger,
	}
}

// AuditEntry is the payload posted to /auth/internal/audit-log.
type AuditEntry struct {
	UserID       string         `json:"userId,omitempty"`
	Action       string         `json:"action"`
	Resource     string         `json:"resource,omitempty"`
	IPAddress    string         `json:"ipAddress,omitempty"`
	UserAgent    string         `json:"userAgent,omitempty"`
	Metadata     map[string]any `json:"metadata,omitempty"`
	Success      *bool          `json:"success,omitempty"`
	ErrorMessage string         `json:"errorMessage,omitempty"`
}

// Record posts the entry in a background goroutine and returns immediately.
func (c *AuditClient) Record(ctx context.Context, entry AuditEntry) {
	go func() {
		sendCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), auditDispatchTimeout)
		defer cancel()

		if err := c.append(sendCtx, entry); err != nil {
			c.logger.ErrorContext(sendCtx, "failed to append audit log",
				slog.String("action", entry.Action),
				slog.String("error", err.Error()),
			)
		}
	}()
}

func (c *AuditClient) append(ctx context.Context, entry AuditEntry) error {
	body, err := json.Marshal(entry)
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/auth/internal/audit-log", bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if c.sharedSecret != "" {
		req.Header.Set(internalTokenHeader, c.sharedSecret)
	}

	resp, err := c.httpClient.Do(ctx, req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusCreated && resp.StatusCode != http.StatusOK {
		return httpclient.ParseResponseError(resp, "auth")
	}

	return nil
}
