package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/karaca/identity/pkg/httpclient"
)

// HTTPDoer is the interface for executing HTTP requests.
// Both httpclient.Client and httpclient.CircuitBreakerClient satisfy this.
type HTTPDoer interface {
	Do(ctx context.Context, req *http.Request) (*http.Response, error)
}

// EmailClient calls the email service to dispatch transactional mail. The
// email service owns token minting for verification and reset flows; the
// magic-link flow passes a pre-built link.
type EmailClient struct {
	httpClient HTTPDoer
	baseURL    string
	logger     *slog.Logger
}

// NewEmailClient creates a client for the email service at baseURL.
func NewEmailClient(httpClient HTTPDoer, baseURL string, logger *slog.Logger) *EmailClient {
	return &EmailClient{
		httpClient: httpClient,
		baseURL:    baseURL,
		logger:     logger,
	}
}

type sendVerificationRequest struct {
	UserID string `json:"userId"`
	Email  string `json:"email"`
}

type sendMagicLinkRequest struct {
	UserID    string `json:"userId"`
	Email     string `json:"email"`
	Link      string `json:"link"`
	IsNewUser bool   `json:"isNewUser"`
}

// SendVerification asks the email service to mint a verification token for
// the user and dispatch the verification mail.
func (c *EmailClient) SendVerification(ctx context.Context, userID, email string) error {
	return c.post(ctx, "/email/send-verification", sendVerificationRequest{
		UserID: userID,
		Email:  email,
	})
}

// SendMagicLink asks the email service to dispatch a magic-link mail with the
// given redemption link.
func (c *EmailClient) SendMagicLink(ctx context.Context, userID, email, link string, isNewUser bool) error {
	return c.post(ctx, "/email/send-magic-link", sendMagicLinkRequest{
		UserID:    userID,
		Email:     email,
		Link:      link,
		IsNewUser: isNewUser,
	})
}

func (c *EmailClient) post(ctx context.Context, path string, payload any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(ctx, req)
	if err != nil {
		return fmt.Errorf("call email service: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		return httpclient.ParseResponseError(resp, "email")
	}

	c.logger.DebugContext(ctx, "email service call succeeded",
		slog.String("path", path),
	)

	return nil
}
