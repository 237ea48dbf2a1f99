package clerk

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/Ascentul/Ascentul-sub014/internal/authz"
)

const (
	pushAttempts  = 3
	baseBackoff   = 500 * time.Millisecond
	clientTimeout = 10 * time.Second
)

// Client pushes role updates back to the identity provider. The update call
// is idempotent on the provider side, so retrying a timed-out attempt is safe.
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
	logger     *slog.Logger
}

// NewClient constructs a Client.
func NewClient(baseURL, apiKey string, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		baseURL:    baseURL,
		apiKey:     apiKey,
		httpClient: &http.Client{Timeout: clientTimeout},
		logger:     logger,
	}
}

type metadataUpdate struct {
	PublicMetadata struct {
		Role         string `json:"role"`
		UniversityID string `json:"university_id,omitempty"`
		Plan         string `json:"subscription_plan,omitempty"`
	} `json:"public_metadata"`
}

// PushRole updates the provider's role claim for an identity, retrying
// transient failures with exponential backoff. A 4xx response is permanent
// and reported as ErrPushRejected.
func (c *Client) PushRole(ctx context.Context, identityID string, role authz.Role, universityID string, plan authz.Plan) error {
	var update metadataUpdate
	update.PublicMetadata.Role = string(role)
	update.PublicMetadata.UniversityID = universityID
	update.PublicMetadata.Plan = string(plan)
	payload, err := json.Marshal(update)
	if err != nil {
		return err
	}

	url := fmt.Sprintf("%s/v1/users/%s/metadata", c.baseURL, identityID)

	var lastErr error
	for attempt := 0; attempt < pushAttempts; attempt++ {
		if attempt > 0 {
			delay := baseBackoff << (attempt - 1)
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(delay):
			}
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodPatch, url, bytes.NewReader(payload))
		if err != nil {
			return err
		}
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
		req.Header.Set("Content-Type", "application/json")

		resp, err := c.httpClient.Do(req)
		if err != nil {
			lastErr = err
			c.logger.Warn("clerk push attempt failed",
				slog.String("identity", identityID),
				slog.Int("attempt", attempt+1),
				slog.Any("error", err))
			continue
		}
		resp.Body.Close()

		switch {
		case resp.StatusCode >= 200 && resp.StatusCode < 300:
			return nil
		case resp.StatusCode >= 400 && resp.StatusCode < 500:
			return fmt.Errorf("%w: status %d", ErrPushRejected, resp.StatusCode)
		default:
			lastErr = fmt.Errorf("clerk: push status %d", resp.StatusCode)
			c.logger.Warn("clerk push attempt failed",
				slog.String("identity", identityID),
				slog.Int("attempt", attempt+1),
				slog.Int("status", resp.StatusCode))
		}
	}
	return fmt.Errorf("clerk: push role for %s: %w", identityID, lastErr)
}
