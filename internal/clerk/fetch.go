package clerk

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
)

// SourceClaim is the provider's current view of an identity. Claims are kept
// as raw strings; callers decide how to treat unrecognised values.
type SourceClaim struct {
	IdentityID   string
	Email        string
	Name         string
	Role         string
	UniversityID string
	Plan         string
}

type userResponse struct {
	ID             string `json:"id"`
	FirstName      string `json:"first_name"`
	LastName       string `json:"last_name"`
	EmailAddresses []struct {
		EmailAddress string `json:"email_address"`
	} `json:"email_addresses"`
	PublicMetadata struct {
		Role         string `json:"role"`
		UniversityID string `json:"university_id"`
		Plan         string `json:"subscription_plan"`
	} `json:"public_metadata"`
}

// FetchClaim reads the provider's current role claim for an identity.
func (c *Client) FetchClaim(ctx context.Context, identityID string) (SourceClaim, error) {
	url := fmt.Sprintf("%s/v1/users/%s", c.baseURL, identityID)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return SourceClaim{}, err
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return SourceClaim{}, fmt.Errorf("clerk: fetch %s: %w", identityID, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return SourceClaim{}, fmt.Errorf("%w: identity %s", ErrIdentityGone, identityID)
	case resp.StatusCode < 200 || resp.StatusCode >= 300:
		return SourceClaim{}, fmt.Errorf("clerk: fetch %s: status %d", identityID, resp.StatusCode)
	}

	var user userResponse
	if err := json.NewDecoder(resp.Body).Decode(&user); err != nil {
		return SourceClaim{}, fmt.Errorf("clerk: decode user %s: %w", identityID, err)
	}

	claim := SourceClaim{
		IdentityID:   user.ID,
		Name:         strings.TrimSpace(user.FirstName + " " + user.LastName),
		Role:         user.PublicMetadata.Role,
		UniversityID: user.PublicMetadata.UniversityID,
		Plan:         user.PublicMetadata.Plan,
	}
	if len(user.EmailAddresses) > 0 {
		claim.Email = user.EmailAddresses[0].EmailAddress
	}
	return claim, nil
}
