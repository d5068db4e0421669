package drive

import (
	"context"
	"fmt"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"

	"github.com/harborml/drivesearch/internal/config"
	"github.com/harborml/drivesearch/internal/models"
)

// driveReadonlyScope is all the indexer needs: metadata listing plus content
// export/download.
const driveReadonlyScope = "https://www.googleapis.com/auth/drive.readonly"

// NewOAuthConfig builds the Google OAuth2 config for the Drive connect flow.
func NewOAuthConfig(cfg *config.Config) *oauth2.Config {
	return &oauth2.Config{
		ClientID:     cfg.GoogleClientID,
		ClientSecret: cfg.GoogleClientSecret,
		RedirectURL:  cfg.GoogleRedirectURL,
		Scopes:       []string{driveReadonlyScope},
		Endpoint:     google.Endpoint,
	}
}

// GenerateAuthURL returns the URL to redirect the user to for Google consent.
// AccessTypeOffline + ApprovalForce make Google hand back a refresh token.
func (c *Client) GenerateAuthURL(state string) string {
	return c.oauthConfig.AuthCodeURL(state, oauth2.AccessTypeOffline, oauth2.ApprovalForce)
}

// ExchangeCode trades the authorization code for a credential to persist.
func (c *Client) ExchangeCode(ctx context.Context, userID, code string) (*models.DriveCredential, error) {
	tok, err := c.oauthConfig.Exchange(ctx, code)
	if err != nil {
		return nil, fmt.Errorf("exchange code: %w", err)
	}
	if tok.RefreshToken == "" {
		return nil, fmt.Errorf("no refresh token in response")
	}
	return &models.DriveCredential{
		UserID:       userID,
		AccessToken:  tok.AccessToken,
		RefreshToken: tok.RefreshToken,
		Expiry:       tok.Expiry,
	}, nil
}
