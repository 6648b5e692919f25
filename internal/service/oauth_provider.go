package service

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/github"
	"golang.org/x/oauth2/google"
)

const (
	ProviderGoogle = "google"
	ProviderGitHub = "github"
)

var ErrUnsupportedProvider = fmt.Errorf("unsupported oauth provider")

type OAuthConfig struct {
	GoogleClientID     string
	GoogleClientSecret string
	GitHubClientID     string
	GitHubClientSecret string
	RedirectURL        string
}

// OAuthProviders wraps the configured identity providers behind one
// surface: authorize URL, code exchange and userinfo fetch producing an
// ExternalAssertion.
type OAuthProviders struct {
	google *oauth2.Config
	github *oauth2.Config
}

func NewOAuthProviders(cfg OAuthConfig) *OAuthProviders {
	return &OAuthProviders{
		google: &oauth2.Config{
			ClientID:     cfg.GoogleClientID,
			ClientSecret: cfg.GoogleClientSecret,
			RedirectURL:  cfg.RedirectURL + "/google/callback",
			Scopes:       []string{"openid", "profile", "email"},
			Endpoint:     google.Endpoint,
		},
		github: &oauth2.Config{
			ClientID:     cfg.GitHubClientID,
			ClientSecret: cfg.GitHubClientSecret,
			RedirectURL:  cfg.RedirectURL + "/github/callback",
			Scopes:       []string{"user:email"},
			Endpoint:     github.Endpoint,
		},
	}
}

func (p *OAuthProviders) Supported(provider string) bool {
	_, err := p.config(provider)
	return err == nil
}

func (p *OAuthProviders) AuthorizeURL(provider, state string) (string, error) {
	cfg, err := p.config(provider)
	if err != nil {
		return "", err
	}
	if provider == ProviderGoogle {
		return cfg.AuthCodeURL(state, oauth2.AccessTypeOffline), nil
	}
	return cfg.AuthCodeURL(state), nil
}

func (p *OAuthProviders) Exchange(ctx context.Context, provider, code string) (*oauth2.Token, error) {
	cfg, err := p.config(provider)
	if err != nil {
		return nil, err
	}
	return cfg.Exchange(ctx, code)
}

func (p *OAuthProviders) FetchAssertion(ctx context.Context, provider string, token *oauth2.Token) (ExternalAssertion, error) {
	switch strings.ToLower(provider) {
	case ProviderGoogle:
		return p.fetchGoogle(ctx, token)
	case ProviderGitHub:
		return p.fetchGitHub(ctx, token)
	default:
		return ExternalAssertion{}, ErrUnsupportedProvider
	}
}

func (p *OAuthProviders) config(provider string) (*oauth2.Config, error) {
	switch strings.ToLower(provider) {
	case ProviderGoogle:
		return p.google, nil
	case ProviderGitHub:
		return p.github, nil
	default:
		return nil, ErrUnsupportedProvider
	}
}

func (p *OAuthProviders) fetchGoogle(ctx context.Context, token *oauth2.Token) (ExternalAssertion, error) {
	body, err := getJSON(ctx, p.google.Client(ctx, token), "https://www.googleapis.com/oauth2/v2/userinfo")
	if err != nil {
		return ExternalAssertion{}, fmt.Errorf("google userinfo: %w", err)
	}
	var info struct {
		ID            string `json:"id"`
		Email         string `json:"email"`
		Name          string `json:"name"`
		Picture       string `json:"picture"`
		VerifiedEmail bool   `json:"verified_email"`
	}
	if err := json.Unmarshal(body, &info); err != nil {
		return ExternalAssertion{}, fmt.Errorf("google userinfo: %w", err)
	}
	return ExternalAssertion{
		Provider:      ProviderGoogle,
		ProviderID:    info.ID,
		Email:         info.Email,
		Name:          info.Name,
		AvatarURL:     info.Picture,
		EmailVerified: info.VerifiedEmail,
	}, nil
}

func (p *OAuthProviders) fetchGitHub(ctx context.Context, token *oauth2.Token) (ExternalAssertion, error) {
	client := p.github.Client(ctx, token)
	body, err := getJSON(ctx, client, "https://api.github.com/user")
	if err != nil {
		return ExternalAssertion{}, fmt.Errorf("github user: %w", err)
	}
	var info struct {
		ID        int64  `json:"id"`
		Login     string `json:"login"`
		Name      string `json:"name"`
		Email     string `json:"email"`
		AvatarURL string `json:"avatar_url"`
	}
	if err := json.Unmarshal(body, &info); err != nil {
		return ExternalAssertion{}, fmt.Errorf("github user: %w", err)
	}

	email := info.Email
	verified := email != ""
	if email == "" {
		email, verified, err = p.fetchGitHubEmail(ctx, client)
		if err != nil {
			return ExternalAssertion{}, err
		}
	}
	name := info.Name
	if name == "" {
		name = info.Login
	}
	return ExternalAssertion{
		Provider:      ProviderGitHub,
		ProviderID:    fmt.Sprintf("%d", info.ID),
		Email:         email,
		Name:          name,
		AvatarURL:     info.AvatarURL,
		EmailVerified: verified,
	}, nil
}

// fetchGitHubEmail finds the primary verified address; only verified
// addresses are ever returned.
func (p *OAuthProviders) fetchGitHubEmail(ctx context.Context, client *http.Client) (string, bool, error) {
	body, err := getJSON(ctx, client, "https://api.github.com/user/emails")
	if err != nil {
		return "", false, fmt.Errorf("github emails: %w", err)
	}
	var emails []struct {
		Email    string `json:"email"`
		Primary  bool   `json:"primary"`
		Verified bool   `json:"verified"`
	}
	if err := json.Unmarshal(body, &emails); err != nil {
		return "", false, fmt.Errorf("github emails: %w", err)
	}
	for _, e := range emails {
		if e.Primary && e.Verified {
			return e.Email, true, nil
		}
	}
	for _, e := range emails {
		if e.Verified {
			return e.Email, true, nil
		}
	}
	return "", false, fmt.Errorf("github emails: no verified address")
}

func getJSON(ctx context.Context, client *http.Client, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("status %d", resp.StatusCode)
	}
	return io.ReadAll(resp.Body)
}
