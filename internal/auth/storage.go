package auth

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/mpelikan/stridedash/internal/store"
)

// Storage persists OAuth credentials and tokens in the store.
type Storage struct {
	store *store.Store
	ctx   context.Context
}

// NewStorage creates a Storage backed by the given store.
func NewStorage(s *store.Store) *Storage {
	return &Storage{
		store: s,
		ctx:   context.Background(),
	}
}

// StoredTokens is the token set read back from the database.
type StoredTokens struct {
	AccessToken  string
	RefreshToken string
	ExpiresAt    int64
}

// ClientConfig holds the API application credentials.
type ClientConfig struct {
	ClientID     string
	ClientSecret string
}

// SaveTokens updates the stored tokens. Client credentials must have
// been saved first.
func (s *Storage) SaveTokens(tokens *TokenResponse) error {
	err := s.store.UpdateTokens(s.ctx, tokens.AccessToken, tokens.RefreshToken, tokens.ExpiresAt)
	if err == sql.ErrNoRows {
		return fmt.Errorf("no client config found: configure Strava credentials first")
	}
	return err
}

// LoadTokens loads the stored tokens.
func (s *Storage) LoadTokens() (*StoredTokens, error) {
	cfg, err := s.store.GetAuthConfig(s.ctx)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, fmt.Errorf("not authenticated: configure Strava credentials first")
		}
		return nil, fmt.Errorf("loading auth config: %w", err)
	}
	if !cfg.AccessToken.Valid {
		return nil, fmt.Errorf("not authenticated: no tokens stored")
	}
	return &StoredTokens{
		AccessToken:  cfg.AccessToken.String,
		RefreshToken: cfg.RefreshToken.String,
		ExpiresAt:    cfg.ExpiresAt.Int64,
	}, nil
}

// SaveClientConfig stores the API application credentials.
func (s *Storage) SaveClientConfig(clientID, clientSecret string) error {
	return s.store.SaveAuthConfig(s.ctx, clientID, clientSecret)
}

// LoadClientConfig loads the API application credentials.
func (s *Storage) LoadClientConfig() (*ClientConfig, error) {
	cfg, err := s.store.GetAuthConfig(s.ctx)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, fmt.Errorf("client not configured: set Strava credentials first")
		}
		return nil, fmt.Errorf("loading auth config: %w", err)
	}
	return &ClientConfig{
		ClientID:     cfg.ClientID,
		ClientSecret: cfg.ClientSecret,
	}, nil
}

// DeleteTokens removes all stored auth state.
func (s *Storage) DeleteTokens() error {
	return s.store.DeleteAuthConfig(s.ctx)
}

// GetValidAccessToken returns a usable access token, refreshing it
// through the OAuth endpoint when the stored one has expired.
func (s *Storage) GetValidAccessToken() (string, error) {
	tokens, err := s.LoadTokens()
	if err != nil {
		return "", err
	}

	if !IsTokenExpired(tokens.ExpiresAt) {
		return tokens.AccessToken, nil
	}

	config, err := s.LoadClientConfig()
	if err != nil {
		return "", fmt.Errorf("loading client config for refresh: %w", err)
	}

	newTokens, err := RefreshAccessToken(config.ClientID, config.ClientSecret, tokens.RefreshToken)
	if err != nil {
		return "", fmt.Errorf("refreshing token: %w", err)
	}

	if err := s.SaveTokens(newTokens); err != nil {
		return "", fmt.Errorf("saving refreshed tokens: %w", err)
	}
	return newTokens.AccessToken, nil
}
