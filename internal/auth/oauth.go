// Package auth handles Strava OAuth and token persistence.
package auth

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/pkg/browser"
	"golang.org/x/oauth2"
)

const (
	authURL      = "https://www.strava.com/oauth/authorize"
	tokenURL     = "https://www.strava.com/oauth/token"
	callbackPort = 8342
	scopes       = "activity:read_all"
)

// StravaOAuthConfig returns an OAuth2 config for Strava.
func StravaOAuthConfig(clientID, clientSecret string) *oauth2.Config {
	return &oauth2.Config{
		ClientID:     clientID,
		ClientSecret: clientSecret,
		Endpoint: oauth2.Endpoint{
			AuthURL:  authURL,
			TokenURL: tokenURL,
		},
		RedirectURL: fmt.Sprintf("http://localhost:%d/callback", callbackPort),
		Scopes:      []string{scopes},
	}
}

// TokenResponse holds tokens in the shape Strava returns them, which
// is also how they are stored.
type TokenResponse struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	ExpiresAt    int64  `json:"expires_at"`
	TokenType    string `json:"token_type"`
}

// TokenFromOAuth2 converts an oauth2.Token to a TokenResponse.
func TokenFromOAuth2(token *oauth2.Token) *TokenResponse {
	return &TokenResponse{
		AccessToken:  token.AccessToken,
		RefreshToken: token.RefreshToken,
		ExpiresAt:    token.Expiry.Unix(),
		TokenType:    token.TokenType,
	}
}

// Authenticate runs the browser OAuth flow: it serves a localhost
// callback, opens the authorization page, and exchanges the returned
// code for tokens.
func Authenticate(ctx context.Context, clientID, clientSecret string) (*TokenResponse, error) {
	config := StravaOAuthConfig(clientID, clientSecret)

	codeChan := make(chan string, 1)
	errChan := make(chan error, 1)

	mux := http.NewServeMux()
	server := &http.Server{
		Addr:    fmt.Sprintf(":%d", callbackPort),
		Handler: mux,
	}

	mux.HandleFunc("/callback", func(w http.ResponseWriter, r *http.Request) {
		code := r.URL.Query().Get("code")
		if code == "" {
			errMsg := r.URL.Query().Get("error")
			if errMsg == "" {
				errMsg = "no authorization code received"
			}
			http.Error(w, errMsg, http.StatusBadRequest)
			errChan <- fmt.Errorf("authorization failed: %s", errMsg)
			return
		}

		w.Header().Set("Content-Type", "text/html")
		fmt.Fprintf(w, `<html><body><h1>Authorization successful!</h1><p>You can close this window.</p></body></html>`)
		codeChan <- code
	})

	go func() {
		if err := server.ListenAndServe(); err != http.ErrServerClosed {
			errChan <- fmt.Errorf("callback server error: %w", err)
		}
	}()

	state := "stridedash-auth"
	authorizeURL := config.AuthCodeURL(state, oauth2.SetAuthURLParam("approval_prompt", "force"))

	fmt.Println("Opening browser for Strava authorization...")
	fmt.Printf("If the browser doesn't open, visit: %s\n\n", authorizeURL)

	if err := browser.OpenURL(authorizeURL); err != nil {
		fmt.Printf("Could not open browser automatically: %v\n", err)
	}

	var code string
	select {
	case code = <-codeChan:
	case err := <-errChan:
		server.Shutdown(ctx)
		return nil, err
	case <-ctx.Done():
		server.Shutdown(ctx)
		return nil, ctx.Err()
	case <-time.After(5 * time.Minute):
		server.Shutdown(ctx)
		return nil, fmt.Errorf("authorization timeout")
	}

	server.Shutdown(ctx)

	token, err := config.Exchange(ctx, code)
	if err != nil {
		return nil, fmt.Errorf("token exchange failed: %w", err)
	}
	return TokenFromOAuth2(token), nil
}

// RefreshAccessToken exchanges a refresh token for fresh tokens.
func RefreshAccessToken(clientID, clientSecret, refreshToken string) (*TokenResponse, error) {
	config := StravaOAuthConfig(clientID, clientSecret)

	// An already-expired token forces the token source to refresh.
	oldToken := &oauth2.Token{
		RefreshToken: refreshToken,
		Expiry:       time.Now().Add(-time.Hour),
	}

	newToken, err := config.TokenSource(context.Background(), oldToken).Token()
	if err != nil {
		return nil, fmt.Errorf("token refresh failed: %w", err)
	}
	return TokenFromOAuth2(newToken), nil
}

// IsTokenExpired reports whether the token is expired or expires
// within five minutes.
func IsTokenExpired(expiresAt int64) bool {
	return time.Now().Unix() > (expiresAt - 300)
}
