package credential

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/oauth2"

	"github.com/routecodex/routecodex/pkg/types"
)

// DeviceCodeResponse is the vendor device-authorization response, grounded
// on examples/qwen-oauth-flow's DeviceCodeResponse.
type DeviceCodeResponse struct {
	DeviceCode              string `json:"device_code"`
	UserCode                string `json:"user_code"`
	VerificationURI         string `json:"verification_uri"`
	VerificationURIComplete string `json:"verification_uri_complete"`
	ExpiresIn               int    `json:"expires_in"`
	Interval                int    `json:"interval"`

	// CodeVerifier is the PKCE verifier generated for this device-code
	// request; PollForToken needs it to complete the exchange.
	CodeVerifier string `json:"-"`
}

// TokenResponse is the vendor token-endpoint response shape.
type TokenResponse struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	ExpiresIn    int64  `json:"expires_in"`
	TokenType    string `json:"token_type"`
	Scope        string `json:"scope"`
}

type tokenErrorResponse struct {
	Error            string `json:"error"`
	ErrorDescription string `json:"error_description"`
}

// HTTPDeviceFlowClient implements DeviceFlowClient against a real OAuth
// device-authorization + token endpoint, grounded on
// examples/qwen-oauth-flow/main.go's requestDeviceCode/pollForToken, with
// PKCE support grounded on pkg/auth/oauth.go's generatePKCEVerifier/
// generatePKCEChallenge.
type HTTPDeviceFlowClient struct {
	HTTPClient *http.Client
	UserAgent  string
}

// NewHTTPDeviceFlowClient builds a client with the teacher's 30s timeout.
func NewHTTPDeviceFlowClient() *HTTPDeviceFlowClient {
	return &HTTPDeviceFlowClient{HTTPClient: &http.Client{Timeout: 30 * time.Second}, UserAgent: "routecodex-gateway/1.0"}
}

// RequestDeviceCode starts the device-authorization flow, always attaching
// a PKCE challenge whether or not endpoints.ClientSecret is set.
func (c *HTTPDeviceFlowClient) RequestDeviceCode(ctx context.Context, endpoints types.OAuthEndpoints) (*DeviceCodeResponse, error) {
	data := url.Values{}
	data.Set("client_id", endpoints.ClientID)
	data.Set("scope", strings.Join(endpoints.Scopes, " "))

	verifier, err := generatePKCEVerifier()
	if err != nil {
		return nil, fmt.Errorf("generate pkce verifier: %w", err)
	}
	data.Set("code_challenge", generatePKCEChallenge(verifier))
	data.Set("code_challenge_method", "S256")

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoints.DeviceCodeURL, strings.NewReader(data.Encode()))
	if err != nil {
		return nil, fmt.Errorf("build device code request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")
	req.Header.Set("x-request-id", uuid.New().String())
	req.Header.Set("User-Agent", c.UserAgent)

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("device code request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read device code response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("device code http %d: %s", resp.StatusCode, string(body))
	}

	var out DeviceCodeResponse
	if err := json.Unmarshal(body, &out); err != nil {
		return nil, fmt.Errorf("parse device code response: %w", err)
	}
	out.CodeVerifier = verifier
	return &out, nil
}

// PollForToken polls the token endpoint at the server-specified interval
// until the user completes verification, the device code expires, or ctx is
// canceled (spec.md §4.2: "poll cadence respects server-specified
// interval").
func (c *HTTPDeviceFlowClient) PollForToken(ctx context.Context, endpoints types.OAuthEndpoints, deviceCode, codeVerifier string, interval time.Duration) (*TokenResponse, error) {
	if interval <= 0 {
		interval = 5 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
			data := url.Values{}
			data.Set("grant_type", "urn:ietf:params:oauth:grant-type:device_code")
			data.Set("device_code", deviceCode)
			data.Set("client_id", endpoints.ClientID)
			if codeVerifier != "" {
				data.Set("code_verifier", codeVerifier)
			}

			req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoints.TokenURL, strings.NewReader(data.Encode()))
			if err != nil {
				return nil, fmt.Errorf("build poll request: %w", err)
			}
			req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
			req.Header.Set("Accept", "application/json")

			resp, err := c.HTTPClient.Do(req)
			if err != nil {
				return nil, fmt.Errorf("poll request: %w", err)
			}
			body, err := io.ReadAll(resp.Body)
			resp.Body.Close()
			if err != nil {
				return nil, fmt.Errorf("read poll response: %w", err)
			}

			if resp.StatusCode == http.StatusOK {
				var tok TokenResponse
				if err := json.Unmarshal(body, &tok); err != nil {
					return nil, fmt.Errorf("parse token response: %w", err)
				}
				return &tok, nil
			}

			var errResp tokenErrorResponse
			if err := json.Unmarshal(body, &errResp); err == nil && errResp.Error != "" {
				switch errResp.Error {
				case "authorization_pending":
					continue
				case "slow_down":
					ticker.Reset(interval * 2)
					continue
				case "expired_token":
					return nil, fmt.Errorf("device code expired")
				case "access_denied":
					return nil, fmt.Errorf("user denied authorization")
				default:
					return nil, fmt.Errorf("oauth error: %s - %s", errResp.Error, errResp.ErrorDescription)
				}
			}
		}
	}
}

// RefreshToken exchanges a refresh token for a new access token, using
// golang.org/x/oauth2's TokenSource so the refresh-grant request/response
// shape (including expiry arithmetic) follows the same library the
// teacher's provider OAuth flows already depend on, instead of a
// hand-rolled form POST.
func (c *HTTPDeviceFlowClient) RefreshToken(ctx context.Context, endpoints types.OAuthEndpoints, refreshToken string) (*TokenResponse, error) {
	ctx = context.WithValue(ctx, oauth2.HTTPClient, c.HTTPClient)

	cfg := &oauth2.Config{
		ClientID:     endpoints.ClientID,
		ClientSecret: endpoints.ClientSecret,
		Endpoint:     oauth2.Endpoint{TokenURL: endpoints.TokenURL},
	}

	src := cfg.TokenSource(ctx, &oauth2.Token{RefreshToken: refreshToken})
	tok, err := src.Token()
	if err != nil {
		return nil, fmt.Errorf("refresh token: %w", err)
	}

	out := &TokenResponse{
		AccessToken:  tok.AccessToken,
		RefreshToken: tok.RefreshToken,
		TokenType:    tok.TokenType,
	}
	if !tok.Expiry.IsZero() {
		out.ExpiresIn = int64(time.Until(tok.Expiry).Seconds())
	}
	if out.RefreshToken == "" {
		out.RefreshToken = refreshToken
	}
	return out, nil
}

func generatePKCEVerifier() (string, error) {
	b := make([]byte, 64)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}

func generatePKCEChallenge(verifier string) string {
	hash := sha256.Sum256([]byte(verifier))
	return base64.RawURLEncoding.EncodeToString(hash[:])
}
