// Package deviceflow implements the OAuth 2.0 Device Authorization Grant
// against one identity provider and manages that provider's credential
// lifecycle in the secret store.
//
// Tokens are never held in memory beyond the call that uses them: every
// authenticated operation re-reads the store so concurrent processes observe
// the same credential.
package deviceflow

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/sethvargo/go-retry"

	"github.com/dashb/dashb/internal/backoff"
	"github.com/dashb/dashb/internal/dasherr"
	"github.com/dashb/dashb/internal/dashb"
)

const (
	accessTokenKey  = "access_token"
	refreshTokenKey = "refresh_token"

	deviceGrantType = "urn:ietf:params:oauth:grant-type:device_code"

	// Poll no faster than every 5s no matter what interval the provider
	// suggests. Some providers return 0 here and throttle hard when the
	// first polls come in too quickly.
	pollFloor = 5 * time.Second

	defaultExpiresIn = 1800
	defaultInterval  = 5
)

// Provider holds the per-provider parameters of the shared flow shape.
type Provider struct {
	// ID keys the provider's namespace in the secret store.
	ID            string
	DeviceAuthURL string
	TokenURL      string
	ClientID      string
	ClientSecret  string
	Scope         string
}

// Client runs the device flow for one provider.
type Client struct {
	provider Provider
	secrets  dashb.SecretStore
	http     *http.Client
	policy   backoff.Policy
}

// New creates a flow client for the given provider.
func New(provider Provider, secrets dashb.SecretStore, httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 15 * time.Second}
	}

	return &Client{
		provider: provider,
		secrets:  secrets,
		http:     httpClient,
		policy:   backoff.Default(),
	}
}

func (c *Client) namespace() string {
	return "dashb." + c.provider.ID
}

// Connected reports whether an access token is stored. The token is not
// validated against the provider here; an expired-but-present token still
// reads as connected until a call comes back 401.
func (c *Client) Connected(ctx context.Context) bool {
	_, ok, err := c.secrets.Read(ctx, c.namespace(), accessTokenKey)
	return err == nil && ok
}

// AccessToken reads the stored access token for an authenticated call.
func (c *Client) AccessToken(ctx context.Context) (string, error) {
	tok, ok, err := c.secrets.Read(ctx, c.namespace(), accessTokenKey)
	if err != nil {
		return "", fmt.Errorf("error reading access token: %w", err)
	}
	if !ok {
		return "", dasherr.E("no access token stored", dasherr.KindAuthRequired)
	}

	return tok, nil
}

// Fields the device-code endpoints answer with. The two providers disagree
// on the verification field name (verification_url on the Google shape,
// verification_uri on the Microsoft shape) and both may carry a "complete"
// variant embedding the user code; a tolerant parse checks all of them.
type deviceAuthResp struct {
	UserCode                string `json:"user_code"`
	DeviceCode              string `json:"device_code"`
	VerificationURI         string `json:"verification_uri"`
	VerificationURL         string `json:"verification_url"`
	VerificationURIComplete string `json:"verification_uri_complete"`
	VerificationURLComplete string `json:"verification_url_complete"`
	ExpiresIn               int    `json:"expires_in"`
	Interval                int    `json:"interval"`

	Error            string `json:"error"`
	ErrorDescription string `json:"error_description"`
}

func (r deviceAuthResp) verification() string {
	for _, v := range []string{
		r.VerificationURIComplete,
		r.VerificationURLComplete,
		r.VerificationURI,
		r.VerificationURL,
	} {
		if v != "" {
			return v
		}
	}

	return ""
}

type tokenResp struct {
	AccessToken      string `json:"access_token"`
	RefreshToken     string `json:"refresh_token"`
	Error            string `json:"error"`
	ErrorDescription string `json:"error_description"`
}

func (c *Client) postForm(ctx context.Context, endpoint string, form url.Values) (int, []byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return 0, nil, fmt.Errorf("error building request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := c.http.Do(req)
	if err != nil {
		return 0, nil, dasherr.E(err, dasherr.KindNetwork)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return 0, nil, dasherr.E(err, dasherr.KindNetwork)
	}

	return resp.StatusCode, body, nil
}

// StartDeviceAuth begins a device flow and returns the challenge to show
// to the user.
func (c *Client) StartDeviceAuth(ctx context.Context) (dashb.DeviceAuthChallenge, error) {
	form := url.Values{
		"client_id": {c.provider.ClientID},
		"scope":     {c.provider.Scope},
	}
	if c.provider.ClientSecret != "" {
		form.Set("client_secret", c.provider.ClientSecret)
	}

	_, body, err := c.postForm(ctx, c.provider.DeviceAuthURL, form)
	if err != nil {
		return dashb.DeviceAuthChallenge{}, err
	}

	var parsed deviceAuthResp
	if err := json.Unmarshal(body, &parsed); err != nil {
		return dashb.DeviceAuthChallenge{}, dasherr.E(fmt.Errorf("unparseable device auth response: %w", err), dasherr.KindProtocol)
	}

	if parsed.Error != "" || parsed.DeviceCode == "" {
		msg := parsed.ErrorDescription
		if msg == "" {
			msg = parsed.Error
		}
		if msg == "" {
			return dashb.DeviceAuthChallenge{}, dasherr.E("device auth response carries neither a code nor an error", dasherr.KindProtocol)
		}
		return dashb.DeviceAuthChallenge{}, dasherr.E(msg, dasherr.KindAuth)
	}

	challenge := dashb.DeviceAuthChallenge{
		UserCode:        parsed.UserCode,
		VerificationURI: parsed.verification(),
		DeviceCode:      parsed.DeviceCode,
		ExpiresIn:       parsed.ExpiresIn,
		Interval:        parsed.Interval,
	}
	if challenge.ExpiresIn == 0 {
		challenge.ExpiresIn = defaultExpiresIn
	}
	if challenge.Interval == 0 {
		challenge.Interval = defaultInterval
	}

	return challenge, nil
}

// PollForToken performs one token-exchange attempt for a pending device
// flow. It returns false with no error while the user has not decided yet
// (authorization_pending / slow_down), and true after the tokens have been
// persisted. The caller owns the polling loop; see [Client.Await].
func (c *Client) PollForToken(ctx context.Context, deviceCode string) (bool, error) {
	form := url.Values{
		"client_id":   {c.provider.ClientID},
		"device_code": {deviceCode},
		"grant_type":  {deviceGrantType},
	}
	if c.provider.ClientSecret != "" {
		form.Set("client_secret", c.provider.ClientSecret)
	}

	status, body, err := c.postForm(ctx, c.provider.TokenURL, form)
	if err != nil {
		return false, err
	}

	var parsed tokenResp
	if err := json.Unmarshal(body, &parsed); err != nil {
		return false, dasherr.E(fmt.Errorf("unparseable token response: %w", err), dasherr.KindProtocol)
	}

	if status == http.StatusOK && parsed.AccessToken != "" {
		if err := c.saveTokens(ctx, parsed); err != nil {
			return false, err
		}
		return true, nil
	}

	switch parsed.Error {
	case "authorization_pending", "slow_down":
		// Not errors: the user simply hasn't confirmed yet.
		return false, nil
	case "":
		return false, nil
	}

	msg := parsed.ErrorDescription
	if msg == "" {
		msg = parsed.Error
	}

	return false, dasherr.E(msg, dasherr.KindAuth)
}

// Await runs the polling loop for a started challenge until the user
// approves, the challenge expires, or ctx is canceled. This is the only
// long-lived operation with explicit cancellation.
func (c *Client) Await(ctx context.Context, challenge dashb.DeviceAuthChallenge) (bool, error) {
	deadline := time.Now().Add(time.Duration(challenge.ExpiresIn) * time.Second)

	for time.Now().Before(deadline) {
		ok, err := c.PollForToken(ctx, challenge.DeviceCode)
		if err != nil {
			return false, err
		}
		if ok {
			return true, nil
		}

		select {
		case <-ctx.Done():
			return false, ctx.Err()
		case <-time.After(pollFloor):
		}
	}

	return false, dasherr.E("device code expired before the user approved", dasherr.KindAuth)
}

// RefreshToken exchanges the stored refresh token for a new access token.
// It returns false, without error, when no refresh token is stored or the
// provider rejects it.
func (c *Client) RefreshToken(ctx context.Context) (bool, error) {
	refresh, ok, err := c.secrets.Read(ctx, c.namespace(), refreshTokenKey)
	if err != nil {
		return false, fmt.Errorf("error reading refresh token: %w", err)
	}
	if !ok {
		return false, nil
	}

	form := url.Values{
		"client_id":     {c.provider.ClientID},
		"refresh_token": {refresh},
		"grant_type":    {"refresh_token"},
	}
	if c.provider.ClientSecret != "" {
		form.Set("client_secret", c.provider.ClientSecret)
	}
	if c.provider.Scope != "" {
		form.Set("scope", c.provider.Scope)
	}

	var parsed tokenResp
	var status int
	err = c.policy.Do(ctx, func(ctx context.Context) error {
		s, body, err := c.postForm(ctx, c.provider.TokenURL, form)
		if dasherr.IsRetryable(err) {
			return retry.RetryableError(err)
		}
		if err != nil {
			return err
		}

		status = s
		if err := json.Unmarshal(body, &parsed); err != nil {
			return dasherr.E(fmt.Errorf("unparseable refresh response: %w", err), dasherr.KindProtocol)
		}

		return nil
	})
	if err != nil {
		return false, err
	}

	if status != http.StatusOK || parsed.AccessToken == "" {
		return false, nil
	}
	if err := c.saveTokens(ctx, parsed); err != nil {
		return false, err
	}

	return true, nil
}

func (c *Client) saveTokens(ctx context.Context, parsed tokenResp) error {
	if err := c.secrets.Save(ctx, c.namespace(), accessTokenKey, parsed.AccessToken); err != nil {
		return fmt.Errorf("error persisting access token: %w", err)
	}
	if parsed.RefreshToken != "" {
		if err := c.secrets.Save(ctx, c.namespace(), refreshTokenKey, parsed.RefreshToken); err != nil {
			return fmt.Errorf("error persisting refresh token: %w", err)
		}
	}

	return nil
}

// Logout deletes both stored tokens.
func (c *Client) Logout(ctx context.Context) error {
	if err := c.secrets.Delete(ctx, c.namespace(), accessTokenKey); err != nil {
		return fmt.Errorf("error deleting access token: %w", err)
	}
	if err := c.secrets.Delete(ctx, c.namespace(), refreshTokenKey); err != nil {
		return fmt.Errorf("error deleting refresh token: %w", err)
	}

	return nil
}
