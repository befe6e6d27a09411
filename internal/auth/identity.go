package auth

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"google.golang.org/api/googleapi"
)

const (
	DefaultIdentityURL = "https://identitytoolkit.googleapis.com/v1"
	DefaultTokenURL    = "https://securetoken.googleapis.com/v1/token"
)

// AccountTokens is what the identity service returns for a password
// sign-in or sign-up.
type AccountTokens struct {
	IDToken      string `json:"idToken"`
	RefreshToken string `json:"refreshToken"`
	ExpiresIn    string `json:"expiresIn"`
	LocalID      string `json:"localId"`
	Email        string `json:"email"`
}

// IdentityClient talks to the accounts endpoints of the identity service.
type IdentityClient struct {
	baseURL string
	apiKey  string
	http    *http.Client
}

// NewIdentityClient returns a client for baseURL. A nil httpClient uses
// http.DefaultClient.
func NewIdentityClient(baseURL, apiKey string, httpClient *http.Client) *IdentityClient {
	if baseURL == "" {
		baseURL = DefaultIdentityURL
	}
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &IdentityClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		http:    httpClient,
	}
}

type passwordRequest struct {
	Email             string `json:"email"`
	Password          string `json:"password"`
	ReturnSecureToken bool   `json:"returnSecureToken"`
}

// SignIn exchanges an email and password for tokens.
func (c *IdentityClient) SignIn(ctx context.Context, email, password string) (*AccountTokens, error) {
	var out AccountTokens
	err := c.post(ctx, "signInWithPassword", passwordRequest{
		Email:             email,
		Password:          password,
		ReturnSecureToken: true,
	}, &out)
	if err != nil {
		return nil, err
	}
	return &out, nil
}

// SignUp registers a new account and returns its tokens.
func (c *IdentityClient) SignUp(ctx context.Context, email, password string) (*AccountTokens, error) {
	var out AccountTokens
	err := c.post(ctx, "signUp", passwordRequest{
		Email:             email,
		Password:          password,
		ReturnSecureToken: true,
	}, &out)
	if err != nil {
		return nil, err
	}
	return &out, nil
}

// Lookup reports whether idToken is accepted by the identity service.
// A rejection is (false, nil); transport failures are errors.
func (c *IdentityClient) Lookup(ctx context.Context, idToken string) (bool, error) {
	var out struct {
		Users []struct {
			LocalID string `json:"localId"`
		} `json:"users"`
	}
	err := c.post(ctx, "lookup", map[string]string{"idToken": idToken}, &out)
	if err != nil {
		var gErr *googleapi.Error
		if errors.As(err, &gErr) && (gErr.Code == http.StatusBadRequest || gErr.Code == http.StatusUnauthorized) {
			return false, nil
		}
		return false, err
	}
	return len(out.Users) > 0, nil
}

func (c *IdentityClient) post(ctx context.Context, method string, body, out any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("encode %s request: %w", method, err)
	}

	endpoint := c.baseURL + "/accounts:" + method + "?key=" + url.QueryEscape(c.apiKey)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("build %s request: %w", method, err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s: %w", method, err)
	}
	defer resp.Body.Close()

	if err := googleapi.CheckResponse(resp); err != nil {
		var gErr *googleapi.Error
		if method != "lookup" && errors.As(err, &gErr) && gErr.Code == http.StatusBadRequest {
			return fmt.Errorf("%w: %s: %w", ErrInvalidCredentials, gErr.Message, err)
		}
		return fmt.Errorf("%s: %w", method, err)
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode %s response: %w", method, err)
	}
	return nil
}
