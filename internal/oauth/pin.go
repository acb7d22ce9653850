package oauth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/oauth2"
)

const (
	pinGrantType = "ecobeePin"

	defaultPINLifetime = 10 * time.Minute
	defaultPINInterval = 5 * time.Second
	slowDownStep       = 5 * time.Second
)

var (
	ErrAuthorizationPending = errors.New("authorization pending")
	errSlowDown             = errors.New("slow down")
	ErrPINExpired           = errors.New("pin expired before authorization completed")
)

// PIN is an issued device PIN plus the code it is exchanged with.
type PIN struct {
	PIN       string
	Code      string
	Scope     string
	IssuedAt  time.Time
	ExpiresIn time.Duration
	Interval  time.Duration
}

// ExpiresAt is the wall-clock time the PIN stops being accepted.
func (p PIN) ExpiresAt() time.Time {
	return p.IssuedAt.Add(p.ExpiresIn)
}

type pinResponse struct {
	EcobeePin string `json:"ecobeePin"`
	Code      string `json:"code"`
	Scope     string `json:"scope"`
	ExpiresIn int    `json:"expires_in"`
	Interval  int    `json:"interval"`
}

type tokenResponse struct {
	AccessToken      string `json:"access_token"`
	RefreshToken     string `json:"refresh_token"`
	ExpiresIn        int    `json:"expires_in"`
	TokenType        string `json:"token_type"`
	Scope            string `json:"scope"`
	Error            string `json:"error"`
	ErrorDescription string `json:"error_description"`
}

// requestPIN asks the vendor for a PIN the operator enters on the web portal.
// The vendor reports the PIN lifetime in minutes.
func requestPIN(ctx context.Context, client *http.Client, decl Declaration, apiKey string, now time.Time) (PIN, error) {
	query := url.Values{
		"response_type": {pinGrantType},
		"client_id":     {apiKey},
		"scope":         {decl.Scope},
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, decl.AuthorizeURL+"?"+query.Encode(), nil)
	if err != nil {
		return PIN{}, err
	}
	req.Header.Set("Accept", "application/json")

	resp, err := client.Do(req)
	if err != nil {
		return PIN{}, err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		var body tokenResponse
		if err := json.NewDecoder(resp.Body).Decode(&body); err == nil && body.Error != "" {
			return PIN{}, fmt.Errorf("pin request error %d: %s", resp.StatusCode, describe(body))
		}
		return PIN{}, fmt.Errorf("pin request http %d", resp.StatusCode)
	}

	var body pinResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return PIN{}, fmt.Errorf("decode pin response: %w", err)
	}
	if body.EcobeePin == "" || body.Code == "" {
		return PIN{}, fmt.Errorf("pin response missing pin or code")
	}

	pin := PIN{
		PIN:       body.EcobeePin,
		Code:      body.Code,
		Scope:     body.Scope,
		IssuedAt:  now,
		ExpiresIn: time.Duration(body.ExpiresIn) * time.Minute,
		Interval:  time.Duration(body.Interval) * time.Second,
	}
	if pin.ExpiresIn <= 0 {
		pin.ExpiresIn = defaultPINLifetime
	}
	if pin.Interval <= 0 {
		pin.Interval = defaultPINInterval
	}
	return pin, nil
}

// exchangePIN trades the authorization code for a token pair. While the
// operator has not confirmed the PIN yet it returns ErrAuthorizationPending.
func exchangePIN(ctx context.Context, client *http.Client, decl Declaration, apiKey string, pin PIN, now time.Time) (*oauth2.Token, error) {
	form := url.Values{
		"grant_type": {pinGrantType},
		"code":       {pin.Code},
		"client_id":  {apiKey},
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, decl.TokenURL, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")

	resp, err := client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var body tokenResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		if resp.StatusCode >= 300 {
			return nil, fmt.Errorf("token exchange http %d", resp.StatusCode)
		}
		return nil, fmt.Errorf("decode token response: %w", err)
	}

	switch body.Error {
	case "":
	case "authorization_pending":
		return nil, ErrAuthorizationPending
	case "slow_down":
		return nil, fmt.Errorf("%w: %w", ErrAuthorizationPending, errSlowDown)
	default:
		return nil, fmt.Errorf("token exchange error %d: %s", resp.StatusCode, describe(body))
	}
	if resp.StatusCode >= 300 {
		return nil, fmt.Errorf("token exchange http %d", resp.StatusCode)
	}
	if body.AccessToken == "" || body.RefreshToken == "" {
		return nil, fmt.Errorf("token response missing access or refresh token")
	}

	return &oauth2.Token{
		AccessToken:  body.AccessToken,
		RefreshToken: body.RefreshToken,
		TokenType:    body.TokenType,
		Expiry:       now.Add(time.Duration(body.ExpiresIn) * time.Second),
	}, nil
}

func describe(body tokenResponse) string {
	if body.ErrorDescription == "" {
		return body.Error
	}
	return body.Error + ": " + body.ErrorDescription
}
