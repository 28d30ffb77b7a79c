package slack

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

const (
	defaultTimeout      = 10 * time.Second
	defaultAuthorizeURL = "https://slack.com/oauth/v2/authorize"
	defaultScopes       = "channels:read,groups:read,chat:write"
	channelPageSize     = 200
)

type Client interface {
	AuthorizeURL(state string) string
	ExchangeCode(ctx context.Context, code string) (*OAuthToken, error)
	RefreshToken(ctx context.Context, refreshToken string) (*OAuthToken, error)
	SendText(ctx context.Context, accessToken, channelID, text string) (string, error)
	ListChannels(ctx context.Context, accessToken string) ([]Channel, error)
}

type ClientConfig struct {
	BaseURL          string
	AuthorizeBaseURL string
	ClientID         string
	ClientSecret     string
	RedirectURL      string
	Scopes           string
	Timeout          time.Duration
}

type SlackClient struct {
	cfg    ClientConfig
	client *http.Client
}

func NewClient(cfg ClientConfig) Client {
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	if cfg.AuthorizeBaseURL == "" {
		cfg.AuthorizeBaseURL = defaultAuthorizeURL
	}
	if cfg.Scopes == "" {
		cfg.Scopes = defaultScopes
	}
	return &SlackClient{
		cfg: cfg,
		client: &http.Client{
			Timeout: cfg.Timeout,
		},
	}
}

// AuthorizeURL builds the provider consent URL the user is sent to. The
// state round-trips through the provider and back to the callback handler.
func (c *SlackClient) AuthorizeURL(state string) string {
	params := url.Values{}
	params.Set("client_id", c.cfg.ClientID)
	params.Set("scope", c.cfg.Scopes)
	params.Set("redirect_uri", c.cfg.RedirectURL)
	params.Set("state", state)
	return c.cfg.AuthorizeBaseURL + "?" + params.Encode()
}

func (c *SlackClient) ExchangeCode(ctx context.Context, code string) (*OAuthToken, error) {
	form := url.Values{}
	form.Set("client_id", c.cfg.ClientID)
	form.Set("client_secret", c.cfg.ClientSecret)
	form.Set("code", code)
	form.Set("redirect_uri", c.cfg.RedirectURL)

	return c.tokenRequest(ctx, form)
}

func (c *SlackClient) RefreshToken(ctx context.Context, refreshToken string) (*OAuthToken, error) {
	form := url.Values{}
	form.Set("client_id", c.cfg.ClientID)
	form.Set("client_secret", c.cfg.ClientSecret)
	form.Set("grant_type", "refresh_token")
	form.Set("refresh_token", refreshToken)

	return c.tokenRequest(ctx, form)
}

func (c *SlackClient) tokenRequest(ctx context.Context, form url.Values) (*OAuthToken, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.BaseURL+"/oauth.v2.access", strings.NewReader(form.Encode()))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	var result oauthAccessResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}
	if !result.OK {
		return nil, fmt.Errorf("token request rejected: %s", result.Error)
	}

	return &OAuthToken{
		AccessToken:  result.AccessToken,
		RefreshToken: result.RefreshToken,
		ExpiresIn:    result.ExpiresIn,
		Team:         result.Team,
	}, nil
}

// SendText posts a message to a channel and returns the provider-assigned
// message timestamp.
func (c *SlackClient) SendText(ctx context.Context, accessToken, channelID, text string) (string, error) {
	payload := map[string]interface{}{
		"channel": channelID,
		"text":    text,
	}

	jsonData, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("failed to marshal payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.BaseURL+"/chat.postMessage", bytes.NewBuffer(jsonData))
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json; charset=utf-8")
	req.Header.Set("Authorization", "Bearer "+accessToken)

	resp, err := c.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	var result postMessageResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return "", fmt.Errorf("failed to decode response: %w", err)
	}
	if !result.OK {
		return "", fmt.Errorf("message rejected: %s", result.Error)
	}

	return result.TS, nil
}

// ListChannels walks conversations.list pages until the cursor runs out.
func (c *SlackClient) ListChannels(ctx context.Context, accessToken string) ([]Channel, error) {
	var channels []Channel
	cursor := ""

	for {
		params := url.Values{}
		params.Set("limit", strconv.Itoa(channelPageSize))
		params.Set("types", "public_channel,private_channel")
		params.Set("exclude_archived", "true")
		if cursor != "" {
			params.Set("cursor", cursor)
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.cfg.BaseURL+"/conversations.list?"+params.Encode(), nil)
		if err != nil {
			return nil, fmt.Errorf("failed to create request: %w", err)
		}
		req.Header.Set("Authorization", "Bearer "+accessToken)

		resp, err := c.client.Do(req)
		if err != nil {
			return nil, fmt.Errorf("failed to send request: %w", err)
		}

		var result conversationsListResponse
		err = json.NewDecoder(resp.Body).Decode(&result)
		if closeErr := resp.Body.Close(); closeErr != nil && err == nil {
			err = closeErr
		}
		if err != nil {
			return nil, fmt.Errorf("failed to decode response: %w", err)
		}
		if !result.OK {
			return nil, fmt.Errorf("channel listing rejected: %s", result.Error)
		}

		channels = append(channels, result.Channels...)

		cursor = result.ResponseMetadata.NextCursor
		if cursor == "" {
			return channels, nil
		}
	}
}
