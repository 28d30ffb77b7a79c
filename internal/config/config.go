package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"

	"slacklater/internal/constants"
	"slacklater/internal/models"
)

var (
	ErrMissingAPIBaseURL   = models.ConfigError{Message: "missing Slack API base URL"}
	ErrMissingClientID     = models.ConfigError{Message: "missing OAuth client id"}
	ErrMissingClientSecret = models.ConfigError{Message: "missing OAuth client secret"}
	ErrMissingRedirectURL  = models.ConfigError{Message: "missing OAuth redirect URL"}
	ErrMissingDBPath       = models.ConfigError{Message: "missing database path"}
)

func LoadConfig(path string) (*models.Config, error) {
	file, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var config models.Config
	if err := json.Unmarshal(file, &config); err != nil {
		return nil, err
	}

	applyEnvironmentOverrides(&config)

	if err := validate(&config); err != nil {
		return nil, err
	}

	return &config, nil
}

func validate(c *models.Config) error {
	if c.Slack.APIBaseURL == "" {
		return ErrMissingAPIBaseURL
	}
	if c.Slack.ClientID == "" {
		return ErrMissingClientID
	}
	if c.Slack.ClientSecret == "" {
		return ErrMissingClientSecret
	}
	if c.Slack.RedirectURL == "" {
		return ErrMissingRedirectURL
	}
	if c.Database.Path == "" {
		return ErrMissingDBPath
	}

	if c.Slack.TimeoutSec <= 0 {
		c.Slack.TimeoutSec = constants.DefaultSlackHTTPTimeoutSec
	}
	if c.Server.Port <= 0 {
		c.Server.Port = constants.DefaultServerPort
	}
	if c.Retry.InitialBackoffMs <= 0 {
		c.Retry.InitialBackoffMs = constants.DefaultRetryBackoffMs
	}
	if c.Retry.MaxBackoffMs <= 0 {
		c.Retry.MaxBackoffMs = constants.DefaultMaxBackoffMs
	}
	if c.Retry.MaxAttempts <= 0 {
		c.Retry.MaxAttempts = constants.DefaultDatabaseRetryAttempts
	}
	if c.Tracing.ServiceName == "" {
		c.Tracing.ServiceName = "slacklater"
	}
	if c.Tracing.SampleRate <= 0 {
		c.Tracing.SampleRate = 0.1
	}

	return nil
}

func applyEnvironmentOverrides(c *models.Config) {
	if url := os.Getenv("SLACK_API_URL"); url != "" {
		c.Slack.APIBaseURL = url
	}

	// SECURITY: OAuth client credentials should be set via environment
	// variables rather than checked into config files.
	if id := os.Getenv("SLACK_CLIENT_ID"); id != "" {
		c.Slack.ClientID = id
	}
	if secret := os.Getenv("SLACK_CLIENT_SECRET"); secret != "" {
		c.Slack.ClientSecret = secret
	}

	if path := os.Getenv("DB_PATH"); path != "" {
		c.Database.Path = path
	}
	if port := os.Getenv("PORT"); port != "" {
		if p, err := strconv.Atoi(port); err == nil {
			c.Server.Port = p
		} else {
			fmt.Fprintf(os.Stderr, "WARNING: ignoring non-numeric PORT value %q\n", port)
		}
	}
}
