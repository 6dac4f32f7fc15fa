// Package apiclient talks to the puttlab backend on behalf of the signed-in user.
package apiclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/oauth2"

	"github.com/srg/puttlab/internal/state"
	"github.com/srg/puttlab/pkg/config"
)

// APIError is a non-2xx response.
type APIError struct {
	Status  int
	Message string
	// Fields holds per-field validation messages of a 422 response.
	Fields map[string][]string
}

func (e *APIError) Error() string {
	if len(e.Fields) == 0 {
		return fmt.Sprintf("api: %d %s", e.Status, e.Message)
	}
	keys := make([]string, 0, len(e.Fields))
	for k := range e.Fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, strings.Join(e.Fields[k], " "))
	}
	return fmt.Sprintf("api: %d %s", e.Status, strings.Join(parts, " "))
}

type credential int

const (
	noAuth credential = iota
	userAuth
	deviceAuth
)

// Client is a JSON client for the backend.
type Client struct {
	baseURL string
	http    *http.Client
	users   *state.UserStore
	logger  *logrus.Logger

	// OnUnauthorized runs after a 401 cleared the user's tokens.
	OnUnauthorized func()
}

func New(cfg config.APIConfig, users *state.UserStore, logger *logrus.Logger) *Client {
	if logger == nil {
		logger = logrus.New()
	}
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 15 * time.Second
	}
	return &Client{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		http:    &http.Client{Timeout: timeout},
		users:   users,
		logger:  logger,
	}
}

func (c *Client) do(ctx context.Context, method, path string, cred credential, in, out any) error {
	var body io.Reader
	if in != nil {
		raw, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		body = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	var token string
	switch cred {
	case userAuth:
		token = c.users.AccessToken()
	case deviceAuth:
		token = c.users.DeviceToken()
	}
	if token != "" {
		(&oauth2.Token{AccessToken: token, TokenType: "Bearer"}).SetAuthHeader(req)
	}

	log := c.logger.WithFields(logrus.Fields{"method": method, "path": path})
	log.Debug("API request")

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}
	log.WithField("status", resp.StatusCode).Debug("API response")

	if resp.StatusCode == http.StatusUnauthorized && cred == userAuth {
		c.users.ClearTokens()
		if c.OnUnauthorized != nil {
			c.OnUnauthorized()
		}
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return decodeError(resp.StatusCode, raw)
	}

	if out == nil {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

func decodeError(status int, raw []byte) error {
	apiErr := &APIError{Status: status, Message: http.StatusText(status)}

	if status == http.StatusUnprocessableEntity {
		fields := map[string][]string{}
		if err := json.Unmarshal(raw, &fields); err == nil && len(fields) > 0 {
			apiErr.Fields = fields
			return apiErr
		}
	}

	var msg struct {
		Error   string `json:"error"`
		Message string `json:"message"`
	}
	if err := json.Unmarshal(raw, &msg); err == nil {
		switch {
		case msg.Error != "":
			apiErr.Message = msg.Error
		case msg.Message != "":
			apiErr.Message = msg.Message
		}
	}
	return apiErr
}
