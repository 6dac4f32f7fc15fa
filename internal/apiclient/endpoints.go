package apiclient

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/srg/puttlab/internal/state"
)

type RegisterRequest struct {
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
	Email     string `json:"email"`
	Password  string `json:"password"`
}

// Stroke is a stored stroke as returned by the backend.
type Stroke struct {
	ID        string          `json:"id"`
	DeviceID  *int64          `json:"device_id"`
	Data      json.RawMessage `json:"data"`
	CreatedAt time.Time       `json:"created_at"`
}

type tokenResponse struct {
	Message string `json:"message,omitempty"`
	Token   string `json:"token"`
}

// RegisterUser creates an account and signs in with the returned token.
func (c *Client) RegisterUser(ctx context.Context, req RegisterRequest) (string, error) {
	var resp tokenResponse
	if err := c.do(ctx, http.MethodPost, "/user/register", noAuth, req, &resp); err != nil {
		return "", err
	}
	c.users.SetUser(state.User{FirstName: req.FirstName, LastName: req.LastName, Email: req.Email})
	c.users.SetAccessToken(resp.Token)
	return resp.Token, nil
}

func (c *Client) Login(ctx context.Context, email, password string) (string, error) {
	var resp tokenResponse
	body := map[string]string{"email": email, "password": password}
	if err := c.do(ctx, http.MethodPost, "/login", noAuth, body, &resp); err != nil {
		return "", err
	}
	if u, ok := c.users.User(); !ok || u.Email != email {
		c.users.SetUser(state.User{Email: email})
	}
	c.users.SetAccessToken(resp.Token)
	return resp.Token, nil
}

// RegisterDevice registers a sensor and keeps its token as the device token.
func (c *Client) RegisterDevice(ctx context.Context, name string) (string, error) {
	var resp tokenResponse
	if err := c.do(ctx, http.MethodPost, "/device/register", userAuth, map[string]string{"name": name}, &resp); err != nil {
		return "", err
	}
	c.users.SetDeviceToken(resp.Token)
	return resp.Token, nil
}

// SaveStroke uploads data as the signed-in user.
func (c *Client) SaveStroke(ctx context.Context, data json.RawMessage) (Stroke, error) {
	var st Stroke
	err := c.do(ctx, http.MethodPost, "/stroke/save", userAuth, map[string]json.RawMessage{"data": data}, &st)
	return st, err
}

// DeviceCycle uploads data authenticated with the device token.
func (c *Client) DeviceCycle(ctx context.Context, data json.RawMessage) (Stroke, error) {
	var st Stroke
	err := c.do(ctx, http.MethodPost, "/device/cycle", deviceAuth, map[string]json.RawMessage{"data": data}, &st)
	return st, err
}

type ledState struct {
	State bool `json:"state"`
}

func (c *Client) LED(ctx context.Context) (bool, error) {
	var resp ledState
	err := c.do(ctx, http.MethodGet, "/led", userAuth, nil, &resp)
	return resp.State, err
}

// SetLED switches the LED; a nil state toggles it.
func (c *Client) SetLED(ctx context.Context, on *bool) (bool, error) {
	body := map[string]any{}
	if on != nil {
		body["state"] = *on
	}
	var resp ledState
	err := c.do(ctx, http.MethodPost, "/led", userAuth, body, &resp)
	return resp.State, err
}
