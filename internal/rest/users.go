package rest

import (
	"context"
	"net/http"

	"github.com/matheus3301/securetalk/internal/model"
)

// Registration is the body of /users/register.
type Registration struct {
	FirstName   string `json:"firstName"`
	LastName    string `json:"lastName"`
	Email       string `json:"email"`
	Password    string `json:"password"`
	Gender      string `json:"gender"`
	DateOfBirth string `json:"dateOfBirth"`
}

type tokenResponse struct {
	Token string `json:"token"`
}

// Login exchanges credentials for a bearer token.
func (c *Client) Login(ctx context.Context, email, password string) (string, error) {
	var resp tokenResponse
	body := map[string]string{"email": email, "password": password}
	if err := c.do(ctx, "login", http.MethodPost, "/users/login", false, body, &resp); err != nil {
		return "", err
	}
	if resp.Token == "" {
		return "", malformed("login", http.StatusOK, "missing token")
	}
	return resp.Token, nil
}

// Register creates an account and returns its bearer token.
func (c *Client) Register(ctx context.Context, r Registration) (string, error) {
	var resp tokenResponse
	if err := c.do(ctx, "register", http.MethodPost, "/users/register", false, r, &resp); err != nil {
		return "", err
	}
	if resp.Token == "" {
		return "", malformed("register", http.StatusOK, "missing token")
	}
	return resp.Token, nil
}

// Logout tells the server the session ended.
func (c *Client) Logout(ctx context.Context) error {
	return c.do(ctx, "logout", http.MethodPost, "/users/logout", true, nil, nil)
}

// UserDetails returns the signed-in user's profile.
func (c *Client) UserDetails(ctx context.Context) (model.User, error) {
	var u model.User
	if err := c.do(ctx, "user details", http.MethodGet, "/users/user_details", true, nil, &u); err != nil {
		return model.User{}, err
	}
	if u.ID == "" {
		return model.User{}, malformed("user details", http.StatusOK, "missing id")
	}
	return u, nil
}
