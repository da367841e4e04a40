package mediaserver

import (
	"context"
	"errors"
)

// User account types.
const (
	UserTypeAdmin    = "ADMIN"
	UserTypeReadOnly = "READ_ONLY"
	UserTypeUser     = "USER"
)

// User is a console account on the media server.
type User struct {
	Email    string `json:"email,omitempty"`
	Password string `json:"password,omitempty"`
	FullName string `json:"fullName,omitempty"`
	UserType string `json:"userType,omitempty"`
	Scope    string `json:"scope,omitempty"`
}

// Authenticate exchanges credentials for a server session. Any non-2xx
// answer becomes AuthenticationError without further body inspection; a
// 2xx answer still carries Success=false when the password is wrong, so
// callers must check both.
func (c *Client) Authenticate(ctx context.Context, email, password string) (*Result, error) {
	user := User{Email: email, Password: password}
	var res Result
	err := c.postJSON(ctx, c.serverPath("/rest/v2/users/authenticate", nil), &user, &res)
	if err != nil {
		var herr *HTTPError
		if errors.As(err, &herr) {
			return nil, &AuthenticationError{StatusCode: herr.StatusCode}
		}
		return nil, err
	}
	return &res, nil
}

// CreateFirstUser registers the initial admin account on a fresh server.
// The server refuses it once any account exists.
func (c *Client) CreateFirstUser(ctx context.Context, user User) (*Result, error) {
	var res Result
	if err := c.postJSON(ctx, c.serverPath("/rest/v2/users/initial", nil), &user, &res); err != nil {
		return nil, err
	}
	return &res, nil
}
