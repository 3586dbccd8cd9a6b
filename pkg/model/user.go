package model

import "time"

// UserID is the backend's identifier of a user.
type UserID int

// User is the profile returned by GET /users/me/.
type User struct {
	ID        UserID    `json:"id"`
	Email     string    `json:"email"`
	IsActive  bool      `json:"is_active"`
	CreatedAt time.Time `json:"created_at"`
}

// Token is the response of POST /token.
type Token struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
}

// Credentials is an email/password pair used for login and registration.
type Credentials struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}
