package jwt

import (
	"errors"

	gojwt "github.com/golang-jwt/jwt/v5"
)

var ErrInvalidToken = errors.New("invalid or expired token")

// Payload is what a session token carries. The user id is the subject.
type Payload struct {
	Role string `json:"role"`
	gojwt.RegisteredClaims
}

func (p *Payload) UserID() string {
	return p.Subject
}
