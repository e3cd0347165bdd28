package jwt

import (
	"fmt"

	gojwt "github.com/golang-jwt/jwt/v5"
)

// Verifies the signature, the algorithm and the expiry.
func Decode(token string, secret string) (*Payload, error) {
	payload := new(Payload)
	parsed, err := gojwt.ParseWithClaims(token, payload, func(t *gojwt.Token) (interface{}, error) {
		return []byte(secret), nil
	},
		gojwt.WithValidMethods([]string{gojwt.SigningMethodHS256.Alg()}),
		gojwt.WithIssuer(issuer),
		gojwt.WithExpirationRequired(),
	)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if !parsed.Valid || payload.Subject == "" {
		return nil, ErrInvalidToken
	}
	return payload, nil
}
