// Package roomauth issues media-server access tokens and requests agent
// dispatches on behalf of the token endpoint.
package roomauth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// VideoGrant is the room permission set carried in the "video" claim.
type VideoGrant struct {
	RoomJoin       bool   `json:"roomJoin,omitempty"`
	RoomAdmin      bool   `json:"roomAdmin,omitempty"`
	Room           string `json:"room,omitempty"`
	CanPublish     *bool  `json:"canPublish,omitempty"`
	CanSubscribe   *bool  `json:"canSubscribe,omitempty"`
	CanPublishData *bool  `json:"canPublishData,omitempty"`
}

// Claims is the access-token payload.
type Claims struct {
	jwt.RegisteredClaims
	Name  string      `json:"name,omitempty"`
	Video *VideoGrant `json:"video,omitempty"`
}

// Issuer signs HS256 tokens with an API key/secret pair.
type Issuer struct {
	APIKey    string
	APISecret string
	TTL       time.Duration

	now func() time.Time
}

// NewIssuer creates an issuer. A non-positive ttl defaults to six hours.
func NewIssuer(apiKey, apiSecret string, ttl time.Duration) *Issuer {
	if ttl <= 0 {
		ttl = 6 * time.Hour
	}
	return &Issuer{APIKey: apiKey, APISecret: apiSecret, TTL: ttl, now: time.Now}
}

// JoinToken grants identity permission to join room.
func (i *Issuer) JoinToken(identity, room string) (string, error) {
	if identity == "" {
		return "", errors.New("join token: identity required")
	}
	if room == "" {
		return "", errors.New("join token: room required")
	}
	yes := true
	return i.sign(identity, &VideoGrant{
		RoomJoin:       true,
		Room:           room,
		CanPublish:     &yes,
		CanSubscribe:   &yes,
		CanPublishData: &yes,
	})
}

// AdminToken grants room administration, used for server-to-server calls.
func (i *Issuer) AdminToken(room string) (string, error) {
	return i.sign("", &VideoGrant{RoomAdmin: true, Room: room})
}

func (i *Issuer) sign(identity string, grant *VideoGrant) (string, error) {
	now := i.now()
	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    i.APIKey,
			Subject:   identity,
			NotBefore: jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(i.TTL)),
		},
		Name:  identity,
		Video: grant,
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(i.APISecret))
	if err != nil {
		return "", fmt.Errorf("sign token: %w", err)
	}
	return signed, nil
}

// Verify parses and validates a token signed by this issuer.
func (i *Issuer) Verify(token string) (*Claims, error) {
	var claims Claims
	_, err := jwt.ParseWithClaims(token, &claims, func(*jwt.Token) (any, error) {
		return []byte(i.APISecret), nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithIssuer(i.APIKey), jwt.WithTimeFunc(i.now))
	if err != nil {
		return nil, fmt.Errorf("verify token: %w", err)
	}
	return &claims, nil
}
