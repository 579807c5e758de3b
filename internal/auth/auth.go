// Package auth authenticates the actors behind REST calls. Actors arrive as
// HS256 signed JWTs minted by the identity provider (or the token command in
// development); this service never stores credentials.
package auth

import (
	"errors"

	"github.com/golang-jwt/jwt/v5"

	"github.com/frahmantamala/cashback-settlement/internal"
)

// TokenGenerator mints and validates actor tokens.
type TokenGenerator interface {
	GenerateAccessToken(actor internal.Actor) (*AccessToken, error)
	ValidateToken(tokenString string) (*Claims, error)
}

type AccessToken struct {
	Token     string `json:"access_token"`
	TokenType string `json:"token_type"`
	ExpiresIn int64  `json:"expires_in"`
}

// Claims carries the actor identity. Subject is the actor id.
type Claims struct {
	Role       internal.ActorType `json:"role"`
	BusinessID string             `json:"business_id,omitempty"`
	jwt.RegisteredClaims
}

var errUnknownRole = errors.New("unknown actor role")

// Actor converts validated claims into the principal used by services.
func (c *Claims) Actor() (internal.Actor, error) {
	actor := internal.Actor{Type: c.Role, ID: c.Subject, BusinessID: c.BusinessID}
	if err := checkActor(actor); err != nil {
		return internal.Actor{}, err
	}
	return actor, nil
}

// checkActor accepts only human actors; the system actor is never issued a token.
func checkActor(actor internal.Actor) error {
	if actor.ID == "" {
		return errors.New("actor id is required")
	}
	switch actor.Type {
	case internal.ActorAdminUser:
		return nil
	case internal.ActorBusinessUser:
		if actor.BusinessID == "" {
			return errors.New("business users must belong to a business")
		}
		return nil
	}
	return errUnknownRole
}
