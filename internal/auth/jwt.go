// Package auth verifies the platform's JWTs and exposes the fiber
// middleware that places the caller id in the request locals.
package auth

import (
	"crypto/rsa"
	"errors"
	"os"
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/golang-jwt/jwt/v5"
)

// Verifier checks tokens signed with RS256 (public key PEM) or HS256
// (shared secret), depending on which was configured.
type Verifier struct {
	pub    *rsa.PublicKey
	secret []byte
}

func NewVerifier(publicKeyPath, hmacSecret string) (*Verifier, error) {
	v := &Verifier{}
	if publicKeyPath != "" {
		b, err := os.ReadFile(publicKeyPath)
		if err != nil {
			return nil, err
		}
		pub, err := jwt.ParseRSAPublicKeyFromPEM(b)
		if err != nil {
			return nil, err
		}
		v.pub = pub
	}
	if hmacSecret != "" {
		v.secret = []byte(hmacSecret)
	}
	if v.pub == nil && v.secret == nil {
		return nil, errors.New("auth: neither public key nor secret configured")
	}
	return v, nil
}

// VerifyToken returns the user id claim for a valid token.
func (v *Verifier) VerifyToken(token string) (string, error) {
	t, err := jwt.Parse(token, func(t *jwt.Token) (interface{}, error) {
		switch t.Method.(type) {
		case *jwt.SigningMethodRSA:
			if v.pub == nil {
				return nil, errors.New("rsa tokens not configured")
			}
			return v.pub, nil
		case *jwt.SigningMethodHMAC:
			if v.secret == nil {
				return nil, errors.New("hmac tokens not configured")
			}
			return v.secret, nil
		}
		return nil, errors.New("unexpected signing method")
	})
	if err != nil {
		return "", err
	}
	if !t.Valid {
		return "", errors.New("invalid token")
	}
	claims, ok := t.Claims.(jwt.MapClaims)
	if !ok {
		return "", errors.New("invalid claims")
	}
	for _, k := range []string{"user_id", "user_uuid", "sub"} {
		if id, ok := claims[k].(string); ok && id != "" {
			return id, nil
		}
	}
	return "", errors.New("user id not found in token")
}

// LocalsUserKey is where the middleware stores the caller id.
const LocalsUserKey = "userID"

func bearer(c *fiber.Ctx) string {
	h := c.Get("Authorization")
	if h == "" {
		// websocket clients pass the token as a query parameter
		return c.Query("token")
	}
	return strings.TrimPrefix(h, "Bearer ")
}

// Required rejects requests without a valid token.
func Required(v *Verifier) fiber.Handler {
	return func(c *fiber.Ctx) error {
		token := bearer(c)
		if token == "" {
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"status": "error", "message": "missing authorization"})
		}
		userID, err := v.VerifyToken(token)
		if err != nil {
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"status": "error", "message": "invalid token"})
		}
		c.Locals(LocalsUserKey, userID)
		return c.Next()
	}
}

// Optional sets the caller id when a valid token is present and lets
// anonymous requests through; read paths apply visibility instead of auth.
func Optional(v *Verifier) fiber.Handler {
	return func(c *fiber.Ctx) error {
		if token := bearer(c); token != "" {
			if userID, err := v.VerifyToken(token); err == nil {
				c.Locals(LocalsUserKey, userID)
			}
		}
		return c.Next()
	}
}

// UserID reads the caller id from locals; empty for anonymous callers.
func UserID(c *fiber.Ctx) string {
	if id, ok := c.Locals(LocalsUserKey).(string); ok {
		return id
	}
	return ""
}
