// internal/auth/session.go
package auth

import (
	"crypto/ed25519"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/jason-s-yu/salvo/internal/models"
)

// ErrInvalidToken covers every way a token can fail verification.
var ErrInvalidToken = errors.New("invalid token")

// Provider signs and verifies identity tokens with an ed25519 key pair.
type Provider struct {
	privateKey ed25519.PrivateKey
	publicKey  ed25519.PublicKey
	// ttl of issued tokens; zero issues tokens without an exp claim.
	ttl time.Duration
	now func() time.Time
}

// New generates a fresh key pair at runtime. Tokens do not survive a restart.
func New(ttl time.Duration) (*Provider, error) {
	pub, priv, err := ed25519.GenerateKey(nil)
	if err != nil {
		return nil, fmt.Errorf("failed to generate ed25519 key pair: %w", err)
	}
	return &Provider{privateKey: priv, publicKey: pub, ttl: ttl, now: time.Now}, nil
}

// NewFromFiles reads raw ed25519 keys from disk.
func NewFromFiles(privatePath, publicPath string, ttl time.Duration) (*Provider, error) {
	privateKeyData, err := os.ReadFile(privatePath)
	if err != nil {
		return nil, fmt.Errorf("failed to read private key file: %w", err)
	}
	publicKeyData, err := os.ReadFile(publicPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read public key file: %w", err)
	}
	if len(privateKeyData) != ed25519.PrivateKeySize {
		return nil, fmt.Errorf("private key is %d bytes, want %d", len(privateKeyData), ed25519.PrivateKeySize)
	}
	if len(publicKeyData) != ed25519.PublicKeySize {
		return nil, fmt.Errorf("public key is %d bytes, want %d", len(publicKeyData), ed25519.PublicKeySize)
	}
	return &Provider{
		privateKey: ed25519.PrivateKey(privateKeyData),
		publicKey:  ed25519.PublicKey(publicKeyData),
		ttl:        ttl,
		now:        time.Now,
	}, nil
}

// Issue creates a signed token with "sub" = user id and "name" = display name.
func (p *Provider) Issue(id models.Identity) (string, error) {
	if id.IsZero() {
		return "", errors.New("cannot issue a token for an empty identity")
	}
	now := p.now()
	claims := jwt.MapClaims{
		"sub":  id.UserID,
		"name": id.Username,
		"iat":  now.Unix(),
	}
	if p.ttl > 0 {
		claims["exp"] = now.Add(p.ttl).Unix()
	}

	token := jwt.NewWithClaims(jwt.SigningMethodEdDSA, claims)
	return token.SignedString(p.privateKey)
}

// Verify checks the signature and expiry and returns the identity the token
// was issued for. A token without "name" falls back to the user id.
func (p *Provider) Verify(tokenString string) (models.Identity, error) {
	t, err := jwt.Parse(tokenString, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodEd25519); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return p.publicKey, nil
	}, jwt.WithTimeFunc(p.now))
	if err != nil {
		return models.Identity{}, fmt.Errorf("%w: %w", ErrInvalidToken, err)
	}
	if !t.Valid {
		return models.Identity{}, ErrInvalidToken
	}

	claims, ok := t.Claims.(jwt.MapClaims)
	if !ok {
		return models.Identity{}, fmt.Errorf("%w: unexpected claims", ErrInvalidToken)
	}
	userID, ok := claims["sub"].(string)
	if !ok || userID == "" {
		return models.Identity{}, fmt.Errorf("%w: missing sub", ErrInvalidToken)
	}
	name, _ := claims["name"].(string)
	if name == "" {
		name = userID
	}
	return models.Identity{UserID: userID, Username: name}, nil
}
