package auth

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

const (
	tokenIssuer   = "picprompter"
	tokenAudience = "picprompter-clients"
)

var (
	ErrTokenMalformed = errors.New("auth: malformed token")
	ErrTokenSignature = errors.New("auth: invalid token signature")
	ErrTokenExpired   = errors.New("auth: token expired")
)

// Claims is the payload of a session token.
type Claims struct {
	ID       string `json:"jti"`
	Sub      string `json:"sub"`
	Email    string `json:"email"`
	IssuedAt int64  `json:"iat"`
	Exp      int64  `json:"exp"`
	Issuer   string `json:"iss"`
	Audience string `json:"aud"`
}

// ExpiresAt converts Exp to a time.
func (c Claims) ExpiresAt() time.Time {
	return time.Unix(c.Exp, 0)
}

// Signer issues and checks HS256 session tokens.
type Signer struct {
	secret []byte
	ttl    time.Duration
	now    func() time.Time
}

// NewSigner builds a signer; ttl defaults to 24h.
func NewSigner(secret string, ttl time.Duration) (*Signer, error) {
	if strings.TrimSpace(secret) == "" {
		return nil, errors.New("auth: signing secret is required")
	}
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &Signer{secret: []byte(secret), ttl: ttl, now: time.Now}, nil
}

// Sign issues a fresh token for the user.
func (s *Signer) Sign(userID, email string) (string, Claims, error) {
	now := s.now()
	claims := Claims{
		ID:       uuid.NewString(),
		Sub:      userID,
		Email:    email,
		IssuedAt: now.Unix(),
		Exp:      now.Add(s.ttl).Unix(),
		Issuer:   tokenIssuer,
		Audience: tokenAudience,
	}
	header, _ := json.Marshal(map[string]string{"alg": "HS256", "typ": "JWT"})
	payload, err := json.Marshal(claims)
	if err != nil {
		return "", Claims{}, fmt.Errorf("auth: encode claims: %w", err)
	}
	data := base64.RawURLEncoding.EncodeToString(header) + "." + base64.RawURLEncoding.EncodeToString(payload)
	return data + "." + s.mac(data), claims, nil
}

// Verify checks signature, issuer, audience and expiry.
func (s *Signer) Verify(token string) (*Claims, error) {
	parts := strings.Split(strings.TrimSpace(token), ".")
	if len(parts) != 3 {
		return nil, ErrTokenMalformed
	}
	expected := s.mac(parts[0] + "." + parts[1])
	if !hmac.Equal([]byte(expected), []byte(parts[2])) {
		return nil, ErrTokenSignature
	}
	payload, err := base64.RawURLEncoding.DecodeString(parts[1])
	if err != nil {
		return nil, ErrTokenMalformed
	}
	var claims Claims
	if err := json.Unmarshal(payload, &claims); err != nil {
		return nil, ErrTokenMalformed
	}
	if claims.Issuer != tokenIssuer || claims.Audience != tokenAudience || claims.Sub == "" || claims.ID == "" {
		return nil, ErrTokenMalformed
	}
	if claims.Exp != 0 && s.now().Unix() > claims.Exp {
		return nil, ErrTokenExpired
	}
	return &claims, nil
}

func (s *Signer) mac(data string) string {
	mac := hmac.New(sha256.New, s.secret)
	mac.Write([]byte(data))
	return base64.RawURLEncoding.EncodeToString(mac.Sum(nil))
}
