package auth

import (
	"context"
	"crypto"
	"crypto/rsa"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"net/http"
	"strings"
	"sync"
	"time"
)

// DefaultGoogleIssuer is the OpenID issuer for Google accounts.
const DefaultGoogleIssuer = "https://accounts.google.com"

// GoogleProfile is the identity carried by a verified Google ID token.
type GoogleProfile struct {
	Subject string
	Email   string
	Name    string
	Picture string
}

// GoogleTokenVerifier checks Google ID tokens.
type GoogleTokenVerifier interface {
	VerifyIDToken(ctx context.Context, token string) (GoogleProfile, error)
}

type jwks struct {
	Keys []jwk `json:"keys"`
}

type jwk struct {
	Kid string `json:"kid"`
	Kty string `json:"kty"`
	Alg string `json:"alg"`
	N   string `json:"n"`
	E   string `json:"e"`
}

// GoogleVerifier validates RS256 ID tokens against the issuer's published
// key set, refreshing keys hourly or on an unknown kid.
type GoogleVerifier struct {
	issuer     string
	clientID   string
	httpClient *http.Client
	now        func() time.Time

	mu      sync.RWMutex
	cache   map[string]*rsa.PublicKey
	fetched time.Time
}

// NewGoogleVerifier builds a verifier for tokens minted for clientID.
func NewGoogleVerifier(issuer, clientID string, httpClient *http.Client) *GoogleVerifier {
	if issuer == "" {
		issuer = DefaultGoogleIssuer
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 10 * time.Second}
	}
	return &GoogleVerifier{
		issuer:     strings.TrimRight(issuer, "/"),
		clientID:   clientID,
		httpClient: httpClient,
		now:        time.Now,
		cache:      make(map[string]*rsa.PublicKey),
	}
}

func (v *GoogleVerifier) VerifyIDToken(ctx context.Context, token string) (GoogleProfile, error) {
	header, payload, signature, signingInput, err := parseJWT(token)
	if err != nil {
		return GoogleProfile{}, err
	}
	if alg, _ := header["alg"].(string); alg != "RS256" {
		return GoogleProfile{}, fmt.Errorf("auth: unsupported alg %q", alg)
	}
	if err := v.ensureKeys(ctx); err != nil {
		return GoogleProfile{}, err
	}
	kid, _ := header["kid"].(string)
	key, ok := v.keyFor(kid)
	if !ok {
		if err := v.refresh(ctx); err != nil {
			return GoogleProfile{}, err
		}
		key, ok = v.keyFor(kid)
		if !ok {
			return GoogleProfile{}, errors.New("auth: unknown kid")
		}
	}
	hashed := sha256.Sum256([]byte(signingInput))
	if err := rsa.VerifyPKCS1v15(key, crypto.SHA256, hashed[:], signature); err != nil {
		return GoogleProfile{}, ErrTokenSignature
	}
	if iss, _ := payload["iss"].(string); strings.TrimPrefix(iss, "https://") != strings.TrimPrefix(v.issuer, "https://") {
		return GoogleProfile{}, errors.New("auth: invalid issuer")
	}
	if aud, _ := payload["aud"].(string); aud != v.clientID {
		return GoogleProfile{}, errors.New("auth: invalid audience")
	}
	if exp, ok := payload["exp"].(float64); ok && v.now().Unix() > int64(exp) {
		return GoogleProfile{}, ErrTokenExpired
	}
	profile := GoogleProfile{}
	profile.Subject, _ = payload["sub"].(string)
	profile.Email, _ = payload["email"].(string)
	profile.Name, _ = payload["name"].(string)
	profile.Picture, _ = payload["picture"].(string)
	if profile.Subject == "" || profile.Email == "" {
		return GoogleProfile{}, errors.New("auth: id token lacks subject or email")
	}
	return profile, nil
}

func (v *GoogleVerifier) ensureKeys(ctx context.Context) error {
	v.mu.RLock()
	fresh := v.now().Sub(v.fetched) < time.Hour && len(v.cache) > 0
	v.mu.RUnlock()
	if fresh {
		return nil
	}
	return v.refresh(ctx)
}

func (v *GoogleVerifier) refresh(ctx context.Context) error {
	var cfg struct {
		JWKSURI string `json:"jwks_uri"`
	}
	if err := v.getJSON(ctx, v.issuer+"/.well-known/openid-configuration", &cfg); err != nil {
		return fmt.Errorf("auth: openid configuration: %w", err)
	}
	var set jwks
	if err := v.getJSON(ctx, cfg.JWKSURI, &set); err != nil {
		return fmt.Errorf("auth: fetch jwks: %w", err)
	}
	keys := make(map[string]*rsa.PublicKey)
	for _, key := range set.Keys {
		if key.Kty != "RSA" {
			continue
		}
		pub, err := rsaKeyFromJWK(key)
		if err != nil {
			continue
		}
		keys[key.Kid] = pub
	}
	if len(keys) == 0 {
		return errors.New("auth: no signing keys fetched")
	}
	v.mu.Lock()
	v.cache = keys
	v.fetched = v.now()
	v.mu.Unlock()
	return nil
}

func (v *GoogleVerifier) getJSON(ctx context.Context, url string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}
	resp, err := v.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("status %d", resp.StatusCode)
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

func (v *GoogleVerifier) keyFor(kid string) (*rsa.PublicKey, bool) {
	v.mu.RLock()
	defer v.mu.RUnlock()
	pk, ok := v.cache[kid]
	return pk, ok
}

func rsaKeyFromJWK(j jwk) (*rsa.PublicKey, error) {
	nBytes, err := base64.RawURLEncoding.DecodeString(j.N)
	if err != nil {
		return nil, err
	}
	eBytes, err := base64.RawURLEncoding.DecodeString(j.E)
	if err != nil {
		return nil, err
	}
	e := 0
	for _, b := range eBytes {
		e = e<<8 + int(b)
	}
	if e == 0 {
		return nil, errors.New("invalid exponent")
	}
	return &rsa.PublicKey{N: new(big.Int).SetBytes(nBytes), E: e}, nil
}

func parseJWT(token string) (map[string]any, map[string]any, []byte, string, error) {
	parts := strings.Split(strings.TrimSpace(token), ".")
	if len(parts) != 3 {
		return nil, nil, nil, "", ErrTokenMalformed
	}
	headerJSON, err := base64.RawURLEncoding.DecodeString(parts[0])
	if err != nil {
		return nil, nil, nil, "", ErrTokenMalformed
	}
	payloadJSON, err := base64.RawURLEncoding.DecodeString(parts[1])
	if err != nil {
		return nil, nil, nil, "", ErrTokenMalformed
	}
	signature, err := base64.RawURLEncoding.DecodeString(parts[2])
	if err != nil {
		return nil, nil, nil, "", ErrTokenMalformed
	}
	var header map[string]any
	if err := json.Unmarshal(headerJSON, &header); err != nil {
		return nil, nil, nil, "", ErrTokenMalformed
	}
	var payload map[string]any
	if err := json.Unmarshal(payloadJSON, &payload); err != nil {
		return nil, nil, nil, "", ErrTokenMalformed
	}
	return header, payload, signature, parts[0] + "." + parts[1], nil
}

var _ GoogleTokenVerifier = (*GoogleVerifier)(nil)
