package httpapi

import (
	"errors"
	"strings"
	"time"

	jwtlib "github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/bcrypt"

	"rentory/internal/domain"
)

// TokenVerifier checks HS256 bearer tokens minted by the auth service. The
// subject becomes the acting username.
type TokenVerifier struct {
	secret []byte
	issuer string
}

type rentoryClaims struct {
	jwtlib.RegisteredClaims
	Role string `json:"role"`
}

func NewTokenVerifier(secret string, issuer string) *TokenVerifier {
	return &TokenVerifier{secret: []byte(secret), issuer: strings.TrimSpace(issuer)}
}

func (v *TokenVerifier) ParseToken(tokenStr string) (domain.Actor, error) {
	opts := []jwtlib.ParserOption{jwtlib.WithValidMethods([]string{"HS256"})}
	if v.issuer != "" {
		opts = append(opts, jwtlib.WithIssuer(v.issuer))
	}
	claims := &rentoryClaims{}
	token, err := jwtlib.ParseWithClaims(tokenStr, claims, func(t *jwtlib.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwtlib.SigningMethodHMAC); !ok {
			return nil, errors.New("unexpected signing method")
		}
		return v.secret, nil
	}, opts...)
	if err != nil || !token.Valid {
		return domain.Actor{}, errors.New("invalid or expired token")
	}
	sub, err := claims.GetSubject()
	if err != nil || sub == "" {
		return domain.Actor{}, errors.New("invalid token subject")
	}
	return domain.Actor{Username: sub, Role: claims.Role}, nil
}

// Sign mints a token the verifier accepts. Used by tests and local tooling.
func (v *TokenVerifier) Sign(username, role string, ttl time.Duration) (string, error) {
	now := time.Now().UTC()
	claims := rentoryClaims{
		RegisteredClaims: jwtlib.RegisteredClaims{
			Subject:   username,
			Issuer:    v.issuer,
			IssuedAt:  jwtlib.NewNumericDate(now),
			ExpiresAt: jwtlib.NewNumericDate(now.Add(ttl)),
		},
		Role: role,
	}
	return jwtlib.NewWithClaims(jwtlib.SigningMethodHS256, claims).SignedString(v.secret)
}

// ManagerPIN holds the bcrypt hash of the PIN that authorizes stock
// adjustments and cancellations.
type ManagerPIN struct {
	hash []byte
}

// NewManagerPIN accepts either a plain PIN or an existing bcrypt hash. An
// empty PIN yields a verifier that rejects everything.
func NewManagerPIN(pin string) (*ManagerPIN, error) {
	pin = strings.TrimSpace(pin)
	if pin == "" {
		return &ManagerPIN{}, nil
	}
	if isPasswordHash(pin) {
		return &ManagerPIN{hash: []byte(pin)}, nil
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(pin), bcrypt.DefaultCost)
	if err != nil {
		return nil, err
	}
	return &ManagerPIN{hash: hash}, nil
}

func (p *ManagerPIN) Validate(pin string) bool {
	input := strings.TrimSpace(pin)
	if p == nil || len(p.hash) == 0 || input == "" {
		return false
	}
	return bcrypt.CompareHashAndPassword(p.hash, []byte(input)) == nil
}

func isPasswordHash(value string) bool {
	return strings.HasPrefix(value, "$2a$") || strings.HasPrefix(value, "$2b$") || strings.HasPrefix(value, "$2y$")
}
