package rpc

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	jwt "github.com/golang-jwt/jwt/v5"

	"tgeledger/config"
	"tgeledger/crypto"
)

const clockSkew = 2 * time.Minute

var (
	errAuthNotConfigured = errors.New("RPC authentication secret not configured")
	errMissingBearer     = errors.New("missing bearer token")
	errInvalidToken      = errors.New("invalid token")
)

// authenticator validates HMAC-signed bearer tokens. The token subject is the
// address the call is made from.
type authenticator struct {
	secret   []byte
	issuer   string
	audience string
}

func newAuthenticator(cfg config.RPCConfig) *authenticator {
	return &authenticator{
		secret:   []byte(strings.TrimSpace(cfg.JWTSecret)),
		issuer:   strings.TrimSpace(cfg.JWTIssuer),
		audience: strings.TrimSpace(cfg.JWTAudience),
	}
}

func (a *authenticator) authenticate(r *http.Request) (common.Address, error) {
	if len(a.secret) == 0 {
		return common.Address{}, errAuthNotConfigured
	}
	tokenString := extractBearer(r.Header.Get("Authorization"))
	if tokenString == "" {
		return common.Address{}, errMissingBearer
	}
	opts := []jwt.ParserOption{
		jwt.WithLeeway(clockSkew),
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg(), jwt.SigningMethodHS384.Alg(), jwt.SigningMethodHS512.Alg()}),
		jwt.WithExpirationRequired(),
	}
	if a.issuer != "" {
		opts = append(opts, jwt.WithIssuer(a.issuer))
	}
	if a.audience != "" {
		opts = append(opts, jwt.WithAudience(a.audience))
	}
	claims := &jwt.RegisteredClaims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.New("unexpected signing method")
		}
		return a.secret, nil
	}, opts...)
	if err != nil || !token.Valid {
		return common.Address{}, errInvalidToken
	}
	addr, err := crypto.ParseAddress(claims.Subject)
	if err != nil {
		return common.Address{}, fmt.Errorf("invalid token subject: %w", err)
	}
	return addr, nil
}

// IssueToken signs a token for caller. It is used by operators and tests to
// mint credentials for a configured secret.
func IssueToken(cfg config.RPCConfig, caller common.Address, ttl time.Duration) (string, error) {
	secret := strings.TrimSpace(cfg.JWTSecret)
	if secret == "" {
		return "", errAuthNotConfigured
	}
	if ttl <= 0 {
		ttl = time.Hour
	}
	now := time.Now()
	claims := jwt.RegisteredClaims{
		Subject:   caller.Hex(),
		Issuer:    strings.TrimSpace(cfg.JWTIssuer),
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
	}
	if aud := strings.TrimSpace(cfg.JWTAudience); aud != "" {
		claims.Audience = jwt.ClaimStrings{aud}
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
}

func extractBearer(header string) string {
	header = strings.TrimSpace(header)
	if len(header) < 7 || !strings.EqualFold(header[:7], "bearer ") {
		return ""
	}
	return strings.TrimSpace(header[7:])
}
