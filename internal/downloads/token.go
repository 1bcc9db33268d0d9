// Package downloads issues and redeems signed, time-limited download links
// for digital purchases. Tokens are stateless bearer capabilities: nothing is
// persisted, so a token can be redeemed any number of times until it expires.
package downloads

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// TokenTTL is the lifetime of every download link.
const TokenTTL = 24 * time.Hour

const tokenIssuer = "bookstore/downloads"

// ErrInvalidToken covers bad signatures, malformed tokens and expiry alike.
var ErrInvalidToken = errors.New("invalid or expired download token")

// Claims embedded in a download token.
type Claims struct {
	jwt.RegisteredClaims
	FileID   string `json:"file_id"`
	FileName string `json:"file_name"`
	BookID   string `json:"book_id"`
	OrderRef string `json:"order_ref"`
}

// Grant describes what a token gives access to.
type Grant struct {
	FileID   string
	FileName string
	BookID   string
	OrderRef string
}

// Link is an issued download link.
type Link struct {
	URL        string
	Token      string
	DownloadID string
	ExpiresAt  time.Time
}

// Issuer signs and verifies download tokens with an HMAC secret.
type Issuer struct {
	secret  []byte
	baseURL string
	nowFunc func() time.Time
	newID   func() string
}

// NewIssuer returns an Issuer producing links under baseURL/download/.
func NewIssuer(secret, baseURL string) *Issuer {
	return &Issuer{
		secret:  []byte(secret),
		baseURL: baseURL,
		nowFunc: time.Now,
		newID:   uuid.NewString,
	}
}

// Issue signs a token for g and returns the absolute redemption URL.
func (i *Issuer) Issue(g Grant) (*Link, error) {
	if len(i.secret) == 0 {
		return nil, errors.New("download token secret not configured")
	}
	now := i.nowFunc().UTC()
	exp := now.Add(TokenTTL)
	id := i.newID()

	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        id,
			Issuer:    tokenIssuer,
			Subject:   g.OrderRef,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(exp),
		},
		FileID:   g.FileID,
		FileName: g.FileName,
		BookID:   g.BookID,
		OrderRef: g.OrderRef,
	}

	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(i.secret)
	if err != nil {
		return nil, fmt.Errorf("sign download token: %w", err)
	}

	return &Link{
		URL:        i.baseURL + "/download/" + token,
		Token:      token,
		DownloadID: id,
		ExpiresAt:  claims.ExpiresAt.Time,
	}, nil
}

// Verify checks signature, issuer and expiry and returns the claims.
func (i *Issuer) Verify(token string) (*Claims, error) {
	claims := &Claims{}
	parsed, err := jwt.ParseWithClaims(token, claims,
		func(t *jwt.Token) (any, error) { return i.secret, nil },
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(tokenIssuer),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(i.nowFunc),
	)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if !parsed.Valid || claims.BookID == "" {
		return nil, ErrInvalidToken
	}
	return claims, nil
}
