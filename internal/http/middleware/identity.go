// Package middleware contains shared Gin middleware used by the HTTP layer.
//
// This file authenticates the caller and resolves the set of channels it
// owns. With a signing secret configured, requests must carry an HS256
// bearer token whose "sub" is the user id; an optional "channels" claim
// pins the owned set. Without a secret the X-User-ID header is trusted,
// which is meant for local development and tests only.
package middleware

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"

	"github.com/tbourn/transcript-chat/internal/services"
)

// HeaderUserID carries the caller id in development mode.
const HeaderUserID = "X-User-ID"

const (
	ctxKeyUserID    = "userID"
	ctxKeyPrincipal = "principal"
)

// ChannelLoader returns the ids of the channels userID owns.
type ChannelLoader func(ctx context.Context, userID string) ([]string, error)

// IdentityOptions configures Identity.
type IdentityOptions struct {
	// Secret is the HS256 key. Empty switches to header mode.
	Secret []byte
	// Issuer, when set, must match the token's "iss".
	Issuer string
	// Channels loads the owned set when the token has no "channels" claim,
	// and always in header mode.
	Channels ChannelLoader
}

// Claims is the bearer token payload.
type Claims struct {
	Channels []string `json:"channels,omitempty"`
	jwt.RegisteredClaims
}

var (
	errNoToken   = errors.New("missing bearer token")
	errNoUser    = errors.New("missing user identity")
	errNoSubject = errors.New("token has no subject")
)

// Identity resolves the caller into a services.Principal stored on the
// context. Unauthenticated requests are rejected with 401.
func Identity(opts IdentityOptions) gin.HandlerFunc {
	parser := jwt.NewParser(validOpts(opts)...)

	return func(c *gin.Context) {
		var (
			userID   string
			channels []string
			pinned   bool
		)
		if len(opts.Secret) > 0 {
			claims, err := parseBearer(parser, c.GetHeader("Authorization"), opts.Secret)
			if err != nil {
				abortJSON(c, http.StatusUnauthorized, "unauthorized", err.Error())
				return
			}
			userID = claims.Subject
			channels, pinned = claims.Channels, claims.Channels != nil
		} else {
			userID = strings.TrimSpace(c.GetHeader(HeaderUserID))
			if userID == "" {
				abortJSON(c, http.StatusUnauthorized, "unauthorized", errNoUser.Error())
				return
			}
		}

		if !pinned && opts.Channels != nil {
			ids, err := opts.Channels(c.Request.Context(), userID)
			if err != nil {
				LoggerFrom(c).Error().Err(err).Str("user_id", userID).Msg("load owned channels")
				abortJSON(c, http.StatusInternalServerError, "internal_error", "could not resolve identity")
				return
			}
			channels = ids
		}

		c.Set(ctxKeyUserID, userID)
		c.Set(ctxKeyPrincipal, services.NewPrincipal(userID, channels))
		c.Next()
	}
}

func validOpts(opts IdentityOptions) []jwt.ParserOption {
	po := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithLeeway(30 * time.Second),
	}
	if opts.Issuer != "" {
		po = append(po, jwt.WithIssuer(opts.Issuer))
	}
	return po
}

func parseBearer(p *jwt.Parser, header string, secret []byte) (*Claims, error) {
	raw, ok := strings.CutPrefix(strings.TrimSpace(header), "Bearer ")
	if !ok || strings.TrimSpace(raw) == "" {
		return nil, errNoToken
	}
	claims := &Claims{}
	_, err := p.ParseWithClaims(strings.TrimSpace(raw), claims, func(*jwt.Token) (any, error) {
		return secret, nil
	})
	if err != nil {
		return nil, err
	}
	if claims.Subject == "" {
		return nil, errNoSubject
	}
	return claims, nil
}

// SignToken issues an HS256 token for userID, valid for ttl (no expiry when
// ttl <= 0). A nil channels leaves the owned set to the server-side lookup.
func SignToken(secret []byte, issuer, userID string, channels []string, ttl time.Duration) (string, error) {
	claims := Claims{
		Channels: channels,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject: userID,
			Issuer:  issuer,
		},
	}
	if ttl > 0 {
		claims.ExpiresAt = jwt.NewNumericDate(time.Now().Add(ttl))
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(secret)
}

// UserID returns the authenticated user id, or "" before Identity ran.
func UserID(c *gin.Context) string {
	if v, ok := c.Get(ctxKeyUserID); ok {
		if s, ok := v.(string); ok {
			return s
		}
	}
	return ""
}

// PrincipalFrom returns the principal resolved by Identity.
func PrincipalFrom(c *gin.Context) (services.Principal, bool) {
	v, ok := c.Get(ctxKeyPrincipal)
	if !ok {
		return services.Principal{}, false
	}
	p, ok := v.(services.Principal)
	return p, ok
}

// abortJSON writes the shared error envelope and stops the chain.
func abortJSON(c *gin.Context, status int, code, msg string) {
	c.Set(ErrorCodeKey, code)
	c.AbortWithStatusJSON(status, gin.H{
		"request_id": c.Writer.Header().Get(requestIDHeader),
		"code":       code,
		"message":    msg,
	})
}
