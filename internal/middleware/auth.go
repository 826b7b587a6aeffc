package middleware

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"retro-improver-backend/internal/config"
)

const UserIDKey = "user_id"

var (
	errMissingHeader = errors.New("missing authorization header")
	errBadFormat     = errors.New("invalid authorization header format")
)

// AuthMiddleware rejects requests without a valid bearer token and stores
// the caller's id under UserIDKey.
func AuthMiddleware(cfg *config.Config) gin.HandlerFunc {
	return func(c *gin.Context) {
		userID, err := authenticate(c, cfg.JWTSecret)
		if err != nil {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthenticated", "message": err.Error()})
			c.Abort()
			return
		}

		c.Set(UserIDKey, userID)
		c.Next()
	}
}

// OptionalAuth sets UserIDKey when a valid token is present and lets every
// request through. A present but invalid token is still rejected.
func OptionalAuth(cfg *config.Config) gin.HandlerFunc {
	return func(c *gin.Context) {
		userID, err := authenticate(c, cfg.JWTSecret)
		switch {
		case errors.Is(err, errMissingHeader):
		case err != nil:
			c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthenticated", "message": err.Error()})
			c.Abort()
			return
		default:
			c.Set(UserIDKey, userID)
		}
		c.Next()
	}
}

// UserID returns the authenticated caller, if any.
func UserID(c *gin.Context) (uuid.UUID, bool) {
	v, ok := c.Get(UserIDKey)
	if !ok {
		return uuid.Nil, false
	}
	id, ok := v.(uuid.UUID)
	return id, ok
}

func authenticate(c *gin.Context, secret string) (uuid.UUID, error) {
	authHeader := c.GetHeader("Authorization")
	if authHeader == "" {
		return uuid.Nil, errMissingHeader
	}

	// Extract token from "Bearer <token>"
	parts := strings.Split(authHeader, " ")
	if len(parts) != 2 || parts[0] != "Bearer" {
		return uuid.Nil, errBadFormat
	}

	tokenString := strings.TrimSpace(parts[1])
	if tokenString == "" {
		return uuid.Nil, errors.New("empty token")
	}

	claims := &jwt.RegisteredClaims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, jwt.ErrSignatureInvalid
		}
		if secret == "" {
			return nil, jwt.ErrSignatureInvalid
		}
		return []byte(secret), nil
	}, jwt.WithValidMethods([]string{"HS256"}))

	if err != nil {
		switch {
		case errors.Is(err, jwt.ErrTokenExpired):
			return uuid.Nil, errors.New("token has expired")
		case errors.Is(err, jwt.ErrTokenSignatureInvalid):
			return uuid.Nil, errors.New("token signature is invalid")
		case errors.Is(err, jwt.ErrTokenMalformed):
			return uuid.Nil, errors.New("token is malformed")
		default:
			return uuid.Nil, errors.New("invalid token")
		}
	}
	if !token.Valid {
		return uuid.Nil, errors.New("invalid token")
	}

	// Extract user id from "sub" claim
	userID, err := uuid.Parse(claims.Subject)
	if err != nil {
		return uuid.Nil, errors.New("missing user id in token")
	}
	return userID, nil
}
