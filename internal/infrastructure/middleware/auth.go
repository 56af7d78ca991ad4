package middleware

import (
	"errors"
	"net/http"
	"strings"

	"github.com/Patryk-Bura/discord-clone/internal/core/domain"
	apperrors "github.com/Patryk-Bura/discord-clone/pkg/errors"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
)

var (
	ErrInvalidToken = errors.New("invalid token")
	ErrExpiredToken = errors.New("token expired")
)

// Claims is the token payload issued by the external auth collaborator.
type Claims struct {
	UserID   domain.UserID `json:"user_id"`
	Username string        `json:"username"`
	jwt.RegisteredClaims
}

// TokenValidator validates HMAC-signed bearer tokens.
type TokenValidator struct {
	secret []byte
}

func NewTokenValidator(secret string) *TokenValidator {
	return &TokenValidator{secret: []byte(secret)}
}

func (v *TokenValidator) Validate(tokenString string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, ErrInvalidToken
		}
		return v.secret, nil
	})
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrExpiredToken
		}
		return nil, ErrInvalidToken
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid || claims.UserID == "" {
		return nil, ErrInvalidToken
	}
	return claims, nil
}

// ContextUserKey is where the authenticated identity lands in gin's context.
const (
	ContextUserKey     = "user_id"
	ContextUsernameKey = "username"
)

// RequireAuth rejects requests without a valid token. The token is read from
// the Authorization header or, for websocket upgrades where clients cannot
// set headers, from the access_token query parameter.
func RequireAuth(validator *TokenValidator) gin.HandlerFunc {
	return func(c *gin.Context) {
		tokenString := bearerToken(c)
		if tokenString == "" {
			abortWithError(c, apperrors.NewUnauthorized("authorization required"))
			return
		}

		claims, err := validator.Validate(tokenString)
		if err != nil {
			abortWithError(c, apperrors.Wrap(err, apperrors.ErrCodeUnauthorized, err.Error(), http.StatusUnauthorized))
			return
		}

		c.Set(ContextUserKey, claims.UserID)
		c.Set(ContextUsernameKey, claims.Username)
		c.Next()
	}
}

func abortWithError(c *gin.Context, appErr *apperrors.AppError) {
	c.JSON(appErr.HTTPStatus, gin.H{"error": appErr.Message, "code": appErr.Code})
	c.Abort()
}

func bearerToken(c *gin.Context) string {
	if header := c.GetHeader("Authorization"); header != "" {
		parts := strings.Split(header, " ")
		if len(parts) == 2 && parts[0] == "Bearer" {
			return parts[1]
		}
		return ""
	}
	return c.Query("access_token")
}

// UserFromContext extracts the authenticated identity set by RequireAuth.
func UserFromContext(c *gin.Context) (domain.UserID, bool) {
	v, ok := c.Get(ContextUserKey)
	if !ok {
		return "", false
	}
	id, ok := v.(domain.UserID)
	return id, ok && id != ""
}

// UsernameFromContext extracts the display name claim, if any.
func UsernameFromContext(c *gin.Context) string {
	v, ok := c.Get(ContextUsernameKey)
	if !ok {
		return ""
	}
	name, _ := v.(string)
	return name
}
