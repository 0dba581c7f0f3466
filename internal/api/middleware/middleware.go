package middleware

import (
	"net/http"
	"strings"

	"github.com/closeness/sweeper/internal/auth"
	"github.com/labstack/echo/v4"
)

const (
	ContextKeyOperator = "operator"
)

func bearerToken(c echo.Context) (string, error) {
	authHeader := c.Request().Header.Get("Authorization")
	if authHeader == "" {
		return "", echo.NewHTTPError(http.StatusUnauthorized, "missing authorization header")
	}
	parts := strings.SplitN(authHeader, " ", 2)
	if len(parts) != 2 || strings.ToLower(parts[0]) != "bearer" {
		return "", echo.NewHTTPError(http.StatusUnauthorized, "invalid authorization format")
	}
	return parts[1], nil
}

// APIKeyAuth accepts the single operator key whose bcrypt hash is configured.
func APIKeyAuth(keyHash string) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			apiKey, err := bearerToken(c)
			if err != nil {
				return err
			}

			prefix, err := auth.PrefixOf(apiKey)
			if err != nil {
				return echo.NewHTTPError(http.StatusUnauthorized, "invalid api key format")
			}

			if !auth.ValidateAPIKey(apiKey, keyHash) {
				return echo.NewHTTPError(http.StatusUnauthorized, "invalid api key")
			}

			c.Set(ContextKeyOperator, "apikey:"+prefix)
			return next(c)
		}
	}
}

func JWTAuth(secret string) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			tokenStr, err := bearerToken(c)
			if err != nil {
				return err
			}

			claims, err := auth.VerifyJWT(secret, tokenStr)
			if err != nil {
				return echo.NewHTTPError(http.StatusUnauthorized, "invalid token")
			}
			if claims.Operator == "" {
				return echo.NewHTTPError(http.StatusUnauthorized, "token has no operator")
			}

			c.Set(ContextKeyOperator, claims.Operator)
			return next(c)
		}
	}
}
