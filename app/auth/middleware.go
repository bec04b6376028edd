package auth

import (
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/golang-jwt/jwt/v5"
	"github.com/labstack/echo/v4"
	"github.com/sirupsen/logrus"

	"github.com/contratai/ms-go-payments/app/factory"
)

// Middleware validates the Bearer token and stores the requester claims on
// the echo context. Tokens are HMAC-signed by the identity service; this
// service only verifies them.
func Middleware(secret string) echo.MiddlewareFunc {
	logger := factory.NewModuleLogger("auth-middleware")

	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(ctx echo.Context) error {
			claims, err := parseBearerToken(ctx.Request().Header.Get(echo.HeaderAuthorization), secret)
			if err != nil {
				logger.WithError(err).WithFields(logrus.Fields{
					"method": ctx.Request().Method,
					"uri":    ctx.Request().RequestURI,
				}).Warn("Rejected unauthenticated request")
				return ctx.JSON(http.StatusUnauthorized, echo.Map{"error": "invalid or missing credentials"})
			}

			SetClaims(ctx, claims)
			return next(ctx)
		}
	}
}

func parseBearerToken(authHeader, secret string) (*Claims, error) {
	authHeader = strings.TrimSpace(authHeader)
	if authHeader == "" {
		return nil, fmt.Errorf("authorization header is missing")
	}

	tokenString := strings.TrimPrefix(authHeader, "Bearer ")
	if tokenString == authHeader {
		return nil, fmt.Errorf("authorization header is not a bearer token")
	}

	token, err := jwt.Parse(tokenString, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return []byte(secret), nil
	})
	if err != nil {
		return nil, err
	}

	mapClaims, ok := token.Claims.(jwt.MapClaims)
	if !ok || !token.Valid {
		return nil, fmt.Errorf("token claims are invalid")
	}

	userID, err := subjectUserID(mapClaims)
	if err != nil {
		return nil, err
	}

	role, _ := mapClaims["role"].(string)
	return &Claims{UserID: userID, Role: role}, nil
}

func subjectUserID(claims jwt.MapClaims) (uint64, error) {
	switch sub := claims["sub"].(type) {
	case string:
		id, err := strconv.ParseUint(strings.TrimSpace(sub), 10, 64)
		if err != nil || id == 0 {
			return 0, fmt.Errorf("subject %q is not a valid user id", sub)
		}
		return id, nil
	case float64:
		if sub <= 0 {
			return 0, fmt.Errorf("subject %v is not a valid user id", sub)
		}
		return uint64(sub), nil
	default:
		return 0, fmt.Errorf("token has no subject")
	}
}
