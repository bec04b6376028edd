package auth

import "github.com/labstack/echo/v4"

const RoleAdmin = "admin"

const claimsContextKey = "requester_claims"

// Claims identifies the authenticated requester for the duration of a request.
type Claims struct {
	UserID uint64
	Role   string
}

func (c *Claims) Admin() bool {
	return c != nil && c.Role == RoleAdmin
}

func SetClaims(ctx echo.Context, claims *Claims) {
	ctx.Set(claimsContextKey, claims)
}

// ClaimsFromContext returns nil when the request was not authenticated.
func ClaimsFromContext(ctx echo.Context) *Claims {
	claims, _ := ctx.Get(claimsContextKey).(*Claims)
	return claims
}
