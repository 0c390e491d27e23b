package auth

import (
	"github.com/gofiber/fiber/v2"

	"github.com/orbis-track/borrow-service/internal/domain"
	apperrors "github.com/orbis-track/borrow-service/pkg/util/errorutil"
)

// RequireRole ensures the caller holds one of the allowed directory roles.
// With no roles given any authenticated caller passes.
func RequireRole(allowed ...domain.UserRole) fiber.Handler {
	allowedSet := make(map[domain.UserRole]struct{}, len(allowed))
	for _, role := range allowed {
		allowedSet[role] = struct{}{}
	}

	return func(c *fiber.Ctx) error {
		principal, ok := PrincipalFromContext(c)
		if !ok {
			return apperrors.NewUnauthorized("authentication required")
		}
		if len(allowedSet) == 0 {
			return c.Next()
		}
		if _, exists := allowedSet[principal.User.Role]; !exists {
			return apperrors.NewForbidden("insufficient role")
		}
		return c.Next()
	}
}
