package middleware

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/iliyamo/campus-shuttle/internal/access"
	"github.com/iliyamo/campus-shuttle/internal/domain"
	"github.com/iliyamo/campus-shuttle/internal/model"
)

// ProfileSource resolves user ids to actors.
type ProfileSource interface {
	Actor(ctx context.Context, userID string) (domain.Actor, model.Profile, error)
}

// ResolveActor loads the profile of the authenticated user and stores the
// actor under "actor" and the profile under "profile". The actor is also
// attached to the request context for the store's access rules. It must
// run after JWTAuth.
func ResolveActor(src ProfileSource) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			ctx, cancel := context.WithTimeout(c.Request().Context(), 5*time.Second)
			actor, prof, err := src.Actor(ctx, UserID(c))
			cancel()
			if err != nil {
				if errors.Is(err, domain.ErrUnauthenticated) {
					return c.JSON(http.StatusUnauthorized, echo.Map{"error": "no profile for this account"})
				}
				return c.JSON(http.StatusServiceUnavailable, echo.Map{"error": "profile lookup failed", "retryable": true})
			}
			c.Set("actor", actor)
			c.Set("profile", prof)
			c.Set("role", string(actor.Role))
			c.SetRequest(c.Request().WithContext(access.WithActor(c.Request().Context(), actor)))
			return next(c)
		}
	}
}

// UserID returns the authenticated user id, or "" for anonymous requests.
func UserID(c echo.Context) string {
	id, _ := c.Get("user_id").(string)
	return id
}

// ActorFrom returns the actor stored by ResolveActor.
func ActorFrom(c echo.Context) domain.Actor {
	a, _ := c.Get("actor").(domain.Actor)
	return a
}

// ProfileFrom returns the profile stored by ResolveActor.
func ProfileFrom(c echo.Context) model.Profile {
	p, _ := c.Get("profile").(model.Profile)
	return p
}
