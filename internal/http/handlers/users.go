package handlers

import (
	"context"
	"net/http"

	"github.com/geocoder89/progresshub/internal/cache"
	"github.com/geocoder89/progresshub/internal/domain/user"
	"github.com/geocoder89/progresshub/internal/http/middlewares"
	"github.com/gin-gonic/gin"
)

type UserDirectory interface {
	GetByID(ctx context.Context, id string) (user.User, error)
	List(ctx context.Context) ([]user.User, error)
}

type UsersHandler struct {
	users    UserDirectory
	profiles *cache.Cache[user.User]
}

// NewUsersHandler serves profiles through profiles when it is non-nil. Users
// are never mutated here, so a short TTL is the only invalidation needed.
func NewUsersHandler(users UserDirectory, profiles *cache.Cache[user.User]) *UsersHandler {
	return &UsersHandler{users: users, profiles: profiles}
}

func (h *UsersHandler) Me(ctx *gin.Context) {
	id, ok := middlewares.UserIDFromContext(ctx)
	if !ok {
		RespondError(ctx, http.StatusUnauthorized, "unauthorized", "Missing identity context", nil)
		return
	}

	if h.profiles != nil {
		if u, hit := h.profiles.Get(id); hit {
			ctx.JSON(http.StatusOK, u)
			return
		}
	}

	u, err := h.users.GetByID(ctx.Request.Context(), id)
	if err != nil {
		RespondErr(ctx, err)
		return
	}

	if h.profiles != nil {
		h.profiles.Set(id, u)
	}

	ctx.JSON(http.StatusOK, u)
}

func (h *UsersHandler) List(ctx *gin.Context) {
	users, err := h.users.List(ctx.Request.Context())
	if err != nil {
		RespondErr(ctx, err)
		return
	}

	ctx.JSON(http.StatusOK, users)
}
