package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/geocoder89/progresshub/internal/apperr"
	"github.com/geocoder89/progresshub/internal/auth"
	"github.com/geocoder89/progresshub/internal/domain/user"
	"github.com/geocoder89/progresshub/internal/observability"
	"github.com/geocoder89/progresshub/internal/service/accounts"
	"github.com/gin-gonic/gin"
)

type Credentials interface {
	Register(ctx context.Context, in accounts.RegisterInput) (user.User, error)
	VerifyCredentials(ctx context.Context, in accounts.CredentialsInput) (user.User, error)
}

type TokenIssuer interface {
	Issue(id auth.Identity) (string, error)
}

type AuthHandler struct {
	accounts Credentials
	tokens   TokenIssuer
	prom     *observability.Prom
}

func NewAuthHandler(accounts Credentials, tokens TokenIssuer, prom *observability.Prom) *AuthHandler {
	return &AuthHandler{
		accounts: accounts,
		tokens:   tokens,
		prom:     prom,
	}
}

type AuthResponse struct {
	Token string    `json:"token"`
	User  user.User `json:"user"`
}

// bcrypt under a saturated hasher dominates these timeouts
const authTimeout = 5 * time.Second

func (h *AuthHandler) Register(ctx *gin.Context) {
	var req accounts.RegisterInput

	if !BindJSON(ctx, &req) {
		return
	}

	cctx, cancel := context.WithTimeout(ctx.Request.Context(), authTimeout)
	defer cancel()

	u, err := h.accounts.Register(cctx, req)
	if err != nil {
		h.prom.ObserveAuth("register", apperr.KindOf(err).String())
		RespondErr(ctx, err)
		return
	}

	h.respondWithToken(ctx, "register", http.StatusCreated, u)
}

func (h *AuthHandler) Login(ctx *gin.Context) {
	var req accounts.CredentialsInput

	if !BindJSON(ctx, &req) {
		return
	}

	cctx, cancel := context.WithTimeout(ctx.Request.Context(), authTimeout)
	defer cancel()

	u, err := h.accounts.VerifyCredentials(cctx, req)
	if err != nil {
		h.prom.ObserveAuth("login", apperr.KindOf(err).String())
		RespondErr(ctx, err)
		return
	}

	h.respondWithToken(ctx, "login", http.StatusOK, u)
}

func (h *AuthHandler) respondWithToken(ctx *gin.Context, op string, status int, u user.User) {
	token, err := h.tokens.Issue(auth.Identity{ID: u.ID, Email: u.Email, Role: u.Role})
	if err != nil {
		h.prom.ObserveAuth(op, apperr.KindInternal.String())
		RespondErr(ctx, apperr.Internal("Could not generate access token", err))
		return
	}

	h.prom.ObserveAuth(op, "ok")

	ctx.JSON(status, AuthResponse{Token: token, User: u})
}
