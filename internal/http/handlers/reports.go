package handlers

import (
	"context"
	"errors"
	"math"
	"net/http"
	"strconv"
	"time"

	"github.com/geocoder89/progresshub/internal/apperr"
	"github.com/geocoder89/progresshub/internal/domain/report"
	"github.com/geocoder89/progresshub/internal/http/middlewares"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

const (
	defaultPageLimit = 20
	maxPageLimit     = 100
)

type ReportStore interface {
	Create(ctx context.Context, r report.Report) (report.Report, error)
	List(ctx context.Context, f report.ListFilter) ([]report.Report, int, error)
	GetByID(ctx context.Context, id string) (report.Report, error)
	Update(ctx context.Context, id string, req report.UpdateReportRequest) (report.Report, error)
	Delete(ctx context.Context, id string) error
}

type ReportsHandler struct {
	repo ReportStore
}

func NewReportsHandler(repo ReportStore) *ReportsHandler {
	return &ReportsHandler{repo: repo}
}

type ListReportsResponse struct {
	Items []report.Report `json:"items"`
	Total int             `json:"total"`
	Page  int             `json:"page"`
	Limit int             `json:"limit"`
}

func (h *ReportsHandler) Create(ctx *gin.Context) {
	var req report.CreateReportRequest

	if !BindJSON(ctx, &req) {
		return
	}

	id, _ := middlewares.IdentityFromContext(ctx)

	cctx, cancel := context.WithTimeout(ctx.Request.Context(), 3*time.Second)
	defer cancel()

	created, err := h.repo.Create(cctx, report.NewFromCreateRequest(req, id.ID, id.Email))
	if err != nil {
		RespondErr(ctx, apperr.Internal("Could not create report", err))
		return
	}

	ctx.JSON(http.StatusCreated, created)
}

func (h *ReportsHandler) List(ctx *gin.Context) {
	page, ok := queryInt(ctx, "page", 1)
	if !ok || page < 1 {
		RespondBadRequest(ctx, "Invalid query", gin.H{"field": "page", "message": "must be a positive integer"})
		return
	}

	limit, ok := queryInt(ctx, "limit", defaultPageLimit)
	if !ok || limit < 1 {
		RespondBadRequest(ctx, "Invalid query", gin.H{"field": "limit", "message": "must be a positive integer"})
		return
	}
	limit = min(limit, maxPageLimit)

	// keeps the offset inside what both stores accept
	if page-1 > math.MaxInt32/limit {
		RespondBadRequest(ctx, "Invalid query", gin.H{"field": "page", "message": "is out of range"})
		return
	}

	filter := report.ListFilter{Limit: limit, Offset: (page - 1) * limit}

	if raw := ctx.Query("status"); raw != "" {
		status := report.Status(raw)
		if !status.IsValid() {
			RespondBadRequest(ctx, "Invalid query", gin.H{"field": "status", "message": "must be one of draft, published, archived"})
			return
		}
		filter.Status = &status
	}

	cctx, cancel := context.WithTimeout(ctx.Request.Context(), 3*time.Second)
	defer cancel()

	items, total, err := h.repo.List(cctx, filter)
	if err != nil {
		RespondErr(ctx, apperr.Internal("Could not list reports", err))
		return
	}

	ctx.JSON(http.StatusOK, ListReportsResponse{Items: items, Total: total, Page: page, Limit: limit})
}

func (h *ReportsHandler) GetByID(ctx *gin.Context) {
	id, ok := reportID(ctx)
	if !ok {
		return
	}

	r, err := h.repo.GetByID(ctx.Request.Context(), id)
	if err != nil {
		RespondErr(ctx, reportErr(err, "Could not fetch report"))
		return
	}

	RespondJSONWithETag(ctx, http.StatusOK, r)
}

func (h *ReportsHandler) Update(ctx *gin.Context) {
	id, ok := reportID(ctx)
	if !ok {
		return
	}

	var req report.UpdateReportRequest

	if !BindJSON(ctx, &req) {
		return
	}

	cctx, cancel := context.WithTimeout(ctx.Request.Context(), 3*time.Second)
	defer cancel()

	updated, err := h.repo.Update(cctx, id, req)
	if err != nil {
		RespondErr(ctx, reportErr(err, "Could not update report"))
		return
	}

	ctx.JSON(http.StatusOK, updated)
}

func (h *ReportsHandler) Delete(ctx *gin.Context) {
	id, ok := reportID(ctx)
	if !ok {
		return
	}

	if err := h.repo.Delete(ctx.Request.Context(), id); err != nil {
		RespondErr(ctx, reportErr(err, "Could not delete report"))
		return
	}

	ctx.Status(http.StatusNoContent)
}

func reportID(ctx *gin.Context) (string, bool) {
	id, err := uuid.Parse(ctx.Param("id"))
	if err != nil {
		RespondBadRequest(ctx, "Invalid id", nil)
		return "", false
	}
	return id.String(), true
}

func reportErr(err error, internalMsg string) error {
	if errors.Is(err, report.ErrNotFound) {
		return apperr.NotFound("Report not found", err)
	}
	return apperr.Internal(internalMsg, err)
}

func queryInt(ctx *gin.Context, key string, fallback int) (int, bool) {
	raw := ctx.Query(key)
	if raw == "" {
		return fallback, true
	}

	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, false
	}
	return n, true
}
