package report

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

// NewFromCreateRequest builds a report authored by the given identity. The
// author name is the local part of the author's email.
func NewFromCreateRequest(req CreateReportRequest, authorID, authorEmail string) Report {
	now := time.Now().UTC()

	status := req.Status
	if status == "" {
		status = StatusDraft
	}

	r := Report{
		ID:        uuid.NewString(),
		Title:     strings.TrimSpace(req.Title),
		Content:   req.Content,
		Status:    status,
		CreatedAt: now,
		UpdatedAt: now,
	}

	if authorID != "" {
		id := authorID
		r.AuthorID = &id
	}

	r.AuthorName, _, _ = strings.Cut(authorEmail, "@")

	return r
}

// Apply merges a partial update into r.
func (r Report) Apply(req UpdateReportRequest) Report {
	if req.Title != nil {
		r.Title = strings.TrimSpace(*req.Title)
	}
	if req.Content != nil {
		r.Content = *req.Content
	}
	if req.Status != nil {
		r.Status = *req.Status
	}
	r.UpdatedAt = time.Now().UTC()

	return r
}
