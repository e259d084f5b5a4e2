package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/arena-oj/judgeserver/internal/services"
	"github.com/arena-oj/judgeserver/types"
)

// SubmissionHandler provides HTTP handlers for submissions.
type SubmissionHandler struct {
	submissionService *services.SubmissionService
}

// NewSubmissionHandler constructs a handler with the provided service.
func NewSubmissionHandler(submissionService *services.SubmissionService) *SubmissionHandler {
	return &SubmissionHandler{submissionService: submissionService}
}

// SubmissionRouter registers submission routes. All routes require
// authentication; requeueing is admin only.
func SubmissionRouter(r chi.Router, submissionService *services.SubmissionService, authMiddleware func(http.Handler) http.Handler) {
	handler := NewSubmissionHandler(submissionService)

	r.Use(authMiddleware)
	r.Post("/", handler.Submit)
	r.Get("/", handler.ListMine)
	r.Route("/{submissionID}", func(r chi.Router) {
		r.Get("/", handler.GetSubmission)
		r.With(RequireAdmin).Post("/requeue", handler.Requeue)
	})
}

type SubmitRequest struct {
	ProblemID int    `json:"problem_id"`
	ContestID int    `json:"contest_id,omitempty"`
	Language  string `json:"language"`
	Code      string `json:"code"`
}

// Submit accepts a submission and enqueues it for judging. The response
// carries the pending submission; clients poll for the verdict.
func (h *SubmissionHandler) Submit(w http.ResponseWriter, r *http.Request) {
	userID, err := userIDFromContext(r.Context())
	if err != nil {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	var req SubmitRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request")
		return
	}
	if req.ProblemID < 1 {
		writeError(w, http.StatusBadRequest, "invalid problem id")
		return
	}

	created, err := h.submissionService.Submit(r.Context(), types.Submission{
		ProblemID: req.ProblemID,
		ContestID: req.ContestID,
		UserID:    userID,
		Language:  req.Language,
		Code:      req.Code,
	})
	if err != nil {
		writeServiceError(w, err, "failed to create submission")
		return
	}

	writeJSON(w, http.StatusAccepted, created)
}

// GetSubmission returns one submission. Users only see their own
// submissions; admins see everything.
func (h *SubmissionHandler) GetSubmission(w http.ResponseWriter, r *http.Request) {
	userID, err := userIDFromContext(r.Context())
	if err != nil {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	id, err := parseID64Param(r, "submissionID")
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	submission, err := h.submissionService.Get(r.Context(), id)
	if err != nil {
		writeServiceError(w, err, "failed to fetch submission")
		return
	}
	if submission.UserID != userID && !isAdminFromContext(r.Context()) {
		writeError(w, http.StatusNotFound, "not found")
		return
	}

	writeJSON(w, http.StatusOK, submission)
}

// ListMine returns the caller's submissions, newest first.
func (h *SubmissionHandler) ListMine(w http.ResponseWriter, r *http.Request) {
	userID, err := userIDFromContext(r.Context())
	if err != nil {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	page, limit, offset, err := parsePagination(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	items, err := h.submissionService.ListByUser(r.Context(), userID, offset, limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to list submissions")
		return
	}

	// Code and case results are trimmed from list views.
	for i := range items {
		items[i].Code = ""
		items[i].CaseResults = nil
	}
	writeJSON(w, http.StatusOK, ListResponse[types.Submission]{
		Items: items,
		Page:  page,
		Limit: limit,
		Total: len(items),
	})
}

// Requeue republishes the judge job for a submission stuck before a
// terminal verdict.
func (h *SubmissionHandler) Requeue(w http.ResponseWriter, r *http.Request) {
	id, err := parseID64Param(r, "submissionID")
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	if err := h.submissionService.Requeue(r.Context(), id); err != nil {
		writeServiceError(w, err, "failed to requeue submission")
		return
	}
	w.WriteHeader(http.StatusAccepted)
}
