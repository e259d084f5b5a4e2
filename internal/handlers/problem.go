package handlers

import (
	"encoding/json"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/arena-oj/judgeserver/internal/services"
	"github.com/arena-oj/judgeserver/types"
)

const (
	maxMultipartMemory = 32 << 20
	formFieldBundle    = "bundle"
)

// ProblemHandler provides HTTP handlers for the problem archive.
type ProblemHandler struct {
	problemService *services.ProblemService
	bundleService  *services.BundleService
}

// NewProblemHandler constructs a handler with the provided services.
func NewProblemHandler(problemService *services.ProblemService, bundleService *services.BundleService) *ProblemHandler {
	return &ProblemHandler{
		problemService: problemService,
		bundleService:  bundleService,
	}
}

// ProblemRouter registers problem routes on the given router. List and
// get are public; mutations require an admin token.
func ProblemRouter(r chi.Router, problemService *services.ProblemService, bundleService *services.BundleService, authMiddleware func(http.Handler) http.Handler) {
	handler := NewProblemHandler(problemService, bundleService)

	r.Get("/", handler.ListProblems)
	r.With(authMiddleware, RequireAdmin).Post("/", handler.CreateProblem)
	r.Route("/{problemID}", func(r chi.Router) {
		r.Get("/", handler.GetProblem)
		r.With(authMiddleware, RequireAdmin).Put("/", handler.UpdateProblem)
		r.With(authMiddleware, RequireAdmin).Delete("/", handler.DeleteProblem)
		r.With(authMiddleware, RequireAdmin).Post("/bundle", handler.UploadBundle)
		r.With(authMiddleware, RequireAdmin).Get("/bundle", handler.DownloadBundle)
	})
}

func (h *ProblemHandler) ListProblems(w http.ResponseWriter, r *http.Request) {
	page, limit, offset, err := parsePagination(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	includeHidden := isAdminFromContext(r.Context())
	items, total, err := h.problemService.List(r.Context(), offset, limit, includeHidden)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to list problems")
		return
	}

	for i := range items {
		items[i] = publicView(items[i], includeHidden)
	}
	writeJSON(w, http.StatusOK, ListResponse[types.Problem]{
		Items: items,
		Page:  page,
		Limit: limit,
		Total: total,
	})
}

func (h *ProblemHandler) GetProblem(w http.ResponseWriter, r *http.Request) {
	id, err := parseIDParam(r, "problemID")
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	includeHidden := isAdminFromContext(r.Context())
	problem, err := h.problemService.Get(r.Context(), id, includeHidden)
	if err != nil {
		writeServiceError(w, err, "failed to fetch problem")
		return
	}

	writeJSON(w, http.StatusOK, publicView(problem, includeHidden))
}

func (h *ProblemHandler) CreateProblem(w http.ResponseWriter, r *http.Request) {
	var problem types.Problem
	if err := json.NewDecoder(r.Body).Decode(&problem); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request")
		return
	}

	created, err := h.problemService.Create(r.Context(), problem)
	if err != nil {
		writeServiceError(w, err, "failed to create problem")
		return
	}
	writeJSON(w, http.StatusCreated, created)
}

func (h *ProblemHandler) UpdateProblem(w http.ResponseWriter, r *http.Request) {
	id, err := parseIDParam(r, "problemID")
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	var problem types.Problem
	if err := json.NewDecoder(r.Body).Decode(&problem); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request")
		return
	}
	problem.ID = id

	updated, err := h.problemService.Update(r.Context(), problem)
	if err != nil {
		writeServiceError(w, err, "failed to update problem")
		return
	}
	writeJSON(w, http.StatusOK, updated)
}

func (h *ProblemHandler) DeleteProblem(w http.ResponseWriter, r *http.Request) {
	id, err := parseIDParam(r, "problemID")
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	if err := h.problemService.Delete(r.Context(), id); err != nil {
		writeServiceError(w, err, "failed to delete problem")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// UploadBundle ingests a test case archive for a problem.
func (h *ProblemHandler) UploadBundle(w http.ResponseWriter, r *http.Request) {
	id, err := parseIDParam(r, "problemID")
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	if err := r.ParseMultipartForm(maxMultipartMemory); err != nil {
		writeError(w, http.StatusBadRequest, "invalid multipart form")
		return
	}
	file, _, err := r.FormFile(formFieldBundle)
	if err != nil {
		writeError(w, http.StatusBadRequest, "bundle file is required")
		return
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		writeError(w, http.StatusBadRequest, "failed to read upload")
		return
	}

	problem, err := h.bundleService.Upload(r.Context(), id, data)
	if err != nil {
		writeServiceError(w, err, "failed to store bundle")
		return
	}
	writeJSON(w, http.StatusOK, problem)
}

// DownloadBundle streams the current test case archive of a problem.
func (h *ProblemHandler) DownloadBundle(w http.ResponseWriter, r *http.Request) {
	id, err := parseIDParam(r, "problemID")
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	rc, err := h.bundleService.Download(r.Context(), id)
	if err != nil {
		writeServiceError(w, err, "failed to fetch bundle")
		return
	}
	defer rc.Close()

	w.Header().Set("Content-Type", "application/zip")
	_, _ = io.Copy(w, rc)
}

// publicView strips hidden test case data from non-admin responses.
// Sample cases stay visible.
func publicView(problem types.Problem, includeHidden bool) types.Problem {
	if includeHidden {
		return problem
	}
	samples := make([]types.TestCase, 0, len(problem.TestCases))
	for _, tc := range problem.TestCases {
		if tc.IsSample {
			samples = append(samples, tc)
		}
	}
	problem.TestCases = samples
	problem.Bundle = types.TestCaseBundle{}
	return problem
}
