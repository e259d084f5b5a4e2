package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/arena-oj/judgeserver/internal/services"
	"github.com/arena-oj/judgeserver/types"
)

// ContestHandler provides HTTP handlers for contests and standings.
type ContestHandler struct {
	contestService *services.ContestService
}

// NewContestHandler constructs a handler with the provided service.
func NewContestHandler(contestService *services.ContestService) *ContestHandler {
	return &ContestHandler{contestService: contestService}
}

// ContestRouter registers contest routes. Listing, fetching, and
// standings are public; registration needs a token and contest creation
// needs an admin.
func ContestRouter(r chi.Router, contestService *services.ContestService, authMiddleware func(http.Handler) http.Handler) {
	handler := NewContestHandler(contestService)

	r.Get("/", handler.ListContests)
	r.With(authMiddleware, RequireAdmin).Post("/", handler.CreateContest)
	r.Route("/{contestID}", func(r chi.Router) {
		r.Get("/", handler.GetContest)
		r.Get("/standings", handler.Standings)
		r.With(authMiddleware).Post("/register", handler.Register)
		r.With(authMiddleware, RequireAdmin).Post("/standings/rebuild", handler.RebuildStandings)
	})
}

func (h *ContestHandler) ListContests(w http.ResponseWriter, r *http.Request) {
	page, limit, offset, err := parsePagination(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	items, total, err := h.contestService.List(r.Context(), offset, limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to list contests")
		return
	}

	writeJSON(w, http.StatusOK, ListResponse[services.ContestView]{
		Items: items,
		Page:  page,
		Limit: limit,
		Total: total,
	})
}

func (h *ContestHandler) GetContest(w http.ResponseWriter, r *http.Request) {
	id, err := parseIDParam(r, "contestID")
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	view, err := h.contestService.Get(r.Context(), id)
	if err != nil {
		writeServiceError(w, err, "failed to fetch contest")
		return
	}
	writeJSON(w, http.StatusOK, view)
}

func (h *ContestHandler) CreateContest(w http.ResponseWriter, r *http.Request) {
	var contest types.Contest
	if err := json.NewDecoder(r.Body).Decode(&contest); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request")
		return
	}

	created, err := h.contestService.Create(r.Context(), contest)
	if err != nil {
		writeServiceError(w, err, "failed to create contest")
		return
	}
	writeJSON(w, http.StatusCreated, created)
}

// Register enrolls the caller in a contest.
func (h *ContestHandler) Register(w http.ResponseWriter, r *http.Request) {
	userID, err := userIDFromContext(r.Context())
	if err != nil {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	id, err := parseIDParam(r, "contestID")
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	if err := h.contestService.Register(r.Context(), id, userID); err != nil {
		writeServiceError(w, err, "failed to register")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Standings returns the ranked scoreboard. During the freeze window
// only admins see post-freeze results.
func (h *ContestHandler) Standings(w http.ResponseWriter, r *http.Request) {
	id, err := parseIDParam(r, "contestID")
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	privileged := isAdminFromContext(r.Context())
	rows, err := h.contestService.Standings(r.Context(), id, privileged)
	if err != nil {
		writeServiceError(w, err, "failed to compute standings")
		return
	}
	if rows == nil {
		rows = []types.StandingsRow{}
	}
	writeJSON(w, http.StatusOK, rows)
}

// RebuildStandings replays a contest's terminal submissions into a
// fresh scoreboard.
func (h *ContestHandler) RebuildStandings(w http.ResponseWriter, r *http.Request) {
	id, err := parseIDParam(r, "contestID")
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	if err := h.contestService.RebuildStandings(r.Context(), id); err != nil {
		writeServiceError(w, err, "failed to rebuild standings")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
