package handlers

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	types "github.com/yungbote/postsecret-pipeline/internal/domain"
	"github.com/yungbote/postsecret-pipeline/internal/http/response"
	"github.com/yungbote/postsecret-pipeline/internal/pkg/dbctx"
	"github.com/yungbote/postsecret-pipeline/internal/platform/qdrant"
	"github.com/yungbote/postsecret-pipeline/internal/services/orchestrator"
	"github.com/yungbote/postsecret-pipeline/internal/services/similarity"
)

type SubjectReader interface {
	GetByID(dbc dbctx.Context, id uuid.UUID) (*types.Subject, error)
}

type SimilarFinder interface {
	FindSimilar(ctx context.Context, subjectID uuid.UUID, limit int, minScore float64, filter qdrant.Filter) ([]similarity.Match, error)
}

type SubjectHandler struct {
	subjects SubjectReader
	orch     orchestrator.Orchestrator
	similar  SimilarFinder
}

func NewSubjectHandler(subjects SubjectReader, orch orchestrator.Orchestrator, similar SimilarFinder) *SubjectHandler {
	return &SubjectHandler{subjects: subjects, orch: orch, similar: similar}
}

func subjectParam(c *gin.Context) (uuid.UUID, bool) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.RespondError(c, http.StatusBadRequest, "invalid_subject_id", err)
		return uuid.Nil, false
	}
	return id, true
}

// GET /api/subjects/:id
func (h *SubjectHandler) GetSubject(c *gin.Context) {
	id, ok := subjectParam(c)
	if !ok {
		return
	}
	s, err := h.subjects.GetByID(dbctx.Context{Ctx: c.Request.Context()}, id)
	if err != nil {
		respondServiceError(c, "get_subject_failed", err)
		return
	}
	if s == nil {
		response.RespondError(c, http.StatusNotFound, "subject_not_found", errors.New("subject not found"))
		return
	}
	response.RespondOK(c, gin.H{"subject": s})
}

type classifyRequest struct {
	BackID *uuid.UUID `json:"back_id"`
	Force  bool       `json:"force"`
}

// POST /api/subjects/:id/classify
func (h *SubjectHandler) Classify(c *gin.Context) {
	id, ok := subjectParam(c)
	if !ok {
		return
	}
	var req classifyRequest
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			response.RespondError(c, http.StatusBadRequest, "invalid_request", err)
			return
		}
	}
	res := h.orch.Process(c.Request.Context(), id, req.BackID, req.Force)
	status := http.StatusOK
	switch {
	case res.Duplicate:
		status = http.StatusConflict
	case !res.Success:
		status = http.StatusBadGateway
	}
	c.JSON(status, gin.H{"result": res})
}

type pairRequest struct {
	BackID uuid.UUID `json:"back_id" binding:"required"`
}

// POST /api/subjects/:id/pair
func (h *SubjectHandler) Pair(c *gin.Context) {
	id, ok := subjectParam(c)
	if !ok {
		return
	}
	var req pairRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.RespondError(c, http.StatusBadRequest, "invalid_request", err)
		return
	}
	if err := h.orch.PairSubjects(c.Request.Context(), id, req.BackID); err != nil {
		respondServiceError(c, "pair_failed", err)
		return
	}
	response.RespondOK(c, gin.H{"front_id": id, "back_id": req.BackID})
}

type similarRequest struct {
	Limit    int           `json:"limit"`
	MinScore float64       `json:"min_score"`
	Filter   qdrant.Filter `json:"filter"`
}

type similarMatch struct {
	SubjectID uuid.UUID `json:"subject_id"`
	Score     float64   `json:"score"`
}

// POST /api/subjects/:id/similar
func (h *SubjectHandler) FindSimilar(c *gin.Context) {
	id, ok := subjectParam(c)
	if !ok {
		return
	}
	var req similarRequest
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			response.RespondError(c, http.StatusBadRequest, "invalid_request", err)
			return
		}
	}
	matches, err := h.similar.FindSimilar(c.Request.Context(), id, req.Limit, req.MinScore, req.Filter)
	if err != nil {
		respondServiceError(c, "find_similar_failed", err)
		return
	}
	out := make([]similarMatch, 0, len(matches))
	for _, m := range matches {
		out = append(out, similarMatch{SubjectID: m.SubjectID, Score: m.Score})
	}
	response.RespondOK(c, gin.H{"matches": out})
}
