package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/yungbote/postsecret-pipeline/internal/data/repos/subjects"
	"github.com/yungbote/postsecret-pipeline/internal/http/response"
	"github.com/yungbote/postsecret-pipeline/internal/services/bulk"
	"github.com/yungbote/postsecret-pipeline/internal/services/orchestrator"
	"github.com/yungbote/postsecret-pipeline/internal/services/similarity"
)

// respondServiceError maps service errors onto HTTP status codes.
func respondServiceError(c *gin.Context, fallback string, err error) {
	_ = c.Error(err)
	if code := bulk.CreateErrorCodeOf(err); code != "" {
		response.RespondError(c, http.StatusUnprocessableEntity, string(code), err)
		return
	}
	switch {
	case errors.Is(err, bulk.ErrJobNotFound):
		response.RespondError(c, http.StatusNotFound, "job_not_found", err)
	case errors.Is(err, orchestrator.ErrSubjectNotFound), errors.Is(err, subjects.ErrNotFound):
		response.RespondError(c, http.StatusNotFound, "subject_not_found", err)
	case errors.Is(err, bulk.ErrInvalidTransition):
		response.RespondError(c, http.StatusConflict, "invalid_transition", err)
	case errors.Is(err, subjects.ErrAlreadyPaired):
		response.RespondError(c, http.StatusConflict, "already_paired", err)
	case errors.Is(err, subjects.ErrSelfPair):
		response.RespondError(c, http.StatusBadRequest, "self_pair", err)
	case errors.Is(err, bulk.ErrInvalidSettings):
		response.RespondError(c, http.StatusBadRequest, "invalid_settings", err)
	case errors.Is(err, similarity.ErrInvalidFilter):
		response.RespondError(c, http.StatusBadRequest, "invalid_filter", err)
	case errors.Is(err, similarity.ErrNoEmbedding):
		response.RespondError(c, http.StatusConflict, "no_embedding", err)
	default:
		response.RespondError(c, http.StatusInternalServerError, fallback, err)
	}
}
