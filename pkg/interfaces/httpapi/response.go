package httpapi

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/vsinha/bomengine/pkg/domain/entities"
)

type APIError struct {
	Message string               `json:"message"`
	Code    string               `json:"code,omitempty"`
	Path    []entities.ProductID `json:"path,omitempty"`
}

type ErrorEnvelope struct {
	Error APIError `json:"error"`
}

// RespondError writes err with the status its domain type maps to
func RespondError(c *gin.Context, err error) {
	status, apiErr := classify(err)
	c.AbortWithStatusJSON(status, ErrorEnvelope{Error: apiErr})
}

func respondBadRequest(c *gin.Context, code string, err error) {
	c.AbortWithStatusJSON(http.StatusBadRequest, ErrorEnvelope{
		Error: APIError{Message: err.Error(), Code: code},
	})
}

func classify(err error) (int, APIError) {
	apiErr := APIError{Message: err.Error()}

	var (
		validation *entities.ValidationError
		notFound   *entities.NotFoundError
		cyclic     *entities.CyclicCompositionError
		conflict   *entities.VersionConflictError
		maxDepth   *entities.MaxDepthExceededError
		traversal  *entities.CyclicTraversalError
	)

	switch {
	case errors.As(err, &validation):
		apiErr.Code = "validation_failed"
		return http.StatusBadRequest, apiErr
	case errors.As(err, &notFound):
		apiErr.Code = "not_found"
		return http.StatusNotFound, apiErr
	case errors.As(err, &cyclic):
		apiErr.Code = "cyclic_composition"
		apiErr.Path = cyclic.Path
		return http.StatusConflict, apiErr
	case errors.As(err, &conflict):
		apiErr.Code = "version_conflict"
		return http.StatusConflict, apiErr
	case errors.As(err, &maxDepth):
		apiErr.Code = "max_depth_exceeded"
		apiErr.Path = maxDepth.Path
		return http.StatusUnprocessableEntity, apiErr
	case errors.As(err, &traversal):
		apiErr.Code = "cyclic_traversal"
		apiErr.Path = traversal.Path
		return http.StatusInternalServerError, apiErr
	default:
		apiErr.Code = "internal"
		apiErr.Message = "internal server error"
		return http.StatusInternalServerError, apiErr
	}
}
