package server

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"mealsub-backend/internal/domain"
)

type errorBody struct {
	Code      string   `json:"code"`
	Message   string   `json:"message"`
	Details   []string `json:"details,omitempty"`
	RequestID string   `json:"requestId"`
}

// fail maps the error taxonomy onto HTTP statuses and writes the error
// envelope.
func (s *Server) fail(c *gin.Context, err error) {
	var (
		verr   domain.ErrValidation
		cerr   domain.ErrConflict
		nerr   domain.ErrNotFound
		ierr   *domain.ErrIntegration
		status int
		body   = errorBody{Message: err.Error(), RequestID: c.GetString(ctxRequestID)}
	)
	switch {
	case errors.As(err, &verr):
		status, body.Code = http.StatusBadRequest, "ValidationError"
		body.Message = "request is invalid"
		body.Details = []string(verr)
	case errors.As(err, &cerr):
		status, body.Code = http.StatusConflict, "Conflict"
	case errors.As(err, &nerr):
		status, body.Code = http.StatusNotFound, "NotFound"
	case errors.As(err, &ierr):
		status, body.Code = http.StatusBadGateway, "IntegrationFailure"
		body.Message = "payment provider unavailable, retry with the same Idempotency-Key"
		s.Log.Warn("provider failure", "provider", ierr.Provider, "err", ierr.Err, "request_id", body.RequestID)
	case isUnauthorized(err):
		status, body.Code = http.StatusUnauthorized, "Unauthorized"
	default:
		status, body.Code = http.StatusInternalServerError, "ServerError"
		body.Message = "internal error"
		s.Log.Error("request failed", "path", c.Request.URL.Path, "err", err, "request_id", body.RequestID)
	}
	c.JSON(status, gin.H{"error": body})
}

func (s *Server) badRequest(c *gin.Context, msgs ...string) {
	s.fail(c, domain.Invalid(msgs...))
}
