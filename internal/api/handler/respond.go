package handler

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/staykeeper/custody/internal/custody"
)

// respondError maps domain errors onto HTTP statuses. Unsealed and duplicate
// attachments are conflicts: the request was well-formed but the target's
// state forbids it. An immutability violation is never the client's fault.
func respondError(c *gin.Context, logger *zap.Logger, err error) {
	var (
		verr     *custody.ErrValidation
		unsealed *custody.ErrUnsealed
		dup      *custody.ErrAlreadyAttached
		imm      *custody.ErrImmutable
	)
	switch {
	case errors.Is(err, custody.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "not found"})
	case errors.As(err, &verr):
		c.JSON(http.StatusBadRequest, gin.H{"error": verr.Msg})
	case errors.As(err, &unsealed):
		c.JSON(http.StatusConflict, gin.H{"error": unsealed.Error()})
	case errors.As(err, &dup):
		c.JSON(http.StatusConflict, gin.H{"error": dup.Error()})
	case errors.As(err, &imm):
		logger.Error("immutability violation", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
	default:
		logger.Error("request failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
	}
}
