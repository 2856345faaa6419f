package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/staykeeper/custody/internal/artifact"
)

// ArtifactHandler exposes derived-artifact assembly over HTTP.
type ArtifactHandler struct {
	assembler *artifact.Assembler
	logger    *zap.Logger
}

func NewArtifactHandler(assembler *artifact.Assembler, logger *zap.Logger) *ArtifactHandler {
	return &ArtifactHandler{assembler: assembler, logger: logger}
}

// Register mounts the artifact routes on the given router group.
func (h *ArtifactHandler) Register(rg *gin.RouterGroup) {
	rg.POST("/parents/:id/artifacts", h.Assemble)
	rg.GET("/parents/:id/artifacts", h.ListByParent)

	a := rg.Group("/artifacts")
	{
		a.GET("/:id", h.Get)
		a.POST("/:id/export", h.Export)
	}
}

type assembleRequest struct {
	Kind            string  `json:"kind" binding:"required"`
	ClientRequestID *string `json:"client_request_id"`
}

// Assemble handles POST /parents/:id/artifacts.
func (h *ArtifactHandler) Assemble(c *gin.Context) {
	parentID, ok := parseID(c)
	if !ok {
		return
	}
	var req assembleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	art, err := h.assembler.Assemble(c.Request.Context(), TenantFromCtx(c), artifact.AssembleInput{
		ParentID:        parentID,
		Kind:            artifact.Kind(req.Kind),
		ActorID:         ActorFromCtx(c),
		ClientRequestID: req.ClientRequestID,
	})
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	RecordArtifactAssembled(req.Kind)

	c.JSON(http.StatusCreated, art)
}

// ListByParent handles GET /parents/:id/artifacts.
func (h *ArtifactHandler) ListByParent(c *gin.Context) {
	parentID, ok := parseID(c)
	if !ok {
		return
	}
	artifacts, err := h.assembler.ListByParent(c.Request.Context(), TenantFromCtx(c), parentID)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"artifacts": artifacts})
}

// Get handles GET /artifacts/:id.
func (h *ArtifactHandler) Get(c *gin.Context) {
	id, ok := parseID(c)
	if !ok {
		return
	}
	art, err := h.assembler.Get(c.Request.Context(), TenantFromCtx(c), id)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, art)
}

// Export handles POST /artifacts/:id/export.
func (h *ArtifactHandler) Export(c *gin.Context) {
	id, ok := parseID(c)
	if !ok {
		return
	}
	art, err := h.assembler.MarkExported(c.Request.Context(), TenantFromCtx(c), id)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, art)
}
