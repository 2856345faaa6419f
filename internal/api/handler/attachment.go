package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/staykeeper/custody/internal/attachment"
)

// AttachmentHandler exposes the sealed-only attachment gate over HTTP.
type AttachmentHandler struct {
	gate   *attachment.Gate
	logger *zap.Logger
}

func NewAttachmentHandler(gate *attachment.Gate, logger *zap.Logger) *AttachmentHandler {
	return &AttachmentHandler{gate: gate, logger: logger}
}

// Register mounts the attachment routes on the given router group.
func (h *AttachmentHandler) Register(rg *gin.RouterGroup) {
	p := rg.Group("/parents/:id")
	{
		p.POST("/inputs", h.Attach)
		p.GET("/inputs", h.List)
	}
}

type attachRequest struct {
	EvidenceObjectID *uuid.UUID `json:"evidence_object_id"`
	BundleID         *uuid.UUID `json:"bundle_id"`
	Label            string     `json:"label"`
}

// Attach handles POST /parents/:id/inputs.
func (h *AttachmentHandler) Attach(c *gin.Context) {
	parentID, ok := parseID(c)
	if !ok {
		return
	}
	var req attachRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	rec, err := h.gate.Attach(c.Request.Context(), attachment.AttachInput{
		TenantID:         TenantFromCtx(c),
		ParentID:         parentID,
		EvidenceObjectID: req.EvidenceObjectID,
		BundleID:         req.BundleID,
		Label:            req.Label,
		AttachedBy:       ActorFromCtx(c),
	})
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusCreated, rec)
}

// List handles GET /parents/:id/inputs.
func (h *AttachmentHandler) List(c *gin.Context) {
	parentID, ok := parseID(c)
	if !ok {
		return
	}
	records, err := h.gate.ListByParent(c.Request.Context(), TenantFromCtx(c), parentID)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"inputs": records})
}
