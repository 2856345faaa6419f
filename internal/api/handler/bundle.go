package handler

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/staykeeper/custody/internal/bundle"
)

// BundleHandler exposes bundle compilation and sealing over HTTP.
type BundleHandler struct {
	compiler *bundle.Compiler
	logger   *zap.Logger
}

func NewBundleHandler(compiler *bundle.Compiler, logger *zap.Logger) *BundleHandler {
	return &BundleHandler{compiler: compiler, logger: logger}
}

// Register mounts the bundle routes on the given router group.
func (h *BundleHandler) Register(rg *gin.RouterGroup) {
	b := rg.Group("/bundles")
	{
		b.POST("", h.Create)
		b.GET("/:id", h.Get)
		b.POST("/:id/items", h.AddItem)
		b.GET("/:id/manifest", h.Manifest)
		b.POST("/:id/seal", h.Seal)
	}
}

type createBundleRequest struct {
	BundleType string `json:"bundle_type" binding:"required"`
	Title      string `json:"title"       binding:"required"`
}

// Create handles POST /bundles.
func (h *BundleHandler) Create(c *gin.Context) {
	var req createBundleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	b, err := h.compiler.CreateBundle(c.Request.Context(), TenantFromCtx(c), bundle.CreateBundleInput{
		BundleType: req.BundleType,
		Title:      req.Title,
	})
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusCreated, b)
}

// Get handles GET /bundles/:id.
func (h *BundleHandler) Get(c *gin.Context) {
	id, ok := parseID(c)
	if !ok {
		return
	}
	b, err := h.compiler.Get(c.Request.Context(), TenantFromCtx(c), id)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, b)
}

type addItemRequest struct {
	EvidenceObjectID uuid.UUID `json:"evidence_object_id" binding:"required"`
	SortOrder        int       `json:"sort_order"`
	Label            string    `json:"label"`
}

// AddItem handles POST /bundles/:id/items.
func (h *BundleHandler) AddItem(c *gin.Context) {
	id, ok := parseID(c)
	if !ok {
		return
	}
	var req addItemRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	item, err := h.compiler.AddItem(c.Request.Context(), TenantFromCtx(c), id, bundle.AddItemInput{
		EvidenceObjectID: req.EvidenceObjectID,
		SortOrder:        req.SortOrder,
		Label:            req.Label,
	})
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusCreated, item)
}

// Manifest handles GET /bundles/:id/manifest — compiles (or, for a sealed
// bundle, reproduces) the deterministic manifest without persisting anything.
func (h *BundleHandler) Manifest(c *gin.Context) {
	id, ok := parseID(c)
	if !ok {
		return
	}

	var opts bundle.CompileOptions
	if raw := c.Query("sealed_at"); raw != "" {
		at, err := time.Parse(time.RFC3339Nano, raw)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "sealed_at must be RFC 3339"})
			return
		}
		opts.SealedAt = &at
	}

	result, err := h.compiler.CompileManifest(c.Request.Context(), TenantFromCtx(c), id, opts)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

// Seal handles POST /bundles/:id/seal.
func (h *BundleHandler) Seal(c *gin.Context) {
	id, ok := parseID(c)
	if !ok {
		return
	}
	b, err := h.compiler.SealBundle(c.Request.Context(), TenantFromCtx(c), id)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	RecordBundleSealed()
	c.JSON(http.StatusOK, b)
}
