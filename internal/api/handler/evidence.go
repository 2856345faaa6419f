package handler

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/staykeeper/custody/internal/contenthash"
	"github.com/staykeeper/custody/internal/custody"
	"github.com/staykeeper/custody/internal/evidence"
	"github.com/staykeeper/custody/internal/objectstore"
)

// EvidenceHandler exposes the chain-of-custody ledger over HTTP.
type EvidenceHandler struct {
	ledger evidence.Ledger
	store  objectstore.Fetcher
	logger *zap.Logger
}

// NewEvidenceHandler creates an EvidenceHandler. store supplies the payload
// bytes for file_r2 and url_snapshot sources; it may be nil when only inline
// sources are in play.
func NewEvidenceHandler(ledger evidence.Ledger, store objectstore.Fetcher, logger *zap.Logger) *EvidenceHandler {
	return &EvidenceHandler{ledger: ledger, store: store, logger: logger}
}

// Register mounts the evidence routes on the given router group.
func (h *EvidenceHandler) Register(rg *gin.RouterGroup) {
	ev := rg.Group("/evidence")
	{
		ev.POST("", h.Create)
		ev.GET("/:id", h.Get)
		ev.POST("/:id/events", h.AppendEvent)
		ev.GET("/:id/events", h.ListEvents)
		ev.GET("/:id/verify", h.Verify)
		ev.POST("/:id/seal", h.Seal)
	}
}

type createEvidenceRequest struct {
	SourceType string          `json:"source_type" binding:"required"`
	Title      string          `json:"title"       binding:"required"`
	Content    string          `json:"content"`
	Snapshot   json.RawMessage `json:"snapshot"`
	ObjectKey  string          `json:"object_key"`
	OccurredAt *time.Time      `json:"occurred_at"`
}

// Create handles POST /evidence — registers a new evidence object and its
// first chain event.
func (h *EvidenceHandler) Create(c *gin.Context) {
	var req createEvidenceRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	source := contenthash.SourceType(req.SourceType)
	payload, err := h.resolvePayload(c, source, &req)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}

	ctx := c.Request.Context()
	tenantID := TenantFromCtx(c)

	obj, err := h.ledger.CreateObject(ctx, tenantID, evidence.CreateObjectInput{
		SourceType: source,
		Title:      req.Title,
		Content:    payload,
		OccurredAt: req.OccurredAt,
		CreatedBy:  ActorFromCtx(c),
	})
	if err != nil {
		respondError(c, h.logger, err)
		return
	}

	if _, err := h.ledger.AppendEvent(ctx, tenantID, obj.ID, evidence.AppendEventInput{
		EventType: evidence.EventCreated,
		ActorID:   ActorFromCtx(c),
	}); err != nil {
		respondError(c, h.logger, err)
		return
	}
	RecordEvidenceCreated(string(source))

	c.JSON(http.StatusCreated, obj)
}

// resolvePayload produces the bytes to hash for the requested source type.
func (h *EvidenceHandler) resolvePayload(c *gin.Context, source contenthash.SourceType, req *createEvidenceRequest) ([]byte, error) {
	switch source {
	case contenthash.SourceJSONSnapshot:
		if len(req.Snapshot) == 0 {
			return nil, &custody.ErrValidation{Msg: "snapshot is required for json_snapshot sources"}
		}
		return req.Snapshot, nil
	case contenthash.SourceFileR2, contenthash.SourceURLSnapshot:
		if req.ObjectKey == "" {
			return nil, &custody.ErrValidation{Msg: "object_key is required for stored sources"}
		}
		if h.store == nil {
			return nil, &custody.ErrValidation{Msg: "object storage is not configured"}
		}
		return h.store.Fetch(c.Request.Context(), req.ObjectKey)
	default:
		return []byte(req.Content), nil
	}
}

// Get handles GET /evidence/:id.
func (h *EvidenceHandler) Get(c *gin.Context) {
	id, ok := parseID(c)
	if !ok {
		return
	}
	obj, err := h.ledger.GetObject(c.Request.Context(), TenantFromCtx(c), id)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, obj)
}

type appendEventRequest struct {
	EventType       string          `json:"event_type" binding:"required"`
	Payload         json.RawMessage `json:"payload"`
	ClientRequestID *string         `json:"client_request_id"`
}

// AppendEvent handles POST /evidence/:id/events.
func (h *EvidenceHandler) AppendEvent(c *gin.Context) {
	id, ok := parseID(c)
	if !ok {
		return
	}
	var req appendEventRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	ev, err := h.ledger.AppendEvent(c.Request.Context(), TenantFromCtx(c), id, evidence.AppendEventInput{
		EventType:       evidence.EventType(req.EventType),
		Payload:         req.Payload,
		ActorID:         ActorFromCtx(c),
		ClientRequestID: req.ClientRequestID,
	})
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	RecordEventAppended(req.EventType)

	c.JSON(http.StatusCreated, ev)
}

// ListEvents handles GET /evidence/:id/events.
func (h *EvidenceHandler) ListEvents(c *gin.Context) {
	id, ok := parseID(c)
	if !ok {
		return
	}
	events, err := h.ledger.Events(c.Request.Context(), TenantFromCtx(c), id)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"events": events})
}

// Verify handles GET /evidence/:id/verify — walks the chain and reports
// integrity as data, never as an error status.
func (h *EvidenceHandler) Verify(c *gin.Context) {
	id, ok := parseID(c)
	if !ok {
		return
	}
	report, err := h.ledger.VerifyChain(c.Request.Context(), TenantFromCtx(c), id)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	if !report.Valid {
		h.logger.Warn("evidence chain integrity failure",
			zap.String("evidence_id", id.String()),
			zap.Intp("first_failure_index", report.FirstFailureIndex))
	}
	c.JSON(http.StatusOK, report)
}

// Seal handles POST /evidence/:id/seal.
func (h *EvidenceHandler) Seal(c *gin.Context) {
	id, ok := parseID(c)
	if !ok {
		return
	}
	obj, err := h.ledger.Seal(c.Request.Context(), TenantFromCtx(c), id, ActorFromCtx(c))
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, obj)
}

// parseID reads the :id path parameter as a UUID, responding 400 on failure.
func parseID(c *gin.Context) (uuid.UUID, bool) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "id must be a UUID"})
		return uuid.Nil, false
	}
	return id, true
}
