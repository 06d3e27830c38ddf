package httpapi

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/vsinha/bomengine/pkg/domain/entities"
	"github.com/vsinha/bomengine/pkg/infrastructure/logger"
	csvrepo "github.com/vsinha/bomengine/pkg/infrastructure/repositories/csv"
)

// BOMService is the engine surface the handlers need
type BOMService interface {
	CreateLine(ctx context.Context, parentID entities.ProductID, line entities.LineInput) (*entities.CompositionEdge, error)
	FindAll(ctx context.Context, filter entities.EdgeFilter) ([]*entities.CompositionEdge, error)
	FindByID(ctx context.Context, id uuid.UUID) (*entities.CompositionEdge, error)
	Update(ctx context.Context, id uuid.UUID, update entities.LineUpdate) (*entities.CompositionEdge, error)
	SoftDelete(ctx context.Context, id uuid.UUID) error
	BuildTree(ctx context.Context, rootID entities.ProductID, asOf *time.Time) (*entities.CompositionNode, error)
	CalculateExplodedCost(ctx context.Context, rootID entities.ProductID, asOf *time.Time) (*entities.CostedNode, error)
	CreateNewVersion(ctx context.Context, parentID entities.ProductID, lines []entities.LineInput, cutoverAt *time.Time) (*entities.VersionSnapshot, error)
	GetVersionHistory(ctx context.Context, parentID entities.ProductID) ([]entities.VersionSummary, error)
	GetVersionAt(ctx context.Context, parentID entities.ProductID, date time.Time) ([]*entities.CompositionEdge, error)
	GetCurrentVersion(ctx context.Context, parentID entities.ProductID) (*entities.VersionSnapshot, error)
}

type BOMHandler struct {
	service BOMService
	log     *logger.Logger
}

func NewBOMHandler(service BOMService, log *logger.Logger) *BOMHandler {
	if log == nil {
		log = logger.NewNop()
	}
	return &BOMHandler{service: service, log: log.With("component", "BOMHandler")}
}

// POST /api/bom/lines
func (h *BOMHandler) CreateLine(c *gin.Context) {
	var req CreateLineRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondBadRequest(c, "invalid_body", err)
		return
	}

	edge, err := h.service.CreateLine(c.Request.Context(), entities.ProductID(req.ParentProductID), entities.LineInput{
		ChildProductID:    entities.ProductID(req.ChildProductID),
		QuantityPerParent: req.QuantityPer,
	})
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, toLineResponse(edge))
}

// GET /api/bom/lines?parent=&child=&version=&active_only=&open_only=
func (h *BOMHandler) ListLines(c *gin.Context) {
	filter := entities.EdgeFilter{
		ParentProductID: entities.ProductID(c.Query("parent")),
		ChildProductID:  entities.ProductID(c.Query("child")),
	}
	if raw := c.Query("version"); raw != "" {
		version, err := strconv.Atoi(raw)
		if err != nil || version < 1 {
			respondBadRequest(c, "invalid_query", fmt.Errorf("version must be a positive integer: %s", raw))
			return
		}
		filter.Version = version
	}
	var err error
	if filter.ActiveOnly, err = boolQuery(c, "active_only"); err != nil {
		respondBadRequest(c, "invalid_query", err)
		return
	}
	if filter.OpenOnly, err = boolQuery(c, "open_only"); err != nil {
		respondBadRequest(c, "invalid_query", err)
		return
	}

	edges, err := h.service.FindAll(c.Request.Context(), filter)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, toLineResponses(edges))
}

// GET /api/bom/lines/:id
func (h *BOMHandler) GetLine(c *gin.Context) {
	id, ok := lineID(c)
	if !ok {
		return
	}
	edge, err := h.service.FindByID(c.Request.Context(), id)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, toLineResponse(edge))
}

// PATCH /api/bom/lines/:id
func (h *BOMHandler) UpdateLine(c *gin.Context) {
	id, ok := lineID(c)
	if !ok {
		return
	}
	var req UpdateLineRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondBadRequest(c, "invalid_body", err)
		return
	}

	var update entities.LineUpdate
	if req.ChildProductID != nil {
		child := entities.ProductID(*req.ChildProductID)
		update.ChildProductID = &child
	}
	update.QuantityPerParent = req.QuantityPer

	edge, err := h.service.Update(c.Request.Context(), id, update)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, toLineResponse(edge))
}

// DELETE /api/bom/lines/:id
func (h *BOMHandler) DeleteLine(c *gin.Context) {
	id, ok := lineID(c)
	if !ok {
		return
	}
	if err := h.service.SoftDelete(c.Request.Context(), id); err != nil {
		h.respondError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// GET /api/bom/products/:id/tree?as_of=
func (h *BOMHandler) GetTree(c *gin.Context) {
	asOf, ok := optionalTime(c, "as_of")
	if !ok {
		return
	}
	tree, err := h.service.BuildTree(c.Request.Context(), productID(c), asOf)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, toTreeResponse(tree))
}

// GET /api/bom/products/:id/cost?as_of=
func (h *BOMHandler) GetCost(c *gin.Context) {
	asOf, ok := optionalTime(c, "as_of")
	if !ok {
		return
	}
	costed, err := h.service.CalculateExplodedCost(c.Request.Context(), productID(c), asOf)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, toCostResponse(costed))
}

// POST /api/bom/products/:id/versions
func (h *BOMHandler) CreateVersion(c *gin.Context) {
	var req CreateVersionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondBadRequest(c, "invalid_body", err)
		return
	}

	lines := make([]entities.LineInput, 0, len(req.Lines))
	for _, line := range req.Lines {
		lines = append(lines, entities.LineInput{
			ChildProductID:    entities.ProductID(line.ChildProductID),
			QuantityPerParent: line.QuantityPer,
		})
	}

	snapshot, err := h.service.CreateNewVersion(c.Request.Context(), productID(c), lines, req.CutoverAt)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, toSnapshotResponse(snapshot))
}

// GET /api/bom/products/:id/versions
func (h *BOMHandler) GetVersionHistory(c *gin.Context) {
	history, err := h.service.GetVersionHistory(c.Request.Context(), productID(c))
	if err != nil {
		h.respondError(c, err)
		return
	}
	out := make([]VersionSummaryResponse, 0, len(history))
	for _, v := range history {
		out = append(out, VersionSummaryResponse{
			Version:   v.Version,
			ValidFrom: v.ValidFrom,
			ValidTo:   v.ValidTo,
			LineCount: v.LineCount,
		})
	}
	c.JSON(http.StatusOK, out)
}

// GET /api/bom/products/:id/versions/current
func (h *BOMHandler) GetCurrentVersion(c *gin.Context) {
	snapshot, err := h.service.GetCurrentVersion(c.Request.Context(), productID(c))
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, toSnapshotResponse(snapshot))
}

// GET /api/bom/products/:id/versions/at?date=
func (h *BOMHandler) GetVersionAt(c *gin.Context) {
	date, ok := optionalTime(c, "date")
	if !ok {
		return
	}
	if date == nil {
		respondBadRequest(c, "invalid_query", fmt.Errorf("date is required"))
		return
	}
	edges, err := h.service.GetVersionAt(c.Request.Context(), productID(c), *date)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, toLineResponses(edges))
}

func (h *BOMHandler) respondError(c *gin.Context, err error) {
	status, _ := classify(err)
	if status >= http.StatusInternalServerError {
		h.log.Error("request failed", "method", c.Request.Method, "path", c.FullPath(), "error", err)
	}
	RespondError(c, err)
}

func productID(c *gin.Context) entities.ProductID {
	return entities.ProductID(c.Param("id"))
}

func lineID(c *gin.Context) (uuid.UUID, bool) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		respondBadRequest(c, "invalid_id", fmt.Errorf("line id must be a UUID: %s", c.Param("id")))
		return uuid.Nil, false
	}
	return id, true
}

func optionalTime(c *gin.Context, name string) (*time.Time, bool) {
	raw := c.Query(name)
	if raw == "" {
		return nil, true
	}
	t, err := csvrepo.ParseDate(raw)
	if err != nil {
		respondBadRequest(c, "invalid_query", fmt.Errorf("%s: %w", name, err))
		return nil, false
	}
	return &t, true
}

func boolQuery(c *gin.Context, name string) (bool, error) {
	raw := c.Query(name)
	if raw == "" {
		return false, nil
	}
	v, err := strconv.ParseBool(raw)
	if err != nil {
		return false, fmt.Errorf("%s must be a boolean: %s", name, raw)
	}
	return v, nil
}
