package httpapi

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vsinha/bomengine/pkg/application/services/bom"
	"github.com/vsinha/bomengine/pkg/domain/entities"
	testhelpers "github.com/vsinha/bomengine/pkg/infrastructure/testing"
)

var mar31 = time.Date(2026, time.March, 31, 12, 0, 0, 0, time.UTC)

func newTestRouter(t *testing.T, origins ...string) *gin.Engine {
	t.Helper()
	gin.SetMode(gin.TestMode)

	store, costs := testhelpers.BuildSimpleScenario()
	engine := bom.NewEngine(store, costs, nil, nil, bom.EngineConfig{
		MaxDepth:       10,
		VersionRetries: 1,
		Clock:          func() time.Time { return mar31 },
	})
	return NewRouter(RouterConfig{Service: engine, AllowedOrigins: origins})
}

func do(t *testing.T, r http.Handler, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}

	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out), rec.Body.String())
	return out
}

func TestHealthAndMetrics(t *testing.T) {
	r := newTestRouter(t)

	rec := do(t, r, http.MethodGet, "/healthz", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ok", rec.Body.String())

	rec = do(t, r, http.MethodGet, "/metrics", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "bomengine_http_requests_total")
}

func TestGetCostAndTree(t *testing.T) {
	r := newTestRouter(t)

	rec := do(t, r, http.MethodGet, "/api/bom/products/A/cost", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	cost := decode[CostNodeResponse](t, rec)
	assert.Equal(t, "32", cost.TotalCost.String())
	assert.False(t, cost.CostIncomplete)
	require.Len(t, cost.Children, 1)
	assert.Equal(t, "B", cost.Children[0].ProductID)
	assert.Equal(t, "2", cost.Children[0].Quantity.String())

	rec = do(t, r, http.MethodGet, "/api/bom/products/A/tree?as_of=2026-03-01", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	tree := decode[TreeNodeResponse](t, rec)
	require.Len(t, tree.Children, 1)
	require.Len(t, tree.Children[0].Children, 1)
	assert.Equal(t, "6", tree.Children[0].Children[0].Quantity.String())

	rec = do(t, r, http.MethodGet, "/api/bom/products/A/tree?as_of=2025-12-01", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, decode[TreeNodeResponse](t, rec).Children)

	rec = do(t, r, http.MethodGet, "/api/bom/products/NEVER_DEFINED/tree", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, decode[TreeNodeResponse](t, rec).Children)

	rec = do(t, r, http.MethodGet, "/api/bom/products/A/tree?as_of=yesterday", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestLineLifecycle(t *testing.T) {
	r := newTestRouter(t)

	rec := do(t, r, http.MethodPost, "/api/bom/lines", map[string]string{
		"parent_product_id": "D",
		"child_product_id":  "E",
		"qty_per":           "1.5",
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	created := decode[LineResponse](t, rec)
	assert.Equal(t, 1, created.Version)
	assert.True(t, created.Active)
	assert.Nil(t, created.ValidTo)

	path := "/api/bom/lines/" + created.ID.String()
	rec = do(t, r, http.MethodGet, path, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "1.5", decode[LineResponse](t, rec).QuantityPer.String())

	rec = do(t, r, http.MethodPatch, path, map[string]string{"qty_per": "4"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "4", decode[LineResponse](t, rec).QuantityPer.String())

	rec = do(t, r, http.MethodGet, "/api/bom/lines?parent=D&active_only=true", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decode[[]LineResponse](t, rec), 1)

	rec = do(t, r, http.MethodDelete, path, nil)
	assert.Equal(t, http.StatusNoContent, rec.Code)

	rec = do(t, r, http.MethodGet, "/api/bom/lines?parent=D&active_only=true", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, decode[[]LineResponse](t, rec))

	rec = do(t, r, http.MethodGet, "/api/bom/lines?version=zero", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestLineErrors(t *testing.T) {
	r := newTestRouter(t)

	tests := []struct {
		name   string
		method string
		path   string
		body   interface{}
		status int
		code   string
	}{
		{
			name:   "cycle",
			method: http.MethodPost,
			path:   "/api/bom/lines",
			body:   map[string]string{"parent_product_id": "C", "child_product_id": "A", "qty_per": "1"},
			status: http.StatusConflict,
			code:   "cyclic_composition",
		},
		{
			name:   "self loop",
			method: http.MethodPost,
			path:   "/api/bom/lines",
			body:   map[string]string{"parent_product_id": "A", "child_product_id": "A", "qty_per": "1"},
			status: http.StatusBadRequest,
			code:   "validation_failed",
		},
		{
			name:   "non-positive quantity",
			method: http.MethodPost,
			path:   "/api/bom/lines",
			body:   map[string]string{"parent_product_id": "D", "child_product_id": "E", "qty_per": "0"},
			status: http.StatusBadRequest,
			code:   "validation_failed",
		},
		{
			name:   "missing parent",
			method: http.MethodPost,
			path:   "/api/bom/lines",
			body:   map[string]string{"child_product_id": "E", "qty_per": "1"},
			status: http.StatusBadRequest,
			code:   "invalid_body",
		},
		{
			name:   "malformed id",
			method: http.MethodGet,
			path:   "/api/bom/lines/not-a-uuid",
			status: http.StatusBadRequest,
			code:   "invalid_id",
		},
		{
			name:   "unknown line",
			method: http.MethodGet,
			path:   "/api/bom/lines/" + uuid.NewString(),
			status: http.StatusNotFound,
			code:   "not_found",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := do(t, r, tt.method, tt.path, tt.body)
			require.Equal(t, tt.status, rec.Code, rec.Body.String())
			assert.Equal(t, tt.code, decode[ErrorEnvelope](t, rec).Error.Code)
		})
	}

	rec := do(t, r, http.MethodPost, "/api/bom/lines", map[string]string{
		"parent_product_id": "C", "child_product_id": "A", "qty_per": "1",
	})
	envelope := decode[ErrorEnvelope](t, rec)
	assert.Equal(t, []entities.ProductID{"A", "B", "C"}, envelope.Error.Path)
}

func TestVersionEndpoints(t *testing.T) {
	r := newTestRouter(t)

	cutover := time.Date(2026, time.April, 1, 0, 0, 0, 0, time.UTC)
	rec := do(t, r, http.MethodPost, "/api/bom/products/A/versions", map[string]interface{}{
		"lines":      []map[string]string{{"child_product_id": "B", "qty_per": "4"}},
		"cutover_at": cutover,
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	snapshot := decode[VersionSnapshotResponse](t, rec)
	assert.Equal(t, 2, snapshot.Version)
	assert.Equal(t, 1, snapshot.LineCount)

	rec = do(t, r, http.MethodGet, "/api/bom/products/A/versions", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	history := decode[[]VersionSummaryResponse](t, rec)
	require.Len(t, history, 2)
	assert.Equal(t, 2, history[0].Version)
	require.NotNil(t, history[1].ValidTo)
	assert.True(t, history[1].ValidTo.Equal(cutover))

	for date, qty := range map[string]string{"2026-03-31": "2", "2026-04-01": "4"} {
		rec = do(t, r, http.MethodGet, "/api/bom/products/A/versions/at?date="+date, nil)
		require.Equal(t, http.StatusOK, rec.Code)
		lines := decode[[]LineResponse](t, rec)
		require.Len(t, lines, 1, date)
		assert.Equal(t, qty, lines[0].QuantityPer.String(), date)
	}

	rec = do(t, r, http.MethodGet, "/api/bom/products/A/versions/current", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 1, decode[VersionSnapshotResponse](t, rec).Version)

	rec = do(t, r, http.MethodGet, "/api/bom/products/UNKNOWN/versions/current", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	current := decode[VersionSnapshotResponse](t, rec)
	assert.Equal(t, 0, current.Version)
	assert.Nil(t, current.ValidFrom)

	rec = do(t, r, http.MethodGet, "/api/bom/products/UNKNOWN/versions", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, decode[[]VersionSummaryResponse](t, rec))

	rec = do(t, r, http.MethodGet, "/api/bom/products/A/versions/at", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	// cutover must come after the current generation started
	rec = do(t, r, http.MethodPost, "/api/bom/products/A/versions", map[string]interface{}{
		"lines":      []map[string]string{},
		"cutover_at": cutover,
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code, rec.Body.String())
}

func TestClassify(t *testing.T) {
	tests := []struct {
		err    error
		status int
		code   string
	}{
		{&entities.ValidationError{Field: "quantity_per_parent", Reason: "must be positive"}, http.StatusBadRequest, "validation_failed"},
		{&entities.NotFoundError{Kind: "line", ID: "x"}, http.StatusNotFound, "not_found"},
		{&entities.CyclicCompositionError{Path: []entities.ProductID{"B", "A"}}, http.StatusConflict, "cyclic_composition"},
		{&entities.VersionConflictError{ParentProductID: "A", Version: 2}, http.StatusConflict, "version_conflict"},
		{&entities.MaxDepthExceededError{RootProductID: "A", MaxDepth: 3}, http.StatusUnprocessableEntity, "max_depth_exceeded"},
		{&entities.CyclicTraversalError{RootProductID: "A"}, http.StatusInternalServerError, "cyclic_traversal"},
		{fmt.Errorf("wrapped: %w", &entities.NotFoundError{Kind: "line", ID: "y"}), http.StatusNotFound, "not_found"},
		{errors.New("disk on fire"), http.StatusInternalServerError, "internal"},
	}

	for _, tt := range tests {
		status, apiErr := classify(tt.err)
		assert.Equal(t, tt.status, status, tt.err.Error())
		assert.Equal(t, tt.code, apiErr.Code, tt.err.Error())
	}
}

func TestRouter_CORS(t *testing.T) {
	r := newTestRouter(t, "http://localhost:5173")

	req := httptest.NewRequest(http.MethodOptions, "/api/bom/lines", nil)
	req.Header.Set("Origin", "http://localhost:5173")
	req.Header.Set("Access-Control-Request-Method", http.MethodPost)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, "http://localhost:5173", rec.Header().Get("Access-Control-Allow-Origin"))

	req = httptest.NewRequest(http.MethodGet, "/healthz", nil)
	req.Header.Set("Origin", "http://evil.example")
	rec = httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusForbidden, rec.Code)
}
