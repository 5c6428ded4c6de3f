package statushttp

import (
	"encoding/json"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/orienteering/yarocd/internal/ingest"
	"github.com/orienteering/yarocd/internal/sicodec"
)

func TestHandleAllReturnsSnapshotMap(t *testing.T) {
	tracker := ingest.NewTracker(nil)
	tracker.CellularStatus("aabbccddeeff").Punch(sicodec.Punch{Card: 1})

	s := NewServer(":0", tracker)
	req := httptest.NewRequest("GET", "/api/status", nil)
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)

	assert.Equal(t, 200, rec.Code)
	var body map[string]ingest.Snapshot
	assert.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Contains(t, body, "aabbccddeeff")
	assert.True(t, body["aabbccddeeff"].Online)
}

func TestHandleOneMissingMacReturns404(t *testing.T) {
	tracker := ingest.NewTracker(nil)
	s := NewServer(":0", tracker)
	req := httptest.NewRequest("GET", "/api/status/unknown", nil)
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)

	assert.Equal(t, 404, rec.Code)
}

func TestHandleHealthz(t *testing.T) {
	s := NewServer(":0", ingest.NewTracker(nil))
	req := httptest.NewRequest("GET", "/api/healthz", nil)
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)

	assert.Equal(t, 200, rec.Code)
}
