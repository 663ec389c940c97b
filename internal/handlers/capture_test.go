package handlers

import (
	"encoding/json"
	"net/http"
	"testing"
	"time"

	"github.com/mossy-p/fabcam/internal/models"
	"github.com/mossy-p/fabcam/internal/scoring"
	"github.com/mossy-p/fabcam/internal/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func decodeCapture(t *testing.T, body []byte) models.CaptureResponse {
	t.Helper()
	var resp models.CaptureResponse
	require.NoError(t, json.Unmarshal(body, &resp))
	return resp
}

func TestScoreLatestBeforeCapture(t *testing.T) {
	r, _ := newTestRouter(t)
	w := do(r, http.MethodPost, "/signal/capture", `{"score_latest":true}`)
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.JSONEq(t, `{"error":"No frame captured yet. Click 'Capture Frame' in the browser first."}`, w.Body.String())
}

func TestCaptureRequiresFrameOrScoreLatest(t *testing.T) {
	r, _ := newTestRouter(t)
	w := do(r, http.MethodPost, "/signal/capture", `{}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.JSONEq(t, `{"error":"Provide either 'frame' or 'score_latest: true'"}`, w.Body.String())
}

func TestCaptureStoresAndScores(t *testing.T) {
	r, mem := newTestRouter(t)
	before := time.Now().UnixMilli()

	w := do(r, http.MethodPost, "/signal/capture", `{"frame":"X"}`)
	require.Equal(t, http.StatusOK, w.Code)
	resp := decodeCapture(t, w.Body.Bytes())
	assert.True(t, resp.OK)
	require.NotNil(t, resp.Analysis)
	assert.Equal(t, scoring.Fallback, resp.Analysis.Scores)
	assert.GreaterOrEqual(t, resp.Analysis.Timestamp, before)
	assert.Zero(t, resp.Analysis.CapturedAt)

	f, err := mem.Latest(t.Context())
	require.NoError(t, err)
	assert.Equal(t, "X", f.Data)
}

func TestScoreLatestReturnsNewestOnly(t *testing.T) {
	r, mem := newTestRouter(t)
	var seen []string
	scorer := scorerFunc(func(frame, reference string) models.Scores {
		seen = append(seen, frame+"|"+reference)
		return scoring.Neutral
	})
	r = SetupRouter(testConfig(), Deps{Signals: mem, Frames: mem, Scorer: scorer})

	require.Equal(t, http.StatusOK, do(r, http.MethodPost, "/signal/capture", `{"frame":"X"}`).Code)
	require.Equal(t, http.StatusOK, do(r, http.MethodPost, "/signal/capture", `{"frame":"Y"}`).Code)

	w := do(r, http.MethodPost, "/signal/capture", `{"score_latest":true,"reference":"R"}`)
	require.Equal(t, http.StatusOK, w.Code)
	resp := decodeCapture(t, w.Body.Bytes())
	require.NotNil(t, resp.Analysis)
	assert.Equal(t, scoring.Neutral, resp.Analysis.Scores)

	latest, err := mem.Latest(t.Context())
	require.NoError(t, err)
	assert.Equal(t, latest.CapturedAt, resp.Analysis.CapturedAt)
	assert.Equal(t, []string{"X|", "Y|", "Y|R"}, seen)
}

func TestFrameWithScoreLatestScoresStoredFrame(t *testing.T) {
	r, mem := newTestRouter(t)
	_, err := mem.Capture(t.Context(), "OLD")
	require.NoError(t, err)

	w := do(r, http.MethodPost, "/signal/capture", `{"frame":"NEW","score_latest":true}`)
	require.Equal(t, http.StatusOK, w.Code)

	f, err := mem.Latest(t.Context())
	require.NoError(t, err)
	assert.Equal(t, "OLD", f.Data)
}

func TestCaptureFailingFrameStore(t *testing.T) {
	r := SetupRouter(testConfig(), Deps{Signals: store.NewMemory(), Frames: brokenFrames{}})
	w := do(r, http.MethodPost, "/signal/capture", `{"score_latest":true}`)
	assert.Equal(t, http.StatusInternalServerError, w.Code)
}
