package handlers

import (
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/mossy-p/fabcam/config"
	"github.com/mossy-p/fabcam/internal/scoring"
	"github.com/mossy-p/fabcam/internal/store"
)

func TestMain(m *testing.M) {
	gin.SetMode(gin.TestMode)
	os.Exit(m.Run())
}

func testConfig() *config.Config {
	return &config.Config{
		Environment:    "test",
		AllowedOrigins: []string{"http://localhost:3000"},
	}
}

func newTestRouter(t *testing.T) (*gin.Engine, *store.Memory) {
	t.Helper()
	mem := store.NewMemory()
	r := SetupRouter(testConfig(), Deps{
		Signals: mem,
		Frames:  mem,
		Scorer:  scoring.Fixed{Scores: scoring.Fallback},
	})
	return r, mem
}

func do(r http.Handler, method, path, body string) *httptest.ResponseRecorder {
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}
