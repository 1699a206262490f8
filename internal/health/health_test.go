package health_test

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/coreflow/backbone/internal/health"
	"github.com/gin-gonic/gin"
)

type fakePinger struct {
	err error
}

func (f fakePinger) Ping(ctx context.Context) error { return f.err }

func newRouter(c *health.Checker) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.GET("/liveness", c.Liveness)
	r.GET("/readiness", c.Readiness)
	return r
}

func TestLiveness_AlwaysOK(t *testing.T) {
	c := &health.Checker{DB: fakePinger{err: errors.New("down")}}
	r := newRouter(c)

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/liveness", nil))

	if w.Code != http.StatusOK {
		t.Fatalf("got status %d, want %d", w.Code, http.StatusOK)
	}
}

func TestReadiness_OKWhenDependenciesHealthy(t *testing.T) {
	c := &health.Checker{DB: fakePinger{}, Redis: fakePinger{}}
	r := newRouter(c)

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/readiness", nil))

	if w.Code != http.StatusOK {
		t.Fatalf("got status %d, want %d, body=%s", w.Code, http.StatusOK, w.Body.String())
	}
}

func TestReadiness_FailsWhenDBUnreachable(t *testing.T) {
	c := &health.Checker{DB: fakePinger{err: errors.New("down")}}
	r := newRouter(c)

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/readiness", nil))

	if w.Code != http.StatusServiceUnavailable {
		t.Fatalf("got status %d, want %d", w.Code, http.StatusServiceUnavailable)
	}
}

func TestReadiness_FailsWhileShuttingDown(t *testing.T) {
	c := &health.Checker{DB: fakePinger{}}
	c.MarkShuttingDown()
	r := newRouter(c)

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/readiness", nil))

	if w.Code != http.StatusServiceUnavailable {
		t.Fatalf("got status %d, want %d", w.Code, http.StatusServiceUnavailable)
	}
}
