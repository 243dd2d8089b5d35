package health

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type pinger struct{ err error }

func (p pinger) Ping(context.Context) error { return p.err }

func TestRunAggregatesWorstStatus(t *testing.T) {
	c := NewChecker()
	c.Register("db", PingCheck(pinger{}, true))
	c.Register("cache", PingCheck(pinger{err: errors.New("refused")}, false))

	report := c.Run(context.Background())
	assert.Equal(t, StatusDegraded, report.Status)
	assert.Equal(t, "refused", report.Components["cache"].Message)
	assert.NotEmpty(t, report.Components["db"].Latency)

	c.Register("db", PingCheck(pinger{err: errors.New("down")}, true))
	assert.Equal(t, StatusDown, c.Run(context.Background()).Status)
}

func TestReadyHandler(t *testing.T) {
	c := NewChecker()
	c.Register("index", func(context.Context) ComponentHealth { return ComponentHealth{Status: StatusUp} })

	rec := httptest.NewRecorder()
	c.ReadyHandler()(rec, httptest.NewRequest("GET", "/health/ready", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	var report Report
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&report))
	assert.Equal(t, StatusUp, report.Status)

	c.Register("db", PingCheck(pinger{err: errors.New("down")}, true))
	rec = httptest.NewRecorder()
	c.ReadyHandler()(rec, httptest.NewRequest("GET", "/health/ready", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}
