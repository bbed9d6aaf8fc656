package telemetry

import (
	"context"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestMeasurementsRecord(t *testing.T) {
	m := New()

	assert.False(t, m.RecordHistogramTime("wait", time.Second))
	assert.False(t, m.IncrementCounter("submitted"))
	assert.False(t, m.IncrementGauge("pending"))

	m.CreateUpdateObservableHistogram("wait", "wait time")
	m.CreateUpdateObservableCounter("submitted", "submitted transactions")
	m.CreateUpdateObservableGauge("pending", "pending transactions")

	assert.True(t, m.RecordHistogramTime("wait", time.Second))
	assert.True(t, m.IncrementCounter("submitted"))
	assert.True(t, m.IncrementGauge("pending"))
	assert.True(t, m.DecrementGauge("pending"))

	m.CreateUpdateObservableCounter("submitted", "submitted transactions")
	assert.True(t, m.IncrementCounter("submitted"))

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	body := rec.Body.String()
	assert.True(t, strings.Contains(body, "submitted 1"))
	assert.True(t, strings.Contains(body, "wait_count 1"))
	assert.True(t, strings.Contains(body, "pending 0"))
}

func TestRunRejectsPort(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	err := Run(ctx, cancel, 70000, New())
	assert.NotNil(t, err)
}
