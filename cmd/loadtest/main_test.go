package main

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestPercentile(t *testing.T) {
	sorted := []time.Duration{1, 2, 3, 4, 5, 6, 7, 8, 9, 10}
	assert.Equal(t, time.Duration(5), percentile(sorted, 50))
	assert.Equal(t, time.Duration(10), percentile(sorted, 99))
	assert.Equal(t, time.Duration(1), percentile(sorted, 0))
	assert.Zero(t, percentile(nil, 50))
}

func TestRecordRequest(t *testing.T) {
	s := NewStats()
	s.RecordRequest(time.Millisecond, 200, true, nil)
	s.RecordRequest(time.Millisecond, 200, false, nil)
	s.RecordRequest(time.Millisecond, 429, false, nil)
	s.RecordRequest(time.Millisecond, 0, false, errors.New("refused"))

	assert.Equal(t, int64(4), s.totalRequests.Load())
	assert.Equal(t, int64(2), s.successCount.Load())
	assert.Equal(t, int64(2), s.errorCount.Load())
	assert.Equal(t, int64(1), s.cacheHits.Load())
	assert.Len(t, s.latencies, 3)
	assert.Equal(t, int64(1), s.statusCodes[429].Load())
}
