package models

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func window(start, end string) LifecycleWindow {
	s, _ := time.Parse("2006-01-02", start)
	e, _ := time.Parse("2006-01-02", end)
	return LifecycleWindow{StartDate: s, EndDate: e}
}

func TestPhaseUpcoming(t *testing.T) {
	w := window("2026-06-01", "2026-09-30")
	now := time.Date(2026, 5, 31, 23, 0, 0, 0, time.UTC)
	assert.Equal(t, BatchPhaseUpcoming, w.Phase(now))
}

func TestPhaseActiveBetween(t *testing.T) {
	w := window("2026-06-01", "2026-09-30")
	now := time.Date(2026, 7, 15, 12, 0, 0, 0, time.UTC)
	assert.Equal(t, BatchPhaseActive, w.Phase(now))

	// Idempotent under repeated calls with the same inputs.
	assert.Equal(t, w.Phase(now), w.Phase(now))
}

func TestPhaseBoundaryDays(t *testing.T) {
	w := window("2026-06-01", "2026-09-30")

	// The start day itself is active regardless of time of day.
	assert.Equal(t, BatchPhaseActive, w.Phase(time.Date(2026, 6, 1, 0, 0, 1, 0, time.UTC)))
	// The end day is inclusive through its last instant.
	assert.Equal(t, BatchPhaseActive, w.Phase(time.Date(2026, 9, 30, 23, 59, 59, 0, time.UTC)))
	// The following midnight flips to completed.
	assert.Equal(t, BatchPhaseCompleted, w.Phase(time.Date(2026, 10, 1, 0, 0, 0, 0, time.UTC)))
}

func TestPhaseSingleDayWindow(t *testing.T) {
	w := window("2026-06-01", "2026-06-01")
	assert.Equal(t, BatchPhaseActive, w.Phase(time.Date(2026, 6, 1, 9, 0, 0, 0, time.UTC)))
	assert.Equal(t, BatchPhaseCompleted, w.Phase(time.Date(2026, 6, 2, 0, 0, 0, 0, time.UTC)))
}

func TestNextBatchCode(t *testing.T) {
	tests := []struct {
		name     string
		prefix   string
		existing []string
		want     string
	}{
		{"next after max", "DM", []string{"DMB1", "DMB2", "DMB7"}, "DMB8"},
		{"empty set starts at one", "DM", nil, "DMB1"},
		{"no cross-prefix leakage", "DM", []string{"WDB3"}, "DMB1"},
		{"malformed codes skipped", "DM", []string{"DMB2", "DM-OLD", "DMBx", "B9"}, "DMB3"},
		{"gaps never reused", "DM", []string{"DMB9"}, "DMB10"},
		{"multi-letter prefix", "FSD", []string{"FSDB11", "FSDB2"}, "FSDB12"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, NextBatchCode(tt.prefix, tt.existing))
		})
	}
}
