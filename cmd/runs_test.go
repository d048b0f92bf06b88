package main

import (
	"bytes"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/sells-group/persistence-cli/internal/store"
)

func TestFormatRunsList(t *testing.T) {
	now := time.Date(2025, 6, 15, 10, 30, 0, 0, time.UTC)
	runs := []store.Run{
		{
			ID: "abc12345-6789-0000-0000-000000000000",
			Spec: store.RunSpec{
				Name:      "RS2_2010",
				Mode:      "day",
				Slices:    []string{"20100613", "20100720"},
				Distances: []int{0, 500, 1000},
			},
			Status:    store.RunStatusComplete,
			CreatedAt: now,
			UpdatedAt: now.Add(2 * time.Minute),
		},
		{
			ID:        "def12345-6789-0000-0000-000000000000",
			Spec:      store.RunSpec{Name: "persistent_targets_2009to2011", Mode: "year"},
			Status:    store.RunStatusRunning,
			CreatedAt: now.Add(-1 * time.Hour),
			UpdatedAt: now.Add(-30 * time.Minute),
		},
	}

	var buf bytes.Buffer
	formatRunsList(&buf, runs)

	output := buf.String()
	assert.Contains(t, output, "ID")
	assert.Contains(t, output, "DISTANCES")
	assert.Contains(t, output, "RS2_2010")
	assert.Contains(t, output, "0,500,1000")
	assert.Contains(t, output, "complete")
	assert.Contains(t, output, "persistent_targets_2009to2011")
	assert.Contains(t, output, "running")
	assert.Contains(t, output, "2025-06-15 10:30")
	assert.Contains(t, output, "abc12345")
	assert.Contains(t, output, "2m0s")
	assert.NotContains(t, output, "abc12345-6789")
}

func TestFormatRunsList_FailedRun(t *testing.T) {
	now := time.Date(2025, 6, 15, 10, 30, 0, 0, time.UTC)
	runs := []store.Run{
		{
			ID:        "abc12345-6789-0000-0000-000000000000",
			Spec:      store.RunSpec{Name: "RS2_2010"},
			Status:    store.RunStatusFailed,
			Error:     "persistence: distance 500: overlay slice 20100613: context deadline exceeded",
			CreatedAt: now,
			UpdatedAt: now.Add(30 * time.Second),
		},
	}

	var buf bytes.Buffer
	formatRunsList(&buf, runs)

	output := buf.String()
	assert.Contains(t, output, "failed: persistence: distance 500: overlay sl...")
}

func TestTruncateID(t *testing.T) {
	assert.Equal(t, "abc12345", truncateID("abc12345-6789"))
	assert.Equal(t, "short", truncateID("short"))
}

func TestFormatDistances(t *testing.T) {
	assert.Equal(t, "0,500", formatDistances([]int{0, 500}))
	assert.Equal(t, "", formatDistances(nil))
}
