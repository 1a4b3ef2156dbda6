package db

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestOrNowFillsZeroTimestamps(t *testing.T) {
	got := orNow(time.Time{})
	assert.False(t, got.IsZero())
	assert.WithinDuration(t, time.Now(), got, time.Minute)

	set := time.Date(2026, 3, 14, 9, 26, 53, 0, time.UTC)
	assert.Equal(t, set, orNow(set))
}
