package main

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestResolveWindow(t *testing.T) {
	now := time.Date(2024, 3, 15, 12, 0, 0, 0, time.UTC)

	tests := []struct {
		name     string
		from, to string
		days     int
		wantFrom time.Time
		wantTo   time.Time
		wantErr  bool
	}{
		{name: "everything"},
		{name: "trailing days", days: 7, wantFrom: time.Date(2024, 3, 8, 12, 0, 0, 0, time.UTC)},
		{
			name:     "inclusive dates",
			from:     "2024-03-01",
			to:       "2024-03-10",
			days:     7,
			wantFrom: time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC),
			wantTo:   time.Date(2024, 3, 11, 0, 0, 0, 0, time.UTC),
		},
		{name: "open end", from: "2024-03-01", wantFrom: time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)},
		{name: "same day", from: "2024-03-01", to: "2024-03-01",
			wantFrom: time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC),
			wantTo:   time.Date(2024, 3, 2, 0, 0, 0, 0, time.UTC)},
		{name: "bad from", from: "03/01/2024", wantErr: true},
		{name: "bad to", to: "tomorrow", wantErr: true},
		{name: "inverted", from: "2024-03-10", to: "2024-03-01", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			window, err := resolveWindow(tt.from, tt.to, tt.days, now)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantFrom, window.From)
			assert.Equal(t, tt.wantTo, window.To)
		})
	}
}
