package main

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aneuhold/taskd/internal/docstore/schema"
)

func TestParseEvery(t *testing.T) {
	tests := []struct {
		in   string
		want schema.Frequency
	}{
		{"day", schema.Frequency{EveryX: 1, Unit: schema.UnitDay}},
		{"2 weeks", schema.Frequency{EveryX: 2, Unit: schema.UnitWeek}},
		{"3d", schema.Frequency{EveryX: 3, Unit: schema.UnitDay}},
		{"12h", schema.Frequency{EveryX: 12, Unit: schema.UnitHour}},
		{"Month", schema.Frequency{EveryX: 1, Unit: schema.UnitMonth}},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := parseEvery(tt.in)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}

	for _, bad := range []string{"", "fortnight", "0 days", "x weeks", "every other day"} {
		_, err := parseEvery(bad)
		assert.Error(t, err, bad)
	}
}

func TestParseDate_ISO(t *testing.T) {
	base := time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC)

	got, err := parseDate("2026-04-01", base)
	require.NoError(t, err)
	assert.Equal(t, time.Date(2026, 4, 1, 0, 0, 0, 0, time.UTC), got)

	got, err = parseDate("2026-04-01 14:30", base)
	require.NoError(t, err)
	assert.Equal(t, time.Date(2026, 4, 1, 14, 30, 0, 0, time.UTC), got)

	_, err = parseDate("   ", base)
	assert.Error(t, err)
}

func TestParseDate_Natural(t *testing.T) {
	base := time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC)

	got, err := parseDate("tomorrow", base)
	require.NoError(t, err)
	assert.Equal(t, 11, got.Day())
	assert.Equal(t, time.March, got.Month())

	_, err = parseDate("qwerty", base)
	assert.Error(t, err)
}

func TestFormatFromPath(t *testing.T) {
	assert.Equal(t, "yaml", formatFromPath("out.yml"))
	assert.Equal(t, "toml", formatFromPath("OUT.TOML"))
	assert.Equal(t, "json", formatFromPath("dump.json"))
	assert.Equal(t, "jsonl", formatFromPath(""))
	assert.Equal(t, "jsonl", formatFromPath("dump.txt"))
}
