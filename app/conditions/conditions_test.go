package conditions

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func intPtr(v int) *int           { return &v }
func floatPtr(v float64) *float64 { return &v }

func TestNewChecker(t *testing.T) {
	assert.Nil(t, NewChecker(Config{}), "no conditions means no guard")
	assert.NotNil(t, NewChecker(Config{CPUBelow: intPtr(80)}))
}

func TestChecker_Check(t *testing.T) {
	tbl := []struct {
		name       string
		cfg        Config
		wantOK     bool
		wantReason string
	}{
		{
			name:   "cpu below generous threshold passes",
			cfg:    Config{CPUBelow: intPtr(101)},
			wantOK: true,
		},
		{
			name:       "cpu threshold zero always fails",
			cfg:        Config{CPUBelow: intPtr(0)},
			wantOK:     false,
			wantReason: "CPU at",
		},
		{
			name:   "memory below generous threshold passes",
			cfg:    Config{MemoryBelow: intPtr(101)},
			wantOK: true,
		},
		{
			name:       "memory threshold zero always fails",
			cfg:        Config{MemoryBelow: intPtr(0)},
			wantOK:     false,
			wantReason: "memory at",
		},
		{
			name:   "load below generous threshold passes",
			cfg:    Config{LoadAvgBelow: floatPtr(10000)},
			wantOK: true,
		},
		{
			name:   "disk free above tiny threshold passes",
			cfg:    Config{DiskFreeAbove: intPtr(0), DiskFreePath: "/"},
			wantOK: true,
		},
		{
			name:       "disk free above impossible threshold fails",
			cfg:        Config{DiskFreeAbove: intPtr(101)},
			wantOK:     false,
			wantReason: "disk free at",
		},
		{
			name:   "all conditions together",
			cfg:    Config{CPUBelow: intPtr(101), MemoryBelow: intPtr(101), LoadAvgBelow: floatPtr(10000)},
			wantOK: true,
		},
	}

	for _, tt := range tbl {
		t.Run(tt.name, func(t *testing.T) {
			checker := NewChecker(tt.cfg)
			require.NotNil(t, checker)
			checker.cpuInterval = 10 * time.Millisecond // keep the cpu sample short in tests

			ok, reason := checker.Check()
			assert.Equal(t, tt.wantOK, ok)
			if tt.wantReason == "" {
				assert.Empty(t, reason)
				return
			}
			assert.Contains(t, reason, tt.wantReason)
		})
	}
}
