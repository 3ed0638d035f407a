package main

import (
	"math"
	"testing"
)

func TestAdvanceSweep(t *testing.T) {
	tests := []struct {
		name           string
		low, step, end uint32
		want           uint32
		ok             bool
	}{
		{"mid sweep", 200, 10, 360, 210, true},
		{"last step", 350, 10, 360, 360, true},
		{"past end", 360, 10, 360, 0, false},
		{"step overshoots end", 355, 10, 360, 0, false},
		{"increment would wrap", math.MaxUint32 - 5, 10, math.MaxUint32, 0, false},
		{"end at max", math.MaxUint32 - 10, 10, math.MaxUint32, math.MaxUint32, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := advanceSweep(tt.low, tt.step, tt.end)
			if got != tt.want || ok != tt.ok {
				t.Errorf("advanceSweep(%d, %d, %d) = (%d, %v), want (%d, %v)",
					tt.low, tt.step, tt.end, got, ok, tt.want, tt.ok)
			}
		})
	}
}
