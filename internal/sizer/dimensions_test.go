package sizer

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestFitDimensions(t *testing.T) {
	tests := []struct {
		name         string
		w, h, max    int
		wantW, wantH int
	}{
		{"within bound", 1920, 1080, 3000, 1920, 1080},
		{"exactly at bound", 3000, 2000, 3000, 3000, 2000},
		{"landscape", 6000, 4000, 3000, 3000, 2000},
		{"portrait", 4000, 6000, 3000, 2000, 3000},
		{"square", 5000, 5000, 3000, 3000, 3000},
		{"extreme strip", 90000, 10, 3000, 3000, 1},
		{"no bound", 9000, 9000, 0, 9000, 9000},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w, h := FitDimensions(tt.w, tt.h, tt.max)
			assert.Equal(t, tt.wantW, w)
			assert.Equal(t, tt.wantH, h)
		})
	}
}
