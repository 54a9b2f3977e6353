package main

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestDelayToInterval(t *testing.T) {
	tests := []struct {
		name    string
		seconds float64
		want    time.Duration
	}{
		{"sec edgar default", 0.1, 100 * time.Millisecond},
		{"url scrape default", 1.0, time.Second},
		{"long courtesy delay", 10.0, 10 * time.Second},
		{"zero disables spacing", 0, 0},
		{"negative disables spacing", -1, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, delayToInterval(tt.seconds))
		})
	}
}
