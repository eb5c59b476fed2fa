package sysmgr

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestShouldActivateAboveNoChatter(t *testing.T) {
	const max, h = 30.0, 2.0

	on := false
	for _, v := range []float64{29, 29.9, 30} {
		on = ShouldActivateAbove(v, max, h, on)
		assert.False(t, on, "must not turn on at %.1f", v)
	}

	on = ShouldActivateAbove(30.1, max, h, on)
	assert.True(t, on)

	for _, v := range []float64{29.9, 28.5, 30.05, 28.01, 29} {
		on = ShouldActivateAbove(v, max, h, on)
		assert.True(t, on, "must stay on at %.2f", v)
	}

	on = ShouldActivateAbove(28, max, h, on)
	assert.False(t, on, "turns off once value reaches max-hysteresis")
}

func TestShouldActivateBelow(t *testing.T) {
	tests := []struct {
		name  string
		value float64
		prev  bool
		want  bool
	}{
		{"off above min", 18.5, false, false},
		{"off at min", 18, false, false},
		{"off below min", 17.9, false, true},
		{"on inside deadband", 19.5, true, true},
		{"on at min+h", 20, true, false},
		{"on above deadband", 21, true, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ShouldActivateBelow(tt.value, 18, 2, tt.prev))
		})
	}
}

func TestZeroHysteresis(t *testing.T) {
	assert.True(t, ShouldActivateAbove(30.1, 30, 0, true))
	assert.False(t, ShouldActivateAbove(30, 30, 0, true))
	assert.False(t, ShouldActivateBelow(18, 18, 0, true))
}
