package engine

import (
	"testing"
	"time"

	"github.com/csc13008-assignments/csc13008-jewelbid-sub000/pkg/types"
	"github.com/stretchr/testify/assert"
)

func TestMaybeExtend(t *testing.T) {
	policy := ExtensionPolicy{Trigger: DefaultTriggerWindow, Extension: DefaultExtensionWindow}

	tests := []struct {
		name       string
		autoExtend bool
		remaining  time.Duration
		extended   bool
	}{
		{"disabled", false, time.Minute, false},
		{"well before the window", true, time.Hour, false},
		{"exactly at the window", true, 5 * time.Minute, false},
		{"inside the window", true, 4*time.Minute + 59*time.Second, true},
		{"last second", true, time.Second, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			end := base.Add(tt.remaining)
			a := types.Auction{AutoExtend: tt.autoExtend, EndTime: end}

			assert.Equal(t, tt.extended, MaybeExtend(&a, base, policy))
			if tt.extended {
				assert.True(t, a.EndTime.Equal(end.Add(10*time.Minute)))
			} else {
				assert.True(t, a.EndTime.Equal(end))
			}
		})
	}
}

func TestMaybeExtend_ZeroExtension(t *testing.T) {
	a := types.Auction{AutoExtend: true, EndTime: base.Add(time.Minute)}
	assert.False(t, MaybeExtend(&a, base, ExtensionPolicy{Trigger: time.Hour}))
}
