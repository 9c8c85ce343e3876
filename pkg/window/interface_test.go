package window

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/refocus/refocus/internal/models"
)

func TestWindowInfoSubject(t *testing.T) {
	tests := []struct {
		name string
		info *WindowInfo
		want models.Subject
	}{
		{"nil window", nil, models.NoSubject},
		{"app name", &WindowInfo{AppName: "Firefox", ProcessName: "firefox-bin"}, "firefox"},
		{"falls back to process", &WindowInfo{ProcessName: " Code "}, "code"},
		{"blank app name", &WindowInfo{AppName: "  ", ProcessName: "kitty"}, "kitty"},
		{"nothing known", &WindowInfo{WindowTitle: "untitled"}, models.NoSubject},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.info.Subject())
		})
	}
}

func TestIdleFor(t *testing.T) {
	assert.Equal(t, 90*time.Second, (&IdleInfo{IdleTime: 90}).IdleFor())
	assert.Zero(t, (&IdleInfo{}).IdleFor())
}
