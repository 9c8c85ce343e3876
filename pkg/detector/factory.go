package detector

import (
	"fmt"
	"os"

	"github.com/refocus/refocus/pkg/integrations/wayland"
	"github.com/refocus/refocus/pkg/integrations/x11"
	"github.com/refocus/refocus/pkg/window"
)

// New picks the window detector for the current session. Wayland sessions
// fall back to XWayland through the X11 detector when the compositor has no
// supported IPC.
func New() (window.Detector, error) {
	switch DetectDisplayServer() {
	case window.DisplayWayland:
		if det := wayland.NewDetector(); det.IsAvailable() {
			return det, nil
		}
		if os.Getenv("DISPLAY") != "" {
			return x11.NewDetector(""), nil
		}
		return nil, fmt.Errorf("%w: no supported wayland compositor found", window.ErrUnavailable)
	case window.DisplayX11:
		return x11.NewDetector(""), nil
	default:
		return nil, fmt.Errorf("%w: no display server detected", window.ErrUnavailable)
	}
}

func DetectDisplayServer() string {
	sessionType := os.Getenv("XDG_SESSION_TYPE")
	waylandDisplay := os.Getenv("WAYLAND_DISPLAY")
	x11Display := os.Getenv("DISPLAY")

	if sessionType == window.DisplayWayland || waylandDisplay != "" {
		return window.DisplayWayland
	}

	if sessionType == window.DisplayX11 || x11Display != "" {
		return window.DisplayX11
	}

	return "unknown"
}
