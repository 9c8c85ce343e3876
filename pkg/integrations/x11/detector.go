package x11

import (
	"encoding/binary"
	"fmt"
	"strings"
	"sync"

	"github.com/jezek/xgb"
	"github.com/jezek/xgb/screensaver"
	"github.com/jezek/xgb/xproto"
	"github.com/shirou/gopsutil/v4/process"

	"github.com/refocus/refocus/pkg/window"
)

var atomNames = []string{
	"_NET_ACTIVE_WINDOW",
	"_NET_WM_NAME",
	"_NET_WM_PID",
	"WM_NAME",
	"WM_CLASS",
	"UTF8_STRING",
}

// Detector implements window.Detector by talking to the X server directly.
// The connection is opened lazily and re-opened after it breaks.
type Detector struct {
	display string

	mu             sync.Mutex
	conn           *xgb.Conn
	root           xproto.Window
	atoms          map[string]xproto.Atom
	hasScreensaver bool
}

// NewDetector creates a new X11 detector for the given display. An empty
// display uses $DISPLAY.
func NewDetector(display string) *Detector {
	return &Detector{display: display}
}

// IsAvailable checks if an X server accepts our connection
func (d *Detector) IsAvailable() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.connect() == nil
}

// GetDisplayServer returns window.DisplayX11.
func (d *Detector) GetDisplayServer() string {
	return window.DisplayX11
}

func (d *Detector) connect() error {
	if d.conn != nil {
		return nil
	}

	conn, err := xgb.NewConnDisplay(d.display)
	if err != nil {
		return classifyConnError(err)
	}

	atoms := make(map[string]xproto.Atom, len(atomNames))
	for _, name := range atomNames {
		reply, err := xproto.InternAtom(conn, false, uint16(len(name)), name).Reply()
		if err != nil {
			conn.Close()
			return fmt.Errorf("%w: intern atom %s: %v", window.ErrUnavailable, name, err)
		}
		atoms[name] = reply.Atom
	}

	d.conn = conn
	d.root = xproto.Setup(conn).DefaultScreen(conn).Root
	d.atoms = atoms
	d.hasScreensaver = screensaver.Init(conn) == nil
	return nil
}

func (d *Detector) reset() {
	if d.conn != nil {
		d.conn.Close()
		d.conn = nil
	}
}

// classifyConnError separates X authority rejections from a missing server.
func classifyConnError(err error) error {
	msg := strings.ToLower(err.Error())
	if strings.Contains(msg, "authoriz") || strings.Contains(msg, "authentic") || strings.Contains(msg, "access") {
		return fmt.Errorf("%w: %v", window.ErrPermissionDenied, err)
	}
	return fmt.Errorf("%w: %v", window.ErrUnavailable, err)
}

// GetFocusedWindow returns information about the currently focused window
func (d *Detector) GetFocusedWindow() (*window.WindowInfo, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if err := d.connect(); err != nil {
		return nil, err
	}

	win, err := d.activeWindow()
	if err != nil {
		d.reset()
		return nil, err
	}
	if win == 0 {
		return &window.WindowInfo{DisplayServer: window.DisplayX11}, nil
	}

	instance, class := parseWMClass(d.property(win, d.atoms["WM_CLASS"], xproto.AtomString, 256))
	pid := d.windowPID(win)
	processName := processNameForPID(pid)

	appName := class
	if appName == "" {
		appName = instance
	}
	if appName == "" {
		appName = processName
	}

	return &window.WindowInfo{
		AppName:       appName,
		WindowTitle:   d.windowName(win),
		ProcessName:   processName,
		PID:           pid,
		DisplayServer: window.DisplayX11,
	}, nil
}

// activeWindow prefers _NET_ACTIVE_WINDOW and falls back to the input focus
// for window managers that do not maintain EWMH hints.
func (d *Detector) activeWindow() (xproto.Window, error) {
	reply, err := xproto.GetProperty(d.conn, false, d.root, d.atoms["_NET_ACTIVE_WINDOW"], xproto.AtomWindow, 0, 1).Reply()
	if err != nil {
		return 0, fmt.Errorf("%w: read _NET_ACTIVE_WINDOW: %v", window.ErrUnavailable, err)
	}
	if len(reply.Value) >= 4 {
		if win := xproto.Window(binary.LittleEndian.Uint32(reply.Value)); win != 0 {
			return win, nil
		}
	}

	focus, err := xproto.GetInputFocus(d.conn).Reply()
	if err != nil {
		return 0, fmt.Errorf("%w: get input focus: %v", window.ErrUnavailable, err)
	}
	if focus.Focus == 0 || focus.Focus == d.root {
		return 0, nil
	}
	return d.topLevel(focus.Focus), nil
}

func (d *Detector) topLevel(win xproto.Window) xproto.Window {
	for {
		reply, err := xproto.QueryTree(d.conn, win).Reply()
		if err != nil || reply.Parent == d.root || reply.Parent == 0 {
			return win
		}
		win = reply.Parent
	}
}

func (d *Detector) property(win xproto.Window, atom, atomType xproto.Atom, length uint32) []byte {
	reply, err := xproto.GetProperty(d.conn, false, win, atom, atomType, 0, length).Reply()
	if err != nil {
		return nil
	}
	return reply.Value
}

func (d *Detector) windowName(win xproto.Window) string {
	if data := d.property(win, d.atoms["_NET_WM_NAME"], d.atoms["UTF8_STRING"], 256); len(data) > 0 {
		return strings.TrimRight(string(data), "\x00")
	}
	return strings.TrimRight(string(d.property(win, d.atoms["WM_NAME"], xproto.AtomString, 256)), "\x00")
}

func (d *Detector) windowPID(win xproto.Window) int {
	data := d.property(win, d.atoms["_NET_WM_PID"], xproto.AtomCardinal, 1)
	if len(data) < 4 {
		return 0
	}
	return int(binary.LittleEndian.Uint32(data))
}

// parseWMClass splits the raw WM_CLASS property ("instance\0class\0").
func parseWMClass(data []byte) (instance, class string) {
	parts := strings.Split(strings.TrimRight(string(data), "\x00"), "\x00")
	if len(parts) >= 1 {
		instance = strings.TrimSpace(parts[0])
	}
	if len(parts) >= 2 {
		class = strings.TrimSpace(parts[1])
	}
	return instance, class
}

func processNameForPID(pid int) string {
	if pid <= 0 {
		return ""
	}
	proc, err := process.NewProcess(int32(pid))
	if err != nil {
		return ""
	}
	name, err := proc.Name()
	if err != nil {
		return ""
	}
	return name
}

// GetIdleInfo reads the MIT-SCREEN-SAVER extension. Idle is left to the
// caller's threshold; IsIdle only reflects an active screensaver.
func (d *Detector) GetIdleInfo() (*window.IdleInfo, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if err := d.connect(); err != nil {
		return nil, err
	}
	if !d.hasScreensaver {
		return nil, fmt.Errorf("%w: MIT-SCREEN-SAVER extension missing", window.ErrUnavailable)
	}

	info, err := screensaver.QueryInfo(d.conn, xproto.Drawable(d.root)).Reply()
	if err != nil {
		d.reset()
		return nil, fmt.Errorf("failed to query screensaver: %w", err)
	}

	active := info.State == screensaver.StateOn
	return &window.IdleInfo{
		IsIdle:   active,
		IsLocked: active,
		IdleTime: int64(info.MsSinceUserInput / 1000),
	}, nil
}

// Close cleans up resources
func (d *Detector) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.reset()
	return nil
}
