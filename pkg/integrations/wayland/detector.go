package wayland

import (
	"context"
	"fmt"
	"os/exec"
	"strings"
	"time"

	"github.com/shirou/gopsutil/v4/process"
	"github.com/tidwall/gjson"

	"github.com/refocus/refocus/pkg/window"
)

const commandTimeout = 2 * time.Second

// compositor process name -> compositor id
var compositors = map[string]string{
	"sway":        "sway",
	"Hyprland":    "hyprland",
	"gnome-shell": "gnome",
}

var lockers = []string{"swaylock", "waylock", "gtklock", "hyprlock", "gnome-screensaver-dialog"}

// runFunc executes a command and returns its stdout.
type runFunc func(ctx context.Context, name string, args ...string) ([]byte, error)

func execRun(ctx context.Context, name string, args ...string) ([]byte, error) {
	return exec.CommandContext(ctx, name, args...).Output()
}

// Detector implements window.Detector for Wayland compositors that expose the
// focused window over IPC.
type Detector struct {
	compositor string
	run        runFunc
	lookPath   func(string) (string, error)
}

// NewDetector creates a new Wayland detector
func NewDetector() *Detector {
	d := &Detector{run: execRun, lookPath: exec.LookPath}
	d.compositor = detectCompositor(runningProcessNames())
	return d
}

func runningProcessNames() map[string]bool {
	names := make(map[string]bool)
	procs, err := process.Processes()
	if err != nil {
		return names
	}
	for _, p := range procs {
		if name, err := p.Name(); err == nil {
			names[name] = true
		}
	}
	return names
}

func detectCompositor(running map[string]bool) string {
	for proc, name := range compositors {
		if running[proc] {
			return name
		}
	}
	return "unknown"
}

// IsAvailable checks if Wayland detection is available
func (d *Detector) IsAvailable() bool {
	var tool string
	switch d.compositor {
	case "sway":
		tool = "swaymsg"
	case "hyprland":
		tool = "hyprctl"
	case "gnome":
		tool = "gdbus"
	default:
		return false
	}
	_, err := d.lookPath(tool)
	return err == nil
}

// GetDisplayServer returns window.DisplayWayland.
func (d *Detector) GetDisplayServer() string {
	return window.DisplayWayland
}

// GetFocusedWindow returns information about the currently focused window
func (d *Detector) GetFocusedWindow() (*window.WindowInfo, error) {
	ctx, cancel := context.WithTimeout(context.Background(), commandTimeout)
	defer cancel()

	var (
		info *window.WindowInfo
		err  error
	)
	switch d.compositor {
	case "sway":
		info, err = d.focusedSway(ctx)
	case "hyprland":
		info, err = d.focusedHyprland(ctx)
	case "gnome":
		info, err = d.focusedGnome(ctx)
	default:
		return nil, fmt.Errorf("%w: unsupported wayland compositor %q", window.ErrUnavailable, d.compositor)
	}
	if err != nil {
		return nil, err
	}

	info.DisplayServer = window.DisplayWayland
	if info.ProcessName == "" {
		info.ProcessName = processNameForPID(info.PID)
	}
	if info.AppName == "" {
		info.AppName = info.ProcessName
	}
	return info, nil
}

func (d *Detector) focusedSway(ctx context.Context) (*window.WindowInfo, error) {
	output, err := d.run(ctx, "swaymsg", "-t", "get_tree", "-r")
	if err != nil {
		return nil, fmt.Errorf("failed to execute swaymsg: %w", err)
	}
	return parseSwayTree(output)
}

// parseSwayTree walks the sway layout tree to the focused node.
func parseSwayTree(output []byte) (*window.WindowInfo, error) {
	if !gjson.ValidBytes(output) {
		return nil, fmt.Errorf("invalid swaymsg output")
	}

	node, ok := findFocused(gjson.ParseBytes(output))
	if !ok {
		return &window.WindowInfo{}, nil
	}

	appName := node.Get("app_id").String()
	if appName == "" {
		appName = node.Get("window_properties.class").String()
	}
	return &window.WindowInfo{
		AppName:     appName,
		WindowTitle: node.Get("name").String(),
		PID:         int(node.Get("pid").Int()),
	}, nil
}

func findFocused(node gjson.Result) (gjson.Result, bool) {
	if node.Get("focused").Bool() && node.Get("pid").Exists() {
		return node, true
	}
	for _, key := range []string{"nodes", "floating_nodes"} {
		for _, child := range node.Get(key).Array() {
			if found, ok := findFocused(child); ok {
				return found, true
			}
		}
	}
	return gjson.Result{}, false
}

func (d *Detector) focusedHyprland(ctx context.Context) (*window.WindowInfo, error) {
	output, err := d.run(ctx, "hyprctl", "activewindow", "-j")
	if err != nil {
		return nil, fmt.Errorf("failed to execute hyprctl: %w", err)
	}
	return parseHyprlandWindow(output)
}

func parseHyprlandWindow(output []byte) (*window.WindowInfo, error) {
	if !gjson.ValidBytes(output) {
		return nil, fmt.Errorf("invalid hyprctl output")
	}
	result := gjson.ParseBytes(output)
	return &window.WindowInfo{
		AppName:     result.Get("class").String(),
		WindowTitle: result.Get("title").String(),
		PID:         int(result.Get("pid").Int()),
	}, nil
}

const gnomeScript = `(() => {
	const w = global.display.get_focus_window();
	if (!w) return JSON.stringify({});
	return JSON.stringify({wm_class: w.get_wm_class() || '', title: w.get_title() || '', pid: w.get_pid() || 0});
})()`

func (d *Detector) focusedGnome(ctx context.Context) (*window.WindowInfo, error) {
	output, err := d.run(ctx, "gdbus", "call", "--session",
		"--dest", "org.gnome.Shell",
		"--object-path", "/org/gnome/Shell",
		"--method", "org.gnome.Shell.Eval",
		gnomeScript)
	if err != nil {
		return nil, fmt.Errorf("failed to call org.gnome.Shell.Eval: %w", err)
	}
	return parseGnomeEval(string(output))
}

// parseGnomeEval decodes the "(true, '<json>')" tuple printed by gdbus.
// GNOME 41+ answers (false, '') unless unsafe mode is on, which is reported
// as a permission problem.
func parseGnomeEval(output string) (*window.WindowInfo, error) {
	output = strings.TrimSpace(output)
	if strings.HasPrefix(output, "(false") {
		return nil, fmt.Errorf("%w: org.gnome.Shell.Eval is disabled", window.ErrPermissionDenied)
	}

	start := strings.Index(output, "{")
	end := strings.LastIndex(output, "}")
	if start == -1 || end < start {
		return nil, fmt.Errorf("invalid gdbus output: %q", output)
	}
	payload := strings.ReplaceAll(output[start:end+1], `\"`, `"`)
	if !gjson.Valid(payload) {
		return nil, fmt.Errorf("invalid gnome shell payload: %q", payload)
	}

	result := gjson.Parse(payload)
	return &window.WindowInfo{
		AppName:     result.Get("wm_class").String(),
		WindowTitle: result.Get("title").String(),
		PID:         int(result.Get("pid").Int()),
	}, nil
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

// GetIdleInfo reports the lock state. Wayland offers no portable idle time,
// so IdleTime is always zero.
func (d *Detector) GetIdleInfo() (*window.IdleInfo, error) {
	running := runningProcessNames()
	for _, locker := range lockers {
		if running[locker] {
			return &window.IdleInfo{IsLocked: true}, nil
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), commandTimeout)
	defer cancel()
	if output, err := d.run(ctx, "loginctl", "show-session", "-p", "LockedHint"); err == nil {
		if strings.Contains(string(output), "LockedHint=yes") {
			return &window.IdleInfo{IsLocked: true}, nil
		}
	}

	return &window.IdleInfo{}, nil
}

// Close cleans up resources
func (d *Detector) Close() error {
	return nil
}
