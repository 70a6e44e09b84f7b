// Package adb talks to the Android debug bridge: the standard
// host-to-device control channel used for screenshots, input injection,
// and file transfer (spec.md §6). Transport issues one-shot commands;
// DeviceChannel (channel.go) serializes them per device.
package adb

import (
	"bytes"
	"fmt"
	"os"
	"os/exec"
	"strconv"
	"strings"
)

// Transport wraps the adb binary. Grounded on the teacher's ADBClient
// (Sxcution-MonAndroid backend/adb/adb.go), generalized to the full
// DeviceChannel operation set spec.md §4.1 requires (pull, shell, key).
type Transport struct {
	ADBPath string
}

func New(adbPath string) *Transport {
	if adbPath == "" {
		adbPath = "adb"
	}
	return &Transport{ADBPath: adbPath}
}

// RawDevice is one line of `adb devices -l` output.
type RawDevice struct {
	Serial string
	State  string
	Model  string
}

func (t *Transport) run(args ...string) ([]byte, error) {
	cmd := exec.Command(t.ADBPath, args...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return nil, fmt.Errorf("adb %s: %w (stderr: %s)", strings.Join(args, " "), err, stderr.String())
	}
	return stdout.Bytes(), nil
}

func (t *Transport) shellArgs(serial string, args ...string) []string {
	full := []string{"-s", serial, "shell"}
	return append(full, args...)
}

// ListDevices returns every serial currently reporting "device" state.
func (t *Transport) ListDevices() ([]RawDevice, error) {
	out, err := t.run("devices", "-l")
	if err != nil {
		return nil, fmt.Errorf("failed to list devices: %w", err)
	}
	return parseDeviceList(string(out)), nil
}

func parseDeviceList(output string) []RawDevice {
	var devices []RawDevice
	lines := strings.Split(output, "\n")
	for i, line := range lines {
		if i == 0 || strings.TrimSpace(line) == "" {
			continue
		}
		parts := strings.Fields(line)
		if len(parts) < 2 {
			continue
		}
		d := RawDevice{Serial: parts[0], State: parts[1]}
		if d.State != "device" {
			continue
		}
		for _, p := range parts[2:] {
			if strings.HasPrefix(p, "model:") {
				d.Model = strings.ReplaceAll(strings.TrimPrefix(p, "model:"), "_", " ")
			}
		}
		devices = append(devices, d)
	}
	return devices
}

// ScreenSize returns (width, height), preferring an override size (set via
// `wm size <w>x<h>`) over the physical panel size, same precedence as the
// teacher's getScreenResolution.
func (t *Transport) ScreenSize(serial string) (int, int, error) {
	out, err := t.run(t.shellArgs(serial, "wm", "size")...)
	if err != nil {
		return 0, 0, err
	}
	var physical, override string
	for _, line := range strings.Split(string(out), "\n") {
		line = strings.TrimSpace(line)
		if idx := strings.Index(line, "Physical size:"); idx >= 0 {
			physical = strings.TrimSpace(line[idx+len("Physical size:"):])
		}
		if idx := strings.Index(line, "Override size:"); idx >= 0 {
			override = strings.TrimSpace(line[idx+len("Override size:"):])
		}
	}
	size := override
	if size == "" {
		size = physical
	}
	w, h, ok := strings.Cut(size, "x")
	if !ok {
		return 0, 0, fmt.Errorf("unparseable screen size %q", size)
	}
	width, err1 := strconv.Atoi(w)
	height, err2 := strconv.Atoi(h)
	if err1 != nil || err2 != nil {
		return 0, 0, fmt.Errorf("unparseable screen size %q", size)
	}
	return width, height, nil
}

func (t *Transport) Property(serial, name string) (string, error) {
	out, err := t.run(t.shellArgs(serial, "getprop", name)...)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(out)), nil
}

func (t *Transport) Battery(serial string) (int, error) {
	out, err := t.run(t.shellArgs(serial, "dumpsys", "battery")...)
	if err != nil {
		return 0, err
	}
	for _, line := range strings.Split(string(out), "\n") {
		if strings.Contains(line, "level:") {
			parts := strings.SplitN(line, ":", 2)
			if len(parts) == 2 {
				if v, err := strconv.Atoi(strings.TrimSpace(parts[1])); err == nil {
					return v, nil
				}
			}
		}
	}
	return 0, fmt.Errorf("battery level not found")
}

// Screenshot captures the framebuffer as PNG bytes via `screencap -p`.
func (t *Transport) Screenshot(serial string) ([]byte, error) {
	cmd := exec.Command(t.ADBPath, "-s", serial, "exec-out", "screencap", "-p")
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return nil, fmt.Errorf("screencap failed: %w (stderr: %s)", err, stderr.String())
	}
	return stdout.Bytes(), nil
}

func (t *Transport) Tap(serial string, x, y int) error {
	_, err := t.run("-s", serial, "shell", "input", "tap", strconv.Itoa(x), strconv.Itoa(y))
	return err
}

func (t *Transport) Swipe(serial string, x, y, ex, ey, durationMs int) error {
	_, err := t.run("-s", serial, "shell", "input", "swipe",
		strconv.Itoa(x), strconv.Itoa(y), strconv.Itoa(ex), strconv.Itoa(ey), strconv.Itoa(durationMs))
	return err
}

func (t *Transport) Key(serial string, keycode int) error {
	_, err := t.run("-s", serial, "shell", "input", "keyevent", strconv.Itoa(keycode))
	return err
}

func (t *Transport) LaunchApp(serial, pkg string) error {
	_, err := t.run("-s", serial, "shell", "monkey", "-p", pkg, "-c", "android.intent.category.LAUNCHER", "1")
	return err
}

func (t *Transport) ForceStop(serial, pkg string) error {
	_, err := t.run("-s", serial, "shell", "am", "force-stop", pkg)
	return err
}

func (t *Transport) Shell(serial, command string) (string, error) {
	out, err := t.run(t.shellArgs(serial, command)...)
	if err != nil {
		return "", err
	}
	return string(out), nil
}

// Pull copies a remote file off the device into memory via a temp file,
// since `adb pull` only writes to the local filesystem.
func (t *Transport) Pull(serial, remotePath string) ([]byte, error) {
	tmp, err := os.CreateTemp("", "fleet-pull-*")
	if err != nil {
		return nil, err
	}
	tmpPath := tmp.Name()
	tmp.Close()
	defer os.Remove(tmpPath)

	if _, err := t.run("-s", serial, "pull", remotePath, tmpPath); err != nil {
		return nil, fmt.Errorf("pull failed: %w", err)
	}
	return os.ReadFile(tmpPath)
}

// Push writes data to a remote path via a temp local file.
func (t *Transport) Push(serial string, data []byte, remotePath string) error {
	tmp, err := os.CreateTemp("", "fleet-push-*")
	if err != nil {
		return err
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath)
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	tmp.Close()

	_, err = t.run("-s", serial, "push", tmpPath, remotePath)
	return err
}
