package adb

import (
	"context"
	"errors"
	"fmt"
)

// maxTransientRetries bounds the retry loop for a single bridge call
// (spec.md §7: "retried at the DeviceChannel call site up to a small
// bound (e.g., 3)").
const maxTransientRetries = 3

// BridgeError wraps a transport failure that exceeded its retry budget.
// DeviceChannel never swallows these; they propagate to the caller.
type BridgeError struct {
	Serial string
	Op     string
	Err    error
}

func (e *BridgeError) Error() string {
	return fmt.Sprintf("bridge error on %s during %s: %v", e.Serial, e.Op, e.Err)
}

func (e *BridgeError) Unwrap() error { return e.Err }

var ErrChannelClosed = errors.New("device channel closed")

type job struct {
	run    func() (interface{}, error)
	result chan jobResult
}

type jobResult struct {
	val interface{}
	err error
}

// DeviceChannel is the single-writer command channel to one device
// (spec.md §4.1): every outbound command is serialized through it so two
// operations never race on the same device.
type DeviceChannel struct {
	Serial    string
	transport *Transport
	onOffline func(serial string, err error)

	jobs chan job
	done chan struct{}
}

func NewDeviceChannel(serial string, transport *Transport, onOffline func(string, error)) *DeviceChannel {
	dc := &DeviceChannel{
		Serial:    serial,
		transport: transport,
		onOffline: onOffline,
		jobs:      make(chan job, 32),
		done:      make(chan struct{}),
	}
	go dc.loop()
	return dc
}

func (dc *DeviceChannel) loop() {
	for {
		select {
		case j := <-dc.jobs:
			val, err := j.run()
			j.result <- jobResult{val, err}
		case <-dc.done:
			return
		}
	}
}

// Close stops accepting new commands. In-flight commands still complete.
func (dc *DeviceChannel) Close() {
	close(dc.done)
}

func (dc *DeviceChannel) submit(op string, fn func() (interface{}, error)) (interface{}, error) {
	j := job{run: fn, result: make(chan jobResult, 1)}
	select {
	case dc.jobs <- j:
	case <-dc.done:
		return nil, ErrChannelClosed
	}

	var last jobResult
	select {
	case last = <-j.result:
	case <-dc.done:
		return nil, ErrChannelClosed
	}

	if last.err != nil {
		be := &BridgeError{Serial: dc.Serial, Op: op, Err: last.err}
		if dc.onOffline != nil {
			dc.onOffline(dc.Serial, be)
		}
		return nil, be
	}
	return last.val, nil
}

// withRetry retries a transport call up to maxTransientRetries times before
// classifying it as a bridge error.
func withRetry(fn func() error) func() (interface{}, error) {
	return func() (interface{}, error) {
		var err error
		for attempt := 0; attempt < maxTransientRetries; attempt++ {
			if err = fn(); err == nil {
				return nil, nil
			}
		}
		return nil, err
	}
}

func withRetryVal[T any](fn func() (T, error)) func() (interface{}, error) {
	return func() (interface{}, error) {
		var val T
		var err error
		for attempt := 0; attempt < maxTransientRetries; attempt++ {
			if val, err = fn(); err == nil {
				return val, nil
			}
		}
		return nil, err
	}
}

func (dc *DeviceChannel) Screenshot(ctx context.Context) ([]byte, error) {
	v, err := dc.submit("screenshot", withRetryVal(func() ([]byte, error) {
		return dc.transport.Screenshot(dc.Serial)
	}))
	if err != nil {
		return nil, err
	}
	return v.([]byte), nil
}

func (dc *DeviceChannel) Tap(ctx context.Context, x, y int) error {
	_, err := dc.submit("tap", withRetry(func() error { return dc.transport.Tap(dc.Serial, x, y) }))
	return err
}

func (dc *DeviceChannel) Swipe(ctx context.Context, x, y, ex, ey, durationMs int) error {
	_, err := dc.submit("swipe", withRetry(func() error {
		return dc.transport.Swipe(dc.Serial, x, y, ex, ey, durationMs)
	}))
	return err
}

func (dc *DeviceChannel) Key(ctx context.Context, keycode int) error {
	_, err := dc.submit("key", withRetry(func() error { return dc.transport.Key(dc.Serial, keycode) }))
	return err
}

func (dc *DeviceChannel) LaunchApp(ctx context.Context, pkg string) error {
	_, err := dc.submit("launch_app", withRetry(func() error { return dc.transport.LaunchApp(dc.Serial, pkg) }))
	return err
}

func (dc *DeviceChannel) ForceStop(ctx context.Context, pkg string) error {
	_, err := dc.submit("force_stop", withRetry(func() error { return dc.transport.ForceStop(dc.Serial, pkg) }))
	return err
}

func (dc *DeviceChannel) Pull(ctx context.Context, remotePath string) ([]byte, error) {
	v, err := dc.submit("pull", withRetryVal(func() ([]byte, error) { return dc.transport.Pull(dc.Serial, remotePath) }))
	if err != nil {
		return nil, err
	}
	return v.([]byte), nil
}

func (dc *DeviceChannel) Push(ctx context.Context, data []byte, remotePath string) error {
	_, err := dc.submit("push", withRetry(func() error { return dc.transport.Push(dc.Serial, data, remotePath) }))
	return err
}

func (dc *DeviceChannel) Shell(ctx context.Context, command string) (string, error) {
	v, err := dc.submit("shell", withRetryVal(func() (string, error) { return dc.transport.Shell(dc.Serial, command) }))
	if err != nil {
		return "", err
	}
	return v.(string), nil
}

// RestartGame force-stops then launches pkg. The caller (the interpreter)
// is responsible for the implicit cold-start wait, since only it can honor
// the cancellation token while sleeping.
func (dc *DeviceChannel) RestartGame(ctx context.Context, pkg string) error {
	if err := dc.ForceStop(ctx, pkg); err != nil {
		return err
	}
	return dc.LaunchApp(ctx, pkg)
}
