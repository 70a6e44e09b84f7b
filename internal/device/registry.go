// Package device implements DeviceRegistry (spec.md §4.2): periodic bridge
// polling, online/offline tracking, and per-serial DeviceChannel lifecycle.
package device

import (
	"context"
	"sync"
	"time"

	"androidfleet/internal/adb"
	"androidfleet/internal/logging"
	"androidfleet/internal/models"
)

// EventPublisher is the subset of StatusBus the registry needs, kept as a
// local interface to avoid an import cycle between device and job.
type EventPublisher interface {
	Publish(event string, payload interface{})
}

type entry struct {
	device  models.Device
	channel *adb.DeviceChannel
}

// Registry tracks every device the bridge has ever reported, keyed by
// adb serial. Offline entries are retained until a caller explicitly
// removes them (spec.md §3 Device lifecycle).
type Registry struct {
	mu        sync.RWMutex
	transport *adb.Transport
	entries   map[string]*entry
	bus       EventPublisher
}

func NewRegistry(transport *adb.Transport, bus EventPublisher) *Registry {
	return &Registry{
		transport: transport,
		entries:   make(map[string]*entry),
		bus:       bus,
	}
}

// Scan polls the bridge once, adding newly-seen devices and marking
// previously-seen-but-now-absent ones offline. USB and WiFi (host:port)
// connections to the same physical device are not merged; each adb serial
// becomes its own entry (see dedupe).
func (r *Registry) Scan(ctx context.Context) error {
	raw, err := r.transport.ListDevices()
	if err != nil {
		return err
	}

	deduped := dedupe(raw)

	r.mu.Lock()
	defer r.mu.Unlock()

	seen := make(map[string]bool, len(deduped))
	for _, rd := range deduped {
		seen[rd.Serial] = true
		e, exists := r.entries[rd.Serial]
		if !exists {
			width, height, _ := r.transport.ScreenSize(rd.Serial)
			version, _ := r.transport.Property(rd.Serial, "ro.build.version.release")
			battery, _ := r.transport.Battery(rd.Serial)
			dev := models.Device{
				Serial:         rd.Serial,
				Name:           rd.Model,
				Status:         models.StatusOnline,
				ScreenWidth:    width,
				ScreenHeight:   height,
				AndroidVersion: version,
				Battery:        battery,
				AssignedTask:   models.TaskNone,
				LastSeen:       time.Now().Unix(),
			}
			ch := adb.NewDeviceChannel(rd.Serial, r.transport, r.markOffline)
			r.entries[rd.Serial] = &entry{device: dev, channel: ch}
			r.publish("device_online", dev)
			continue
		}
		if e.device.Status == models.StatusOffline {
			e.device.Status = models.StatusOnline
			r.publish("device_online", e.device)
		}
		e.device.LastSeen = time.Now().Unix()
	}

	for serial, e := range r.entries {
		if !seen[serial] && e.device.Status == models.StatusOnline {
			e.device.Status = models.StatusOffline
			r.publish("device_offline", e.device)
		}
	}
	return nil
}

// dedupe returns the bridge's device list unchanged. The ADB protocol
// doesn't expose a stable hardware id over `devices -l` alone, so devices
// are keyed on adb serial directly; USB/WiFi duplicates of one physical
// device surface as two entries unless a caller removes the stale one.
// No per-device ro.serialno lookup is made to merge them.
func dedupe(raw []adb.RawDevice) []adb.RawDevice {
	return raw
}

func (r *Registry) markOffline(serial string, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.entries[serial]
	if !ok {
		return
	}
	if e.device.Status != models.StatusOffline {
		e.device.Status = models.StatusOffline
		logging.Warn("device %s marked offline: %v", serial, err)
		r.publish("device_offline", e.device)
	}
}

func (r *Registry) publish(event string, dev models.Device) {
	if r.bus != nil {
		r.bus.Publish(event, dev)
	}
}

// Snapshot returns a read-only copy of every known device.
func (r *Registry) Snapshot() []models.Device {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]models.Device, 0, len(r.entries))
	for _, e := range r.entries {
		out = append(out, e.device)
	}
	return out
}

// Get returns a device by serial and whether it was found.
func (r *Registry) Get(serial string) (models.Device, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.entries[serial]
	if !ok {
		return models.Device{}, false
	}
	return e.device, true
}

// Channel returns the DeviceChannel for a serial. Job workers and UI
// handlers share the same channel; their commands are serialized through
// it, and no exclusive lease is taken.
func (r *Registry) Channel(serial string) (*adb.DeviceChannel, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.entries[serial]
	if !ok {
		return nil, false
	}
	return e.channel, true
}

// SetAssignedTask updates the pure label exposed in Snapshot; it does not
// itself start any work.
func (r *Registry) SetAssignedTask(serial, task string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if e, ok := r.entries[serial]; ok {
		e.device.AssignedTask = task
	}
}

// SetRunning updates the is_running / current_account / counters block
// JobCoordinator reports through as a worker progresses.
func (r *Registry) SetRunning(serial string, running bool, currentAccount string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if e, ok := r.entries[serial]; ok {
		e.device.IsRunning = running
		e.device.CurrentAccount = currentAccount
	}
}

func (r *Registry) IncrementCounters(serial string, success bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.entries[serial]
	if !ok {
		return
	}
	if success {
		e.device.SuccessCount++
	} else {
		e.device.ErrorCount++
	}
}

// Remove deletes an offline entry; callers should not remove an online
// device (spec.md §3: "entries for offline serials are retained until
// user removes").
func (r *Registry) Remove(serial string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.entries[serial]
	if !ok {
		return false
	}
	delete(r.entries, serial)
	e.channel.Close()
	return true
}

// PollLoop runs Scan on a fixed interval until ctx is canceled.
func (r *Registry) PollLoop(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := r.Scan(ctx); err != nil {
				logging.Warn("device scan failed: %v", err)
			}
		}
	}
}
