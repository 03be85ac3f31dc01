package telemetry

import (
	"sort"
	"sync"
	"time"

	"codeberg.org/mutker/fogctl/internal/errors"
	"k8s.io/utils/clock"
)

type Device struct {
	ID        string    `json:"device_id"`
	FirstSeen time.Time `json:"first_seen"`
	LastSeen  time.Time `json:"last_seen"`
	GPUIDs    []int     `json:"gpu_ids"`
	Online    bool      `json:"online"`
}

type device struct {
	firstSeen time.Time
	lastSeen  time.Time
	gpus      map[int]bool
}

// Registry tracks every device that has sent telemetry. Devices are never
// removed; they go offline once silent for longer than the stale period.
type Registry struct {
	mu         sync.RWMutex
	clock      clock.PassiveClock
	staleAfter time.Duration
	devices    map[string]*device
}

func NewRegistry(cfg Config, clk clock.PassiveClock) *Registry {
	return &Registry{
		clock:      clk,
		staleAfter: cfg.StaleAfter,
		devices:    make(map[string]*device),
	}
}

// Touch records a telemetry arrival and returns the GPU ids the device had
// reported before this call.
func (r *Registry) Touch(deviceID string, gpuIDs []int) map[int]bool {
	now := r.clock.Now()

	r.mu.Lock()
	defer r.mu.Unlock()

	d, ok := r.devices[deviceID]
	if !ok {
		d = &device{firstSeen: now, gpus: make(map[int]bool)}
		r.devices[deviceID] = d
	}

	known := make(map[int]bool, len(d.gpus))
	for id := range d.gpus {
		known[id] = true
	}

	d.lastSeen = now
	for _, id := range gpuIDs {
		d.gpus[id] = true
	}

	return known
}

func (r *Registry) Get(deviceID string) (Device, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	d, ok := r.devices[deviceID]
	if !ok {
		return Device{}, errors.New().WithData(ErrUnknownDevice, deviceID)
	}

	return r.export(deviceID, d), nil
}

func (r *Registry) List() []Device {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Device, 0, len(r.devices))
	for id, d := range r.devices {
		out = append(out, r.export(id, d))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })

	return out
}

func (r *Registry) export(id string, d *device) Device {
	gpus := make([]int, 0, len(d.gpus))
	for gpu := range d.gpus {
		gpus = append(gpus, gpu)
	}
	sort.Ints(gpus)

	return Device{
		ID:        id,
		FirstSeen: d.firstSeen,
		LastSeen:  d.lastSeen,
		GPUIDs:    gpus,
		Online:    r.clock.Since(d.lastSeen) <= r.staleAfter,
	}
}
