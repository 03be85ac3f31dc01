package fan

import (
	"sync"
	"time"

	"codeberg.org/mutker/fogctl/internal/errors"
)

// State is the committed state of one fan. CurrentPWM is the latest
// commanded duty cycle and PreviousPWM the one commanded before it.
type State struct {
	ID          int       `json:"fan_id"`
	CurrentPWM  int       `json:"current_pwm"`
	CurrentRPM  int       `json:"current_rpm"`
	PreviousPWM int       `json:"previous_pwm"`
	UpdatedAt   time.Time `json:"updated_at"`
}

type sample struct {
	at  time.Time
	pwm int
}

// Table holds the state of every fan. It is safe for concurrent use;
// readers always receive copies.
type Table struct {
	mu      sync.RWMutex
	curve   Curve
	window  time.Duration
	fans    map[int]*State
	history map[int][]sample
}

func NewTable(cfg Config, now time.Time) *Table {
	t := &Table{
		curve:   NewCurve(cfg.Curve),
		window:  cfg.StatsWindow,
		fans:    make(map[int]*State, cfg.Count),
		history: make(map[int][]sample, cfg.Count),
	}

	initial := ClampPWM(cfg.InitialPWM)
	for id := 1; id <= cfg.Count; id++ {
		t.fans[id] = &State{
			ID:          id,
			CurrentPWM:  initial,
			CurrentRPM:  t.curve.RPM(initial),
			PreviousPWM: initial,
			UpdatedAt:   now,
		}
		t.history[id] = []sample{{at: now, pwm: initial}}
	}

	return t
}

func (t *Table) Curve() Curve {
	return t.curve
}

// Has reports whether a fan with the given id exists.
func (t *Table) Has(id int) bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	_, ok := t.fans[id]

	return ok
}

func (t *Table) Get(id int) (State, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	st, ok := t.fans[id]
	if !ok {
		return State{}, errors.New().WithData(ErrUnknownFan, id)
	}

	return *st, nil
}

// Snapshot returns a copy of every fan state ordered by id.
func (t *Table) Snapshot() []State {
	t.mu.RLock()
	defer t.mu.RUnlock()

	return t.snapshotLocked()
}

// PWMs returns the current duty cycle of every fan.
func (t *Table) PWMs() map[int]int {
	t.mu.RLock()
	defer t.mu.RUnlock()

	pwms := make(map[int]int, len(t.fans))
	for id, st := range t.fans {
		pwms[id] = st.CurrentPWM
	}

	return pwms
}

// Commit records a new commanded duty cycle and recomputes RPM.
func (t *Table) Commit(id, pwm int, at time.Time) (State, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	st, ok := t.fans[id]
	if !ok {
		return State{}, errors.New().WithData(ErrUnknownFan, id)
	}

	pwm = ClampPWM(pwm)
	st.PreviousPWM = st.CurrentPWM
	st.CurrentPWM = pwm
	st.CurrentRPM = t.curve.RPM(pwm)
	st.UpdatedAt = at

	t.history[id] = prune(append(t.history[id], sample{at: at, pwm: pwm}), at.Add(-t.window))

	return *st, nil
}

// AverageRPM returns the mean RPM across all fans.
func (t *Table) AverageRPM() float64 {
	t.mu.RLock()
	defer t.mu.RUnlock()

	if len(t.fans) == 0 {
		return 0
	}

	total := 0
	for _, st := range t.fans {
		total += st.CurrentRPM
	}

	return float64(total) / float64(len(t.fans))
}

// prune drops samples older than cutoff but keeps the last one before it,
// which still describes the duty cycle at the start of the window.
func prune(samples []sample, cutoff time.Time) []sample {
	idx := 0
	for i, s := range samples {
		if s.at.After(cutoff) {
			break
		}
		idx = i
	}

	return append(samples[:0], samples[idx:]...)
}
