package mode

import (
	"sort"
	"strings"
	"sync"
	"time"

	"codeberg.org/mutker/fogctl/internal/control"
	"codeberg.org/mutker/fogctl/internal/errors"
	"k8s.io/utils/clock"
)

type Mode string

const (
	Auto   Mode = "auto"
	Manual Mode = "manual"
)

// SystemActor is recorded as changed_by for the initial mode.
const SystemActor = "system"

func Parse(value string) (Mode, error) {
	switch Mode(strings.ToLower(strings.TrimSpace(value))) {
	case Auto:
		return Auto, nil
	case Manual:
		return Manual, nil
	default:
		return "", errors.New().WithData(errors.ErrInvalidArgument, "mode must be auto or manual, got "+value)
	}
}

type SystemMode struct {
	Mode        Mode      `json:"mode"`
	LastChanged time.Time `json:"last_changed"`
	ChangedBy   string    `json:"changed_by"`
}

type Command struct {
	FanID int `json:"fan_id"`
	PWM   int `json:"pwm_duty"`
}

// Submission reports how a manual batch was applied.
type Submission struct {
	Accepted []Command `json:"accepted"`
	Ignored  []int     `json:"ignored_fan_ids,omitempty"`
	Clamped  []int     `json:"clamped_fan_ids,omitempty"`
}

// Source tells where the PWM for a fan comes from in the current cycle.
type Source string

const (
	SourceAuto     Source = "auto"
	SourceManual   Source = "manual"
	SourceBaseline Source = "baseline"
)

// Arbiter owns the process-wide mode and the accepted manual command set.
type Arbiter struct {
	mu       sync.RWMutex
	clock    clock.PassiveClock
	policy   control.FallbackPolicy
	state    SystemMode
	baseline map[int]int
	commands map[int]int
	received bool
}

func New(clk clock.PassiveClock, policy control.FallbackPolicy) *Arbiter {
	if !policy.IsValid() {
		policy = control.FallbackTrack
	}

	return &Arbiter{
		clock:  clk,
		policy: policy,
		state: SystemMode{
			Mode:        Auto,
			LastChanged: clk.Now(),
			ChangedBy:   SystemActor,
		},
		baseline: make(map[int]int),
		commands: make(map[int]int),
	}
}

func (a *Arbiter) Get() SystemMode {
	a.mu.RLock()
	defer a.mu.RUnlock()

	return a.state
}

func (a *Arbiter) Policy() control.FallbackPolicy {
	return a.policy
}

// Set switches the mode. Setting the current mode again is a no-op.
// committed is the PWM currently applied to each fan and becomes the manual
// baseline when entering manual mode.
func (a *Arbiter) Set(m Mode, actor string, committed map[int]int) (SystemMode, bool, error) {
	if m != Auto && m != Manual {
		return SystemMode{}, false, errors.New().WithData(errors.ErrInvalidArgument, "unknown mode "+string(m))
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	if a.state.Mode == m {
		return a.state, false, nil
	}

	if actor == "" {
		actor = SystemActor
	}

	a.commands = make(map[int]int)
	a.received = false
	a.baseline = make(map[int]int)
	if m == Manual {
		for id, pwm := range committed {
			a.baseline[id] = pwm
		}
	}

	a.state = SystemMode{
		Mode:        m,
		LastChanged: a.clock.Now(),
		ChangedBy:   actor,
	}

	return a.state, true, nil
}

// Submit merges a batch of manual commands. PWM values are clamped, commands
// for fans rejected by known are ignored and reported back.
func (a *Arbiter) Submit(commands []Command, known func(fanID int) bool) (Submission, error) {
	errFactory := errors.New()

	a.mu.Lock()
	defer a.mu.Unlock()

	if a.state.Mode != Manual {
		return Submission{}, errFactory.WithData(errors.ErrInvalidMode, "manual commands require manual mode")
	}
	if len(commands) == 0 {
		return Submission{}, errFactory.WithData(errors.ErrInvalidArgument, "commands must not be empty")
	}

	result := Submission{Accepted: make([]Command, 0, len(commands))}
	for _, cmd := range commands {
		if known != nil && !known(cmd.FanID) {
			result.Ignored = append(result.Ignored, cmd.FanID)
			continue
		}

		pwm := clampPWM(cmd.PWM)
		if pwm != cmd.PWM {
			result.Clamped = append(result.Clamped, cmd.FanID)
		}

		a.commands[cmd.FanID] = pwm
		result.Accepted = append(result.Accepted, Command{FanID: cmd.FanID, PWM: pwm})
	}

	if len(result.Accepted) > 0 {
		a.received = true
	}

	return result, nil
}

// Resolve decides the PWM source for one fan. In auto mode, and for
// uncommanded fans under the track policy once a batch has arrived, the
// caller's automatic target is authoritative and ok is false.
func (a *Arbiter) Resolve(fanID int) (pwm int, source Source, ok bool) {
	a.mu.RLock()
	defer a.mu.RUnlock()

	if a.state.Mode == Auto {
		return 0, SourceAuto, false
	}

	if cmd, exists := a.commands[fanID]; exists {
		return cmd, SourceManual, true
	}

	if !a.received || a.policy == control.FallbackHold {
		if base, exists := a.baseline[fanID]; exists {
			return base, SourceBaseline, true
		}
	}

	return 0, SourceAuto, false
}

// Commands returns the accepted manual commands sorted by fan id.
func (a *Arbiter) Commands() []Command {
	a.mu.RLock()
	defer a.mu.RUnlock()

	out := make([]Command, 0, len(a.commands))
	for id, pwm := range a.commands {
		out = append(out, Command{FanID: id, PWM: pwm})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].FanID < out[j].FanID })

	return out
}

func (a *Arbiter) Baseline() map[int]int {
	a.mu.RLock()
	defer a.mu.RUnlock()

	out := make(map[int]int, len(a.baseline))
	for id, pwm := range a.baseline {
		out[id] = pwm
	}

	return out
}

func clampPWM(pwm int) int {
	if pwm < 0 {
		return 0
	}
	if pwm > 100 {
		return 100
	}

	return pwm
}
