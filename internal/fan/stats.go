package fan

import (
	"math"
	"sort"
	"time"
)

// Statistics summarises a fan over the rolling window.
type Statistics struct {
	FanID          int     `json:"fan_id"`
	CurrentPWM     int     `json:"current_pwm"`
	CurrentRPM     int     `json:"current_rpm"`
	AvgPWM         float64 `json:"avg_pwm_last_hour"`
	MinPWM         int     `json:"min_pwm_last_hour"`
	MaxPWM         int     `json:"max_pwm_last_hour"`
	TimeOnHighSecs int     `json:"time_on_high"`
}

// Statistics computes time-weighted aggregates for every fan over the
// window ending at now.
func (t *Table) Statistics(now time.Time) []Statistics {
	t.mu.RLock()
	defer t.mu.RUnlock()

	cutoff := now.Add(-t.window)
	stats := make([]Statistics, 0, len(t.fans))
	for _, st := range t.snapshotLocked() {
		stats = append(stats, aggregate(st, t.history[st.ID], cutoff, now))
	}

	return stats
}

func (t *Table) snapshotLocked() []State {
	states := make([]State, 0, len(t.fans))
	for _, st := range t.fans {
		states = append(states, *st)
	}
	sort.Slice(states, func(i, j int) bool { return states[i].ID < states[j].ID })

	return states
}

func aggregate(st State, samples []sample, cutoff, now time.Time) Statistics {
	out := Statistics{
		FanID:      st.ID,
		CurrentPWM: st.CurrentPWM,
		CurrentRPM: st.CurrentRPM,
		AvgPWM:     float64(st.CurrentPWM),
		MinPWM:     st.CurrentPWM,
		MaxPWM:     st.CurrentPWM,
	}

	var weighted, total, high float64
	minPWM, maxPWM := math.MaxInt, math.MinInt
	for i, s := range samples {
		start := s.at
		if start.Before(cutoff) {
			start = cutoff
		}
		end := now
		if i+1 < len(samples) {
			end = samples[i+1].at
		}
		if !end.After(start) {
			continue
		}

		d := end.Sub(start).Seconds()
		weighted += d * float64(s.pwm)
		total += d
		if s.pwm > highPWMThreshold {
			high += d
		}
		minPWM = min(minPWM, s.pwm)
		maxPWM = max(maxPWM, s.pwm)
	}

	if total == 0 {
		return out
	}

	out.AvgPWM = math.Round(weighted/total*10) / 10
	out.MinPWM = minPWM
	out.MaxPWM = maxPWM
	out.TimeOnHighSecs = int(math.Round(high))

	return out
}
