package environment

import (
	"fmt"
	"os"
	"sort"
	"sync"

	"codeberg.org/mutker/fogctl/internal/errors"
	"gopkg.in/yaml.v3"
)

// Profile is a named preset of expected environmental conditions. The
// optimal band and dust limit drive alerts, actuators and corrosion.
type Profile struct {
	ID          int     `yaml:"id" json:"profile_id"`
	Name        string  `yaml:"name" json:"name"`
	Description string  `yaml:"description" json:"description"`
	HumidityMin float64 `yaml:"humidity_min" json:"humidity_min"`
	HumidityMax float64 `yaml:"humidity_max" json:"humidity_max"`
	DustMin     float64 `yaml:"dust_min" json:"dust_min"`
	DustMax     float64 `yaml:"dust_max" json:"dust_max"`
	OptimalLow  float64 `yaml:"optimal_low" json:"optimal_humidity_low"`
	OptimalHigh float64 `yaml:"optimal_high" json:"optimal_humidity_high"`
	DustLimit   float64 `yaml:"dust_limit" json:"dust_limit"`
}

func (p Profile) validate() error {
	switch {
	case p.ID < 1:
		return fmt.Errorf("profile id must be positive, got %d", p.ID)
	case p.Name == "":
		return fmt.Errorf("profile %d: name is required", p.ID)
	case p.OptimalLow < 0 || p.OptimalHigh > 100 || p.OptimalLow >= p.OptimalHigh:
		return fmt.Errorf("profile %d: optimal band must satisfy 0 <= low < high <= 100", p.ID)
	case p.HumidityMin > p.HumidityMax:
		return fmt.Errorf("profile %d: humidity_min exceeds humidity_max", p.ID)
	case p.DustMin < 0 || p.DustMin > p.DustMax:
		return fmt.Errorf("profile %d: dust range is invalid", p.ID)
	case p.DustLimit <= 0:
		return fmt.Errorf("profile %d: dust_limit must be positive", p.ID)
	}

	return nil
}

const (
	optimalLow  = 40.0
	optimalHigh = 60.0
	dustLimit   = 50.0
)

type band struct {
	label    string
	min, max float64
}

var (
	dustBands = []band{
		{"Low Dust", 10, 25},
		{"Moderate Dust", 30, 45},
		{"High Dust", 55, 80},
	}
	humidityBands = []band{
		{"Low Humidity", 30, 35},
		{"Optimal Humidity", 45, 55},
		{"High Humidity", 65, 70},
	}
)

// BuiltinProfiles returns the nine dust × humidity presets, numbered 1-9
// with dust as the major axis.
func BuiltinProfiles() []Profile {
	profiles := make([]Profile, 0, len(dustBands)*len(humidityBands))
	for _, d := range dustBands {
		for _, h := range humidityBands {
			id := len(profiles) + 1
			profiles = append(profiles, Profile{
				ID:          id,
				Name:        d.label + ", " + h.label,
				Description: fmt.Sprintf("dust %.0f-%.0f µg/m³, humidity %.0f-%.0f%%", d.min, d.max, h.min, h.max),
				HumidityMin: h.min,
				HumidityMax: h.max,
				DustMin:     d.min,
				DustMax:     d.max,
				OptimalLow:  optimalLow,
				OptimalHigh: optimalHigh,
				DustLimit:   dustLimit,
			})
		}
	}

	return profiles
}

type profileFile struct {
	Profiles []Profile `yaml:"profiles"`
}

// LoadProfiles reads a YAML profile set of the form `profiles: [...]`.
func LoadProfiles(path string) ([]Profile, error) {
	errFactory := errors.New()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errFactory.Wrap(ErrLoadProfiles, err)
	}

	var file profileFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, errFactory.Wrap(ErrLoadProfiles, err)
	}

	if len(file.Profiles) == 0 {
		return nil, errFactory.WithData(ErrInvalidProfiles, "no profiles defined in "+path)
	}

	return file.Profiles, nil
}

// Registry holds the available profiles and the active selection.
type Registry struct {
	mu       sync.RWMutex
	profiles map[int]Profile
	active   int
}

func NewRegistry(profiles []Profile, active int) (*Registry, error) {
	errFactory := errors.New()

	r := &Registry{profiles: make(map[int]Profile, len(profiles))}
	for _, p := range profiles {
		if err := p.validate(); err != nil {
			return nil, errFactory.Wrap(ErrInvalidProfiles, err)
		}

		if _, exists := r.profiles[p.ID]; exists {
			return nil, errFactory.WithData(ErrInvalidProfiles, fmt.Sprintf("duplicate profile id %d", p.ID))
		}

		r.profiles[p.ID] = p
	}

	if _, ok := r.profiles[active]; !ok {
		return nil, errFactory.WithData(ErrUnknownProfile, fmt.Sprintf("active profile %d is not defined", active))
	}
	r.active = active

	return r, nil
}

// NewRegistryFromConfig builds a registry from the built-in profiles or,
// when configured, from the YAML profiles file.
func NewRegistryFromConfig(cfg Config) (*Registry, error) {
	profiles := BuiltinProfiles()
	if cfg.ProfilesFile != "" {
		loaded, err := LoadProfiles(cfg.ProfilesFile)
		if err != nil {
			return nil, err
		}
		profiles = loaded
	}

	return NewRegistry(profiles, cfg.ActiveProfile)
}

func (r *Registry) List() []Profile {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Profile, 0, len(r.profiles))
	for _, p := range r.profiles {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })

	return out
}

func (r *Registry) Get(id int) (Profile, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	p, ok := r.profiles[id]
	if !ok {
		return Profile{}, errors.New().WithData(errors.ErrNotFound, fmt.Sprintf("profile %d", id))
	}

	return p, nil
}

func (r *Registry) Active() Profile {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return r.profiles[r.active]
}

// Select makes id the active profile.
func (r *Registry) Select(id int) (Profile, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	p, ok := r.profiles[id]
	if !ok {
		return Profile{}, errors.New().WithData(errors.ErrNotFound, fmt.Sprintf("profile %d", id))
	}
	r.active = id

	return p, nil
}
