package vocab

import (
	"fmt"
	"os"
	"strings"

	"github.com/BurntSushi/toml"

	"causal-insights-go/internal/logger"
)

// ChainSeparator joins signal type names into a chain key. Signal names are
// validated against it at load time.
const ChainSeparator = " -> "

// SignalVocab is the cue-term vocabulary for one signal type.
type SignalVocab struct {
	Display string   `toml:"display"`
	Terms   []string `toml:"terms"`
}

// Warning holds early-warning tuning.
type Warning struct {
	RiskThreshold float64        `toml:"risk_threshold"`
	Thresholds    map[string]int `toml:"thresholds"`
}

// Vocabulary maps signal type names to cue terms. It is versioned external
// configuration: adding a signal type is a config change, not a code change.
type Vocabulary struct {
	Signals map[string]SignalVocab `toml:"signals"`
	Warning Warning                `toml:"warning"`
}

// Default returns the built-in vocabulary used when no TOML file is
// configured.
func Default() Vocabulary {
	return Vocabulary{
		Signals: map[string]SignalVocab{
			"customer_frustration": {
				Display: "customer frustration",
				Terms: []string{
					"frustrated", "frustrating", "angry", "upset", "disappointed",
					"annoyed", "furious", "mad", "unacceptable", "ridiculous",
					"fed up", "terrible", "awful",
				},
			},
			"agent_delay": {
				Display: "agent delays",
				Terms: []string{
					"wait", "waiting", "slow", "delay", "delayed", "busy",
					"on hold", "hold on", "backlog", "still processing",
					"take a while", "few days", "several hours",
				},
			},
			"agent_denial": {
				Display: "agent denials",
				Terms: []string{
					"cannot", "can't", "won't", "denied", "deny", "impossible",
					"refused", "refuse", "unable", "not possible", "not allowed",
					"against policy", "no way",
				},
			},
		},
		Warning: Warning{
			RiskThreshold: 0.6,
			Thresholds: map[string]int{
				"customer_frustration": 3,
				"agent_delay":          2,
			},
		},
	}
}

// Load reads a vocabulary from a TOML file, falling back to the built-in
// default when path is empty. Terms are normalized to lower case.
func Load(path string) (Vocabulary, error) {
	log := logger.Component("vocab").WithField("path", path)

	v := Default()
	if path != "" {
		if _, err := os.Stat(path); err != nil {
			return Vocabulary{}, fmt.Errorf("vocabulary file: %w", err)
		}
		v = Vocabulary{}
		if _, err := toml.DecodeFile(path, &v); err != nil {
			return Vocabulary{}, fmt.Errorf("parse vocabulary %s: %w", path, err)
		}
		log.WithField("signal_types", len(v.Signals)).Info("vocabulary loaded")
	}

	if v.Warning.RiskThreshold == 0 {
		v.Warning.RiskThreshold = Default().Warning.RiskThreshold
	}
	if v.Warning.Thresholds == nil {
		v.Warning.Thresholds = map[string]int{}
	}

	for name, sv := range v.Signals {
		if strings.TrimSpace(name) == "" || strings.Contains(name, ChainSeparator) {
			return Vocabulary{}, fmt.Errorf("invalid signal type name %q", name)
		}
		terms := make([]string, 0, len(sv.Terms))
		for _, t := range sv.Terms {
			t = strings.ToLower(strings.TrimSpace(t))
			if t != "" {
				terms = append(terms, t)
			}
		}
		if len(terms) == 0 {
			return Vocabulary{}, fmt.Errorf("signal type %q has no cue terms", name)
		}
		sv.Terms = terms
		v.Signals[name] = sv
	}
	return v, nil
}

// DisplayName maps a signal type to its human-readable form. Unknown types
// degrade to the raw name with separators replaced by spaces.
func (v Vocabulary) DisplayName(signal string) string {
	if sv, ok := v.Signals[signal]; ok && sv.Display != "" {
		return sv.Display
	}
	return strings.ReplaceAll(strings.ReplaceAll(signal, "_", " "), "-", " ")
}

// Threshold returns the early-warning repetition threshold for a signal
// type. Types without explicit configuration default to 2.
func (v Vocabulary) Threshold(signal string) int {
	if t, ok := v.Warning.Thresholds[signal]; ok && t > 0 {
		return t
	}
	return 2
}
