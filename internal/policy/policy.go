// ABOUTME: Version-keyed selection of the machine-id stability regime
// ABOUTME: Maps an agent core version to the expected token behavior across re-registration
package policy

import (
	"fmt"
	"strings"

	"github.com/blang/semver"
)

// StableSince is the first core version that keeps machine-id across unregister/register
var StableSince = semver.Version{Major: 3, Minor: 3, Patch: 13}

// Expectation is what a regime expects of two tokens captured around a re-registration
type Expectation int

const (
	ExpectEqual Expectation = iota
	ExpectDifferent
)

func (e Expectation) String() string {
	switch e {
	case ExpectEqual:
		return "equal"
	case ExpectDifferent:
		return "different"
	default:
		return fmt.Sprintf("Expectation(%d)", int(e))
	}
}

// Regime is one behavioral regime of the agent
type Regime struct {
	Name    string
	Applies func(v semver.Version) bool
	Expect  Expectation
}

// Check compares tokens captured before and after a re-registration
func (r Regime) Check(before, after string) error {
	switch r.Expect {
	case ExpectEqual:
		if before != after {
			return fmt.Errorf("regime %s: machine-id changed across re-registration", r.Name)
		}
	case ExpectDifferent:
		if before == after {
			return fmt.Errorf("regime %s: machine-id unchanged across re-registration", r.Name)
		}
	}
	return nil
}

// Selector picks the first regime whose predicate holds, else the fallback
type Selector struct {
	regimes  []Regime
	fallback Regime
}

// NewSelector creates a selector over ordered regimes
func NewSelector(fallback Regime, regimes ...Regime) *Selector {
	return &Selector{regimes: regimes, fallback: fallback}
}

// StableRegime keeps the same machine-id once the agent reaches StableSince
func StableRegime() Regime {
	return Regime{
		Name:    "stable",
		Applies: func(v semver.Version) bool { return Release(v).GTE(StableSince) },
		Expect:  ExpectEqual,
	}
}

// RegeneratedRegime issues a new machine-id on every registration
func RegeneratedRegime() Regime {
	return Regime{
		Name:    "regenerated",
		Applies: func(semver.Version) bool { return true },
		Expect:  ExpectDifferent,
	}
}

// DefaultSelector returns the selector for insights-client core versions
func DefaultSelector() *Selector {
	return NewSelector(RegeneratedRegime(), StableRegime())
}

// Select returns the regime governing version v
func (s *Selector) Select(v semver.Version) Regime {
	for _, r := range s.regimes {
		if r.Applies(v) {
			return r
		}
	}
	return s.fallback
}

// Release strips pre-release and build metadata so that 3.3.13-1 compares as 3.3.13
func Release(v semver.Version) semver.Version {
	return semver.Version{Major: v.Major, Minor: v.Minor, Patch: v.Patch}
}

// ParseVersion parses loosely formatted versions such as "3.3.13-1" or "3.4"
func ParseVersion(raw string) (semver.Version, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return semver.Version{}, fmt.Errorf("empty version")
	}
	v, err := semver.ParseTolerant(raw)
	if err != nil {
		return semver.Version{}, fmt.Errorf("failed to parse version %q: %w", raw, err)
	}
	return v, nil
}
