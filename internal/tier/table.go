package tier

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Spec is the static configuration of one tier.
type Spec struct {
	// MaxDays is the upstream lookback limit. Ignored for the archive.
	MaxDays int `yaml:"max_days"`

	// TTL is how long a cache file of this tier is served after writing.
	TTL time.Duration `yaml:"ttl"`
}

// Table is the tier table. It is built once at startup and read-only after.
type Table struct {
	specs [TierArchive + 1]Spec
}

// DefaultTable returns the built-in tier table. Windows follow the upstream
// intraday limits; coarser tiers live longer.
func DefaultTable() *Table {
	tb := &Table{}
	tb.specs[Tier1m] = Spec{MaxDays: 7, TTL: 5 * time.Minute}
	tb.specs[Tier5m] = Spec{MaxDays: 59, TTL: 15 * time.Minute}
	tb.specs[Tier1h] = Spec{MaxDays: 729, TTL: time.Hour}
	tb.specs[Tier1d] = Spec{MaxDays: 1825, TTL: 4 * time.Hour}
	tb.specs[TierArchive] = Spec{TTL: 24 * time.Hour}
	return tb
}

// Spec returns the configuration of t.
func (tb *Table) Spec(t Tier) Spec {
	if t < 0 || int(t) >= len(tb.specs) {
		return Spec{}
	}
	return tb.specs[t]
}

// TTL returns the serving TTL of t.
func (tb *Table) TTL(t Tier) time.Duration {
	return tb.Spec(t).TTL
}

// Validate checks that windows grow with coarseness and TTLs do not shrink.
func (tb *Table) Validate() error {
	var prev Spec
	for i, t := range escalation {
		s := tb.specs[t]
		if s.MaxDays <= 0 {
			return fmt.Errorf("tier %s: max_days must be positive", t)
		}
		if s.TTL <= 0 {
			return fmt.Errorf("tier %s: ttl must be positive", t)
		}
		if i > 0 {
			if s.MaxDays <= prev.MaxDays {
				return fmt.Errorf("tier %s: max_days %d must exceed %d", t, s.MaxDays, prev.MaxDays)
			}
			if s.TTL < prev.TTL {
				return fmt.Errorf("tier %s: ttl %s shorter than finer tier %s", t, s.TTL, prev.TTL)
			}
		}
		prev = s
	}
	if a := tb.specs[TierArchive].TTL; a < prev.TTL {
		return fmt.Errorf("tier archive: ttl %s shorter than %s", a, prev.TTL)
	}
	return nil
}

// fileConfig is the YAML layout of a tier override file.
//
//	tiers:
//	  1m: {max_days: 7, ttl: 5m}
//	  5m: {max_days: 59, ttl: 15m}
//	archive:
//	  ttl: 24h
type fileConfig struct {
	Tiers   map[string]Spec `yaml:"tiers"`
	Archive *Spec           `yaml:"archive"`
}

// LoadFile returns the default table with overrides from a YAML file applied.
// Fields left at zero keep their default.
func LoadFile(path string) (*Table, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read tiers file: %w", err)
	}
	return ParseYAML(data)
}

// ParseYAML applies YAML overrides to the default table and validates it.
func ParseYAML(data []byte) (*Table, error) {
	var fc fileConfig
	if err := yaml.Unmarshal(data, &fc); err != nil {
		return nil, fmt.Errorf("parse tiers yaml: %w", err)
	}

	tb := DefaultTable()
	for name, override := range fc.Tiers {
		t, err := Parse(name)
		if err != nil {
			return nil, err
		}
		if t == TierArchive {
			return nil, fmt.Errorf("archive belongs under the archive key, not tiers")
		}
		tb.apply(t, override)
	}
	if fc.Archive != nil {
		tb.apply(TierArchive, *fc.Archive)
	}

	if err := tb.Validate(); err != nil {
		return nil, err
	}
	return tb, nil
}

func (tb *Table) apply(t Tier, s Spec) {
	if s.MaxDays != 0 {
		tb.specs[t].MaxDays = s.MaxDays
	}
	if s.TTL != 0 {
		tb.specs[t].TTL = s.TTL
	}
}
