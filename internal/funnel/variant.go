package funnel

import (
	"github.com/nla-consultoria/leadrelay/internal/config"
)

// Mode decides how many fields of a step are visible at once.
type Mode string

const (
	// ModeReveal shows one field at a time, the next one appearing after
	// the current one settles.
	ModeReveal Mode = "reveal"
	// ModeAll shows every field of the current step immediately.
	ModeAll Mode = "all"
)

type Variant struct {
	Name   string
	Mode   Mode
	Source string
}

// Variants resolves the funnel configuration for a route or source key.
type Variants struct {
	byName   map[string]Variant
	fallback string
}

func NewVariants(cfg config.FunnelConfig) *Variants {
	v := &Variants{
		byName:   make(map[string]Variant, len(cfg.Variants)),
		fallback: cfg.DefaultVariant,
	}
	for name, vc := range cfg.Variants {
		mode := Mode(vc.Mode)
		if mode != ModeReveal {
			mode = ModeAll
		}
		source := vc.Source
		if source == "" {
			source = name
		}
		v.byName[name] = Variant{Name: name, Mode: mode, Source: source}
	}
	if _, ok := v.byName[v.fallback]; !ok {
		if v.fallback == "" {
			v.fallback = "default"
		}
		v.byName[v.fallback] = Variant{Name: v.fallback, Mode: ModeAll, Source: v.fallback}
	}
	return v
}

// Lookup returns the named variant or the default one.
func (v *Variants) Lookup(name string) Variant {
	if variant, ok := v.byName[name]; ok {
		return variant
	}
	return v.byName[v.fallback]
}
