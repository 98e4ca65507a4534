package cache

import (
	"strings"
	"sync"
	"time"
	"unicode"

	"mercator-hq/sextant/pkg/config"
)

// TTLPolicy picks how long a response stays cached. Questions about recent
// events get a short TTL; everything else gets the base TTL scaled by the
// mode multiplier, since deeper answers cost more to rebuild.
type TTLPolicy struct {
	mu          sync.RWMutex
	base        time.Duration
	recency     time.Duration
	terms       []string
	multipliers map[string]float64
}

// NewTTLPolicy creates a policy. Modes missing from multipliers use 1.
func NewTTLPolicy(base, recency time.Duration, terms []string, multipliers map[string]float64) *TTLPolicy {
	p := &TTLPolicy{}
	p.Update(base, recency, terms, multipliers)
	return p
}

// PolicyFromConfig builds the policy from the cache and modes config.
func PolicyFromConfig(cfg config.CacheConfig, modes config.ModesConfig) *TTLPolicy {
	return NewTTLPolicy(cfg.BaseTTL, cfg.RecencyTTL, cfg.RecencyTerms, Multipliers(modes))
}

// Multipliers extracts the per-mode TTL multipliers from the modes config.
func Multipliers(modes config.ModesConfig) map[string]float64 {
	return map[string]float64{
		"auto":     modes.Auto.CacheTTLMultiplier,
		"medium":   modes.Medium.CacheTTLMultiplier,
		"deep":     modes.Deep.CacheTTLMultiplier,
		"workflow": modes.Workflow.CacheTTLMultiplier,
	}
}

// Update replaces every setting. It is called on config reload.
func (p *TTLPolicy) Update(base, recency time.Duration, terms []string, multipliers map[string]float64) {
	normalized := make([]string, 0, len(terms))
	for _, t := range terms {
		if t = tokenize(t); t != "" {
			normalized = append(normalized, t)
		}
	}
	m := make(map[string]float64, len(multipliers))
	for mode, v := range multipliers {
		m[mode] = v
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	p.base = base
	p.recency = recency
	p.terms = normalized
	p.multipliers = m
}

// For returns the TTL for a normalized question asked in mode.
func (p *TTLPolicy) For(normalizedText, mode string) time.Duration {
	p.mu.RLock()
	defer p.mu.RUnlock()

	if p.isRecent(normalizedText) {
		return p.recency
	}
	mult, ok := p.multipliers[mode]
	if !ok || mult <= 0 {
		mult = 1
	}
	return time.Duration(float64(p.base) * mult)
}

// IsRecent reports whether text mentions any recency term.
func (p *TTLPolicy) IsRecent(text string) bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.isRecent(text)
}

// isRecent matches whole words so "currently" does not match "current".
func (p *TTLPolicy) isRecent(text string) bool {
	padded := " " + tokenize(text) + " "
	for _, term := range p.terms {
		if strings.Contains(padded, " "+term+" ") {
			return true
		}
	}
	return false
}

// tokenize lower-cases s and reduces it to words separated by single spaces.
func tokenize(s string) string {
	words := strings.FieldsFunc(strings.ToLower(s), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	return strings.Join(words, " ")
}
