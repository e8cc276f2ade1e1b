// Package catalog holds the static item configuration. It is loaded once at
// startup into an immutable lookup; catalog changes ship as a new deployment.
package catalog

import (
	_ "embed"
	"fmt"

	"gopkg.in/yaml.v3"

	"github.com/trollstown/coinstore/internal/errs"
	"github.com/trollstown/coinstore/internal/model"
)

//go:embed catalog.yaml
var defaultConfig []byte

// Exclusivity controls how many items in a category may be active at once.
type Exclusivity string

const (
	// Exclusive allows at most one active item per user per category.
	Exclusive Exclusivity = "exclusive"
	// Additive allows many simultaneously active items.
	Additive Exclusivity = "additive"
)

// Profile stamp columns. Closed set: the entitlement store only writes
// denormalized expiry stamps to columns listed here.
const (
	StampRGBUsername  = "rgb_username_expires_at"
	StampEntranceGlow = "entrance_glow_expires_at"
)

var knownStamps = map[string]bool{
	StampRGBUsername:  true,
	StampEntranceGlow: true,
}

// ValidStamp reports whether name is a whitelisted profile stamp column.
// The entitlement store refuses to interpolate anything else into SQL.
func ValidStamp(name string) bool { return knownStamps[name] }

// Category describes one item category and its activation rules.
type Category struct {
	Name        string      `yaml:"name"`
	Exclusivity Exclusivity `yaml:"exclusivity"`

	// ProfileStamp names a user_profiles column that mirrors the active
	// item's expiry for fast read paths elsewhere. Empty for standard
	// categories.
	ProfileStamp string `yaml:"profile_stamp,omitempty"`
}

// Entry is one purchasable item. Immutable for a given catalog version.
type Entry struct {
	Key             string             `yaml:"key"`
	DisplayName     string             `yaml:"display_name"`
	PriceAmount     int64              `yaml:"price"`
	PriceDenom      model.Denomination `yaml:"denomination"`
	Category        string             `yaml:"category"`
	DurationMinutes int64              `yaml:"duration_minutes"` // 0 = permanent
	AutoActivate    bool               `yaml:"auto_activate"`

	// Stacking items (minute packs) may be re-purchased; each purchase
	// tops up the existing record instead of being rejected.
	Stacking     bool  `yaml:"stacking"`
	GrantMinutes int64 `yaml:"grant_minutes,omitempty"`
}

// Permanent reports whether the entry never expires.
func (e Entry) Permanent() bool { return e.DurationMinutes == 0 }

type config struct {
	Categories []Category `yaml:"categories"`
	Items      []Entry    `yaml:"items"`
}

// Catalog is a read-only item/category lookup, safe for concurrent use
// without locking.
type Catalog struct {
	entries    map[string]Entry
	categories map[string]Category
}

// Load parses catalog YAML and validates cross-references.
func Load(data []byte) (*Catalog, error) {
	var cfg config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse catalog: %w", err)
	}

	cats := make(map[string]Category, len(cfg.Categories))
	for _, c := range cfg.Categories {
		if c.Name == "" {
			return nil, fmt.Errorf("catalog: category with empty name")
		}
		if c.Exclusivity != Exclusive && c.Exclusivity != Additive {
			return nil, fmt.Errorf("catalog: category %q: bad exclusivity %q", c.Name, c.Exclusivity)
		}
		if c.ProfileStamp != "" && !knownStamps[c.ProfileStamp] {
			return nil, fmt.Errorf("catalog: category %q: unknown profile stamp %q", c.Name, c.ProfileStamp)
		}
		if _, dup := cats[c.Name]; dup {
			return nil, fmt.Errorf("catalog: duplicate category %q", c.Name)
		}
		cats[c.Name] = c
	}

	entries := make(map[string]Entry, len(cfg.Items))
	for _, e := range cfg.Items {
		if e.Key == "" {
			return nil, fmt.Errorf("catalog: item with empty key")
		}
		if e.PriceAmount <= 0 {
			return nil, fmt.Errorf("catalog: item %q: non-positive price", e.Key)
		}
		if !e.PriceDenom.Valid() {
			return nil, fmt.Errorf("catalog: item %q: bad denomination %q", e.Key, e.PriceDenom)
		}
		if e.DurationMinutes < 0 {
			return nil, fmt.Errorf("catalog: item %q: negative duration", e.Key)
		}
		if _, ok := cats[e.Category]; !ok {
			return nil, fmt.Errorf("catalog: item %q: unknown category %q", e.Key, e.Category)
		}
		if _, dup := entries[e.Key]; dup {
			return nil, fmt.Errorf("catalog: duplicate item %q", e.Key)
		}
		entries[e.Key] = e
	}

	return &Catalog{entries: entries, categories: cats}, nil
}

// LoadDefault loads the embedded catalog.
func LoadDefault() (*Catalog, error) {
	return Load(defaultConfig)
}

// Resolve returns the entry for an item key.
func (c *Catalog) Resolve(key string) (Entry, error) {
	e, ok := c.entries[key]
	if !ok {
		return Entry{}, fmt.Errorf("%q: %w", key, errs.ErrUnknownItem)
	}
	return e, nil
}

// ResolveCategory returns the category definition by name.
func (c *Catalog) ResolveCategory(name string) (Category, error) {
	cat, ok := c.categories[name]
	if !ok {
		return Category{}, fmt.Errorf("%q: %w", name, errs.ErrUnknownCategory)
	}
	return cat, nil
}

// TxTypeFor maps a category to the ledger transaction tag used when an
// item of that category is purchased.
func TxTypeFor(category string) model.TxType {
	switch category {
	case "perk", "username_glow":
		return model.TxPerkPurchase
	case "entrance_effect":
		return model.TxEntranceEffect
	case "insurance":
		return model.TxInsurancePurchase
	default:
		return model.TxPurchase
	}
}
