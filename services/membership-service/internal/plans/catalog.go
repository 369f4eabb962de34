// Package plans loads the membership plan catalog.
package plans

import (
	_ "embed"
	"errors"
	"fmt"
	"os"
	"sort"

	"github.com/md-rashed-zaman/lunchpass/libs/entitlement"
	"gopkg.in/yaml.v3"
)

//go:embed plans.yaml
var defaultCatalog []byte

// Plan is one purchasable plan type.
type Plan struct {
	Type              string `yaml:"type" json:"type"`
	MealsPerWeek      int    `yaml:"meals_per_week" json:"meals_per_week"`
	MonthlyPriceCents int    `yaml:"monthly_price_cents" json:"monthly_price_cents"`
	PeriodDays        int    `yaml:"period_days" json:"period_days"`
	StripePriceID     string `yaml:"stripe_price_id" json:"-"`
}

type Catalog struct {
	plans map[string]Plan
}

var ErrUnknownPlan = errors.New("unknown plan type")

// Load reads path, or the embedded default when path is empty.
func Load(path string) (*Catalog, error) {
	raw := defaultCatalog
	if path != "" {
		b, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read plan catalog: %w", err)
		}
		raw = b
	}
	return Parse(raw)
}

func Parse(raw []byte) (*Catalog, error) {
	var doc struct {
		Plans []Plan `yaml:"plans"`
	}
	if err := yaml.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("parse plan catalog: %w", err)
	}
	c := &Catalog{plans: map[string]Plan{}}
	for _, p := range doc.Plans {
		p.Type = entitlement.NormalizeTier(p.Type)
		if !entitlement.ValidPlanType(p.Type) {
			return nil, fmt.Errorf("plan catalog: invalid type %q", p.Type)
		}
		if p.MealsPerWeek < 0 || p.MonthlyPriceCents < 0 {
			return nil, fmt.Errorf("plan catalog: %s has negative values", p.Type)
		}
		if p.PeriodDays <= 0 {
			p.PeriodDays = 30
		}
		if _, dup := c.plans[p.Type]; dup {
			return nil, fmt.Errorf("plan catalog: duplicate type %s", p.Type)
		}
		c.plans[p.Type] = p
	}
	if len(c.plans) == 0 {
		return nil, errors.New("plan catalog is empty")
	}
	return c, nil
}

func (c *Catalog) Lookup(planType string) (Plan, error) {
	p, ok := c.plans[entitlement.NormalizeTier(planType)]
	if !ok {
		return Plan{}, ErrUnknownPlan
	}
	return p, nil
}

// SetStripePrice overrides the Stripe price id of planType, typically from
// STRIPE_PRICE_<TYPE>.
func (c *Catalog) SetStripePrice(planType, priceID string) {
	key := entitlement.NormalizeTier(planType)
	if p, ok := c.plans[key]; ok && priceID != "" {
		p.StripePriceID = priceID
		c.plans[key] = p
	}
}

// All returns the plans ordered by type.
func (c *Catalog) All() []Plan {
	out := make([]Plan, 0, len(c.plans))
	for _, p := range c.plans {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return planOrder(out[i].Type) < planOrder(out[j].Type) })
	return out
}

func planOrder(t string) int {
	switch t {
	case entitlement.TierS:
		return 0
	case entitlement.TierM:
		return 1
	case entitlement.TierL:
		return 2
	default:
		return 3
	}
}
