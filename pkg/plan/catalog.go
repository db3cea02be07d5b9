package plan

import (
	"errors"
	"fmt"
)

// Catalog maps plan types to their definitions.
type Catalog map[Type]Plan

// Default returns the built-in production catalog.
func Default() Catalog {
	return Catalog{
		TypeTrial: {
			Type:           TypeTrial,
			Name:           "Free Trial",
			EmailsPerMonth: 50,
			EmailsReceived: 100,
			AIReplies:      25,
			Stores:         1,
			TrialDays:      7,
		},
		TypeStarter: {
			Type:           TypeStarter,
			Name:           "Starter",
			EmailsPerMonth: 500,
			EmailsReceived: 1000,
			AIReplies:      250,
			Stores:         1,
		},
		TypeGrowth: {
			Type:           TypeGrowth,
			Name:           "Growth",
			EmailsPerMonth: 2000,
			EmailsReceived: 5000,
			AIReplies:      1000,
			Stores:         3,
		},
		TypePro: {
			Type:           TypePro,
			Name:           "Pro",
			EmailsPerMonth: 10000,
			EmailsReceived: Unlimited,
			AIReplies:      5000,
			Stores:         10,
		},
		TypeEnterprise: {
			Type:           TypeEnterprise,
			Name:           "Enterprise",
			EmailsPerMonth: Unlimited,
			EmailsReceived: Unlimited,
			AIReplies:      Unlimited,
			Stores:         Unlimited,
		},
	}
}

// Get returns the plan for the given type.
func (c Catalog) Get(t Type) (Plan, error) {
	p, ok := c[t]
	if !ok {
		return Plan{}, ErrPlanNotFound
	}
	return p, nil
}

// Validate ensures the catalog is internally consistent: map keys match plan
// types, every cap is positive or Unlimited, and the trial tier carries a
// trial window.
func Validate(c Catalog) error {
	if len(c) == 0 {
		return errors.Join(ErrInvalidPlanConfiguration, errors.New("catalog is empty"))
	}

	for t, p := range c {
		if p.Type != t {
			return errors.Join(ErrInvalidPlanConfiguration,
				fmt.Errorf("plan type mismatch: map key %s != plan.Type %s", t, p.Type))
		}

		caps := map[string]int64{
			"emails_per_month": p.EmailsPerMonth,
			"emails_received":  p.EmailsReceived,
			"ai_replies":       p.AIReplies,
			"stores":           p.Stores,
		}
		for name, v := range caps {
			if v != Unlimited && v <= 0 {
				return errors.Join(ErrInvalidPlanConfiguration,
					fmt.Errorf("plan %s: cap %s must be positive or -1, got %d", t, name, v))
			}
		}

		if p.TrialDays < 0 {
			return errors.Join(ErrInvalidPlanConfiguration,
				fmt.Errorf("plan %s has negative trial days: %d", t, p.TrialDays))
		}
	}

	if trial, ok := c[TypeTrial]; ok && trial.TrialDays == 0 {
		return errors.Join(ErrInvalidPlanConfiguration,
			errors.New("trial plan must define trial_days"))
	}

	return nil
}
