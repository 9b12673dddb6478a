package subscription

import (
	"errors"
	"fmt"
	"maps"
	"slices"
	"strings"
	"time"
)

// Plan is an immutable catalog entry. New pricing means a new plan ID.
type Plan struct {
	ID          string             `json:"id" yaml:"id"`
	Name        string             `json:"name" yaml:"name"`
	Description string             `json:"description,omitempty" yaml:"description"`
	Price       Money              `json:"price" yaml:"price"`
	Interval    Interval           `json:"interval" yaml:"interval"`
	TrialDays   int                `json:"trial_days" yaml:"trial_days"`
	Limits      map[Resource]int64 `json:"limits,omitempty" yaml:"limits"` // -1 is unlimited
	Features    []Feature          `json:"features,omitempty" yaml:"features"`
	Public      bool               `json:"public" yaml:"public"`
}

func (p Plan) HasTrial() bool {
	return p.TrialDays > 0
}

// TrialEndsAt returns when a trial started at start ends, or start for plans without one.
func (p Plan) TrialEndsAt(start time.Time) time.Time {
	if !p.HasTrial() {
		return start
	}
	return start.AddDate(0, 0, p.TrialDays).UTC()
}

// PeriodEnd returns the end of a billing period starting at start.
func (p Plan) PeriodEnd(start time.Time) time.Time {
	if p.Interval == IntervalYearly {
		return start.AddDate(1, 0, 0).UTC()
	}
	return start.AddDate(0, 1, 0).UTC()
}

// Limit returns the limit for res and whether the plan defines one.
func (p Plan) Limit(res Resource) (int64, bool) {
	limit, ok := p.Limits[res]
	return limit, ok
}

func (p Plan) HasFeature(f Feature) bool {
	return slices.Contains(p.Features, f)
}

func (p Plan) clone() Plan {
	c := p
	c.Limits = maps.Clone(p.Limits)
	c.Features = slices.Clone(p.Features)
	return c
}

func (p Plan) validate() error {
	var errs []error
	if strings.TrimSpace(p.ID) == "" {
		errs = append(errs, errors.New("id is required"))
	}
	if p.Price.Amount < 0 {
		errs = append(errs, fmt.Errorf("price %d is negative", p.Price.Amount))
	}
	if len(p.Price.Currency) != 3 {
		errs = append(errs, fmt.Errorf("currency %q is not an ISO 4217 code", p.Price.Currency))
	}
	if !p.Interval.Valid() {
		errs = append(errs, fmt.Errorf("interval %q is not supported", p.Interval))
	}
	if p.TrialDays < 0 {
		errs = append(errs, fmt.Errorf("trial days %d is negative", p.TrialDays))
	}
	for res, limit := range p.Limits {
		if limit < Unlimited {
			errs = append(errs, fmt.Errorf("limit for %s is %d", res, limit))
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("plan %q: %w", p.ID, errors.Join(errs...))
	}
	return nil
}

func validatePlans(plans map[string]Plan) error {
	if len(plans) == 0 {
		return errors.Join(ErrInvalidPlanConfiguration, errors.New("no plans defined"))
	}
	var errs []error
	for id, p := range plans {
		if id != p.ID {
			errs = append(errs, fmt.Errorf("plan %q is registered as %q", p.ID, id))
			continue
		}
		if err := p.validate(); err != nil {
			errs = append(errs, err)
		}
	}
	if len(errs) > 0 {
		return errors.Join(ErrInvalidPlanConfiguration, errors.Join(errs...))
	}
	return nil
}
