package subscription

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"
)

// PlansListSource defines how plans are loaded into the subscription service.
type PlansListSource interface {
	Load(ctx context.Context) (map[string]Plan, error)
}

type inMemSource struct {
	mu    sync.RWMutex
	plans map[string]Plan
}

// NewInMemSource returns a source holding deep copies of plans.
// Panics if no plans are given.
func NewInMemSource(plans ...Plan) PlansListSource {
	if len(plans) == 0 {
		panic("subscription: at least one plan is required")
	}
	m := make(map[string]Plan, len(plans))
	for _, p := range plans {
		m[p.ID] = p.clone()
	}
	return &inMemSource{plans: m}
}

func (s *inMemSource) Load(_ context.Context) (map[string]Plan, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make(map[string]Plan, len(s.plans))
	for id, p := range s.plans {
		out[id] = p.clone()
	}
	return out, nil
}

// yamlCatalog is the on-disk layout of a plan catalog:
//
//	plans:
//	  - id: pro_monthly
//	    name: Pro
//	    price: {amount: 94900, currency: USD}
//	    interval: monthly
//	    trial_days: 14
type yamlCatalog struct {
	Plans []Plan `yaml:"plans"`
}

type yamlSource struct {
	open func() (io.ReadCloser, error)
}

// NewYAMLFileSource reads the catalog from path on every Load.
func NewYAMLFileSource(path string) PlansListSource {
	return &yamlSource{open: func() (io.ReadCloser, error) { return os.Open(path) }}
}

// NewYAMLSource parses the catalog from data.
func NewYAMLSource(data []byte) PlansListSource {
	return &yamlSource{open: func() (io.ReadCloser, error) {
		return io.NopCloser(bytes.NewReader(data)), nil
	}}
}

func (s *yamlSource) Load(_ context.Context) (map[string]Plan, error) {
	r, err := s.open()
	if err != nil {
		return nil, errors.Join(ErrFailedToLoadPlans, err)
	}
	defer r.Close()

	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)

	var catalog yamlCatalog
	if err := dec.Decode(&catalog); err != nil && !errors.Is(err, io.EOF) {
		return nil, errors.Join(ErrFailedToLoadPlans, err)
	}

	plans := make(map[string]Plan, len(catalog.Plans))
	for _, p := range catalog.Plans {
		if _, dup := plans[p.ID]; dup {
			return nil, errors.Join(ErrFailedToLoadPlans, fmt.Errorf("duplicate plan id %q", p.ID))
		}
		p.Price.Currency = strings.ToUpper(p.Price.Currency)
		plans[p.ID] = p
	}
	return plans, nil
}
