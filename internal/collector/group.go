package collector

import (
	"context"

	"github.com/ignite/delivery-stats/internal/domain"
	"github.com/ignite/delivery-stats/internal/schedule"
)

// Request is everything a metric group needs for one fetch.
type Request struct {
	Account    domain.Account
	Identity   domain.PlatformAccount
	Credential domain.Credential
	Window     schedule.Window
}

// FetchFunc issues the group's request(s) for one window and returns the
// fields the group owns. It returns ErrMissingData when the platform
// signals an empty day.
type FetchFunc func(ctx context.Context, req Request) (domain.PlatformDelta, error)

// MetricGroup is one pluggable slice of a platform's daily numbers.
type MetricGroup struct {
	Name     string
	Platform domain.Platform
	Fetch    FetchFunc
}

// Registry lists metric groups per platform in collection order.
type Registry map[domain.Platform][]MetricGroup

// Register appends groups to the registry.
func (r Registry) Register(groups ...MetricGroup) {
	for _, g := range groups {
		r[g.Platform] = append(r[g.Platform], g)
	}
}

// Filter returns a registry restricted to the named groups. An empty names
// list returns r unchanged.
func (r Registry) Filter(names ...string) Registry {
	if len(names) == 0 {
		return r
	}
	want := make(map[string]bool, len(names))
	for _, n := range names {
		want[n] = true
	}
	out := make(Registry)
	for p, groups := range r {
		for _, g := range groups {
			if want[g.Name] {
				out[p] = append(out[p], g)
			}
		}
	}
	return out
}
