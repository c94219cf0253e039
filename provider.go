package fwp

import (
	"errors"
	"fmt"
	"sort"

	"github.com/hashicorp/go-multierror"
)

var (
	ErrDuplicateProvider = errors.New("duplicate provider name")
	ErrInvalidProvider   = errors.New("invalid provider")
	ErrNoMatch           = errors.New("no provider matched the input")
)

type MatchFunc = func(string) (Source, error)

// A Provider matches any URL it knows how to handle, giving a Source
// whose canonical URL is the asset's deduplication key.
type Provider struct {
	Name  string
	Match MatchFunc
	// Priority of the matcher, lower (including negative) means matching earlier.
	Priority int16
}

// A Match is the result of a Provider successfully matching a URL.
type Match struct {
	ProviderName string
	Source       Source
}

// A ProviderRegistry is a collection of Provider instances which can be
// used to try to match URLs.
type ProviderRegistry struct {
	providers   []*Provider
	providerMap map[string]*Provider
}

// Add registers a Provider. Provider.Name and Provider.Match must be
// set, and Provider.Name must be unique within the registry.
func (r *ProviderRegistry) Add(p Provider) error {
	if r.providerMap == nil {
		r.providerMap = make(map[string]*Provider)
	}
	if p.Name == "" || p.Match == nil {
		return ErrInvalidProvider
	}
	if _, ok := r.providerMap[p.Name]; ok {
		return ErrDuplicateProvider
	}
	r.providerMap[p.Name] = &p
	r.providers = append(r.providers, r.providerMap[p.Name])
	r.sortByPriority()
	return nil
}

// MustAdd is Add, panicking on error; for use from provider package init.
func (r *ProviderRegistry) MustAdd(p Provider) {
	if err := r.Add(p); err != nil {
		panic(err)
	}
}

// List returns the names of registered providers in priority order.
func (r *ProviderRegistry) List() []string {
	names := make([]string, 0, len(r.providers))
	for _, p := range r.providers {
		names = append(names, p.Name)
	}
	return names
}

// Match a string against each Provider in priority order. A failed match
// returns an AcquireError of class FailureInvalidSource wrapping the
// accumulated per-provider errors, so callers can reject the request
// synchronously without creating a job.
func (r *ProviderRegistry) Match(s string) (*Match, error) {
	var result error
	for _, p := range r.providers {
		if source, err := p.Match(s); source != nil && err == nil {
			return &Match{ProviderName: p.Name, Source: source}, nil
		} else {
			result = multierror.Append(result, multierror.Prefix(err, fmt.Sprintf("[%v]", p.Name)))
		}
	}
	if result == nil {
		result = ErrNoMatch
	}
	return nil, &AcquireError{Class: FailureInvalidSource, Message: "no provider matched the input", Cause: result}
}

func (r *ProviderRegistry) sortByPriority() {
	sort.SliceStable(r.providers, func(i, j int) bool {
		return r.providers[i].Priority < r.providers[j].Priority
	})
}

// DefaultProviderRegistry is where providers register themselves from
// their package init.
var DefaultProviderRegistry = ProviderRegistry{}
