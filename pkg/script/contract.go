// Package script parses user feature-definition scripts for their
// declared contracts and enforces those contracts around function calls.
// Scripts are Python source; this package treats them strictly as text
// and never executes them.
package script

// Contract describes one annotated feature function: the feature names
// it requires as arguments and the feature names it promises to return.
type Contract struct {
	Name     string   `json:"name"`
	Requires []string `json:"requires"`
	Provides []string `json:"provides"`
}

// Contracts holds the contracts of a script in declaration order. The
// order is load-bearing: the scheduler breaks ties by it.
type Contracts []Contract

// Names returns the function names in declaration order.
func (cs Contracts) Names() []string {
	names := make([]string, len(cs))
	for i, c := range cs {
		names[i] = c.Name
	}
	return names
}

// Get returns the contract with the given function name.
func (cs Contracts) Get(name string) (Contract, bool) {
	for _, c := range cs {
		if c.Name == name {
			return c, true
		}
	}
	return Contract{}, false
}

// AllRequires returns the union of all required names in first-seen order.
func (cs Contracts) AllRequires() []string {
	return union(cs, func(c Contract) []string { return c.Requires })
}

// AllProvides returns the union of all provided names in first-seen order.
func (cs Contracts) AllProvides() []string {
	return union(cs, func(c Contract) []string { return c.Provides })
}

// ProvidedFeatures returns every provided feature name in declaration
// order, duplicates included. This is the listing shown to users before
// a script runs.
func (cs Contracts) ProvidedFeatures() []string {
	var out []string
	for _, c := range cs {
		out = append(out, c.Provides...)
	}
	return out
}

func union(cs Contracts, pick func(Contract) []string) []string {
	seen := make(map[string]bool)
	var out []string
	for _, c := range cs {
		for _, name := range pick(c) {
			if !seen[name] {
				seen[name] = true
				out = append(out, name)
			}
		}
	}
	return out
}
