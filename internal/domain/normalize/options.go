package normalize

import "github.com/fathomline/regatta/internal/domain/model"

// Option applies a configuration option to the Normalizer.
type Option func(*Normalizer)

// WithCategories replaces the recognized category set.
func WithCategories(categories []string) Option {
	return func(n *Normalizer) {
		if len(categories) == 0 {
			return
		}
		n.categories = make(map[model.Category]bool, len(categories))
		for _, c := range categories {
			n.categories[model.Category(c)] = true
		}
	}
}

// WithBuilderAliases registers canonical builder names and their variants.
// Both the canonical name and every variant map to the canonical form.
func WithBuilderAliases(aliases map[string][]string) Option {
	return func(n *Normalizer) {
		for canonical, variants := range aliases {
			n.builders[FoldKey(canonical)] = canonical
			for _, v := range variants {
				n.builders[FoldKey(v)] = canonical
			}
		}
	}
}
