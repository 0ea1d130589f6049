package filters

import (
	"context"

	"github.com/redforks/nipdf/ir/raw"
)

// ExtractFilters reads Filter and DecodeParms from a stream dictionary.
// Indirect entries are resolved through r, which may be nil. The returned
// params line up with the names; a missing or null parameter entry is nil.
func ExtractFilters(ctx context.Context, r raw.Resolver, dict *raw.DictObj) ([]string, []*raw.DictObj) {
	return extractFilters(ctx, r, dict, []string{"Filter"}, []string{"DecodeParms"})
}

// ExtractInlineFilters also accepts the abbreviated F and DP keys of an
// inline image dictionary.
func ExtractInlineFilters(ctx context.Context, r raw.Resolver, dict *raw.DictObj) ([]string, []*raw.DictObj) {
	return extractFilters(ctx, r, dict, []string{"Filter", "F"}, []string{"DecodeParms", "DP"})
}

func extractFilters(ctx context.Context, r raw.Resolver, dict *raw.DictObj, filterKeys, paramKeys []string) ([]string, []*raw.DictObj) {
	var names []string
	switch f := dict.LookupAny(ctx, r, filterKeys...).(type) {
	case raw.NameObj:
		names = append(names, CanonicalName(f.Val))
	case *raw.ArrayObj:
		for _, item := range f.Items {
			if n, ok := raw.NameOf(ctx, r, item); ok {
				names = append(names, CanonicalName(n))
			}
		}
	}
	if len(names) == 0 {
		return nil, nil
	}
	params := make([]*raw.DictObj, len(names))
	switch p := dict.LookupAny(ctx, r, paramKeys...).(type) {
	case *raw.DictObj:
		params[0] = p
	case *raw.ArrayObj:
		for i, item := range p.Items {
			if i >= len(params) {
				break
			}
			if d, ok := raw.DictOf(ctx, r, item); ok {
				params[i] = d
			}
		}
	}
	return names, params
}
