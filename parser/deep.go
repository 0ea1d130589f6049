package parser

import (
	"context"

	"github.com/redforks/nipdf/ir/raw"
)

// ResolveDeep returns a copy of obj with every reference replaced by the
// object it names. A reference back to an object on the current path, or
// one that fails to load, becomes a raw.BrokenObj. Stream payloads are
// shared, not copied. maxDepth bounds nesting; deeper references are left
// unresolved.
func ResolveDeep(ctx context.Context, r raw.Resolver, obj raw.Object, maxDepth int) raw.Object {
	return resolveDeep(ctx, r, obj, nil, maxDepth)
}

func resolveDeep(ctx context.Context, r raw.Resolver, obj raw.Object, onPath []raw.ObjectRef, depth int) raw.Object {
	switch v := obj.(type) {
	case raw.RefObj:
		for _, p := range onPath {
			if p.Num == v.R.Num {
				return raw.BrokenObj{R: v.R, Reason: "reference cycle"}
			}
		}
		if depth <= 0 || ctx.Err() != nil {
			return v
		}
		target, err := r.Resolve(ctx, v)
		if err != nil {
			return raw.BrokenObj{R: v.R, Reason: err.Error()}
		}
		return resolveDeep(ctx, r, target, append(onPath, v.R), depth-1)
	case *raw.ArrayObj:
		out := &raw.ArrayObj{Items: make([]raw.Object, len(v.Items))}
		for i, it := range v.Items {
			out.Items[i] = resolveDeep(ctx, r, it, onPath, depth)
		}
		return out
	case *raw.DictObj:
		out := raw.Dict()
		for k, it := range v.KV {
			out.KV[k] = resolveDeep(ctx, r, it, onPath, depth)
		}
		return out
	case *raw.StreamObj:
		dict, _ := resolveDeep(ctx, r, v.Dict, onPath, depth).(*raw.DictObj)
		return &raw.StreamObj{Dict: dict, Data: v.Data, Ref: v.Ref}
	}
	return obj
}
