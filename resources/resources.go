// Package resources walks the page tree and resolves named resources
// through the scopes content streams run in.
package resources

import (
	"context"
	"errors"
	"fmt"

	"github.com/redforks/nipdf/ir/raw"
)

type Category string

const (
	CategoryFont       Category = "Font"
	CategoryXObject    Category = "XObject"
	CategoryExtGState  Category = "ExtGState"
	CategoryColorSpace Category = "ColorSpace"
	CategoryPattern    Category = "Pattern"
	CategoryShading    Category = "Shading"
	CategoryProperties Category = "Properties"
)

// ErrNotFound reports a resource name absent from every scope.
var ErrNotFound = errors.New("resource not found")

// Scope is one level of resource lookup: a page, a form XObject, a
// pattern cell or a Type 3 glyph procedure.
type Scope interface {
	LocalResources() *raw.DictObj
	ParentScope() Scope
}

// PageScope is the outermost scope of a page's content stream.
type PageScope struct {
	Page *Page
}

func (ps PageScope) LocalResources() *raw.DictObj { return ps.Page.Resources }
func (ps PageScope) ParentScope() Scope           { return nil }

// NestedScope is the scope of a form XObject, tiling pattern or Type 3
// glyph. Resources may be nil; lookups then continue in Parent, which
// is how older files share page resources with their forms.
type NestedScope struct {
	Resources *raw.DictObj
	Parent    Scope
}

func (ns NestedScope) LocalResources() *raw.DictObj { return ns.Resources }
func (ns NestedScope) ParentScope() Scope           { return ns.Parent }

// Nest returns a scope for a nested content stream.
func Nest(parent Scope, res *raw.DictObj) Scope {
	return NestedScope{Resources: res, Parent: parent}
}

// Lookup finds name in category, searching from scope outwards. The
// returned object is the dictionary entry as stored, so an indirect
// resource comes back as its reference and can key caches.
func Lookup(ctx context.Context, src raw.Resolver, scope Scope, category Category, name string) (raw.Object, error) {
	for s := scope; s != nil; s = s.ParentScope() {
		res := s.LocalResources()
		if res == nil {
			continue
		}
		group, ok := raw.DictOf(ctx, src, res.Lookup(ctx, src, string(category)))
		if !ok {
			continue
		}
		if obj, ok := group.Get(name); ok && !raw.IsNull(raw.Deref(ctx, src, obj)) {
			return obj, nil
		}
	}
	return nil, fmt.Errorf("%w: %s/%s", ErrNotFound, category, name)
}
