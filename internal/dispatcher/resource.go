package dispatcher

import (
	"sync"

	"github.com/ehrlich-b/go-kobj/internal/constants"
	"github.com/ehrlich-b/go-kobj/internal/object"
	"github.com/ehrlich-b/go-kobj/internal/status"
)

// Resource kinds.
const (
	ResourceKindRoot uint32 = iota
	ResourceKindGeneric
)

// Resource is a node in the named resource hierarchy rooted at the
// kernel's root resource.
type Resource struct {
	object.Base
	name string
	kind uint32

	mu       sync.Mutex
	children []*Resource
}

// NewRootResource returns the hierarchy root.
func NewRootResource() *Resource {
	return &Resource{
		Base: object.NewBase(object.TypeResource),
		name: "root",
		kind: ResourceKindRoot,
	}
}

// Name returns the node's name.
func (r *Resource) Name() string { return r.name }

// Kind returns the node's kind.
func (r *Resource) Kind() uint32 { return r.kind }

// CreateChild adds a named child node.
func (r *Resource) CreateChild(name string, kind uint32) (*Resource, error) {
	if name == "" || len(name) > constants.MaxNameLength {
		return nil, status.ErrInvalidArgs
	}
	if kind == ResourceKindRoot {
		return nil, status.ErrInvalidArgs
	}
	child := &Resource{
		Base: object.NewBase(object.TypeResource),
		name: name,
		kind: kind,
	}
	r.mu.Lock()
	r.children = append(r.children, child)
	r.mu.Unlock()
	return child, nil
}

// Children returns a snapshot of the node's children.
func (r *Resource) Children() []*Resource {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*Resource, len(r.children))
	copy(out, r.children)
	return out
}
