package types

import (
	"fmt"
	"regexp"
	"strings"
)

// Kind identifies one level of the nets -> vms -> images hierarchy.
type Kind string

const (
	KindNet   Kind = "net"
	KindVM    Kind = "vm"
	KindImage Kind = "image"
)

// nameRe matches the characters permitted in a state or object name (spec
// data model §3: "[A-Za-z0-9._\-]").
var nameRe = regexp.MustCompile(`^[A-Za-z0-9._\-]+$`)

// ValidName reports whether s is a legal object or state name component.
func ValidName(s string) bool {
	return s != "" && nameRe.MatchString(s)
}

// Object identifies one stateful object in the nets/vms/images hierarchy by
// its type path (e.g. "nets/vms/images") and name path (e.g.
// "net1/vm1/image1"). The name path is the identity used for all storage
// keys.
type Object struct {
	Kind     Kind
	TypePath []string
	NamePath []string
}

// NewObject builds an Object, validating every path component.
func NewObject(kind Kind, typePath, namePath []string) (Object, error) {
	if len(typePath) != len(namePath) {
		return Object{}, fmt.Errorf("%w: type path and name path length mismatch", ErrInvalid)
	}

	for _, n := range namePath {
		if !ValidName(n) {
			return Object{}, fmt.Errorf("%w: illegal object name %q", ErrInvalid, n)
		}
	}

	return Object{Kind: kind, TypePath: typePath, NamePath: namePath}, nil
}

// TypeString joins the type path with "/", e.g. "nets/vms/images".
func (o Object) TypeString() string {
	return strings.Join(o.TypePath, "/")
}

// NameString joins the name path with "/", e.g. "net1/vm1/image1".
func (o Object) NameString() string {
	return strings.Join(o.NamePath, "/")
}

// Name returns the object's own (most-specific) name component.
func (o Object) Name() string {
	if len(o.NamePath) == 0 {
		return ""
	}

	return o.NamePath[len(o.NamePath)-1]
}

// Parent returns the object one level up the hierarchy, and false if o is
// already the root-most object (a net).
func (o Object) Parent() (Object, bool) {
	if len(o.NamePath) <= 1 {
		return Object{}, false
	}

	return Object{
		Kind:     o.Kind,
		TypePath: o.TypePath[:len(o.TypePath)-1],
		NamePath: o.NamePath[:len(o.NamePath)-1],
	}, true
}

func (o Object) String() string {
	return fmt.Sprintf("%s(%s)", o.Kind, o.NameString())
}
