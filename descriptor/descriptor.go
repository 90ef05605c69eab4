// Package descriptor describes a remote interface: the callable methods, their
// stable numeric identifiers and the shapes of their parameters and results.
//
// An Interface is built once and only read afterwards, so it is safe to share
// between goroutines. Method identifiers are part of the wire contract:
// renumbering a method breaks compatibility between independently built
// clients and servers.
package descriptor

import (
	"fmt"
	"sort"
	"strings"

	"github.com/pkg/errors"

	"mini-binder/codec"
)

// Direction says who supplies a parameter's value.
type Direction byte

const (
	// In parameters are supplied by the caller and read by the callee.
	In Direction = iota
	// InOut parameters are supplied by the caller; the callee may replace the
	// value and the replacement is returned to the caller.
	InOut
)

func (d Direction) String() string {
	if d == InOut {
		return "inout"
	}
	return "in"
}

type Param struct {
	Name  string
	Shape codec.Shape
	Dir   Direction
}

// Method is one entry of an Interface. Treat it as read-only.
type Method struct {
	Name   string
	ID     uint32
	Params []Param
	Return codec.Shape
}

// Arg declares an in parameter.
func Arg(name string, shape codec.Shape) Param {
	return Param{Name: name, Shape: shape, Dir: In}
}

// ArgInOut declares an in-out parameter.
func ArgInOut(name string, shape codec.Shape) Param {
	return Param{Name: name, Shape: shape, Dir: InOut}
}

// InOut returns the indexes of the in-out parameters, in declaration order.
func (m *Method) InOut() []int {
	var idx []int
	for i, p := range m.Params {
		if p.Dir == InOut {
			idx = append(idx, i)
		}
	}
	return idx
}

func (m *Method) String() string {
	params := make([]string, len(m.Params))
	for i, p := range m.Params {
		params[i] = fmt.Sprintf("%s %s %s", p.Dir, p.Shape, p.Name)
	}
	return fmt.Sprintf("%s(%s) -> %s [id %d]", m.Name, strings.Join(params, ", "), m.Return, m.ID)
}

// Interface is an immutable catalog of methods.
type Interface struct {
	name    string
	methods []*Method
	byName  map[string]*Method
	byID    map[uint32]*Method
}

// New validates the methods and builds an Interface. Names and identifiers
// must be unique, identifiers non-zero, and parameters must carry a value.
func New(name string, methods ...Method) (*Interface, error) {
	iface := &Interface{
		name:   name,
		byName: make(map[string]*Method, len(methods)),
		byID:   make(map[uint32]*Method, len(methods)),
	}
	for i := range methods {
		m := methods[i]
		if m.Name == "" {
			return nil, errors.Errorf("descriptor %s: method %d has no name", name, i)
		}
		if m.ID == 0 {
			return nil, errors.Errorf("descriptor %s: method %s has identifier 0", name, m.Name)
		}
		if _, dup := iface.byName[m.Name]; dup {
			return nil, errors.Errorf("descriptor %s: duplicate method name %s", name, m.Name)
		}
		if other, dup := iface.byID[m.ID]; dup {
			return nil, errors.Errorf("descriptor %s: %s and %s share identifier %d", name, other.Name, m.Name, m.ID)
		}
		for _, p := range m.Params {
			if p.Shape.Kind == codec.KindNone {
				return nil, errors.Errorf("descriptor %s: %s parameter %s has no shape", name, m.Name, p.Name)
			}
			if p.Shape.Kind == codec.KindRecord && p.Shape.Record == nil {
				return nil, errors.Errorf("descriptor %s: %s parameter %s has no record type", name, m.Name, p.Name)
			}
		}
		m.Params = append([]Param(nil), m.Params...)
		iface.byName[m.Name] = &m
		iface.byID[m.ID] = &m
		iface.methods = append(iface.methods, &m)
	}
	sort.Slice(iface.methods, func(i, j int) bool {
		return iface.methods[i].ID < iface.methods[j].ID
	})
	return iface, nil
}

// MustNew is like New but panics on an invalid declaration. It is meant for
// package-level interface variables.
func MustNew(name string, methods ...Method) *Interface {
	iface, err := New(name, methods...)
	if err != nil {
		panic(err)
	}
	return iface
}

func (i *Interface) Name() string { return i.name }

func (i *Interface) Lookup(name string) (*Method, bool) {
	m, ok := i.byName[name]
	return m, ok
}

func (i *Interface) LookupID(id uint32) (*Method, bool) {
	m, ok := i.byID[id]
	return m, ok
}

// Methods returns the methods ordered by identifier.
func (i *Interface) Methods() []*Method {
	return append([]*Method(nil), i.methods...)
}
