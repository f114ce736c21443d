package dispatcher

import (
	"context"
	"fmt"
	"go/ast"
	"reflect"
	"sort"
	"strings"
	"sync"
	"unicode"
	"unicode/utf8"

	"go.uber.org/atomic"
)

var (
	errorType   = reflect.TypeOf((*error)(nil)).Elem()
	contextType = reflect.TypeOf((*context.Context)(nil)).Elem()
)

// member is one invocable function. A leading context.Context parameter is
// filled by the dispatcher; the remaining parameters come from the request.
type member struct {
	class    string
	name     string
	fn       reflect.Value
	typ      reflect.Type
	recv     bool // first request parameter is the call target
	ctx      bool
	params   []reflect.Type
	numCalls *atomic.Uint64
}

func newMember(class, name string, fn reflect.Value, recv bool) (*member, error) {
	if !fn.IsValid() || fn.Kind() != reflect.Func || fn.IsNil() {
		return nil, fmt.Errorf("dispatcher: %s.%s: not a function", class, name)
	}
	typ := fn.Type()
	switch typ.NumOut() {
	case 0, 1:
	case 2:
		if typ.Out(1) != errorType {
			return nil, fmt.Errorf("dispatcher: %s.%s: second result must be error, got %s", class, name, typ.Out(1))
		}
	default:
		return nil, fmt.Errorf("dispatcher: %s.%s: too many results (%d)", class, name, typ.NumOut())
	}

	m := &member{
		class:    class,
		name:     name,
		fn:       fn,
		typ:      typ,
		recv:     recv,
		numCalls: atomic.NewUint64(0),
	}
	first := 0
	if typ.NumIn() > 0 && typ.In(0) == contextType {
		m.ctx = true
		first = 1
	}
	for i := first; i < typ.NumIn(); i++ {
		m.params = append(m.params, typ.In(i))
	}
	if recv && len(m.params) == 0 {
		return nil, fmt.Errorf("dispatcher: %s.%s: method needs a receiver parameter", class, name)
	}
	return m, nil
}

// NumCalls returns how many times the member has been invoked.
func (m *member) NumCalls() uint64 {
	return m.numCalls.Load()
}

// signature renders the member for diagnostics, e.g. "Math.max(int32, int32)".
func (m *member) signature() string {
	parts := make([]string, len(m.params))
	for i, p := range m.params {
		parts[i] = p.String()
		if m.typ.IsVariadic() && i == len(m.params)-1 {
			parts[i] = "..." + p.Elem().String()
		}
	}
	return fmt.Sprintf("%s.%s(%s)", m.class, m.name, strings.Join(parts, ", "))
}

type class struct {
	statics map[string][]*member
	methods map[string][]*member
	ctors   []*member
}

// Catalog holds the entry points remote callers can reach by class and
// method name. Several members may share a name; the dispatcher picks among
// them by argument compatibility.
type Catalog struct {
	mu      sync.RWMutex
	classes map[string]*class
}

// NewCatalog returns an empty Catalog.
func NewCatalog() *Catalog {
	return &Catalog{classes: make(map[string]*class)}
}

func (c *Catalog) class(name string) *class {
	cl, ok := c.classes[name]
	if !ok {
		cl = &class{
			statics: make(map[string][]*member),
			methods: make(map[string][]*member),
		}
		c.classes[name] = cl
	}
	return cl
}

// RegisterStatic adds fn as the static member className.name.
func (c *Catalog) RegisterStatic(className, name string, fn any) error {
	m, err := newMember(className, name, reflect.ValueOf(fn), false)
	if err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	cl := c.class(className)
	cl.statics[name] = append(cl.statics[name], m)
	return nil
}

// RegisterConstructor adds fn as a constructor of className. fn must return
// the new instance, optionally followed by an error.
func (c *Catalog) RegisterConstructor(className string, fn any) error {
	m, err := newMember(className, "<init>", reflect.ValueOf(fn), false)
	if err != nil {
		return err
	}
	if m.typ.NumOut() == 0 || m.typ.Out(0) == errorType {
		return fmt.Errorf("dispatcher: constructor of %s must return the instance", className)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	cl := c.class(className)
	cl.ctors = append(cl.ctors, m)
	return nil
}

// RegisterMethod adds fn as an instance method reachable on targets of
// className. The first parameter after an optional context receives the target.
func (c *Catalog) RegisterMethod(className, name string, fn any) error {
	m, err := newMember(className, name, reflect.ValueOf(fn), true)
	if err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	cl := c.class(className)
	cl.methods[name] = append(cl.methods[name], m)
	return nil
}

// RegisterClass exposes every exported method of rcvr as a static member of
// className, under the Go method name.
func (c *Catalog) RegisterClass(className string, rcvr any) error {
	if rcvr == nil {
		return fmt.Errorf("dispatcher: class %s: nil receiver", className)
	}
	val := reflect.ValueOf(rcvr)
	typ := val.Type()
	var members []*member
	for i := 0; i < typ.NumMethod(); i++ {
		method := typ.Method(i)
		if !ast.IsExported(method.Name) {
			continue
		}
		m, err := newMember(className, method.Name, val.Method(i), false)
		if err != nil {
			// methods with unusable result shapes are not exposed
			continue
		}
		members = append(members, m)
	}
	if len(members) == 0 {
		return fmt.Errorf("dispatcher: class %s: %s has no exported methods", className, typ)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	cl := c.class(className)
	for _, m := range members {
		cl.statics[m.name] = append(cl.statics[m.name], m)
	}
	return nil
}

// names returns the spellings under which a remote method name is looked up:
// the name itself and, if different, the name with its first letter upper-cased.
func names(name string) []string {
	r, size := utf8.DecodeRuneInString(name)
	if r == utf8.RuneError || unicode.IsUpper(r) {
		return []string{name}
	}
	return []string{name, string(unicode.ToUpper(r)) + name[size:]}
}

func (c *Catalog) lookupStatic(className, name string) ([]*member, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	cl, ok := c.classes[className]
	if !ok {
		return nil, &NoSuchMethodError{Class: className, Method: name, Reason: "unknown class"}
	}
	var out []*member
	for _, n := range names(name) {
		out = append(out, cl.statics[n]...)
	}
	return out, nil
}

func (c *Catalog) lookupConstructors(className string) ([]*member, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	cl, ok := c.classes[className]
	if !ok || len(cl.ctors) == 0 {
		return nil, &NoSuchMethodError{Class: className, Method: "<init>", Reason: "no constructor"}
	}
	return append([]*member(nil), cl.ctors...), nil
}

// lookupInstance collects the Go methods of target named name plus the
// registered instance methods of className.
func (c *Catalog) lookupInstance(className string, target any, name string) []*member {
	var out []*member
	val := reflect.ValueOf(target)
	for _, n := range names(name) {
		if !ast.IsExported(n) {
			continue
		}
		if fn := val.MethodByName(n); fn.IsValid() {
			if m, err := newMember(val.Type().String(), n, fn, false); err == nil {
				out = append(out, m)
			}
		}
	}

	c.mu.RLock()
	defer c.mu.RUnlock()
	if cl, ok := c.classes[className]; ok {
		for _, n := range names(name) {
			out = append(out, cl.methods[n]...)
		}
	}
	return out
}

// MemberInfo describes one catalog entry.
type MemberInfo struct {
	Signature string
	Calls     uint64
}

// Describe lists every registered member, sorted by signature.
func (c *Catalog) Describe() []MemberInfo {
	c.mu.RLock()
	var all []*member
	for _, cl := range c.classes {
		for _, ms := range cl.statics {
			all = append(all, ms...)
		}
		for _, ms := range cl.methods {
			all = append(all, ms...)
		}
		all = append(all, cl.ctors...)
	}
	c.mu.RUnlock()

	out := make([]MemberInfo, 0, len(all))
	for _, m := range all {
		out = append(out, MemberInfo{Signature: m.signature(), Calls: m.NumCalls()})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Signature < out[j].Signature })
	return out
}
