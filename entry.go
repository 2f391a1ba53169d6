package cleaner

import (
	"io"
	"reflect"

	"github.com/pkg/errors"
)

// Canceler is the capability carried by handles to spawned work, including
// *Task. Cancel requests that the work stop; it does not wait for it.
type Canceler interface {
	Cancel()
}

// Disconnector is the capability carried by event subscriptions. Disconnect
// detaches the subscription and must be idempotent.
type Disconnector interface {
	Disconnect()
}

// Destroyer is the capability carried by handles that tear down an underlying
// object.
type Destroyer interface {
	Destroy() error
}

// Invocation describes a custom disposal call: Method is resolved on Object
// by reflection when the invocation is added, and called with Args when the
// cleaner is cleaned. If the method's last return value is a non-nil error it
// is collected into the error returned by Clean.
type Invocation struct {
	Object interface{}
	Method string
	Args   []interface{}
}

type entryKind int

const (
	kindCallback entryKind = iota
	kindNested
	kindInvocation
	kindTask
	kindSubscription
	kindDestroyer
	kindCloser
)

func (k entryKind) String() string {
	switch k {
	case kindCallback:
		return "callback"
	case kindNested:
		return "nested cleaner"
	case kindInvocation:
		return "invocation"
	case kindTask:
		return "task"
	case kindSubscription:
		return "subscription"
	case kindDestroyer:
		return "destroyer"
	case kindCloser:
		return "closer"
	default:
		return "unknown"
	}
}

// entry is one tagged item held by a Cleaner. item retains the value as it
// was added, for identity matching; the typed fields below are bound once at
// validation so disposal is a plain switch.
type entry struct {
	kind entryKind
	item interface{}

	callback     func()
	callbackPtr  uintptr
	nested       *Cleaner
	invocation   *boundInvocation
	canceler     Canceler
	disconnector Disconnector
	destroyer    Destroyer
	closer       io.Closer
}

// boundInvocation is an Invocation after method resolution.
type boundInvocation struct {
	object interface{}
	method string
	call   reflect.Value
	args   []reflect.Value
}

func (b *boundInvocation) invoke() error {
	out := b.call.Call(b.args)
	if len(out) == 0 {
		return nil
	}
	if err, ok := out[len(out)-1].Interface().(error); ok && err != nil {
		return errors.Wrapf(err, "invocation of %s failed", b.method)
	}
	return nil
}

// newEntry classifies item into its disposal capability. Classification
// checks the most specific shapes first: nested *Cleaner, func(), Invocation,
// then the Cancel, Disconnect, Destroy and Close capabilities in that order.
// Returns a reason string if item carries no capability; ownership of nested
// cleaners is validated separately.
func newEntry(item interface{}) (*entry, string) {
	if item == nil {
		return nil, "nil item carries no disposal capability"
	}
	if v := reflect.ValueOf(item); isNilable(v.Kind()) && v.IsNil() {
		return nil, "nil handle carries no disposal capability"
	}

	switch it := item.(type) {
	case *Cleaner:
		return &entry{kind: kindNested, item: item, nested: it}, ""
	case func():
		return &entry{
			kind:        kindCallback,
			item:        item,
			callback:    it,
			callbackPtr: reflect.ValueOf(it).Pointer(),
		}, ""
	case Invocation:
		bound, reason := bindInvocation(it)
		if reason != "" {
			return nil, reason
		}
		return &entry{kind: kindInvocation, item: item, invocation: bound}, ""
	case Canceler:
		return &entry{kind: kindTask, item: item, canceler: it}, ""
	case Disconnector:
		return &entry{kind: kindSubscription, item: item, disconnector: it}, ""
	case Destroyer:
		return &entry{kind: kindDestroyer, item: item, destroyer: it}, ""
	case io.Closer:
		return &entry{kind: kindCloser, item: item, closer: it}, ""
	}
	return nil, "no disposal capability (expected func(), *Cleaner, Invocation, Cancel, Disconnect, Destroy or Close)"
}

// bindInvocation resolves the method and pre-converts the arguments, so a bad
// invocation is rejected when added instead of blowing up during Clean.
func bindInvocation(inv Invocation) (*boundInvocation, string) {
	if inv.Object == nil {
		return nil, "invocation object is nil"
	}
	if inv.Method == "" {
		return nil, "invocation method name is empty"
	}
	call := reflect.ValueOf(inv.Object).MethodByName(inv.Method)
	if !call.IsValid() {
		return nil, "invocation object has no method " + inv.Method
	}

	mt := call.Type()
	fixed := mt.NumIn()
	if mt.IsVariadic() {
		fixed--
		if len(inv.Args) < fixed {
			return nil, "invocation has too few arguments for " + inv.Method
		}
	} else if len(inv.Args) != fixed {
		return nil, "invocation argument count does not match " + inv.Method
	}

	args := make([]reflect.Value, len(inv.Args))
	for i, a := range inv.Args {
		var pt reflect.Type
		if mt.IsVariadic() && i >= fixed {
			pt = mt.In(fixed).Elem()
		} else {
			pt = mt.In(i)
		}
		if a == nil {
			if !isNilable(pt.Kind()) {
				return nil, "invocation has nil argument for non-nilable parameter of " + inv.Method
			}
			args[i] = reflect.Zero(pt)
			continue
		}
		av := reflect.ValueOf(a)
		if !av.Type().AssignableTo(pt) {
			return nil, "invocation argument " + av.Type().String() + " is not assignable to parameter of " + inv.Method
		}
		args[i] = av
	}
	return &boundInvocation{
		object: inv.Object,
		method: inv.Method,
		call:   call,
		args:   args,
	}, ""
}

// matches reports whether item identifies this entry. Comparable values match
// by ==, funcs by code pointer (closures sharing a code body alias each
// other, same as interned functions in dynamic runtimes), invocations by
// object identity and method name.
func (e *entry) matches(item interface{}) bool {
	switch e.kind {
	case kindCallback:
		fn, ok := item.(func())
		return ok && reflect.ValueOf(fn).Pointer() == e.callbackPtr
	case kindInvocation:
		inv, ok := item.(Invocation)
		return ok && inv.Method == e.invocation.method && sameIdentity(e.invocation.object, inv.Object)
	default:
		return sameIdentity(e.item, item)
	}
}

// sameIdentity compares two values without panicking on uncomparable types.
func sameIdentity(a, b interface{}) bool {
	if a == nil || b == nil {
		return a == b
	}
	ta, tb := reflect.TypeOf(a), reflect.TypeOf(b)
	if ta != tb {
		return false
	}
	if ta.Kind() == reflect.Func {
		return reflect.ValueOf(a).Pointer() == reflect.ValueOf(b).Pointer()
	}
	if !ta.Comparable() {
		return false
	}
	return a == b
}

func isNilable(k reflect.Kind) bool {
	switch k {
	case reflect.Chan, reflect.Func, reflect.Interface, reflect.Map, reflect.Ptr, reflect.Slice:
		return true
	default:
		return false
	}
}

// flatten expands []interface{} arguments recursively, so collections of
// items can be added in one call.
func flatten(items []interface{}) []interface{} {
	flat := make([]interface{}, 0, len(items))
	for _, item := range items {
		if nested, ok := item.([]interface{}); ok {
			flat = append(flat, flatten(nested)...)
			continue
		}
		flat = append(flat, item)
	}
	return flat
}
