// Package seal freezes objects after teardown so that use-after-teardown
// bugs fail loudly instead of corrupting state.
//
// Lock erases an Object's fields and traps every later read or write with a
// FinalizedError naming the accessed key. Wrap intercepts a Class's destroy
// hook so instances are locked automatically once destroyed. An Object
// carries the Destroy capability, so it can be added to a cleaner directly.
package seal

import (
	"sort"
	"sync"

	"github.com/pkg/errors"

	"github.com/Novaly-Studios/Cleaner/util"
)

var debug = util.Debug("seal")

var (
	// ErrNoObject is returned by Lock when no object is given.
	ErrNoObject = errors.New("seal: cannot lock a nil object")
	// ErrNoClass is returned by Wrap when no class is given.
	ErrNoClass = errors.New("seal: cannot wrap a nil class")
	// ErrAlreadyWrapped is returned by Wrap when the class destroy hook has
	// been intercepted already.
	ErrAlreadyWrapped = errors.New("seal: class is already wrapped")
)

// Object is a mutable set of string-keyed fields whose access can be revoked
// with Lock. All methods are safe for concurrent use.
type Object struct {
	m      sync.Mutex
	fields map[string]interface{}
	locked bool

	class     *Class
	destroyed bool
}

// NewObject creates an Object holding a copy of fields. A nil map creates an
// empty object.
func NewObject(fields map[string]interface{}) *Object {
	o := &Object{fields: make(map[string]interface{}, len(fields))}
	for k, v := range fields {
		o.fields[k] = v
	}
	return o
}

// Get returns the value stored under key, or nil if the key is absent. On a
// locked object Get fails with a FinalizedError naming the key.
func (o *Object) Get(key string) (interface{}, error) {
	o.m.Lock()
	defer o.m.Unlock()
	if o.locked {
		return nil, FinalizedError{Op: "read", Key: key}
	}
	return o.fields[key], nil
}

// Set stores value under key. On a locked object Set fails with a
// FinalizedError naming the key.
func (o *Object) Set(key string, value interface{}) error {
	o.m.Lock()
	defer o.m.Unlock()
	if o.locked {
		return FinalizedError{Op: "write", Key: key}
	}
	o.fields[key] = value
	return nil
}

// Delete removes the field stored under key, if any. On a locked object
// Delete fails with a FinalizedError naming the key.
func (o *Object) Delete(key string) error {
	o.m.Lock()
	defer o.m.Unlock()
	if o.locked {
		return FinalizedError{Op: "delete", Key: key}
	}
	delete(o.fields, key)
	return nil
}

// Len returns the number of fields. A locked object has none.
func (o *Object) Len() int {
	o.m.Lock()
	defer o.m.Unlock()
	return len(o.fields)
}

// Keys returns the field names in sorted order. A locked object has none.
func (o *Object) Keys() []string {
	o.m.Lock()
	defer o.m.Unlock()
	keys := make([]string, 0, len(o.fields))
	for k := range o.fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Lock erases every field of o and traps all further field access with
// FinalizedError. Locking an already locked object does nothing.
func Lock(o *Object) error {
	if o == nil {
		return ErrNoObject
	}
	o.m.Lock()
	defer o.m.Unlock()
	if o.locked {
		return nil
	}
	debug("locking object with %d field(s)", len(o.fields))
	o.fields = nil
	o.locked = true
	return nil
}

// IsLocked reports whether Lock has been applied to o.
func IsLocked(o *Object) bool {
	if o == nil {
		return false
	}
	o.m.Lock()
	defer o.m.Unlock()
	return o.locked
}
