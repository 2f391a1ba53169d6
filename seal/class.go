package seal

// Class mints Objects sharing a destroy hook. Wrapping a class makes
// Destroy lock every instance once the hook has run.
type Class struct {
	name    string
	destroy func(*Object) error
	wrapped bool
}

// NewClass creates a class named name whose instances run destroy when
// destroyed. A nil destroy hook is allowed; Destroy then only performs the
// lock of a wrapped class.
func NewClass(name string, destroy func(*Object) error) *Class {
	return &Class{name: name, destroy: destroy}
}

// Name returns the class name.
func (c *Class) Name() string {
	return c.name
}

// New creates an instance of c holding a copy of fields.
func (c *Class) New(fields map[string]interface{}) *Object {
	o := NewObject(fields)
	o.class = c
	return o
}

// Wrap intercepts c's destroy hook so that Destroy locks the instance after
// the hook completes. Returns ErrAlreadyWrapped when called twice, as double
// interception is invariably a wiring mistake.
func Wrap(c *Class) error {
	if c == nil {
		return ErrNoClass
	}
	if c.wrapped {
		return ErrAlreadyWrapped
	}
	debug("wrapping class %s", c.name)
	c.wrapped = true
	return nil
}

// IsWrapped reports whether Wrap has been applied to c.
func IsWrapped(c *Class) bool {
	return c != nil && c.wrapped
}

// Destroy runs the class destroy hook and, if the class is wrapped, locks
// the object afterwards, whether or not the hook failed. Destroying an
// object without a class just locks nothing and returns nil. A second
// Destroy does nothing, so destroyable objects can be added to cleaners
// that may also be disposed by hand.
func (o *Object) Destroy() error {
	o.m.Lock()
	if o.destroyed {
		o.m.Unlock()
		return nil
	}
	o.destroyed = true
	class := o.class
	o.m.Unlock()

	if class == nil {
		return nil
	}
	var err error
	if class.destroy != nil {
		err = class.destroy(o)
	}
	if class.wrapped {
		Lock(o)
	}
	return err
}

// Destroyed reports whether Destroy has run.
func (o *Object) Destroyed() bool {
	o.m.Lock()
	defer o.m.Unlock()
	return o.destroyed
}
