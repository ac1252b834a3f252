package field

import "sync"

// ChangeObserver is notified after a field's value changes. name is the
// field whose value changed; old/new are the values before and after
// (either may be Undefined).
type ChangeObserver func(name string, old, new interface{})

type pendingChange struct {
	old, new interface{}
	fired    bool
}

// Controller is a typed attribute container with change notification,
// embedded (directly or by composition) in every graph node.
type Controller struct {
	mu        sync.RWMutex
	fields    map[string]*Field
	order     []string
	values    map[string]interface{}
	observers map[string][]ChangeObserver // key "" observes every field

	suppressDepth int
	pending       map[string]*pendingChange
}

// NewController returns an empty, ready-to-use Controller.
func NewController() *Controller {
	return &Controller{
		fields:    make(map[string]*Field),
		values:    make(map[string]interface{}),
		observers: make(map[string][]ChangeObserver),
		pending:   make(map[string]*pendingChange),
	}
}

// AddField registers a field. It rejects names colliding with a reserved
// node-level attribute (spec.md §4.1).
func (c *Controller) AddField(f *Field) error {
	if IsReservedName(f.Name) {
		return &ErrReservedName{Name: f.Name}
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, exists := c.fields[f.Name]; !exists {
		c.order = append(c.order, f.Name)
	}
	c.fields[f.Name] = f
	if _, has := c.values[f.Name]; !has {
		if f.HasDefault() {
			c.values[f.Name] = f.Default
		} else {
			c.values[f.Name] = Undefined
		}
	}
	return nil
}

// RemoveField drops a field and its current value.
func (c *Controller) RemoveField(name string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.fields, name)
	delete(c.values, name)
	for i, n := range c.order {
		if n == name {
			c.order = append(c.order[:i], c.order[i+1:]...)
			break
		}
	}
}

// Fields returns every registered field in declaration order.
func (c *Controller) Fields() []*Field {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]*Field, 0, len(c.order))
	for _, n := range c.order {
		out = append(out, c.fields[n])
	}
	return out
}

// UserFields returns every non-hidden field, the subset exposed as plugs.
func (c *Controller) UserFields() []*Field {
	all := c.Fields()
	out := make([]*Field, 0, len(all))
	for _, f := range all {
		if !f.Hidden {
			out = append(out, f)
		}
	}
	return out
}

// Field returns the descriptor for name, or nil if it isn't registered.
func (c *Controller) Field(name string) *Field {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.fields[name]
}

// Get returns the current value of a field and whether it is defined
// (false for a missing field or one still holding Undefined).
func (c *Controller) Get(name string) (interface{}, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	v, ok := c.values[name]
	if !ok || IsUndefined(v) {
		return v, false
	}
	return v, true
}

// GetOr returns the current value, or Undefined if unset.
func (c *Controller) GetOr(name string) interface{} {
	c.mu.RLock()
	defer c.mu.RUnlock()
	v, ok := c.values[name]
	if !ok {
		return Undefined
	}
	return v
}

// Set assigns a value and fires change notifications for name (unless
// suppressed, in which case the notification is queued and coalesced).
func (c *Controller) Set(name string, value interface{}) {
	c.mu.Lock()
	old, existed := c.values[name]
	if !existed {
		old = Undefined
	}
	c.values[name] = value
	suppressed := c.suppressDepth > 0
	if suppressed {
		if pc, ok := c.pending[name]; ok {
			pc.new = value
		} else {
			c.pending[name] = &pendingChange{old: old, new: value}
		}
	}
	c.mu.Unlock()

	if !suppressed {
		c.notify(name, old, value)
	}
}

// BeginEdit suppresses change notifications; nested calls stack. Matching
// EndEdit calls re-fire each changed field exactly once.
func (c *Controller) BeginEdit() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.suppressDepth++
}

// EndEdit pops one suppression level, firing queued notifications once the
// outermost level is released.
func (c *Controller) EndEdit() {
	c.mu.Lock()
	c.suppressDepth--
	var toFire map[string]*pendingChange
	if c.suppressDepth == 0 {
		toFire = c.pending
		c.pending = make(map[string]*pendingChange)
	}
	c.mu.Unlock()

	for name, pc := range toFire {
		c.notify(name, pc.old, pc.new)
	}
}

// OnAttributeChange registers an observer. If names is empty the observer
// fires on every field change; otherwise only for the listed fields.
func (c *Controller) OnAttributeChange(obs ChangeObserver, names ...string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(names) == 0 {
		c.observers[""] = append(c.observers[""], obs)
		return
	}
	for _, n := range names {
		c.observers[n] = append(c.observers[n], obs)
	}
}

func (c *Controller) notify(name string, old, new interface{}) {
	c.mu.RLock()
	obs := append(append([]ChangeObserver{}, c.observers[name]...), c.observers[""]...)
	c.mu.RUnlock()
	for _, o := range obs {
		o(name, old, new)
	}
}

// ExportDict serializes every user-field value into a plain map, skipping
// fields still at Undefined.
func (c *Controller) ExportDict() map[string]interface{} {
	out := make(map[string]interface{})
	for _, f := range c.UserFields() {
		if v, ok := c.Get(f.Name); ok {
			out[f.Name] = v
		}
	}
	return out
}

// ImportDict assigns values from a plain map onto matching fields.
func (c *Controller) ImportDict(values map[string]interface{}) {
	for name, v := range values {
		if c.Field(name) != nil {
			c.Set(name, v)
		}
	}
}
