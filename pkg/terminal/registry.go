package terminal

import "sync"

// NoActiveTab is the Active() result when no tab is open.
const NoActiveTab = -1

// Registry tracks the ordered set of open tabs and the active selection.
// Identifiers are monotonically increasing and never reused, even after
// closures.
type Registry struct {
	mu     sync.Mutex
	order  []int
	active int
	nextID int
}

// NewRegistry returns an empty registry with no active tab.
func NewRegistry() *Registry {
	return &Registry{active: NoActiveTab}
}

// Open appends a new tab, makes it active, and returns its identifier.
func (r *Registry) Open() int {
	r.mu.Lock()
	defer r.mu.Unlock()

	id := r.nextID
	r.nextID++
	r.order = append(r.order, id)
	r.active = id
	return id
}

// Close removes a tab. When the active tab closes, the tab immediately
// before it in the remaining order becomes active (the first tab when
// the closed tab led the order), or no tab when the set empties.
func (r *Registry) Close(id int) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	idx := r.indexOf(id)
	if idx < 0 {
		return ErrTabNotFound
	}

	r.order = append(r.order[:idx], r.order[idx+1:]...)
	if r.active != id {
		return nil
	}
	if len(r.order) == 0 {
		r.active = NoActiveTab
		return nil
	}
	if idx > 0 {
		r.active = r.order[idx-1]
	} else {
		r.active = r.order[0]
	}
	return nil
}

// Select makes the given tab active.
func (r *Registry) Select(id int) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.indexOf(id) < 0 {
		return ErrTabNotFound
	}
	r.active = id
	return nil
}

// SelectOrdinal selects the n-th tab in display order (1-based),
// clamped to the last tab when n exceeds the count.
func (r *Registry) SelectOrdinal(n int) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if len(r.order) == 0 {
		return NoActiveTab, ErrNoTabs
	}
	if n < 1 {
		n = 1
	}
	if n > len(r.order) {
		n = len(r.order)
	}
	r.active = r.order[n-1]
	return r.active, nil
}

// Next cyclically selects the tab after the active one.
func (r *Registry) Next() (int, error) {
	return r.step(1)
}

// Prev cyclically selects the tab before the active one.
func (r *Registry) Prev() (int, error) {
	return r.step(-1)
}

func (r *Registry) step(delta int) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if len(r.order) == 0 {
		return NoActiveTab, ErrNoTabs
	}
	idx := r.indexOf(r.active)
	if idx < 0 {
		idx = 0
	}
	idx = (idx + delta + len(r.order)) % len(r.order)
	r.active = r.order[idx]
	return r.active, nil
}

// Active returns the active tab identifier, or NoActiveTab.
func (r *Registry) Active() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.active
}

// IDs returns the tab identifiers in display order.
func (r *Registry) IDs() []int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]int(nil), r.order...)
}

// Len returns the number of open tabs.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.order)
}

func (r *Registry) indexOf(id int) int {
	for i, existing := range r.order {
		if existing == id {
			return i
		}
	}
	return -1
}
