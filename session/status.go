package session

import "sync"

// Phase is the coarse lifecycle phase surfaced alongside a Status message.
type Phase string

const (
	// Authenticating covers every non-terminal step of a run: config
	// loading, sign-in, refresh, introspection and the protected call.
	Authenticating Phase = "authenticating"

	// Succeeded is terminal: the protected call completed with HTTP 200.
	Succeeded Phase = "succeeded"

	// Failed is terminal: some step of the run failed.
	Failed Phase = "failed"
)

// Status is the value a presentation layer renders: a phase, a
// human-readable message and a loading flag. The loading flag is true while
// a run is in flight and is cleared exactly once, on the terminal
// transition.
type Status struct {
	Phase   Phase
	Message string
	Loading bool
}

// Terminal reports whether the status is a terminal one.
func (s Status) Terminal() bool {
	return s.Phase == Succeeded || s.Phase == Failed
}

// Listener receives every Status change, in order.
type Listener func(Status)

// Cell is an observable Status holder. The Controller is its only writer;
// any number of readers may subscribe. Listeners are invoked synchronously
// on the mutating goroutine.
type Cell struct {
	mu        sync.Mutex
	current   Status
	listeners []Listener
}

// NewCell creates an empty Cell.
func NewCell() *Cell {
	return &Cell{}
}

// Current returns the most recently set Status.
func (c *Cell) Current() Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.current
}

// Subscribe registers a listener for all subsequent Status changes. Nil
// listeners are ignored.
func (c *Cell) Subscribe(l Listener) {
	if l == nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.listeners = append(c.listeners, l)
}

func (c *Cell) set(s Status) {
	c.mu.Lock()
	c.current = s
	listeners := make([]Listener, len(c.listeners))
	copy(listeners, c.listeners)
	c.mu.Unlock()
	for _, l := range listeners {
		l(s)
	}
}
