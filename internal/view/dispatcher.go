package view

// EventKind names what happened on a canvas.
type EventKind int

const (
	// Model-level notifications.
	EventReset EventKind = iota
	EventAdded
	EventRemoved
	EventActivated
	EventRelayout

	// Intents raised by node handles.
	EventClick
	EventOpenClick
	EventRemoveClick
)

var eventNames = [...]string{"reset", "added", "removed", "activated", "relayout", "click", "openClick", "removeClick"}

func (k EventKind) String() string {
	if int(k) < len(eventNames) {
		return eventNames[k]
	}
	return "unknown"
}

// Event is delivered to subscribers of a Dispatcher.
type Event struct {
	Kind    EventKind
	ID      string   // marker concerned, if any
	Removed []string // ids removed by EventRemoved, subtree root first
}

type subscription struct {
	id    int
	kinds map[EventKind]bool // nil means every kind
	fn    func(Event)
}

// Dispatcher is the event bus of one canvas. Handlers run synchronously in
// subscription order.
type Dispatcher struct {
	subs   []subscription
	nextID int
}

// NewDispatcher creates an empty dispatcher.
func NewDispatcher() *Dispatcher {
	return &Dispatcher{}
}

// Subscribe registers fn for the given kinds, or for every kind when none are
// given. The returned function unsubscribes.
func (d *Dispatcher) Subscribe(fn func(Event), kinds ...EventKind) func() {
	d.nextID++
	sub := subscription{id: d.nextID, fn: fn}
	if len(kinds) > 0 {
		sub.kinds = make(map[EventKind]bool, len(kinds))
		for _, k := range kinds {
			sub.kinds[k] = true
		}
	}
	d.subs = append(d.subs, sub)
	id := sub.id
	return func() {
		for i, s := range d.subs {
			if s.id == id {
				d.subs = append(d.subs[:i:i], d.subs[i+1:]...)
				return
			}
		}
	}
}

// Publish delivers e to every matching subscriber.
func (d *Dispatcher) Publish(e Event) {
	subs := append([]subscription(nil), d.subs...)
	for _, s := range subs {
		if s.kinds == nil || s.kinds[e.Kind] {
			s.fn(e)
		}
	}
}
