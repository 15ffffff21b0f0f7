// Package event provides deferred delivery of component notifications.
//
// Components never call application callbacks from inside message handling
// or from a worker goroutine. Instead they post an Event addressed to
// themselves; the Dispatcher later calls the destination's Receive method on
// the goroutine that runs the dispatcher. By the time Receive runs the call
// stack that produced the event has fully unwound, so a callback may finish,
// restart or close the component that invoked it.
//
// Liveness is checked twice. The dispatcher drops events whose destination is
// no longer registered with the Validator, and components compare the client
// captured in the event with their current client before invoking it.
//
// # Ordering
//
// Events are delivered in the order they were posted. In particular events
// posted to the same destination are never reordered, so a completion event
// cannot overtake the data events that preceded it.
package event

// Receiver is implemented by anything that can be the destination of an event.
type Receiver interface {
	Receive(ev Event)
}

// Event is a posted notification.
type Event interface {
	// Receiver returns the destination of the event.
	Receiver() Receiver
}

// Base is embedded by concrete event types. Dest is the destination; Client is
// the application client captured when the event was posted, or nil.
type Base struct {
	Dest   Receiver
	Client any
}

// Receiver implements Event.
func (b Base) Receiver() Receiver {
	return b.Dest
}

// Func is an event that runs a function on the dispatcher goroutine. It is
// used by goroutines that own no component state, such as a transport read
// loop, to hand work to the application goroutine.
type Func struct {
	Dest Receiver
	Fn   func()
}

// Receiver implements Event.
func (f *Func) Receiver() Receiver {
	return f.Dest
}
