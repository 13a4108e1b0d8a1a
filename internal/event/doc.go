// Package event implements tandem's typed event model and the per-process
// event bus.
//
// An Event is an immutable record stamped with all three clock readings
// and the identity of the peer that raised it. Only the handled flag may
// change after construction, and only the originator may set it.
//
// The Bus keeps a registry from event type to observers. Observers
// registered for Wildcard receive every event. Events waiting for dispatch
// sit in a priority queue ordered by:
//
//  1. severity rank, higher first (Collision > ... > Wildcard)
//  2. earlier wall-clock time first
//  3. not-yet-handled before handled
//
// Events raised while another dispatch is running (including from inside
// an observer) join the queue and are delivered in that order by the
// goroutine already dispatching.
//
// Network proxies are observers too. They are registered separately so
// that local observers of an event always run before it is forwarded.
//
// Observer failures are isolated: errors and panics are logged and
// delivery continues with the next observer.
package event
