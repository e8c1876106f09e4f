// Package bridge is the caller-side half of the worker boundary. A Bridge
// lazily starts a background worker, sends it protocol commands and turns
// the events it emits back into call results, pull streams and callbacks.
//
// At most one init and one chat are pending at a time. Each pending request
// is served by its own listener goroutine, fed by the single dispatcher that
// reads the worker's event channel; a listener detaches itself when its
// request reaches a terminal event.
package bridge
