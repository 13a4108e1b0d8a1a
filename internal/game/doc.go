// Package game assembles one peer: clock, event bus, object directory,
// event log, replay engine and either the server or the client connection
// manager, driven by a fixed-rate simulation loop.
package game
