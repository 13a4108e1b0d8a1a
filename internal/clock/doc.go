// Package clock implements the layered notion of time shared by a tandem
// process.
//
// Three timelines are kept side by side:
//
//   - Wall: the host's clock. Always running; it cannot be started, paused,
//     resumed or reset.
//   - Simulation: pausable elapsed time. Frozen while paused; the paused span
//     is subtracted once it resumes.
//   - Loop: a discrete counter advanced only by Tick. Its scaled reading is
//     iterations multiplied by the tick size, which is how replay speed is
//     changed without touching the other two timelines.
//
// Clock pairs Simulation and Loop so that pausing or resuming one always
// pauses or resumes the other under the same lock and at the same instant.
//
// Misuse (pausing twice, resuming a running timeline, touching the wall
// clock) is a contract violation: the call returns a *ContractError and the
// timeline state is left unchanged.
package clock
