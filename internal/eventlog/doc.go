// Package eventlog writes every bus event to an append-only tab-separated
// log and, while a recording is open, a second file with only the
// GAME_OBJECT_CHANGE lines the replay engine needs.
//
// Line layout:
//
//	wall \t simulation \t loop \t originator \t TYPE \t (key \t value)*
//
// A world.Object argument is flattened into KIND \t GUID, followed by
// x \t y \t removed for kinds that have a position. Strings are NFC
// normalised and never contain tabs or newlines.
//
// Writing happens on a background worker draining a priority queue, so
// file I/O never runs on the raising goroutine.
package eventlog
