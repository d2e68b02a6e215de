// Package logging builds the operator log sink.
//
// Supervisor messages and the relayed output of the build and run commands
// share one sink. Each record carries a component (main, watch, build, run)
// which the text handler renders as a colored tag, so interleaved output
// stays attributable:
//
//	main  | watching 42 files
//	build | go: downloading github.com/google/uuid v1.6.0
//	run   | listening on :8080
//
// The json format emits one slog JSON object per record instead.
package logging
