// Package tui is the optional terminal dashboard.
//
// The dashboard subscribes to the supervisor's event broker and shows the
// process state, the last build result and a tail of the operator log.
// Keys: r rebuilds, ? toggles help, q quits.
package tui
