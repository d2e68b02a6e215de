// Package csync provides small thread-safe containers.
//
// The supervisor's control loop is the only writer of its state; other
// goroutines (the dashboard, status queries) read snapshots through these
// containers instead of sharing the loop's fields.
//
// Example usage:
//
//	// Latest status snapshot
//	status := csync.NewValue(Status{State: "not_started"})
//	status.Update(func(s Status) Status {
//		s.Builds++
//		return s
//	})
//	fmt.Println(status.Load().Builds)
//
//	// Bounded history, oldest entries are dropped first
//	history := csync.NewRing[string](100)
//	history.Append("build ok", "build failed")
//	for _, entry := range history.ToSlice() {
//		fmt.Println(entry)
//	}
//
// All operations are safe for concurrent use.
package csync
