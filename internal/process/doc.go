// Package process launches and stops one supervised child process.
//
// A Handle moves through a fixed set of states:
//
//	NotStarted -> Starting -> Running -> Stopping -> Stopped
//
// A child that exits on its own goes straight from Starting or Running to
// Stopped. Every other transition is rejected. On unix the child is placed
// in its own process group so that stop signals reach any processes it
// spawned.
package process
