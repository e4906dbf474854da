// Package resource bounds the shared resources of a matcher: concurrent
// match queries, snapshot buffer memory and snapshot IO throughput.
//
// It is built on golang.org/x/sync/semaphore and golang.org/x/time/rate.
// All methods are safe on a nil *Controller, which imposes no limits.
package resource
