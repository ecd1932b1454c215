// Package broadcast implements the admin broadcast wizard and the
// rate-limited fan-out that delivers a finished draft to every subscriber.
package broadcast
