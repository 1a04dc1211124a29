// Package health holds the liveness/readiness plumbing: request-time
// probes, the All/Any/Fixed combinators, HTTP handlers for the probe
// endpoints, and a ShutdownGate that flips readiness off while the
// server drains so load balancers pull it out of rotation first.
package health
