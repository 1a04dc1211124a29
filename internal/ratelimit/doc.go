// Package ratelimit holds the three throttling policies of the edge:
//
//   - IPLimiter: a per-IP token-bucket flood guard wrapped around the
//     whole pipeline.
//   - FixedWindow: a fixed-window counter for sensitive actions invoked
//     by call sites, not per request.
//   - LoginLimiter: a login-attempt counter with a timed lockout state
//     machine.
//
// All three are single-instance, in-memory maps pruned by background
// sweeps. Instances behind a load balancer do not share state; that is a
// deliberate constraint of this design, not a defect. Distributed abuse
// needs an upstream WAF or CDN-level limiting.
package ratelimit
