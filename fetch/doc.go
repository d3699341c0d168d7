// Package fetch performs one logical HTTP request against an upstream service
// with a bounded per-attempt deadline and a bounded number of retries, and
// reports the result as a classified Outcome instead of a raw error.
//
// Attempts
//   - Each attempt owns one deadline timer armed for RequestSpec.Timeout.
//   - The timer is stopped once the attempt settles; for streaming responses it
//     is stopped as soon as headers arrive and the body stays readable until the
//     caller closes it.
//   - Attempts run strictly one after another.
//
// Classification
//   - 2xx, 3xx and any status listed in RequestSpec.AllowStatus succeed.
//   - 4xx is returned on first occurrence and never retried.
//   - 5xx and transport failures are retried while budget remains.
//   - A fired attempt deadline ends the whole call; it is never retried.
//
// Backoff
//   - The delay before attempt i+1 is min(Base*2^i, Max); defaults are 1s and 5s.
//   - No jitter is applied.
//
// Do only returns an error for a malformed RequestSpec or a failing request
// interceptor. Every transport condition is reported through Outcome.Failure.
package fetch
