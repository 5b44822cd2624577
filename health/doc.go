// Package health reports whether the supervisor and its services are up.
//
// A Status is healthy, degraded or unhealthy, and may carry sub-statuses.
// Aggregate folds sub-statuses into one: any unhealthy child makes the parent
// unhealthy, otherwise any degraded child makes it degraded.
//
// FromServiceInfo maps a service lifecycle snapshot onto a Status:
//
//	running              healthy
//	loaded, starting     degraded
//	stopping, stopped    unhealthy
//
// Messages built from errors go through Sanitize first, so bus URLs,
// addresses, file paths and credentials from the configuration never reach
// the /health endpoint.
package health
