// Package http exposes the facility booking lifecycle over HTTP.
//
// Every route except GET /healthz requires an `Authorization: Bearer <token>`
// header verified by the configured identity provider.
//
//   - POST /bookings: reserves a slot. Body: {"facility_id","date","time_slot","metadata"}.
//   - GET /bookings/{id}, POST /bookings/{id}/cancel: holder or staff only.
//   - GET /bookings/{id}/activity?order=oldest_first|newest_first: audit trail.
//   - GET /me/bookings, GET /me/activity?limit=: the caller's bookings and feed.
//   - POST /check-ins {"code","date"}: staff check-in by code. POST
//     /check-ins/resolve previews the match without changing state.
//   - POST /sessions/{id}/end: staff ends a checked-in session.
//   - GET /sessions/today?status=&q=&date=: staff view of a day's sessions.
//
// Ambiguous codes answer 409 with the candidate bookings so the desk can fall
// back to manual search. Failed booking writes answer 503 with "retryable": true.
package http
