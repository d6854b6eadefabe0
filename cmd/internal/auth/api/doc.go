// Package api exposes the guest/registered session lifecycle over HTTP.
//
// Access tokens travel as bearer credentials. Refresh tokens travel in an
// HttpOnly cookie scoped to the auth path and are rotated on every refresh.
package api
