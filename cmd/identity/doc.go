// Package identity implements the splitbill account store.
//
// An Account is either a guest (no email, no credential hash) or registered
// (both present). Guests are upgraded in place, so the account ID survives the
// transition and everything attributed to it stays attributed.
//
// The session layer consumes this package through the Store interface; it
// never touches the tables directly.
package identity
