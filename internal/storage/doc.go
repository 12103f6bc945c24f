// Package storage defines the key/value contract every cache backend must
// satisfy, the optional capabilities a backend may add on top of it (locking,
// expiration and age introspection, namespace clearing), and the file engine
// that persists records under <dir>/<key><suffix> with temp file + rename
// publication and advisory flock on <file><tmp>.
//
// Items in package cache only ever talk to a Storage; capabilities are
// resolved once through CapabilitiesOf so callers never type-assert at each
// call site.
package storage
