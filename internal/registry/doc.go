// Package registry tracks which connection currently serves each identity.
//
// # Overview
//
// The Registry is the only shared map of live sessions. Each identity has at
// most one Handle; Register installs a new one and returns the handle it
// replaced so the caller can decide whether to close it.
//
// # Deregistration
//
// Deregister removes an entry only when the stored handle has the same ID as
// the one passed in. A superseded connection that disconnects late therefore
// leaves the newer entry in place.
//
// # Shutdown
//
// CloseAll closes every registered handle with the given code and empties the
// map.
package registry
