// Package facade defines the port contracts the core binds to for its
// external collaborators: an HTTP verb surface, an outer-cache invalidation
// feed, and an inter-component bus. The collaborators themselves (the real
// transport, auth, encryption, and signing) live outside this module; this
// package only fixes the Go-level shapes they must speak, plus a thin
// net/http reference adapter that exercises the verb surface contract.
package facade
