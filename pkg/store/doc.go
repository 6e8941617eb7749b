// Package store implements the control plane's in-memory resource store: a
// versioned, indexed, optionally-compressed table per kind, with a bounded
// change-event ring backing watch/resume, and a msgpack snapshot format used
// by the HA replication collaborator. There is no disk durability here; a
// restarted process starts empty until a peer restores it from a snapshot.
package store
