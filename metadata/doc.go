// Package metadata keeps type schemas consistent across the runtime
// boundary.
//
// A Descriptor is an immutable, versioned schema for one type, identified
// by the hash of its lower-cased name. The Manager is the local cache
// consulted before the remote store; the Updater is the only writer to the
// remote store and always updates the cache first.
//
//	mgr := metadata.NewManager()
//	upd, err := metadata.NewRemoteUpdater(store, proc, mgr, 4)
//	d := metadata.NewBuilder("Person").Field("name", metadata.TypeString).MustBuild()
//	err = upd.Push(ctx, d)
package metadata
