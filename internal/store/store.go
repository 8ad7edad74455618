package store

// Backend is the persistence surface the stores need: whole-document reads
// and writes keyed by store name. *database.DB satisfies it; tests use an
// in-memory map.
type Backend interface {
	LoadStore(name string) ([]byte, error)
	SaveStore(name string, data []byte) error
}
