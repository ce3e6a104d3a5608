package griddata

// BackendType names a concrete Backend implementation, mirroring the
// teacher's CacheType/CacheFactory registry idiom.
type BackendType int

const (
	// InMemoryBackend uses an in-process cache; appropriate for a single node
	// or for tests (backend/memory).
	InMemoryBackend BackendType = iota
	// RedisBackend coordinates across nodes through a shared Redis server or
	// cluster (backend/redis).
	RedisBackend
)

// BackendFactory constructs a Backend. Concrete backend packages register a
// factory with RegisterBackend during their init, or callers can construct
// a Backend directly and skip the registry entirely.
type BackendFactory func() (Backend, error)

var backendRegistry = make(map[BackendType]BackendFactory)

// RegisterBackend registers a factory for the given backend type. Intended
// to be called from a backend subpackage's init().
func RegisterBackend(t BackendType, f BackendFactory) {
	backendRegistry[t] = f
}

// NewRegisteredBackend constructs a Backend using the factory registered for
// t. It returns an error if no factory has been registered.
func NewRegisteredBackend(t BackendType) (Backend, error) {
	f, ok := backendRegistry[t]
	if !ok {
		return nil, newError(Unknown, "backend", nil)
	}
	return f()
}
