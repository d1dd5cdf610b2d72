package switchboard

import "sync"

// rwMutex is embedded (by pointer) into Switchboard so that Lock,
// Unlock, RLock, and RUnlock are promoted onto it directly. The
// forwarding hot path takes a read lock; signalling handlers take a
// write lock, often around several switchboard calls at once.
type rwMutex struct {
	sync.RWMutex
}
