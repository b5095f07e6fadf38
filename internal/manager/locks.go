package manager

import "sync"

// DomainLocks holds one mutex per destination domain. Fills into the same
// domain are serialized so the filler's nonces and balance are consumed in
// order; fills into different domains proceed independently.
type DomainLocks struct {
	mu    sync.Mutex
	locks map[uint32]*sync.Mutex
}

func NewDomainLocks() *DomainLocks {
	return &DomainLocks{locks: make(map[uint32]*sync.Mutex)}
}

func (d *DomainLocks) get(domain uint32) *sync.Mutex {
	d.mu.Lock()
	defer d.mu.Unlock()
	l, ok := d.locks[domain]
	if !ok {
		l = &sync.Mutex{}
		d.locks[domain] = l
	}
	return l
}

// Lock acquires the domain mutex and returns its release function.
//
//	unlock := locks.Lock(id)
//	defer unlock()
func (d *DomainLocks) Lock(domain uint32) func() {
	l := d.get(domain)
	l.Lock()
	return l.Unlock
}

// TryLock acquires the domain mutex without blocking. ok is false when it is held.
func (d *DomainLocks) TryLock(domain uint32) (unlock func(), ok bool) {
	l := d.get(domain)
	if !l.TryLock() {
		return nil, false
	}
	return l.Unlock, true
}
