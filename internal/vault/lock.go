package vault

import (
	"sync"

	"github.com/maynagashev/heirvault/internal/ledger"
)

// keyedMutex выдает отдельную блокировку на каждого владельца.
// Запись удаляется, когда ее больше никто не держит и не ждет.
type keyedMutex struct {
	mu    sync.Mutex
	locks map[ledger.Address]*refMutex
}

type refMutex struct {
	sync.Mutex
	refs int
}

func newKeyedMutex() *keyedMutex {
	return &keyedMutex{locks: make(map[ledger.Address]*refMutex)}
}

// Lock захватывает блокировку key и возвращает функцию освобождения.
func (k *keyedMutex) Lock(key ledger.Address) func() {
	k.mu.Lock()
	m, ok := k.locks[key]
	if !ok {
		m = &refMutex{}
		k.locks[key] = m
	}
	m.refs++
	k.mu.Unlock()

	m.Lock()

	return func() {
		m.Unlock()

		k.mu.Lock()
		m.refs--
		if m.refs == 0 {
			delete(k.locks, key)
		}
		k.mu.Unlock()
	}
}
