package port

import "context"

// Unlock releases a lock obtained from Locker.TryLock.
type Unlock func(ctx context.Context) error

// Locker guards the launch of a JobInstance so that at most one execution of
// it runs at a time.
type Locker interface {
	// TryLock acquires key without waiting. ok is false when another holder has it.
	TryLock(ctx context.Context, key string) (unlock Unlock, ok bool, err error)
}
