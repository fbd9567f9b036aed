package lock

import "context"

// Locker grants short-lived exclusive ownership of a key across processes.
// Obtain reports ok=false without error when another holder already owns the key.
type Locker interface {
	Obtain(ctx context.Context, key string) (release func(), ok bool, err error)
}

// Noop grants every request. Used when no shared lock backend is configured.
type Noop struct{}

func (Noop) Obtain(context.Context, string) (func(), bool, error) {
	return func() {}, true, nil
}
