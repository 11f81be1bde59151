//go:build !windows

package pq

import (
	"os"

	"golang.org/x/sys/unix"
)

// Byte-range lock regions within the queue file. fcntl locks are advisory
// and may address any byte range regardless of actual file length or
// contents, so the header, the allocator bookkeeping, and each index get a
// fixed one-byte "lock address" (bytes 0-3); slot i's lock is the single
// byte at lockAddrReserved+1+i, which is the finest granularity spec.md
// §4.3 calls for ("header, index, per-slot" — never a single global writer
// mutex).
const (
	lockAddrHeader = iota
	lockAddrAlloc
	lockAddrSigIndex
	lockAddrTimeIndex
	lockAddrReserved // slot lock addresses start just past this one
)

func lockRegion(f *os.File, start, length int64, write, blocking bool) error {
	typ := int16(unix.F_RDLCK)
	if write {
		typ = unix.F_WRLCK
	}
	lk := unix.Flock_t{
		Type:   typ,
		Whence: int16(os.SEEK_SET),
		Start:  start,
		Len:    length,
	}
	cmd := unix.F_SETLK
	if blocking {
		cmd = unix.F_SETLKW
	}
	if err := unix.FcntlFlock(f.Fd(), cmd, &lk); err != nil {
		if !blocking {
			return ErrWouldBlock
		}
		return err
	}
	return nil
}

func unlockRegion(f *os.File, start, length int64) error {
	lk := unix.Flock_t{
		Type:   unix.F_UNLCK,
		Whence: int16(os.SEEK_SET),
		Start:  start,
		Len:    length,
	}
	return unix.FcntlFlock(f.Fd(), unix.F_SETLK, &lk)
}

// regionLock is a scoped advisory byte-range lock. Its zero value is not
// usable; obtain one via ProductQueue's lockXxx helpers.
type regionLock struct {
	f      *os.File
	start  int64
	length int64
}

func (r *regionLock) Unlock() error {
	if r == nil || r.f == nil {
		return nil
	}
	return unlockRegion(r.f, r.start, r.length)
}

func acquire(f *os.File, start, length int64, write, blocking bool) (*regionLock, error) {
	if err := lockRegion(f, start, length, write, blocking); err != nil {
		return nil, err
	}
	return &regionLock{f: f, start: start, length: length}, nil
}
