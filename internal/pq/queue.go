// Package pq implements the bounded, memory-mapped, multi-process product
// queue: spec.md §4.3, the largest single subsystem in this repository. A
// queue is one file laid out as [header][slot table][data region], shared
// by every process on the host via mmap; all mutual exclusion is by
// advisory byte-range locks on that file (lock_unix.go) because any
// participant may be a separate OS process that can crash independently.
package pq

import (
	"context"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/Unidata/LDM-sub012/internal/product"
)

// Matcher is satisfied by *productclass.Class; kept as a narrow interface
// here so this package does not import productclass.
type Matcher interface {
	Match(info product.Info) bool
}

// ProductQueue is one open handle to a queue file. A handle is not safe for
// concurrent use by multiple goroutines without external synchronization
// beyond what mu already provides for this process's in-memory caches;
// cross-process safety is via file locks regardless of how many goroutines
// share a handle.
type ProductQueue struct {
	path   string
	f      *os.File
	mapped []byte

	slotCount uint64
	dataCap   uint64
	dataStart int64

	mu        sync.Mutex // guards alloc/idx/nextSeq, this process's caches only
	alloc     *allocator
	idx       *indexes
	nextSeq   uint64
	oldestAge time.Time
}

// Create initializes a new queue file at path with room for slotCount slots
// and dataCapacity bytes of payload storage, then opens it.
func Create(path string, slotCount uint64, dataCapacity uint64) (*ProductQueue, error) {
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE|os.O_EXCL, 0644)
	if err != nil {
		return nil, fmt.Errorf("pq: create %s: %w", path, err)
	}
	total := dataRegionOffset(slotCount) + int64(dataCapacity)
	if err := f.Truncate(total); err != nil {
		f.Close()
		os.Remove(path)
		return nil, fmt.Errorf("pq: truncate %s: %w", path, err)
	}

	hdrBuf := make([]byte, headerSize)
	encodeHeader(hdrBuf, header{
		Magic:        magic,
		Version:      version,
		SlotCount:    slotCount,
		DataCapacity: dataCapacity,
	})
	if _, err := f.WriteAt(hdrBuf, 0); err != nil {
		f.Close()
		os.Remove(path)
		return nil, fmt.Errorf("pq: write header %s: %w", path, err)
	}

	f.Close()
	return Open(path)
}

// Open opens an existing queue file, validating its header and rebuilding
// the in-memory allocator and index caches from a full scan of the slot
// table.
func Open(path string) (*ProductQueue, error) {
	f, err := os.OpenFile(path, os.O_RDWR, 0644)
	if err != nil {
		return nil, fmt.Errorf("pq: open %s: %w", path, err)
	}

	hdrBuf := make([]byte, headerSize)
	if _, err := f.ReadAt(hdrBuf, 0); err != nil {
		f.Close()
		return nil, fmt.Errorf("pq: read header %s: %w", path, err)
	}
	hdr := decodeHeader(hdrBuf)
	if hdr.Magic != magic || hdr.Version != version {
		f.Close()
		return nil, ErrInvalidMagic
	}

	total := dataRegionOffset(hdr.SlotCount) + int64(hdr.DataCapacity)
	mapped, err := mmapFile(f, total)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("pq: mmap %s: %w", path, err)
	}

	q := &ProductQueue{
		path:      path,
		f:         f,
		mapped:    mapped,
		slotCount: hdr.SlotCount,
		dataCap:   hdr.DataCapacity,
		dataStart: dataRegionOffset(hdr.SlotCount),
		alloc:     newAllocator(hdr.DataCapacity),
		idx:       newIndexes(),
	}

	slots, err := q.readAllSlots()
	if err != nil {
		mustMunmap(mapped)
		f.Close()
		return nil, err
	}
	q.alloc.rebuild(slots)
	q.idx.rebuild(slots, hdr.Generation)
	for _, s := range slots {
		if s.occupied() && s.SequenceNo >= q.nextSeq {
			q.nextSeq = s.SequenceNo + 1
		}
	}
	return q, nil
}

func mustMunmap(b []byte) { _ = munmapFile(b) }

// Close unmaps and closes the queue file. It does not remove the file.
func (q *ProductQueue) Close() error {
	if q == nil || q.f == nil {
		return ErrNotOpen
	}
	err := munmapFile(q.mapped)
	if cerr := q.f.Close(); err == nil {
		err = cerr
	}
	q.f = nil
	return err
}

func (q *ProductQueue) readSlot(i uint64) (slotEntry, error) {
	off := slotOffset(i)
	if int(off)+slotEntrySize > len(q.mapped) {
		return slotEntry{}, ErrCorrupt
	}
	return decodeSlot(q.mapped[off : off+slotEntrySize]), nil
}

func (q *ProductQueue) writeSlot(i uint64, s slotEntry) error {
	off := slotOffset(i)
	buf := make([]byte, slotEntrySize)
	encodeSlot(buf, s)
	copy(q.mapped[off:off+slotEntrySize], buf)
	return nil
}

func (q *ProductQueue) readAllSlots() ([]slotEntry, error) {
	out := make([]slotEntry, q.slotCount)
	for i := uint64(0); i < q.slotCount; i++ {
		s, err := q.readSlot(i)
		if err != nil {
			return nil, err
		}
		out[i] = s
	}
	return out, nil
}

func (q *ProductQueue) freeSlotIndex() (uint64, bool) {
	for i := uint64(0); i < q.slotCount; i++ {
		s, err := q.readSlot(i)
		if err != nil {
			return 0, false
		}
		if !s.occupied() {
			return i, true
		}
	}
	return 0, false
}

func (q *ProductQueue) readHeader() header {
	return decodeHeader(q.mapped[0:headerSize])
}

func (q *ProductQueue) writeHeader(h header) {
	buf := make([]byte, headerSize)
	encodeHeader(buf, h)
	copy(q.mapped[0:headerSize], buf)
}

// refreshIfStale re-derives the in-memory caches if another process has
// bumped the on-disk generation counter since this process last scanned.
func (q *ProductQueue) refreshIfStale() error {
	hdr := q.readHeader()
	if hdr.Generation == q.idx.generation {
		return nil
	}
	slots, err := q.readAllSlots()
	if err != nil {
		return err
	}
	q.alloc.rebuild(slots)
	q.idx.rebuild(slots, hdr.Generation)
	return nil
}

func (q *ProductQueue) bumpGeneration() {
	hdr := q.readHeader()
	hdr.Generation++
	q.writeHeader(hdr)
}

// Insert implements spec.md §4.3.1. A nil error means INSERTED; otherwise
// the returned error is one of ErrDuplicate, ErrTooBig, or ErrSystem (or an
// I/O error wrapping it).
func (q *ProductQueue) Insert(info product.Info, payload []byte) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	sigLock, err := acquire(q.f, lockAddrSigIndex, 1, true, true)
	if err != nil {
		return fmt.Errorf("pq: %w", ErrSystem)
	}
	defer sigLock.Unlock()

	if err := q.refreshIfStale(); err != nil {
		return err
	}
	if _, dup := q.idx.has(info.Signature); dup {
		return ErrDuplicate
	}

	need := uint64(len(info.Identifier) + len(info.Origin) + len(payload))
	if need > q.dataCap {
		return ErrTooBig
	}

	allocLock, err := acquire(q.f, lockAddrAlloc, 1, true, true)
	if err != nil {
		return fmt.Errorf("pq: %w", ErrSystem)
	}
	defer allocLock.Unlock()

	offset, ok := q.alloc.allocate(need)
	for !ok && q.alloc.largestFreeRun() < need {
		evicted := false
		for _, ts := range q.idx.byTime {
			if q.evictSlot(ts.slot) {
				evicted = true
				break
			}
		}
		if !evicted {
			return fmt.Errorf("pq: %w", ErrSystem)
		}
		offset, ok = q.alloc.allocate(need)
	}
	if !ok {
		return fmt.Errorf("pq: %w", ErrSystem)
	}

	slotIdx, has := q.freeSlotIndex()
	if !has {
		q.alloc.freeExtent(extent{Offset: offset, Length: need})
		return fmt.Errorf("pq: %w", ErrSystem)
	}

	now := time.Now().UTC()
	seq := q.nextSeq
	q.nextSeq++

	abs := q.dataStart + int64(offset)
	copy(q.mapped[abs:], info.Identifier)
	copy(q.mapped[abs+int64(len(info.Identifier)):], info.Origin)
	copy(q.mapped[abs+int64(len(info.Identifier)+len(info.Origin)):], payload)

	entry := slotEntry{
		Offset:        offset,
		Length:        need,
		ArrivalSec:    now.Unix(),
		ArrivalNsec:   int32(now.Nanosecond()),
		Signature:     info.Signature,
		Feedtype:      info.Feedtype,
		SequenceNo:    seq,
		IdentifierLen: uint16(len(info.Identifier)),
		OriginLen:     uint16(len(info.Origin)),
		Flags:         flagOccupied,
	}
	if err := q.writeSlot(slotIdx, entry); err != nil {
		return fmt.Errorf("pq: %w", ErrSystem)
	}

	// Payload and slot row are fenced (written) before the indexes learn
	// about this slot, per spec.md §4.3.1 step 5.
	q.idx.insert(info.Signature, entry.arrival(), slotIdx)

	hdr := q.readHeader()
	if hdr.Youngest().IsZero() || entry.arrival().After(hdr.Youngest()) {
		hdr.YoungestSec, hdr.YoungestNsec = entry.ArrivalSec, entry.ArrivalNsec
	}
	if hdr.Oldest().IsZero() {
		hdr.OldestSec, hdr.OldestNsec = entry.ArrivalSec, entry.ArrivalNsec
	}
	hdr.Generation++
	q.writeHeader(hdr)
	q.idx.generation = hdr.Generation

	return nil
}

// evictSlot reclaims the slot at index i, removing its index entries and
// returning its extent to the allocator's free list. It never evicts a
// slot currently under a shared (read) lock held by another process; those
// are skipped by the caller trying the next-oldest slot instead (spec.md
// §4.3.4). Reports false only when the slot could not be reclaimed.
func (q *ProductQueue) evictSlot(slotIdx uint64) bool {
	lk, err := acquire(q.f, int64(lockAddrReserved)+1+int64(slotIdx), 1, true, false)
	if err != nil {
		return false
	}
	defer lk.Unlock()

	s, err := q.readSlot(slotIdx)
	if err != nil || !s.occupied() {
		return false
	}
	q.idx.remove(s.Signature, s.arrival(), slotIdx)
	q.alloc.freeExtent(extent{Offset: s.Offset, Length: s.Length})
	s.Flags &^= flagOccupied
	_ = q.writeSlot(slotIdx, s)

	hdr := q.readHeader()
	if newOldest, has := q.idx.oldest(); has {
		if os, oerr := q.readSlot(newOldest); oerr == nil {
			hdr.OldestSec, hdr.OldestNsec = os.ArrivalSec, os.ArrivalNsec
		}
	} else {
		hdr.OldestSec, hdr.OldestNsec = 0, 0
	}
	q.writeHeader(hdr)
	return true
}

// Next implements spec.md §4.3.2. overrun reports that cursor was older
// than the current oldest slot (it has been advanced to the oldest entry
// before matching proceeds). delivered reports whether handle was invoked;
// a non-match still advances next past the skipped product.
func (q *ProductQueue) Next(cursor Cursor, class Matcher, handle func(product.Product) error) (next Cursor, delivered bool, overrun bool, err error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	tlock, err := acquire(q.f, lockAddrTimeIndex, 1, false, true)
	if err != nil {
		return cursor, false, false, fmt.Errorf("pq: %w", ErrLockConflict)
	}
	defer tlock.Unlock()

	if err := q.refreshIfStale(); err != nil {
		return cursor, false, false, err
	}

	// cursor already strictly precedes the oldest surviving slot in this
	// case, so smallestAfter below naturally resolves to that slot —
	// "jumps to current oldest" falls out of the normal advance below
	// once it is delivered; only the flag needs setting here.
	overrun = q.cursorPredatesOldest(cursor)

	slotIdx, has := q.idx.smallestAfter(cursor)
	if !has {
		return cursor, false, overrun, ErrEndOfQueue
	}

	slock, err := acquire(q.f, int64(lockAddrReserved)+1+int64(slotIdx), 1, false, false)
	if err != nil {
		return cursor, false, overrun, ErrLockConflict
	}
	defer slock.Unlock()

	s, rerr := q.readSlot(slotIdx)
	if rerr != nil || !s.occupied() {
		return cursor, false, overrun, ErrCorrupt
	}

	info := q.slotInfo(s)
	advanced := Cursor{Timestamp: s.arrival(), Offset: slotIdx}

	if !class.Match(info) {
		return advanced, false, overrun, nil
	}

	payload := q.slotPayload(s)
	if herr := handle(product.Product{Info: info, Payload: payload}); herr != nil {
		return cursor, false, overrun, herr
	}
	return advanced, true, overrun, nil
}

// cursorPredatesOldest reports whether cursor names a point strictly
// before the arrival of the current oldest surviving slot — i.e. whatever
// it should have seen next was evicted already (spec.md §4.3.3 OVERRUN).
func (q *ProductQueue) cursorPredatesOldest(cursor Cursor) bool {
	oldestSlot, has := q.idx.oldest()
	if !has {
		return false
	}
	s, err := q.readSlot(oldestSlot)
	if err != nil || !s.occupied() {
		return false
	}
	return cursor.Timestamp.Before(s.arrival())
}

func (q *ProductQueue) slotInfo(s slotEntry) product.Info {
	abs := q.dataStart + int64(s.Offset)
	ident := string(q.mapped[abs : abs+int64(s.IdentifierLen)])
	origin := string(q.mapped[abs+int64(s.IdentifierLen) : abs+int64(s.IdentifierLen)+int64(s.OriginLen)])
	return product.Info{
		Signature:        s.Signature,
		ArrivalTimestamp: s.arrival(),
		Feedtype:         s.Feedtype,
		Sequence:         s.SequenceNo,
		Identifier:       ident,
		Origin:           origin,
		Size:             uint32(s.Length) - uint32(s.IdentifierLen) - uint32(s.OriginLen),
	}
}

func (q *ProductQueue) slotPayload(s slotEntry) []byte {
	abs := q.dataStart + int64(s.Offset) + int64(s.IdentifierLen) + int64(s.OriginLen)
	size := int64(s.Length) - int64(s.IdentifierLen) - int64(s.OriginLen)
	out := make([]byte, size)
	copy(out, q.mapped[abs:abs+size])
	return out
}

// Suspend blocks up to interval, or until this process observes the
// on-disk generation counter advance (a new insert by any process), or
// until ctx is cancelled. There is no real cross-process condition
// variable here — this is a short-interval poll against the generation
// counter, which is the same observable signal a wakeup would carry
// without relying on a platform-specific IPC primitive that survives
// fork.
func (q *ProductQueue) Suspend(ctx context.Context, interval time.Duration) error {
	startGen := q.readHeader().Generation
	const poll = 50 * time.Millisecond
	deadline := time.Now().Add(interval)
	t := time.NewTicker(poll)
	defer t.Stop()
	for {
		if time.Now().After(deadline) {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-t.C:
			if q.readHeader().Generation != startGen {
				return nil
			}
		}
	}
}
