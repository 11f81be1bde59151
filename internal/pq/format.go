package pq

import (
	"encoding/binary"
	"time"
)

// On-disk layout: [header][slot table][data region], all within one file
// that is memory-mapped shared by every process on the host. Concurrency
// is by per-region advisory byte-range locks (lock_unix.go), never an
// in-process mutex, since any participant may be a different OS process.
const (
	magic   uint32 = 0x4C444D51 // "LDMQ"
	version uint32 = 1

	headerSize     = 128
	slotEntrySize  = 64
	le             = binary.LittleEndian
)

// header mirrors spec.md §6's product-queue file header: magic, version,
// slot count, byte capacity, oldest/youngest timestamps, and the root
// offsets of the allocator and the two indexes. The allocator and index
// "roots" are reserved fields kept for on-disk layout fidelity; this
// implementation derives the free list and both indexes by scanning the
// slot table under lock rather than persisting a red-black tree (out of
// scope per spec.md §1 — "the generic red-black-tree container ... a
// standard ordered map"), so they are always written as zero and ignored
// on read.
type header struct {
	Magic          uint32
	Version        uint32
	SlotCount      uint64
	DataCapacity   uint64
	OldestSec      int64
	OldestNsec     int32
	YoungestSec    int64
	YoungestNsec   int32
	AllocatorRoot  uint64
	SigIndexRoot   uint64
	TimeIndexRoot  uint64
	Generation     uint64
}

func (h header) Oldest() time.Time {
	if h.OldestSec == 0 && h.OldestNsec == 0 {
		return time.Time{}
	}
	return time.Unix(h.OldestSec, int64(h.OldestNsec)).UTC()
}

func (h header) Youngest() time.Time {
	if h.YoungestSec == 0 && h.YoungestNsec == 0 {
		return time.Time{}
	}
	return time.Unix(h.YoungestSec, int64(h.YoungestNsec)).UTC()
}

func encodeHeader(buf []byte, h header) {
	le.PutUint32(buf[0:4], h.Magic)
	le.PutUint32(buf[4:8], h.Version)
	le.PutUint64(buf[8:16], h.SlotCount)
	le.PutUint64(buf[16:24], h.DataCapacity)
	le.PutUint64(buf[24:32], uint64(h.OldestSec))
	le.PutUint32(buf[32:36], uint32(h.OldestNsec))
	le.PutUint64(buf[36:44], uint64(h.YoungestSec))
	le.PutUint32(buf[44:48], uint32(h.YoungestNsec))
	le.PutUint64(buf[48:56], h.AllocatorRoot)
	le.PutUint64(buf[56:64], h.SigIndexRoot)
	le.PutUint64(buf[64:72], h.TimeIndexRoot)
	le.PutUint64(buf[72:80], h.Generation)
}

func decodeHeader(buf []byte) header {
	return header{
		Magic:         le.Uint32(buf[0:4]),
		Version:       le.Uint32(buf[4:8]),
		SlotCount:     le.Uint64(buf[8:16]),
		DataCapacity:  le.Uint64(buf[16:24]),
		OldestSec:     int64(le.Uint64(buf[24:32])),
		OldestNsec:    int32(le.Uint32(buf[32:36])),
		YoungestSec:   int64(le.Uint64(buf[36:44])),
		YoungestNsec:  int32(le.Uint32(buf[44:48])),
		AllocatorRoot: le.Uint64(buf[48:56]),
		SigIndexRoot:  le.Uint64(buf[56:64]),
		TimeIndexRoot: le.Uint64(buf[64:72]),
		Generation:    le.Uint64(buf[72:80]),
	}
}

// slotFlag bits.
const (
	flagOccupied uint32 = 1 << 0
)

// slotEntry is one fixed-size row of the slot table: the allocator
// bookkeeping plus the fields needed to reconstruct product.Info without
// touching the payload (spec.md §6).
type slotEntry struct {
	Offset        uint64
	Length        uint64
	ArrivalSec    int64
	ArrivalNsec   int32
	Signature     [16]byte
	Feedtype      uint32
	SequenceNo    uint64
	IdentifierLen uint16
	OriginLen     uint16
	Flags         uint32
}

func (s slotEntry) occupied() bool { return s.Flags&flagOccupied != 0 }

func (s slotEntry) arrival() time.Time {
	return time.Unix(s.ArrivalSec, int64(s.ArrivalNsec)).UTC()
}

func encodeSlot(buf []byte, s slotEntry) {
	le.PutUint64(buf[0:8], s.Offset)
	le.PutUint64(buf[8:16], s.Length)
	le.PutUint64(buf[16:24], uint64(s.ArrivalSec))
	le.PutUint32(buf[24:28], uint32(s.ArrivalNsec))
	copy(buf[28:44], s.Signature[:])
	le.PutUint32(buf[44:48], s.Feedtype)
	le.PutUint64(buf[48:56], s.SequenceNo)
	le.PutUint16(buf[56:58], s.IdentifierLen)
	le.PutUint16(buf[58:60], s.OriginLen)
	le.PutUint32(buf[60:64], s.Flags)
}

func decodeSlot(buf []byte) slotEntry {
	var s slotEntry
	s.Offset = le.Uint64(buf[0:8])
	s.Length = le.Uint64(buf[8:16])
	s.ArrivalSec = int64(le.Uint64(buf[16:24]))
	s.ArrivalNsec = int32(le.Uint32(buf[24:28]))
	copy(s.Signature[:], buf[28:44])
	s.Feedtype = le.Uint32(buf[44:48])
	s.SequenceNo = le.Uint64(buf[48:56])
	s.IdentifierLen = le.Uint16(buf[56:58])
	s.OriginLen = le.Uint16(buf[58:60])
	s.Flags = le.Uint32(buf[60:64])
	return s
}

func slotTableOffset() int64 { return headerSize }

func slotOffset(i uint64) int64 { return slotTableOffset() + int64(i)*slotEntrySize }

func dataRegionOffset(slotCount uint64) int64 {
	return slotTableOffset() + int64(slotCount)*slotEntrySize
}
