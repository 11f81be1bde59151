// Package wire implements the framed RPC protocol between UpstreamWorker
// and DownstreamWorker (spec.md §6): length-delimited, typed messages,
// abstracted from the original XDR codec. Framing rides over a
// gorilla/websocket connection using binary frames; each frame carries a
// one-byte message kind tag followed by a JSON-encoded payload, which is
// this port's length-delimited typed-message encoding.
package wire

import (
	"time"

	"github.com/Unidata/LDM-sub012/internal/product"
	"github.com/Unidata/LDM-sub012/internal/productclass"
)

func unixTime(sec int64) time.Time { return time.Unix(sec, 0).UTC() }

// Kind tags every frame on the wire.
type Kind byte

const (
	KindHiya Kind = iota
	KindHiyaReply
	KindFeedme
	KindFeedmeReply
	KindNotifyme
	KindNotifymeReply
	KindIsAlive
	KindIsAliveReply
	KindHereis
	KindNotification
	KindComingSoon
	KindComingSoonReply
	KindBlkData
)

func (k Kind) String() string {
	switch k {
	case KindHiya:
		return "HIYA"
	case KindHiyaReply:
		return "HIYA_REPLY"
	case KindFeedme:
		return "FEEDME"
	case KindFeedmeReply:
		return "FEEDME_REPLY"
	case KindNotifyme:
		return "NOTIFYME"
	case KindNotifymeReply:
		return "NOTIFYME_REPLY"
	case KindIsAlive:
		return "IS_ALIVE"
	case KindIsAliveReply:
		return "IS_ALIVE_REPLY"
	case KindHereis:
		return "HEREIS"
	case KindNotification:
		return "NOTIFICATION"
	case KindComingSoon:
		return "COMINGSOON"
	case KindComingSoonReply:
		return "COMINGSOON_REPLY"
	case KindBlkData:
		return "BLKDATA"
	default:
		return "UNKNOWN"
	}
}

// RawClass is the wire form of a productclass.Class: From/To as Unix
// seconds (so it round-trips through JSON without timezone ambiguity) plus
// the canonical RawSpec list.
type RawClass struct {
	FromUnix int64                  `json:"from"`
	ToUnix   int64                  `json:"to"`
	Specs    []productclass.RawSpec `json:"specs"`
}

func ToRawClass(c *productclass.Class) RawClass {
	_, _, specs := c.Encode()
	return RawClass{FromUnix: c.From.Unix(), ToUnix: c.To.Unix(), Specs: specs}
}

func (rc RawClass) ToClass() (*productclass.Class, error) {
	from := productclass.Zero
	to := productclass.End
	if rc.FromUnix != 0 {
		from = unixTime(rc.FromUnix)
	}
	if rc.ToUnix != 0 {
		to = unixTime(rc.ToUnix)
	}
	return productclass.New(from, to, rc.Specs)
}

// Hiya offers a class on an upstream connection's initial handshake.
type Hiya struct {
	ClassOffered RawClass `json:"class_offered"`
}

// HiyaReply is OK(max_hereis) or RECLASS(adjusted_class).
type HiyaReply struct {
	OK        bool      `json:"ok"`
	MaxHereis uint32    `json:"max_hereis,omitempty"`
	Reclass   *RawClass `json:"reclass,omitempty"`
}

// MaxHereisUnbounded is the sentinel meaning "no cap on in-flight HEREIS
// messages" (spec.md §9 Open Question, LDM-6's historical UINT_MAX). It is
// kept as an explicit named constant rather than silently reusing
// ^uint32(0) so callers document the choice at the call site.
const MaxHereisUnbounded = ^uint32(0)

type Feedme struct {
	Class     RawClass `json:"class"`
	MaxHereis uint32   `json:"max_hereis"`
}

type FeedmeReply struct {
	OK         bool      `json:"ok"`
	Pid        string    `json:"pid,omitempty"`
	Reclass    *RawClass `json:"reclass,omitempty"`
	BadPattern bool      `json:"bad_pattern,omitempty"`
}

type Notifyme struct {
	Class RawClass `json:"class"`
}

type NotifymeReply struct {
	OK      bool      `json:"ok"`
	Pid     string    `json:"pid,omitempty"`
	Reclass *RawClass `json:"reclass,omitempty"`
}

type IsAlive struct {
	Pid string `json:"pid"`
}

type IsAliveReply struct {
	Alive bool `json:"alive"`
}

// Hereis carries one full product, used in primary mode.
type Hereis struct {
	Info    product.Info `json:"info"`
	Payload []byte       `json:"payload"`
}

type Notification struct {
	Info product.Info `json:"info"`
}

// ComingSoon announces an upcoming product in alternate mode; the peer
// replies OK or DONT_SEND before any BlkData frames follow.
type ComingSoon struct {
	Info product.Info `json:"info"`
	Size uint32       `json:"size"`
}

type ComingSoonReply struct {
	OK       bool `json:"ok"`
	DontSend bool `json:"dont_send"`
}

// BlkData is one block of a product being streamed in alternate mode,
// keyed by signature so the receiver can assemble out-of-order blocks.
type BlkData struct {
	Signature product.Signature `json:"signature"`
	Offset    uint32            `json:"offset"`
	Bytes     []byte            `json:"bytes"`
}
