package pq

import "time"

// Cursor denotes "resume reading strictly after this point". Multiple
// independent cursors coexist across the queue's consumers; each consumer
// owns one and is responsible for persisting it if it needs to resume
// across restarts (see internal/cursor).
type Cursor struct {
	Timestamp time.Time
	Offset    uint64
}

// ZeroCursor means "from the beginning of the queue".
var ZeroCursor = Cursor{}

// EndCursor means "from the current tail" — positioned strictly after
// whatever is currently the youngest product.
var EndCursor = Cursor{Timestamp: time.Unix(1<<62, 0).UTC()}

// before reports whether c denotes a position strictly before the given
// slot's (arrival, offset) pair, i.e. that slot is eligible for delivery
// to a consumer positioned at c.
func (c Cursor) before(arrival time.Time, offset uint64) bool {
	if c.Timestamp.Before(arrival) {
		return true
	}
	if c.Timestamp.Equal(arrival) {
		return c.Offset != offset
	}
	return false
}
