package tempid

import (
	"sync"
	"time"
)

// TempID Format (before negation):
// Timestamp (41-bits, ms since the epoch below)
// Increment (22-bits)
//
// Provisional ids are always negative so they can never collide with a
// server-assigned id.

type TempID = int64

const Epoch int64 = 1704067200000 // 2024-01-01 12am GMT

const (
	TimestampBits = 41
	TimestampMask = (1 << TimestampBits) - 1

	IncrementBits = 22
	IncrementMask = (1 << IncrementBits) - 1
)

var lock = sync.Mutex{}
var lastTs int64 = 0
var increment int64 = 0

// Next returns a provisional id distinct from every other id handed out by
// this process. Ids are strictly decreasing.
func Next() TempID {
	lock.Lock()
	defer lock.Unlock()

	ts := time.Now().UnixMilli() - Epoch
	if ts < lastTs {
		// Clock went backwards, keep counting on the last timestamp
		ts = lastTs
	}
	if ts != lastTs {
		lastTs = ts
		increment = 0
	} else if increment >= IncrementMask {
		lastTs++
		ts = lastTs
		increment = 0
	} else {
		increment += 1
	}

	id := (ts & TimestampMask) << IncrementBits
	id |= increment

	return -(id + 1)
}

// IsProvisional reports whether id was minted locally.
func IsProvisional(id int64) bool {
	return id < 0
}

func Extract(id TempID) struct {
	Timestamp int64
	Increment int64
} {
	raw := -id - 1
	return struct {
		Timestamp int64
		Increment int64
	}{
		Timestamp: ((raw >> IncrementBits) & TimestampMask) + Epoch,
		Increment: raw & IncrementMask,
	}
}
