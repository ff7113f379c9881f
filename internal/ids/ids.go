// Package ids generates the opaque, lexicographically sortable identifiers
// used for event, segment, session, and dimension-record ids (spec §3: "128
// -bit-equivalent lexicographically sortable identifier").
//
// The layout mirrors ULID: a 48-bit millisecond timestamp followed by the
// last 80 bits of a version-4 UUID (74 random bits plus the UUID's fixed
// version and variant bits), Crockford base32 encoded to 26 characters. Two ids
// minted in the same millisecond still sort by their random suffix, which
// is acceptable — spec §3 only requires uniqueness, not a total order
// within a millisecond.
//
// The random bits come from google/uuid's CSPRNG-backed generator (the same
// entropy source the teacher project reaches for at every `uuid.New()` call
// site) rather than a second independent random source.
package ids

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

const encoding = "0123456789ABCDEFGHJKMNPQRSTVWXYZ" // Crockford base32, no I L O U

var mu sync.Mutex

// New returns a fresh sortable id seeded from the current wall-clock time.
func New() string {
	return newWithTime(time.Now())
}

func newWithTime(t time.Time) string {
	mu.Lock()
	defer mu.Unlock()

	ms := uint64(t.UnixMilli())
	randBytes := uuid.New() // 16 random/version bytes; we use the low 10 as entropy

	var buf [16]byte
	buf[0] = byte(ms >> 40)
	buf[1] = byte(ms >> 32)
	buf[2] = byte(ms >> 24)
	buf[3] = byte(ms >> 16)
	buf[4] = byte(ms >> 8)
	buf[5] = byte(ms)
	copy(buf[6:16], randBytes[6:16])

	return encode(buf)
}

// encode renders 16 bytes (128 bits) as 26 Crockford base32 characters,
// five bits per character, most-significant byte first.
func encode(id [16]byte) string {
	var dst [26]byte
	dst[0] = encoding[(id[0]&224)>>5]
	dst[1] = encoding[id[0]&31]
	dst[2] = encoding[(id[1]&248)>>3]
	dst[3] = encoding[((id[1]&7)<<2)|((id[2]&192)>>6)]
	dst[4] = encoding[(id[2]&62)>>1]
	dst[5] = encoding[((id[2]&1)<<4)|((id[3]&240)>>4)]
	dst[6] = encoding[((id[3]&15)<<1)|((id[4]&128)>>7)]
	dst[7] = encoding[(id[4]&124)>>2]
	dst[8] = encoding[((id[4]&3)<<3)|((id[5]&224)>>5)]
	dst[9] = encoding[id[5]&31]
	dst[10] = encoding[(id[6]&248)>>3]
	dst[11] = encoding[((id[6]&7)<<2)|((id[7]&192)>>6)]
	dst[12] = encoding[(id[7]&62)>>1]
	dst[13] = encoding[((id[7]&1)<<4)|((id[8]&240)>>4)]
	dst[14] = encoding[((id[8]&15)<<1)|((id[9]&128)>>7)]
	dst[15] = encoding[(id[9]&124)>>2]
	dst[16] = encoding[((id[9]&3)<<3)|((id[10]&224)>>5)]
	dst[17] = encoding[id[10]&31]
	dst[18] = encoding[(id[11]&248)>>3]
	dst[19] = encoding[((id[11]&7)<<2)|((id[12]&192)>>6)]
	dst[20] = encoding[(id[12]&62)>>1]
	dst[21] = encoding[((id[12]&1)<<4)|((id[13]&240)>>4)]
	dst[22] = encoding[((id[13]&15)<<1)|((id[14]&128)>>7)]
	dst[23] = encoding[(id[14]&124)>>2]
	dst[24] = encoding[((id[14]&3)<<3)|((id[15]&224)>>5)]
	dst[25] = encoding[id[15]&31]
	return string(dst[:])
}

// Less reports whether id a sorts before id b. Since the ids are plain
// ASCII strings in a fixed-width encoding, this is just a string compare —
// the helper exists so call sites don't have to know that.
func Less(a, b string) bool { return a < b }
