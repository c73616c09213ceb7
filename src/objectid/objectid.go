// Package objectid implements the 12-byte, 24-hex document identifier:
// 4 bytes big-endian epoch seconds, 5 bytes device/random, 3 bytes of a
// wrapping, skip-zero, per-process counter.
package objectid

import (
	"crypto/rand"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

const Size = 12

// ID is a 12-byte identifier, hex-encoded to 24 lowercase characters.
type ID [Size]byte

var deviceBytes = deriveDeviceBytes()

// deriveDeviceBytes stands in for the original's "MAC address, else random"
// fallback: there's no network interface to read here, so it always takes
// the random branch, seeded once per process from a uuid.New() value.
func deriveDeviceBytes() [5]byte {
	var out [5]byte
	u := uuid.New()
	copy(out[:], u[:5])
	return out
}

var counter uint32

func init() {
	var seed [4]byte
	if _, err := rand.Read(seed[:]); err == nil {
		atomic.StoreUint32(&counter, uint32(seed[0])<<16|uint32(seed[1])<<8|uint32(seed[2])|1)
	}
}

// nextCounter increments the shared 24-bit counter, wrapping and skipping
// zero, exactly as the original's static nextCounter() does.
func nextCounter() uint32 {
	for {
		c := atomic.LoadUint32(&counter)
		next := (c + 1) & 0xFFFFFF
		if next == 0 {
			next = 1
		}
		if atomic.CompareAndSwapUint32(&counter, c, next) {
			return next
		}
	}
}

// New allocates a fresh ObjectID from the current time, the process-wide
// device/random bytes, and the next counter value.
func New() ID {
	var id ID

	secs := time.Now().Unix()
	if secs < 0 {
		secs = 0
	}
	s := uint32(secs)
	id[0] = byte(s >> 24)
	id[1] = byte(s >> 16)
	id[2] = byte(s >> 8)
	id[3] = byte(s)

	copy(id[4:9], deviceBytes[:])

	c := nextCounter()
	id[9] = byte(c >> 16)
	id[10] = byte(c >> 8)
	id[11] = byte(c)

	return id
}

const hexDigits = "0123456789abcdef"

// Hex renders the id as 24 lowercase hex characters.
func (id ID) Hex() string {
	out := make([]byte, 24)
	for i, b := range id {
		out[i*2] = hexDigits[b>>4]
		out[i*2+1] = hexDigits[b&0xF]
	}
	return string(out)
}

func (id ID) String() string {
	return id.Hex()
}

func (id ID) IsZero() bool {
	return id == ID{}
}

func hexNibble(c byte) (byte, bool) {
	switch {
	case c >= '0' && c <= '9':
		return c - '0', true
	case c >= 'a' && c <= 'f':
		return 10 + (c - 'a'), true
	case c >= 'A' && c <= 'F':
		return 10 + (c - 'A'), true
	default:
		return 0, false
	}
}

// FromHex parses a 24-character lowercase/uppercase hex string into an ID.
// It rejects any other length and any non-hex character.
func FromHex(hex string) (ID, error) {
	var out ID
	if len(hex) != 24 {
		return out, fmt.Errorf("objectid: hex string has length %d, want 24", len(hex))
	}
	for i := 0; i < 12; i++ {
		hi, ok1 := hexNibble(hex[i*2])
		lo, ok2 := hexNibble(hex[i*2+1])
		if !ok1 || !ok2 {
			return ID{}, fmt.Errorf("objectid: invalid hex character in %q", hex)
		}
		out[i] = hi<<4 | lo
	}
	return out, nil
}
