// Package jsondb implements the Database façade described in §4.G: the
// registry of collections and schemas, the periodic flush scheduler, and
// snapshot/restore, diagnostics and event/error fan-out on top of it.
package jsondb

import (
	"go.uber.org/zap"

	"github.com/ESPToolKit/esp-jsondb/src/fsx"
)

// Config mirrors §6.5's recognized options. MaxOpenFiles and
// StackSize/Priority/CoreID are accepted and stored but have no effect and
// are not reported by GetDiag — the latter described FreeRTOS task
// properties on the embedded original and mean nothing to a goroutine
// scheduler.
type Config struct {
	BaseDir string

	IntervalMs   int64
	Autosync     bool
	ColdSync     bool
	CacheEnabled bool

	InitFileSystem bool
	FormatOnFail   bool

	MaxOpenFiles   int
	PartitionLabel string

	StackSize int
	Priority  int
	CoreID    int

	// FS lets a caller hand in an externally-owned filesystem coordinator
	// instead of Open constructing its own.
	FS *fsx.Coordinator

	// Logger is used by every collection and the sync loop. A nil Logger
	// is replaced with a no-op one, per the AMBIENT STACK logging rule.
	Logger *zap.SugaredLogger
}

// DefaultConfig returns a suggested starting configuration: autosync on
// with a 5 second interval, caching on, and the filesystem mounted eagerly.
// Open does not merge it into the Config it is given; zero-valued fields
// stay zero (only an empty BaseDir and a non-positive IntervalMs fall back
// to "/db" and 5 seconds).
func DefaultConfig() Config {
	return Config{
		BaseDir:        "/db",
		IntervalMs:     5000,
		Autosync:       true,
		ColdSync:       false,
		CacheEnabled:   true,
		InitFileSystem: true,
	}
}
