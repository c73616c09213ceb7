// Package settings holds the flag-driven configuration for the demo CLI,
// grounded on the teacher's settings.Arguments but completed so every
// field is carried into the demo's logger setup or its jsondb.Config (the
// teacher's own struct is missing fields its main.go/server.go reference).
package settings

// Arguments is the flat, flag-friendly configuration the demo CLI parses
// before building a jsondb.Config from it.
type Arguments struct {
	DataDir string
	LogFile string
	Verbose bool

	IntervalMs     int64
	Autosync       bool
	ColdSync       bool
	CacheEnabled   bool
	InitFileSystem bool
	FormatOnFail   bool

	MaxOpenFiles   int
	PartitionLabel string

	StackSize int
	Priority  int
	CoreID    int
}

// Defaults returns the Arguments the demo CLI starts from before flags are
// parsed over it.
func Defaults() Arguments {
	return Arguments{
		DataDir:        "/db",
		Verbose:        false,
		IntervalMs:     5000,
		Autosync:       true,
		ColdSync:       false,
		CacheEnabled:   true,
		InitFileSystem: true,
		MaxOpenFiles:   64,
	}
}
