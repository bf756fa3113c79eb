/*
Package regime holds application level constants, configuration, and the
shared environment for the regime change point service.
*/
package regime

const (
	ShortDateFormat = "2006-01-02"

	DefaultDatabaseName = "regime"
	DefaultNumWorkers   = 2
	LocalQueueSize      = 1024
)

// BuildRevision stores the commit in the git repository at build time and is
// specified with -ldflags at build time.
var BuildRevision = ""
