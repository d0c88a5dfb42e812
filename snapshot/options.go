package snapshot

// Options contains configuration for the Archiver.
type Options struct {
	// Compression selects the region payload compression.
	// Default is CompressionZSTD; savestates are mostly page data and
	// compress well.
	Compression CompressionType

	// MaxConcurrentSaves limits how many async saves run at once.
	// Default is 2.
	MaxConcurrentSaves int64

	// IOLimitBytesPerSec caps the archive throughput so saves do not starve
	// the foreground. 0 means unlimited.
	IOLimitBytesPerSec int64
}

// DefaultOptions returns the default Archiver options.
var DefaultOptions = Options{
	Compression:        CompressionZSTD,
	MaxConcurrentSaves: 2,
	IOLimitBytesPerSec: 0,
}
