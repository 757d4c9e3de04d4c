package receiver

// Defaults applied by Options.withDefaults.
const (
	DefaultTempSuffix       = ".part"
	DefaultMaxFileSizeBytes = uint64(64) << 30
	DefaultMaxChunkSize     = 16 << 20
	DefaultSeedBufferSize   = 1 << 20
)

// Options configures receiver sessions.
type Options struct {
	// Root is the directory every upload is stored under.
	Root string
	// TempSuffix is appended to the target path while an upload is in flight.
	TempSuffix string
	// MaxFileSizeBytes bounds the size a Hello may declare.
	MaxFileSizeBytes uint64
	// MaxChunkSize bounds a single Data payload, and so the parse buffer.
	MaxChunkSize int
	// SeedBufferSize is the read size used to re-hash existing temp data.
	SeedBufferSize int
}

func (o Options) withDefaults() Options {
	if o.TempSuffix == "" {
		o.TempSuffix = DefaultTempSuffix
	}
	if o.MaxFileSizeBytes == 0 {
		o.MaxFileSizeBytes = DefaultMaxFileSizeBytes
	}
	if o.MaxChunkSize <= 0 {
		o.MaxChunkSize = DefaultMaxChunkSize
	}
	if o.SeedBufferSize <= 0 {
		o.SeedBufferSize = DefaultSeedBufferSize
	}
	return o
}
