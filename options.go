package composefs

import "hash"

// ingestConfig is configured by IngestOption, mirroring the functional
// options used throughout this package (WriterOption configures a Writer
// the same way).
type ingestConfig struct {
	digestFactory func() hash.Hash
}

// IngestOption configures BuildFromFilesystem and BuildFromPath.
type IngestOption func(*ingestConfig)

// WithDigestFactory overrides the hash.Hash constructor used when the
// ComputeDigest build flag is set. The default is fsverity.New.
func WithDigestFactory(f func() hash.Hash) IngestOption {
	return func(c *ingestConfig) { c.digestFactory = f }
}
