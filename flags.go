package composefs

import "strings"

// BuildFlags controls optional behavior of the filesystem ingester (spec §4.8, §6).
type BuildFlags uint32

const (
	// SkipXattrs omits reading and attaching extended attributes during ingestion.
	SkipXattrs BuildFlags = 1 << iota
	// UseEpoch zeroes mtime/ctime instead of reading them from the host filesystem,
	// so that two ingestions of the same tree at different times produce the same image.
	UseEpoch
	// SkipDevices omits block and character device nodes during ingestion.
	SkipDevices
	// ComputeDigest streams regular file contents through an fs-verity digest context
	// during ingestion and attaches the result to the node.
	ComputeDigest
)

const knownBuildFlags = SkipXattrs | UseEpoch | SkipDevices | ComputeDigest

func (f BuildFlags) String() string {
	var opt []string
	if f&SkipXattrs != 0 {
		opt = append(opt, "SkipXattrs")
	}
	if f&UseEpoch != 0 {
		opt = append(opt, "UseEpoch")
	}
	if f&SkipDevices != 0 {
		opt = append(opt, "SkipDevices")
	}
	if f&ComputeDigest != 0 {
		opt = append(opt, "ComputeDigest")
	}
	return strings.Join(opt, "|")
}

// Has reports whether all bits of what are set in f.
func (f BuildFlags) Has(what BuildFlags) bool {
	return f&what == what
}

// Validate rejects unknown flag bits (spec §6: "Unknown flag bits are rejected
// with InvalidArgument").
func (f BuildFlags) Validate() error {
	if f&^knownBuildFlags != 0 {
		return ErrInvalidArgument
	}
	return nil
}
