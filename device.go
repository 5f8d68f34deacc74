package composefs

import "golang.org/x/sys/unix"

// DeviceNumber packs a major/minor pair into the raw rdev value stored on
// block and character device nodes, mirroring unix.Mkdev so that a Node's
// Rdev field is always a real Linux device number rather than an
// implementation-private encoding.
func DeviceNumber(major, minor uint32) uint64 {
	return unix.Mkdev(major, minor)
}

// DeviceMajor extracts the major number from a raw rdev value.
func DeviceMajor(rdev uint64) uint32 {
	return unix.Major(rdev)
}

// DeviceMinor extracts the minor number from a raw rdev value.
func DeviceMinor(rdev uint64) uint32 {
	return unix.Minor(rdev)
}
