// Package lockfile implements the cross-process exclusion scheme minicom
// uses to keep two sessions from fighting over the same serial device: a
// small file in a shared directory naming the PID of the holder.
package lockfile

import (
	"encoding/binary"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"golang.org/x/sys/unix"
)

// Name computes the lockfile path for a device under dir, using the
// "/dev/"-stripping convention (ttyUSB0 -> LCK..ttyUSB0,
// serial/by-id/foo/bar -> LCK..serial_by-id_foo_bar). Paths outside /dev
// fall back to the basename, matching mdevlockname in the original source.
func Name(dir, devicePath string) string {
	return filepath.Join(dir, "LCK.."+deviceLockName(devicePath))
}

func deviceLockName(devicePath string) string {
	const prefix = "/dev/"
	var tail string
	if strings.HasPrefix(devicePath, prefix) {
		tail = devicePath[len(prefix):]
		tail = strings.ReplaceAll(tail, "/", "_")
	} else {
		tail = filepath.Base(devicePath)
	}
	return tail
}

// SVR4Name computes the lockfile path for the SVR4-style naming scheme,
// keyed off the device's stat(2) numbers rather than its path: devMajor is
// major(st_dev), rdevMajor/rdevMinor are major(st_rdev)/minor(st_rdev).
func SVR4Name(dir string, devMajor, rdevMajor, rdevMinor uint32) string {
	return filepath.Join(dir, fmt.Sprintf("LK.%03d.%03d.%03d", devMajor, rdevMajor, rdevMinor))
}

// ErrLocked is returned by Acquire when the device is held by another live
// process.
var ErrLocked = fmt.Errorf("device is locked")

// Acquire creates path atomically containing our PID as ASCII decimal,
// right-aligned in ten columns and newline-terminated, so the file is never
// exactly 4 bytes long and ReadPID cannot mistake it for the packed form. If
// path already exists, the holder's PID is read and probed with signal 0;
// a dead holder makes the existing file stale and it is removed before
// retrying. A live holder (including one this process can't signal because
// it's owned by another user) causes Acquire to fail with ErrLocked.
//
// staleNotice, if non-nil, is called once if an existing lockfile turned
// out to be stale, before it's removed — callers use this to log and to
// honor the original 1s pause before retrying.
func Acquire(path string, staleNotice func()) error {
	if path == "" {
		return nil
	}
	pid := os.Getpid()
	for {
		fd, err := unix.Open(path, unix.O_CREAT|unix.O_EXCL|unix.O_WRONLY, 0644)
		if err == nil {
			_, werr := unix.Write(fd, []byte(fmt.Sprintf("%10d\n", pid)))
			unix.Close(fd)
			return werr
		}
		if err != unix.EEXIST {
			return err
		}
		holder, ok := ReadPID(path)
		if !ok {
			// Content we can't interpret (empty file, garbage bytes, a
			// 4-byte value that isn't >0) is treated as a live lock, not a
			// stale one: the original refuses here ("Device is locked")
			// rather than guessing it's safe to steal.
			return ErrLocked
		}
		if !alive(holder) {
			if staleNotice != nil {
				staleNotice()
			}
			os.Remove(path)
			continue
		}
		return ErrLocked
	}
}

// Release removes a lockfile this process created. It is not an error to
// release a lockfile that no longer exists.
func Release(path string) error {
	if path == "" {
		return nil
	}
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}

// ReadPID parses a lockfile's content as either an ASCII decimal PID or,
// if the content is exactly 4 bytes, a native-endian packed integer
// (Kermit-style). ok is false if the content could not be interpreted
// either way.
func ReadPID(path string) (pid int, ok bool) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, false
	}
	return parsePID(data)
}

func parsePID(data []byte) (int, bool) {
	if len(data) == 4 {
		v := int(binary.NativeEndian.Uint32(data))
		if v > 0 {
			return v, true
		}
	}
	trimmed := strings.TrimSpace(string(data))
	if trimmed == "" {
		return 0, false
	}
	n, err := strconv.Atoi(trimmed)
	if err != nil || n <= 0 {
		return 0, false
	}
	return n, true
}

// alive reports whether pid names a process we can probe, per the
// kill(pid, 0) convention: ESRCH means stale, anything else (including a
// permission error, meaning the process exists but is owned by someone
// else) means live.
func alive(pid int) bool {
	err := unix.Kill(pid, 0)
	if err == nil {
		return true
	}
	return err != unix.ESRCH
}
