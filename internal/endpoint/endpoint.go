// Package endpoint implements the endpoint opener (C1): classifying a
// dial descriptor, acquiring the lockfile and device for a Device
// endpoint, and connecting a Unix or TCP socket endpoint.
package endpoint

import (
	"context"
	"errors"
	"fmt"
	"net"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/xoxyuxu/minicom/internal/lockfile"
	"github.com/xoxyuxu/minicom/serial"
)

const (
	prefixUnix       = "unix:"
	prefixUnixLegacy = "unix#"
	prefixTCP        = "tcp:"
)

// Kind classifies a dial descriptor, per classify() in SPEC_FULL.md §4.1.
type Kind int

const (
	Device Kind = iota
	UnixSocket
	TcpSocket
)

func (k Kind) String() string {
	switch k {
	case UnixSocket:
		return "unix-socket"
	case TcpSocket:
		return "tcp-socket"
	default:
		return "device"
	}
}

// Classify partitions a descriptor into its endpoint kind. unix: and unix#
// are both recognized for legacy compatibility and share a prefix length.
func Classify(descriptor string) Kind {
	if len(descriptor) >= len(prefixUnix) &&
		(descriptor[:len(prefixUnix)] == prefixUnix || descriptor[:len(prefixUnixLegacy)] == prefixUnixLegacy) {
		return UnixSocket
	}
	if len(descriptor) >= len(prefixTCP) && descriptor[:len(prefixTCP)] == prefixTCP {
		return TcpSocket
	}
	return Device
}

// ErrorKind labels why Open failed, matching the typed failures described
// in SPEC_FULL.md §4.1 and §7.
type ErrorKind int

const (
	ErrKindNone ErrorKind = iota
	ErrKindLocked
	ErrKindOpenFailed
	ErrKindResolveFailed
	ErrKindTimeout
	// ErrKindClosed means the underlying serial.Port had already been
	// closed out from under the caller, per serial.IsClosed.
	ErrKindClosed
)

// OpenError is the typed failure Open returns.
type OpenError struct {
	Kind ErrorKind
	Descriptor string
	Err  error
}

func (e *OpenError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("open %s: %s", e.Descriptor, e.Err)
	}
	return fmt.Sprintf("open %s: failed", e.Descriptor)
}

func (e *OpenError) Unwrap() error { return e.Err }

// OpenTimeout is the fixed budget the opener arms per attempt, matching the
// original's alarm(20) in open_term.
const OpenTimeout = 20 * time.Second

// Options configures a single Open call.
type Options struct {
	Descriptor   string
	LockDir      string
	CalloutHook  func() error
	SessionAttrs func(*serial.Port) error
	Log          *logrus.Entry
}

// Endpoint is an acquired, live connection to a device or socket, along
// with whatever teardown state Close needs.
type Endpoint struct {
	Kind       Kind
	Descriptor string

	port     *serial.Port
	conn     net.Conn
	lockPath string
}

// Open acquires the endpoint described by opts, following the sequence in
// SPEC_FULL.md §4.1: lock, pre-open hook, bounded-time connect, and
// opts.SessionAttrs applied to the port. The device's prior attributes are
// not saved, and Close does not restore them.
func Open(ctx context.Context, opts Options) (*Endpoint, error) {
	log := opts.Log
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	kind := Classify(opts.Descriptor)

	ctx, cancel := context.WithTimeout(ctx, OpenTimeout)
	defer cancel()

	switch kind {
	case UnixSocket:
		return openUnixSocket(ctx, opts, log)
	case TcpSocket:
		return openTCPSocket(ctx, opts, log)
	default:
		return openDevice(ctx, opts, log)
	}
}

func openDevice(ctx context.Context, opts Options, log *logrus.Entry) (*Endpoint, error) {
	lockPath := ""
	if opts.LockDir != "" {
		lockPath = lockfile.Name(opts.LockDir, opts.Descriptor)
	}

	if lockPath != "" {
		err := lockfile.Acquire(lockPath, func() {
			log.WithField("device", opts.Descriptor).Warn("Lockfile is stale. Overriding it..")
			time.Sleep(time.Second)
		})
		if errors.Is(err, lockfile.ErrLocked) {
			return nil, &OpenError{Kind: ErrKindLocked, Descriptor: opts.Descriptor, Err: err}
		}
		if err != nil {
			return nil, &OpenError{Kind: ErrKindOpenFailed, Descriptor: opts.Descriptor, Err: err}
		}
	}

	if opts.CalloutHook != nil {
		if err := opts.CalloutHook(); err != nil {
			lockfile.Release(lockPath)
			return nil, &OpenError{Kind: ErrKindOpenFailed, Descriptor: opts.Descriptor, Err: err}
		}
	}

	type result struct {
		port *serial.Port
		err  error
	}
	ch := make(chan result, 1)
	go func() {
		p, err := serial.Open(opts.Descriptor, serial.NewOptions())
		ch <- result{p, err}
	}()

	var port *serial.Port
	select {
	case <-ctx.Done():
		lockfile.Release(lockPath)
		return nil, &OpenError{Kind: ErrKindTimeout, Descriptor: opts.Descriptor, Err: ctx.Err()}
	case r := <-ch:
		if r.err != nil {
			lockfile.Release(lockPath)
			return nil, &OpenError{Kind: ErrKindOpenFailed, Descriptor: opts.Descriptor, Err: r.err}
		}
		port = r.port
	}

	if err := port.ClearNonblock(); err != nil {
		port.Close()
		lockfile.Release(lockPath)
		return nil, &OpenError{Kind: ErrKindOpenFailed, Descriptor: opts.Descriptor, Err: err}
	}

	if opts.SessionAttrs != nil {
		if err := opts.SessionAttrs(port); err != nil {
			port.Close()
			lockfile.Release(lockPath)
			return nil, &OpenError{Kind: ErrKindOpenFailed, Descriptor: opts.Descriptor, Err: err}
		}
	}

	return &Endpoint{Kind: Device, Descriptor: opts.Descriptor, port: port, lockPath: lockPath}, nil
}

func openUnixSocket(ctx context.Context, opts Options, log *logrus.Entry) (*Endpoint, error) {
	path := opts.Descriptor[len(prefixUnix):]
	var d net.Dialer
	conn, err := d.DialContext(ctx, "unix", path)
	if err != nil {
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return nil, &OpenError{Kind: ErrKindTimeout, Descriptor: opts.Descriptor, Err: err}
		}
		return nil, &OpenError{Kind: ErrKindOpenFailed, Descriptor: opts.Descriptor, Err: err}
	}
	return &Endpoint{Kind: UnixSocket, Descriptor: opts.Descriptor, conn: conn}, nil
}

func openTCPSocket(ctx context.Context, opts Options, log *logrus.Entry) (*Endpoint, error) {
	rest := opts.Descriptor[len(prefixTCP):]
	host, port, err := net.SplitHostPort(rest)
	if err != nil {
		return nil, &OpenError{Kind: ErrKindResolveFailed, Descriptor: opts.Descriptor, Err: err}
	}
	if host == "" {
		host = "localhost"
	}

	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", net.JoinHostPort(host, port))
	if err != nil {
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return nil, &OpenError{Kind: ErrKindTimeout, Descriptor: opts.Descriptor, Err: err}
		}
		return nil, &OpenError{Kind: ErrKindResolveFailed, Descriptor: opts.Descriptor, Err: err}
	}
	return &Endpoint{Kind: TcpSocket, Descriptor: opts.Descriptor, conn: conn}, nil
}

// Read implements io.Reader against whichever transport backs the endpoint.
func (e *Endpoint) Read(p []byte) (int, error) {
	if e.conn != nil {
		return e.conn.Read(p)
	}
	n, err := e.port.Read(p)
	return n, e.classify(err)
}

// Write implements io.Writer against whichever transport backs the endpoint.
func (e *Endpoint) Write(p []byte) (int, error) {
	if e.conn != nil {
		return e.conn.Write(p)
	}
	n, err := e.port.Write(p)
	return n, e.classify(err)
}

// classify reports a serial.ErrClosed error as a typed ErrKindClosed
// OpenError so callers can tell "the port was already closed" apart from
// any other I/O failure without depending on serial's error internals.
func (e *Endpoint) classify(err error) error {
	if err != nil && serial.IsClosed(err) {
		return &OpenError{Kind: ErrKindClosed, Descriptor: e.Descriptor, Err: err}
	}
	return err
}

// Port returns the underlying serial.Port for Device endpoints, or nil
// otherwise.
func (e *Endpoint) Port() *serial.Port {
	return e.port
}

// Alive reports whether the endpoint still refers to a live connection,
// matching get_device_status: for sockets, connected state; for a Device,
// whether tcgetattr still succeeds.
func (e *Endpoint) Alive() bool {
	if e.conn != nil {
		return true
	}
	if e.port == nil {
		return false
	}
	_, err := e.port.GetAttr()
	return err == nil
}

// Close tears the endpoint down and, for Device endpoints, releases the
// lockfile.
func (e *Endpoint) Close() error {
	var err error
	if e.conn != nil {
		err = e.conn.Close()
	} else if e.port != nil {
		err = e.port.Close()
	}
	if e.lockPath != "" {
		lockfile.Release(e.lockPath)
	}
	return err
}
