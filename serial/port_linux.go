package serial

import (
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"golang.org/x/sys/unix"
)

// Termios mirrors the kernel termios2 layout, with an explicit input/output
// speed pair so BOTHER (arbitrary baud) works the same way as the fixed
// B-constants.
type Termios = unix.Termios

type RS485Flag uint32

const (
	RS485Enabled       = RS485Flag(1 << 0)
	RS485RTSOnSend     = RS485Flag(1 << 1)
	RS485RTSAfterSend  = RS485Flag(1 << 2)
	RS485RXDuringTx    = RS485Flag(1 << 4)
	RS485TerminateBus  = RS485Flag(1 << 5)
)

type RS485 struct {
	Flags              RS485Flag
	DelayRTSBeforeSend uint32
	DelayRTSAfterSend  uint32
	padding            [5]uint32
}

// Flow selects the XON/XOFF suspend/resume operation for Port.Flow.
type Flow uint32

const (
	TCOOFF = Flow(unix.TCOOFF)
	TCOON  = Flow(unix.TCOON)
	TCIOFF = Flow(unix.TCIOFF)
	TCION  = Flow(unix.TCION)
)

// Queue selects which buffered data Port.Flush discards.
type Queue uint32

const (
	QueueInput  = Queue(unix.TCIFLUSH)
	QueueOutput = Queue(unix.TCOFLUSH)
	QueueBoth   = Queue(unix.TCIOFLUSH)
)

// Action selects when an attribute change set by Port.SetAttr takes effect.
type Action int

const (
	TCSANOW   = Action(unix.TCSANOW)
	TCSADRAIN = Action(unix.TCSADRAIN)
	TCSAFLUSH = Action(unix.TCSAFLUSH)
)

// ModemLine is a bitmask of RS-232 control-line states as reported by
// TIOCMGET/accepted by TIOCMSET and friends.
type ModemLine int

const (
	TIOCM_LE  = ModemLine(unix.TIOCM_LE)
	TIOCM_DTR = ModemLine(unix.TIOCM_DTR)
	TIOCM_RTS = ModemLine(unix.TIOCM_RTS)
	TIOCM_CTS = ModemLine(unix.TIOCM_CTS)
	TIOCM_CAR = ModemLine(unix.TIOCM_CAR)
	TIOCM_CD  = TIOCM_CAR
	TIOCM_RNG = ModemLine(unix.TIOCM_RNG)
	TIOCM_RI  = TIOCM_RNG
	TIOCM_DSR = ModemLine(unix.TIOCM_DSR)
)

func (m ModemLine) String() string {
	flags := make([]string, 0, len(modemLineStrings))
	for i := 1; i <= int(TIOCM_DSR); i <<= 1 {
		if int(m)&i == 0 {
			continue
		}
		if flag, ok := modemLineStrings[ModemLine(i)]; ok {
			flags = append(flags, flag)
		} else {
			flags = append(flags, fmt.Sprintf("Unknown(%x)", i))
		}
	}
	return fmt.Sprintf("[%s]", strings.Join(flags, "|"))
}

var modemLineStrings = map[ModemLine]string{
	TIOCM_LE:  "LE",
	TIOCM_DTR: "DTR",
	TIOCM_RTS: "RTS",
	TIOCM_CTS: "CTS",
	TIOCM_CAR: "CAR",
	TIOCM_RNG: "RNG",
	TIOCM_DSR: "DSR",
}

// Options configures how Open behaves.
type Options struct {
	ReadTimeout time.Duration
	OpenMode    int
}

func NewOptions() *Options {
	return &Options{ReadTimeout: -1, OpenMode: unix.O_RDWR | unix.O_NOCTTY | unix.O_NONBLOCK}
}

func (o *Options) SetReadTimeout(timeout time.Duration) *Options {
	o.ReadTimeout = timeout
	return o
}

// Port is a single open character device, addressed directly through
// termios/ioctl rather than through the buffered os.File machinery, so the
// caller keeps exact control over VMIN/VTIME and modem-line state.
type Port struct {
	options *Options
	closed  atomic.Bool
	f       int
}

func Open(name string, opts *Options) (*Port, error) {
	if opts == nil {
		opts = NewOptions()
	}
	fd, err := unix.Open(name, opts.OpenMode, 0)
	if err != nil {
		return nil, wrapErr("open "+name, err)
	}
	return &Port{options: opts, f: fd}, nil
}

// ClearNonblock cancels the O_NONBLOCK set during Open once the device has
// been acquired; minicom opens non-blocking only to avoid hanging on a
// carrier-wait during acquisition.
func (p *Port) ClearNonblock() error {
	return unix.SetNonblock(p.f, false)
}

func (p *Port) Write(data []byte) (n int, err error) {
	if p.closed.Load() {
		return 0, ErrClosed
	}
	return unix.Write(p.f, data)
}

func (p *Port) Read(data []byte) (n int, err error) {
	if p.closed.Load() {
		return 0, ErrClosed
	}
	return unix.Read(p.f, data)
}

func (p *Port) Fd() int {
	if p.closed.Load() {
		return -1
	}
	return p.f
}

func (p *Port) Close() error {
	if !p.closed.Swap(true) {
		fd := p.f
		p.f = -1
		return unix.Close(fd)
	}
	return ErrClosed
}

// GetAttr fetches the current termios settings, used both to apply the
// session's desired line discipline and as the device_alive probe: a
// Device endpoint whose fd no longer refers to a live tty fails here.
func (p *Port) GetAttr() (*Termios, error) {
	t, err := unix.IoctlGetTermios(p.f, unix.TCGETS)
	if err != nil {
		return nil, wrapErr("tcgetattr", err)
	}
	return t, nil
}

func (p *Port) SetAttr(when Action, attrs *Termios) error {
	var req uint
	switch when {
	case TCSADRAIN:
		req = unix.TCSETSW
	case TCSAFLUSH:
		req = unix.TCSETSF
	default:
		req = unix.TCSETS
	}
	return wrapErr("tcsetattr", unix.IoctlSetTermios(p.f, req, attrs))
}

// MakeRaw clears the bits that would otherwise apply line discipline,
// canonicalisation, signal generation, or output post-processing, so every
// byte received from the endpoint reaches the terminal loop unmodified.
func MakeRaw(attrs *Termios) {
	attrs.Iflag &^= unix.IGNBRK | unix.BRKINT | unix.PARMRK | unix.ISTRIP | unix.INLCR | unix.IGNCR | unix.ICRNL | unix.IXON
	attrs.Oflag &^= unix.OPOST
	attrs.Lflag &^= unix.ECHO | unix.ECHONL | unix.ICANON | unix.ISIG | unix.IEXTEN
	attrs.Cflag &^= unix.CSIZE | unix.PARENB
	attrs.Cflag |= unix.CS8
	attrs.Cc[unix.VMIN] = 1
	attrs.Cc[unix.VTIME] = 0
}

func (p *Port) MakeRaw() error {
	attrs, err := p.GetAttr()
	if err != nil {
		return err
	}
	MakeRaw(attrs)
	return p.SetAttr(TCSANOW, attrs)
}

// SetSpeed sets both legacy CBAUD bits and, via BOTHER, the explicit
// ispeed/ospeed fields so an arbitrary (non-standard) baud rate is honoured
// the same way a fixed one is.
func SetSpeed(attrs *Termios, baud uint32) {
	attrs.Cflag &^= unix.CBAUD
	attrs.Cflag |= unix.BOTHER
	attrs.Ispeed = baud
	attrs.Ospeed = baud
}

// SendBreak issues TCSBRK with arg: arg 0 sends a break condition for
// 0.25-0.5s; any other arg sends no break and only waits for output to
// drain, as Drain does.
func (p *Port) SendBreak(arg int) error {
	return wrapErr("tcsendbreak", unix.IoctlSetInt(p.f, unix.TCSBRK, arg))
}

// Drain waits until all output written to the Port has been transmitted.
func (p *Port) Drain() error {
	return wrapErr("tcdrain", unix.IoctlSetInt(p.f, unix.TCSBRK, 1))
}

// Flush discards buffered data in the given queue (input, output, or both).
func (p *Port) Flush(queue Queue) error {
	return wrapErr("tcflush", unix.IoctlSetInt(p.f, unix.TCFLSH, int(queue)))
}

// Flow suspends or resumes transmission/reception per the given selector.
func (p *Port) Flow(flow Flow) error {
	return wrapErr("tcflow", unix.IoctlSetInt(p.f, unix.TCXONC, int(flow)))
}

// GetModemLines returns the current RS-232 control-line state, including
// DCD (TIOCM_CAR) used by the online tracker.
func (p *Port) GetModemLines() (ModemLine, error) {
	bits, err := unix.IoctlGetInt(p.f, unix.TIOCMGET)
	return ModemLine(bits), wrapErr("tiocmget", err)
}

func (p *Port) SetModemLines(line ModemLine) error {
	v := int(line)
	return wrapErr("tiocmset", unix.IoctlSetInt(p.f, unix.TIOCMSET, v))
}

func (p *Port) EnableModemLines(line ModemLine) error {
	v := int(line)
	return wrapErr("tiocmbis", unix.IoctlSetInt(p.f, unix.TIOCMBIS, v))
}

func (p *Port) DisableModemLines(line ModemLine) error {
	v := int(line)
	return wrapErr("tiocmbic", unix.IoctlSetInt(p.f, unix.TIOCMBIC, v))
}

// SetHardwareFlowControl toggles CRTSCTS, the knob the online tracker
// flips when DCD rises/falls and the session is configured to let the
// modem drive flow control.
func (p *Port) SetHardwareFlowControl(on bool) error {
	attrs, err := p.GetAttr()
	if err != nil {
		return err
	}
	if on {
		attrs.Cflag |= unix.CRTSCTS
	} else {
		attrs.Cflag &^= unix.CRTSCTS
	}
	return p.SetAttr(TCSANOW, attrs)
}
