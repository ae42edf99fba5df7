// Package session implements the terminal loop (C5): the main online
// read/process/display and keyboard/dispatch cycle, grounded in
// do_terminal and do_output from the original source.
package session

import (
	"context"
	"time"
	"unicode/utf8"

	"github.com/sirupsen/logrus"

	"github.com/xoxyuxu/minicom/internal/config"
	"github.com/xoxyuxu/minicom/internal/endpoint"
	"github.com/xoxyuxu/minicom/internal/online"
	"github.com/xoxyuxu/minicom/internal/statusline"
	"github.com/xoxyuxu/minicom/internal/vt"
)

// zmodemSignature is the fixed auto-download trigger minicom watches for
// in the incoming byte stream, "**<CAN>B00".
const zmodemSignature = "**\x18B00"

// ZmodemDetector tracks a reset-on-mismatch cursor into zmodemSignature, the
// same linear scan as do_terminal's zpos/zsig handling.
type ZmodemDetector struct {
	pos int
}

// Feed advances the detector by one byte and reports whether the full
// signature has now been seen (the detector resets itself afterward).
func (d *ZmodemDetector) Feed(c byte) bool {
	if zmodemSignature[d.pos] == c {
		d.pos++
	} else {
		d.pos = 0
	}
	if d.pos == len(zmodemSignature) {
		d.pos = 0
		return true
	}
	return false
}

// IncomingResult is what ProcessIncoming reports back about one chunk of
// endpoint bytes.
type IncomingResult struct {
	// Remainder holds a trailing partial multibyte sequence that needs
	// more bytes before it can be decoded; callers prepend it to the next
	// read.
	Remainder []byte
	// ZmodemTriggered is true if the auto-download signature completed
	// partway through the chunk; Remainder is empty in that case, since
	// do_terminal abandons the rest of the buffer (blen = 0) on a match.
	ZmodemTriggered bool
}

// ProcessIncoming feeds buf through the parity mask / hex-display / zmodem
// auto-detect pipeline, forwarding each decoded character to emu, mirroring
// the "Data from the modem to the screen" block of do_terminal.
func ProcessIncoming(buf []byte, cfg *config.Config, zauto *ZmodemDetector, emu vt.Emulator) IncomingResult {
	for len(buf) > 0 {
		c := buf[0]
		masked := c
		if cfg.Parity == config.ParityMark || cfg.Parity == config.ParitySpace {
			masked &^= 0x80
		}

		if cfg.DisplayHex {
			hi, lo := hexDigit(masked>>4), hexDigit(masked&0xf)
			emu.Out(hi, 0)
			emu.Out(lo, 0)
			emu.Out(' ', 0)
			buf = buf[1:]
		} else if masked != c {
			// The high bit was parity; what is left is one 7-bit character.
			emu.Out(masked, rune(masked))
			buf = buf[1:]
		} else {
			r, size := utf8.DecodeRune(buf)
			if r == utf8.RuneError && size <= 1 {
				if !utf8.FullRune(buf) {
					return IncomingResult{Remainder: append([]byte(nil), buf...)}
				}
				emu.Out(masked, 0)
				buf = buf[1:]
			} else {
				emu.Out(masked, r)
				buf = buf[size:]
			}
		}

		if zauto != nil && zauto.Feed(c) {
			return IncomingResult{ZmodemTriggered: true}
		}
	}
	return IncomingResult{}
}

func hexDigit(n byte) byte {
	if n > 9 {
		return 'a' + (n - 10)
	}
	return '0' + n
}

// KeyAction is what Dispatch decides to do with one keystroke.
type KeyAction int

const (
	// ActionSent means the byte (or macro expansion) was forwarded to the
	// emulator/endpoint and the loop should continue.
	ActionSent KeyAction = iota
	// ActionCommand means the key should be handled as a menu command by
	// the caller (the command-prefix path in do_terminal that returns c
	// to its caller).
	ActionCommand
	// ActionQuit mirrors the EOF return from keyboard(KGETKEY, 0).
	ActionQuit
)

// KMeta is the threshold a raw keystroke value above which names an
// escape-prefixed (Alt/Meta) combination rather than a plain key: the
// base key is the value minus KMeta. The 225..251 meta range the
// alt-override mode routes as commands directly is KMeta+'a'..KMeta+'{'.
const KMeta = 0x80

// KeyDispatcher holds the command-prefix and macro-table state used to
// interpret one keystroke from the local keyboard, mirroring the "Was
// this a command key?" and macro-lookup blocks of do_terminal.
type KeyDispatcher struct {
	Escape      byte
	Macros      *config.Macros
	MacroEnable bool
	// AltOverride, when set, reports a meta-range keystroke (c > KMeta) as
	// a command directly instead of simulating the two-key prefix
	// sequence first.
	AltOverride bool
	// Cfg, if set, is consulted for the output policy (parity-Mark
	// masking and inter-character delay pacing) applied to every byte
	// actually written to the endpoint.
	Cfg *config.Config

	awaitingCommand bool
}

// isPrintable reports whether c is a plain printable ASCII byte, the set
// do_terminal accepts as a command letter after the prefix key.
func isPrintable(c byte) bool {
	return c >= 0x20 && c < 0x7f
}

// sendByte applies the do_output policy (parity-Mark sets the high bit;
// a configured inter-character delay paces writes one byte at a time)
// before forwarding c to the emulator/endpoint.
func (d *KeyDispatcher) sendByte(c byte, emu vt.Emulator) {
	if d.Cfg != nil && d.Cfg.Parity == config.ParityMark {
		c |= 0x80
	}
	emu.Send(c)
	if d.Cfg != nil && d.Cfg.InterCharDelayMS > 0 {
		time.Sleep(time.Duration(d.Cfg.InterCharDelayMS) * time.Millisecond)
	}
}

// Dispatch interprets a keystroke already resolved to a plain byte (the
// function-key decoding a real keyboard driver would have done lives
// outside this package, via funcKey). funcKey, if non-zero, names F1..F12
// the resolver decoded the raw keystroke as.
func (d *KeyDispatcher) Dispatch(c byte, funcKey int, emu vt.Emulator) (KeyAction, byte) {
	if c > KMeta {
		base := c - KMeta
		if d.AltOverride {
			return ActionCommand, base
		}
		if isPrintable(base) {
			return ActionCommand, base
		}
		d.sendByte(d.Escape, emu)
		return ActionSent, 0
	}

	if d.awaitingCommand {
		d.awaitingCommand = false
		if c == d.Escape || !isPrintable(c) {
			// Prefix followed by prefix (or by an unprintable key) sends a
			// literal prefix byte rather than dispatching a command.
			d.sendByte(d.Escape, emu)
			return ActionSent, 0
		}
		return ActionCommand, c
	}

	if c == d.Escape {
		d.awaitingCommand = true
		return ActionCommand, c
	}

	if funcKey >= 1 && funcKey <= 12 && d.MacroEnable && d.Macros != nil {
		macro := d.Macros[funcKey-1]
		if macro != "" {
			for i := 0; i < len(macro); i++ {
				d.sendByte(macro[i], emu)
			}
			return ActionSent, 0
		}
	}

	d.sendByte(c, emu)
	return ActionSent, 0
}

// Reader is the subset of endpoint.Endpoint the session loop needs to pull
// bytes from, kept as an interface so tests can substitute a fake stream.
type Reader interface {
	Read([]byte) (int, error)
	Alive() bool
}

// Session ties the endpoint, the online tracker, the status line, and the
// VT emulator seam together into the terminal loop's per-tick behavior.
type Session struct {
	cfg    *config.Config
	online *online.Tracker
	status *statusline.Renderer
	emu    vt.Emulator
	zauto  *ZmodemDetector
	log    *logrus.Entry

	pending []byte
}

// New builds a session driver for one open endpoint.
func New(cfg *config.Config, tracker *online.Tracker, status *statusline.Renderer, emu vt.Emulator, log *logrus.Entry) *Session {
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	var zauto *ZmodemDetector
	if cfg.ZmodemAutoDownload {
		zauto = &ZmodemDetector{}
	}
	return &Session{cfg: cfg, online: tracker, status: status, emu: emu, zauto: zauto, log: log}
}

// Tick runs one iteration of the read-from-endpoint half of the loop: it
// reads whatever is available (bounded by a deadline so the caller's
// overall loop keeps making progress even on an idle link), decodes it,
// and reports whether the zmodem auto-download signature fired.
func (s *Session) Tick(ctx context.Context, ep Reader) (zmodemTriggered bool, err error) {
	buf := make([]byte, 256)
	n := copy(buf, s.pending)
	s.pending = nil

	readCh := make(chan struct {
		n   int
		err error
	}, 1)
	go func() {
		rn, rerr := ep.Read(buf[n:])
		readCh <- struct {
			n   int
			err error
		}{rn, rerr}
	}()

	select {
	case <-ctx.Done():
		return false, nil
	case r := <-readCh:
		if r.err != nil {
			return false, r.err
		}
		n += r.n
	}

	result := ProcessIncoming(buf[:n], s.cfg, s.zauto, s.emu)
	s.pending = result.Remainder
	return result.ZmodemTriggered, nil
}

// UpdateStatus renders the status line from the current online state and
// reports whether it changed, mirroring update_status_time + show_status.
func (s *Session) UpdateStatus(now time.Time, dcdHigh bool, st statusline.State, force bool) (string, bool) {
	s.online.Tick(now, dcdHigh)
	st.OnlineText = s.online.StatusText(!s.cfg.HasDCD)
	return s.status.Render(st, force)
}

// HealthCheck mirrors the "check if device is ok" block of do_terminal:
// if the endpoint is no longer alive, it closes and reopens it, logging
// the transition either way.
func HealthCheck(ctx context.Context, ep *endpoint.Endpoint, opts endpoint.Options, log *logrus.Entry) (*endpoint.Endpoint, error) {
	if ep != nil && ep.Alive() {
		return ep, nil
	}
	if ep != nil {
		ep.Close()
	}
	log.Warn("endpoint lost, attempting reopen")
	next, err := endpoint.Open(ctx, opts)
	if err != nil {
		log.WithError(err).Warn("reopen failed")
		return nil, err
	}
	log.Info("endpoint reopened")
	return next, nil
}
