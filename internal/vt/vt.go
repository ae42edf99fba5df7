// Package vt defines the boundary between the terminal loop (C5) and the
// VT102/ANSI escape-sequence emulator. The emulator itself — the state
// machine that turns incoming bytes into cursor moves, attribute changes,
// and screen writes — is explicitly out of scope (see SPEC_FULL.md's
// Non-goals); this package is only the seam a real emulator plugs into,
// grounded in vt_out/vt_send/vt_install/vt_init from the original source.
package vt

// Emulator is the behavior the terminal loop needs from whatever decodes
// the endpoint's byte stream and turns local keystrokes into endpoint
// bytes. A production build supplies a real VT102/ANSI state machine; a
// no-op or recording implementation is enough for tests.
type Emulator interface {
	// Out delivers one decoded character from the endpoint to the
	// emulator for display, along with its wide-character form (0 if the
	// byte was part of a single-byte encoding), mirroring vt_out(c, wc).
	Out(c byte, wc rune)

	// Send encodes one logical keystroke as endpoint bytes and writes it
	// out, mirroring vt_send(c).
	Send(c byte)

	// Resize notifies the emulator that the underlying window changed
	// size, mirroring the init_emul(terminal, 0) reinit path.
	Resize(cols, lines int)
}

// NopEmulator discards everything sent to it. Useful as a placeholder
// when no display backend is wired up (e.g. in script-runner mode, which
// never touches the screen).
type NopEmulator struct{}

func (NopEmulator) Out(byte, rune)  {}
func (NopEmulator) Send(byte)       {}
func (NopEmulator) Resize(int, int) {}
