package session

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xoxyuxu/minicom/internal/config"
)

type recordingEmulator struct {
	out  []struct {
		c  byte
		wc rune
	}
	sent []byte
}

func (r *recordingEmulator) Out(c byte, wc rune) {
	r.out = append(r.out, struct {
		c  byte
		wc rune
	}{c, wc})
}
func (r *recordingEmulator) Send(c byte)     { r.sent = append(r.sent, c) }
func (r *recordingEmulator) Resize(int, int) {}

func TestZmodemDetectorMatchesSignature(t *testing.T) {
	d := &ZmodemDetector{}
	sig := "**\x18B00"
	var triggered bool
	for i := 0; i < len(sig); i++ {
		triggered = d.Feed(sig[i])
	}
	assert.True(t, triggered)
}

func TestZmodemDetectorResetsOnMismatch(t *testing.T) {
	d := &ZmodemDetector{}
	assert.False(t, d.Feed('*'))
	assert.False(t, d.Feed('x'))
	assert.Equal(t, 0, d.pos)
}

func TestProcessIncomingPlainText(t *testing.T) {
	cfg := config.Default()
	emu := &recordingEmulator{}
	res := ProcessIncoming([]byte("hi"), cfg, nil, emu)
	assert.Empty(t, res.Remainder)
	require.Len(t, emu.out, 2)
	assert.Equal(t, byte('h'), emu.out[0].c)
	assert.Equal(t, byte('i'), emu.out[1].c)
}

func TestProcessIncomingMaskParity(t *testing.T) {
	cfg := config.Default()
	cfg.Parity = config.ParityMark
	emu := &recordingEmulator{}
	ProcessIncoming([]byte{0xE1}, cfg, nil, emu)
	require.Len(t, emu.out, 1)
	assert.Equal(t, byte(0x61), emu.out[0].c)
}

func TestProcessIncomingHexDisplay(t *testing.T) {
	cfg := config.Default()
	cfg.DisplayHex = true
	emu := &recordingEmulator{}
	ProcessIncoming([]byte{0xAB}, cfg, nil, emu)
	require.Len(t, emu.out, 3)
	assert.Equal(t, byte('a'), emu.out[0].c)
	assert.Equal(t, byte('b'), emu.out[1].c)
	assert.Equal(t, byte(' '), emu.out[2].c)
}

func TestProcessIncomingZmodemTrigger(t *testing.T) {
	cfg := config.Default()
	cfg.ZmodemAutoDownload = true
	emu := &recordingEmulator{}
	z := &ZmodemDetector{}
	res := ProcessIncoming([]byte("hi**\x18B00rest"), cfg, z, emu)
	assert.True(t, res.ZmodemTriggered)
	assert.Empty(t, res.Remainder)
	// "hi" plus the 6-byte signature are all forwarded before the trigger
	// fires and the rest of the buffer ("rest") is discarded.
	assert.Len(t, emu.out, len("hi")+len("**\x18B00"))
}

func TestProcessIncomingIncompleteMultibyteRemainder(t *testing.T) {
	cfg := config.Default()
	emu := &recordingEmulator{}
	res := ProcessIncoming([]byte{0xE2, 0x82}, cfg, nil, emu) // incomplete UTF-8 lead bytes
	assert.Equal(t, []byte{0xE2, 0x82}, res.Remainder)
	assert.Empty(t, emu.out)
}

func TestKeyDispatcherEscapeReturnsCommand(t *testing.T) {
	d := &KeyDispatcher{Escape: 0x01}
	emu := &recordingEmulator{}
	action, c := d.Dispatch(0x01, 0, emu)
	assert.Equal(t, ActionCommand, action)
	assert.Equal(t, byte(0x01), c)
}

func TestKeyDispatcherMacroExpansion(t *testing.T) {
	macros := &config.Macros{}
	macros[0] = "ATZ\r"
	d := &KeyDispatcher{Escape: 0x01, Macros: macros, MacroEnable: true}
	emu := &recordingEmulator{}
	action, _ := d.Dispatch('x', 1, emu)
	assert.Equal(t, ActionSent, action)
	assert.Equal(t, []byte("ATZ\r"), emu.sent)
}

func TestKeyDispatcherEmptyMacroSendsRawKey(t *testing.T) {
	macros := &config.Macros{}
	d := &KeyDispatcher{Escape: 0x01, Macros: macros, MacroEnable: true}
	emu := &recordingEmulator{}
	action, _ := d.Dispatch('k', 3, emu)
	assert.Equal(t, ActionSent, action)
	assert.Equal(t, []byte{'k'}, emu.sent)
}

func TestKeyDispatcherPlainKeySent(t *testing.T) {
	d := &KeyDispatcher{Escape: 0x01}
	emu := &recordingEmulator{}
	action, _ := d.Dispatch('q', 0, emu)
	assert.Equal(t, ActionSent, action)
	assert.Equal(t, []byte{'q'}, emu.sent)
}

func TestKeyDispatcherPrefixFollowedByPrefixSendsLiteral(t *testing.T) {
	d := &KeyDispatcher{Escape: 0x01}
	emu := &recordingEmulator{}

	action, c := d.Dispatch(0x01, 0, emu)
	require.Equal(t, ActionCommand, action)
	require.Equal(t, byte(0x01), c)

	action, _ = d.Dispatch(0x01, 0, emu)
	assert.Equal(t, ActionSent, action)
	assert.Equal(t, []byte{0x01}, emu.sent)
}

func TestKeyDispatcherPrefixFollowedByPrintableIsCommand(t *testing.T) {
	d := &KeyDispatcher{Escape: 0x01}
	emu := &recordingEmulator{}

	_, _ = d.Dispatch(0x01, 0, emu)
	action, c := d.Dispatch('z', 0, emu)
	assert.Equal(t, ActionCommand, action)
	assert.Equal(t, byte('z'), c)
	assert.Empty(t, emu.sent)
}

func TestKeyDispatcherPrefixFollowedByUnprintableSendsLiteral(t *testing.T) {
	d := &KeyDispatcher{Escape: 0x01}
	emu := &recordingEmulator{}

	_, _ = d.Dispatch(0x01, 0, emu)
	action, _ := d.Dispatch(0x03, 0, emu)
	assert.Equal(t, ActionSent, action)
	assert.Equal(t, []byte{0x01}, emu.sent)
}

func TestKeyDispatcherMetaRangeIsEscapePrefixed(t *testing.T) {
	d := &KeyDispatcher{Escape: 0x01}
	emu := &recordingEmulator{}

	action, c := d.Dispatch(KMeta+'a', 0, emu)
	assert.Equal(t, ActionCommand, action)
	assert.Equal(t, byte('a'), c)
}

func TestKeyDispatcherMetaRangeWithAltOverride(t *testing.T) {
	d := &KeyDispatcher{Escape: 0x01, AltOverride: true}
	emu := &recordingEmulator{}

	action, c := d.Dispatch(KMeta+'a', 0, emu)
	assert.Equal(t, ActionCommand, action)
	assert.Equal(t, byte('a'), c)
}

func TestKeyDispatcherOutputPolicyMasksParityMark(t *testing.T) {
	cfg := config.Default()
	cfg.Parity = config.ParityMark
	d := &KeyDispatcher{Escape: 0x01, Cfg: cfg}
	emu := &recordingEmulator{}

	_, _ = d.Dispatch('a', 0, emu)
	assert.Equal(t, []byte{'a' | 0x80}, emu.sent)
}
