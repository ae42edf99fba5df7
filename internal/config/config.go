// Package config holds the typed session configuration minicom threads
// through the endpoint opener, the online tracker, the status renderer,
// and the terminal loop, loaded from a dial-directory-style file and
// overridden by CLI flags.
package config

import (
	"bufio"
	"os"
	"strconv"
	"strings"

	"github.com/sirupsen/logrus"
)

// Parity is the serial line parity mode, also used by the status line's
// "%b" directive and by C5's parity-masking step.
type Parity string

const (
	ParityNone  Parity = "N"
	ParityEven  Parity = "E"
	ParityOdd   Parity = "O"
	ParityMark  Parity = "M"
	ParitySpace Parity = "S"
)

// Macros holds the F1..F12 macro strings; an empty entry means "send the
// raw key" rather than "send nothing".
type Macros [12]string

// Config is the full set of knobs a session is built from. Field names
// intentionally echo the original P_* config keys in spirit (Baud, Bits,
// Parity, StopBits, Lock, Callout, Callin, ...) rather than verbatim.
type Config struct {
	Device string

	Baud     int
	Bits     int
	Parity   Parity
	StopBits int

	LockDir string

	CalloutHook string
	CallinHook  string

	EscapeKey byte // default CTRL-A (0x01)
	AltOverride bool

	Macros Macros

	StatuslineFormat string
	HasDCD           bool // true if the modem itself asserts DCD reliably
	DCDDrivesFlow    bool // hardware flow control on when going online, off when going offline
	LogConnections   bool

	InterCharDelayMS int // 0 disables pacing
	DisplayHex       bool

	WrapLines  bool
	AddCR      bool
	AddLF      bool

	ZmodemAutoDownload bool
	Translate          bool

	Emulator string // "VT102" or "ANSI"
}

const DefaultStatuslineFormat = "%H for help | %b | %C | Minicom %V | %T | %t | %D"

// Default returns the configuration minicom starts with absent any file or
// flags, matching the shipped defaults.
func Default() *Config {
	return &Config{
		Baud:             9600,
		Bits:             8,
		Parity:           ParityNone,
		StopBits:         1,
		EscapeKey:        0x01,
		StatuslineFormat: DefaultStatuslineFormat,
		HasDCD:           true,
		LogConnections:   true,
		WrapLines:        true,
		AddCR:            true,
		Emulator:         "VT102",
	}
}

// Load reads a simple "key = value" file, one setting per line, "#" for
// comments, blank lines ignored. Unknown keys are logged and skipped
// rather than treated as fatal, so a config file from a newer or older
// build still loads.
func Load(path string, into *Config) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		key, value, ok := strings.Cut(line, "=")
		if !ok {
			continue
		}
		key = strings.TrimSpace(key)
		value = strings.TrimSpace(value)
		applyKey(into, key, value)
	}
	return scanner.Err()
}

func applyKey(c *Config, key, value string) {
	switch key {
	case "device":
		c.Device = value
	case "baud":
		c.Baud = atoiOr(value, c.Baud)
	case "bits":
		c.Bits = atoiOr(value, c.Bits)
	case "parity":
		c.Parity = Parity(value)
	case "stopbits":
		c.StopBits = atoiOr(value, c.StopBits)
	case "lockdir":
		c.LockDir = value
	case "callout":
		c.CalloutHook = value
	case "callin":
		c.CallinHook = value
	case "statusline":
		c.StatuslineFormat = value
	case "hasdcd":
		c.HasDCD = yesNo(value)
	case "dcdflow":
		c.DCDDrivesFlow = yesNo(value)
	case "logconn":
		c.LogConnections = yesNo(value)
	case "chardelay":
		c.InterCharDelayMS = atoiOr(value, c.InterCharDelayMS)
	case "displayhex":
		c.DisplayHex = yesNo(value)
	case "wraplines":
		c.WrapLines = yesNo(value)
	case "zmodemauto":
		c.ZmodemAutoDownload = yesNo(value)
	case "translate":
		c.Translate = yesNo(value)
	case "emulator":
		c.Emulator = value
	default:
		logrus.WithField("key", key).Debug("config: ignoring unknown key")
	}
}

func atoiOr(s string, fallback int) int {
	n, err := strconv.Atoi(s)
	if err != nil {
		return fallback
	}
	return n
}

func yesNo(s string) bool {
	return strings.EqualFold(s, "yes") || strings.EqualFold(s, "y") || strings.EqualFold(s, "true")
}

// BearerLabel is what the status line's "%b" directive shows for a serial
// (non-socket) endpoint.
func (c *Config) BearerLabel() string {
	return strconv.Itoa(c.Baud) + " " + strconv.Itoa(c.Bits) + string(c.Parity) + strconv.Itoa(c.StopBits)
}
