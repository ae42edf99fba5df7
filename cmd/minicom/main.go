// Command minicom is the interactive terminal session entry point (C11).
package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/gdamore/tcell/v2"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/xoxyuxu/minicom/internal/config"
	"github.com/xoxyuxu/minicom/internal/endpoint"
	"github.com/xoxyuxu/minicom/internal/online"
	"github.com/xoxyuxu/minicom/internal/screen"
	"github.com/xoxyuxu/minicom/internal/session"
	"github.com/xoxyuxu/minicom/internal/statusline"
	"github.com/xoxyuxu/minicom/serial"
)

// Version is the release string reported by "%V" and --version.
const Version = statusline.Version

func main() {
	if err := newRootCommand().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	cfg := config.Default()
	var configFile string

	cmd := &cobra.Command{
		Use:     "minicom",
		Short:   "A serial communication program",
		Version: Version,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd.Context(), cmd, cfg, configFile)
		},
	}

	flags := cmd.Flags()
	flags.StringVar(&cfg.Device, "device", cfg.Device, "device or dial descriptor to open")
	flags.StringVar(&configFile, "config", "", "dial-directory config file to load first")
	flags.IntVar(&cfg.Baud, "baud", cfg.Baud, "line speed")
	flags.IntVar(&cfg.Bits, "bits", cfg.Bits, "data bits")
	flags.StringVar((*string)(&cfg.Parity), "parity", string(cfg.Parity), "parity: N, E, O, M, S")
	flags.IntVar(&cfg.StopBits, "stopbits", cfg.StopBits, "stop bits")
	flags.StringVar(&cfg.LockDir, "lockdir", cfg.LockDir, "lockfile directory")
	flags.BoolVar(&cfg.ZmodemAutoDownload, "zmodem-auto", cfg.ZmodemAutoDownload, "auto-detect incoming Zmodem transfers")

	return cmd
}

// windowEmulator implements vt.Emulator by drawing decoded bytes into the
// terminal window and forwarding keystrokes to the endpoint, standing in
// for the real VT102/ANSI state machine (out of scope; see internal/vt).
type windowEmulator struct {
	win *screen.Window
	ep  *endpoint.Endpoint
}

func (e *windowEmulator) Out(c byte, wc rune) {
	if wc != 0 {
		e.win.Print(string(wc))
	} else {
		e.win.Print(string(rune(c)))
	}
}

func (e *windowEmulator) Send(c byte) {
	e.ep.Write([]byte{c})
}

func (e *windowEmulator) Resize(cols, lines int) {}

func run(ctx context.Context, cmd *cobra.Command, cfg *config.Config, configFile string) error {
	log := logrus.NewEntry(logrus.StandardLogger())

	if configFile != "" {
		// Flags given on the command line win over the file: note their
		// values, load the file, then set them again.
		given := map[string]string{}
		for _, name := range []string{"device", "baud", "bits", "parity", "stopbits", "lockdir", "zmodem-auto"} {
			if cmd.Flags().Changed(name) {
				given[name] = cmd.Flags().Lookup(name).Value.String()
			}
		}
		if err := config.Load(configFile, cfg); err != nil {
			return fmt.Errorf("loading config: %w", err)
		}
		for name, value := range given {
			cmd.Flags().Set(name, value)
		}
	}
	if cfg.Device == "" {
		return fmt.Errorf("no device or descriptor given (use --device or a config file)")
	}

	ep, err := endpoint.Open(ctx, endpoint.Options{
		Descriptor: cfg.Device,
		LockDir:    cfg.LockDir,
		Log:        log,
	})
	if err != nil {
		return fmt.Errorf("opening %s: %w", cfg.Device, err)
	}
	defer ep.Close()

	scr, err := screen.Open()
	if err != nil {
		return fmt.Errorf("opening display: %w", err)
	}
	defer scr.Close()

	cols, lines := scr.Size()
	term := scr.OpenWindow(0, 0, cols, lines-1, tcell.ColorDefault, tcell.ColorDefault)
	statusWin := scr.OpenWindow(0, lines-1, cols, 1, tcell.ColorBlack, tcell.ColorWhite)

	dcdSupported := ep.Kind != endpoint.Device || cfg.HasDCD
	tracker := online.New(dcdSupported, cfg.DCDDrivesFlow, cfg.LogConnections, ep.Port(), log)
	renderer := statusline.New(cfg.StatuslineFormat, cols)

	emu := &windowEmulator{win: term, ep: ep}
	sess := session.New(cfg, tracker, renderer, emu, log)
	dispatcher := &session.KeyDispatcher{
		Escape:      cfg.EscapeKey,
		Macros:      &cfg.Macros,
		MacroEnable: true,
		AltOverride: cfg.AltOverride,
		Cfg:         cfg,
	}

	resizeCh := make(chan [2]int, 1)
	go func() {
		for {
			c, l := scr.PollResize()
			select {
			case resizeCh <- [2]int{c, l}:
			case <-ctx.Done():
				return
			}
		}
	}()

	keyCh := make(chan tcell.Event, 16)
	go func() {
		for {
			ev := scr.PollKey()
			if ev == nil {
				return
			}
			select {
			case keyCh <- ev:
			case <-ctx.Done():
				return
			}
		}
	}()

	st := statusline.State{
		EscapeKeyLabel: statusline.EscKey(escapeLabel(cfg.EscapeKey), cfg.AltOverride),
		EndpointKind:   ep.Kind,
		Bearer:         cfg.BearerLabel(),
		Emulator:       cfg.Emulator,
		DevicePath:     cfg.Device,
	}

	log.WithField("device", cfg.Device).Info("session started")
	initialText, _ := sess.UpdateStatus(time.Now(), dcdLevel(ep), st, true)
	statusWin.Locate(0, 0)
	statusWin.Print(initialText)
	scr.Flush()

	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case dims := <-resizeCh:
			cols, lines = dims[0], dims[1]
			term.Resize(0, 0, cols, lines-1)
			statusWin.Resize(0, lines-1, cols, 1)
			renderer.SetWidth(cols)
			if text, changed := sess.UpdateStatus(time.Now(), dcdLevel(ep), st, true); changed {
				statusWin.Locate(0, 0)
				statusWin.Print(text)
			}
			scr.Flush()

		case ev := <-keyCh:
			kev, ok := ev.(*tcell.EventKey)
			if !ok {
				continue
			}
			action, c := dispatcher.Dispatch(byte(kev.Rune()), funcKeyNumber(kev), emu)
			if action == session.ActionCommand {
				// The literal-prefix and meta-range handling above is
				// in-scope and already applied; routing a genuine command
				// letter to a menu is the out-of-scope part.
				log.WithField("command", string(c)).Debug("command key")
			}
			term.ShowCursor()
			scr.Flush()

		case now := <-ticker.C:
			triggered, err := sess.Tick(ctx, ep)
			if err != nil {
				log.WithError(err).Warn("read error")
				return err
			}
			if triggered {
				log.Info("zmodem auto-download signature detected")
			}
			if text, changed := sess.UpdateStatus(now, dcdLevel(ep), st, false); changed {
				statusWin.Locate(0, 0)
				statusWin.Print(text)
			}
			term.ShowCursor()
			scr.Flush()
		}
	}
}

// dcdLevel samples the carrier-detect line of a Device endpoint; socket
// endpoints have no such line and report whether they are still connected.
func dcdLevel(ep *endpoint.Endpoint) bool {
	if p := ep.Port(); p != nil {
		lines, err := p.GetModemLines()
		return err == nil && lines&serial.TIOCM_CAR != 0
	}
	return ep.Alive()
}

func escapeLabel(escape byte) string {
	if escape < 0x20 {
		return fmt.Sprintf("^%c", escape+'@')
	}
	return string(rune(escape))
}

// funcKeyNumber maps a tcell function-key event to the 1..12 numbering
// KeyDispatcher.Dispatch expects, or 0 if ev isn't F1..F12.
func funcKeyNumber(ev *tcell.EventKey) int {
	if ev.Key() >= tcell.KeyF1 && ev.Key() <= tcell.KeyF12 {
		return int(ev.Key()-tcell.KeyF1) + 1
	}
	return 0
}
