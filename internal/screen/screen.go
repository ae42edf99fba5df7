// Package screen implements the full-screen character-cell backend (C9):
// a thin window abstraction over a tcell screen, standing in for the
// original's mc_wopen/mc_wprintf/mc_wlocate/mc_wflush curses windows.
package screen

import (
	"github.com/gdamore/tcell/v2"
)

// Window is a rectangular region of the backing tcell screen that owns its
// own cursor position, mirroring the original's WIN struct closely enough
// to be addressed the same way from the status line and terminal loop:
// Locate moves the cursor, Print writes at it and advances it, Flush pushes
// pending draws to the terminal.
type Window struct {
	screen tcell.Screen
	x0, y0 int
	w, h   int
	style  tcell.Style

	curx, cury int
}

// Screen owns the tcell backend and the windows opened on it.
type Screen struct {
	tcell tcell.Screen
}

// Open initializes the tcell screen backend. Callers must call Close when
// done to restore the terminal.
func Open() (*Screen, error) {
	s, err := tcell.NewScreen()
	if err != nil {
		return nil, err
	}
	if err := s.Init(); err != nil {
		return nil, err
	}
	return &Screen{tcell: s}, nil
}

// Close restores the terminal to its pre-screen state.
func (s *Screen) Close() {
	s.tcell.Fini()
}

// Size returns the backing terminal's current column/row count.
func (s *Screen) Size() (cols, lines int) {
	return s.tcell.Size()
}

// PollResize blocks until the next resize event and returns the new size,
// matching the original's size_changed flag set from a SIGWINCH handler.
func (s *Screen) PollResize() (cols, lines int) {
	for {
		ev := s.tcell.PollEvent()
		if ev == nil {
			return 0, 0
		}
		if rs, ok := ev.(*tcell.EventResize); ok {
			cols, lines = rs.Size()
			return cols, lines
		}
	}
}

// PollKey blocks until the next key event and returns it, or nil once the
// screen has been finalized (Close called), mirroring keyboard(KGETKEY, 0)
// reaching EOF on the console device.
func (s *Screen) PollKey() tcell.Event {
	for {
		ev := s.tcell.PollEvent()
		if ev == nil {
			return nil
		}
		if _, ok := ev.(*tcell.EventKey); ok {
			return ev
		}
	}
}

// OpenWindow opens a window at (x0,y0)-(x0+w-1,y0+h-1) with the given
// foreground/background colors, mirroring mc_wopen's geometry arguments.
func (s *Screen) OpenWindow(x0, y0, w, h int, fg, bg tcell.Color) *Window {
	return &Window{
		screen: s.tcell,
		x0:     x0,
		y0:     y0,
		w:      w,
		h:      h,
		style:  tcell.StyleDefault.Foreground(fg).Background(bg),
	}
}

// Locate moves the window's write cursor, mirroring mc_wlocate.
func (w *Window) Locate(x, y int) {
	w.curx, w.cury = x, y
}

// Resize changes the window's geometry, e.g. after a terminal resize, and
// resets its cursor to the origin.
func (w *Window) Resize(x0, y0, width, height int) {
	w.x0, w.y0, w.w, w.h = x0, y0, width, height
	w.curx, w.cury = 0, 0
}

// Print writes s at the current cursor position, wrapping to the next
// window row when it runs past the window's width, and advances the
// cursor, mirroring mc_wprintf's behavior for plain text.
func (w *Window) Print(s string) {
	for _, r := range s {
		if w.curx >= w.w {
			w.curx = 0
			w.cury++
		}
		if w.cury >= w.h {
			break
		}
		w.screen.SetContent(w.x0+w.curx, w.y0+w.cury, r, nil, w.style)
		w.curx++
	}
}

// Clear blanks the window's full extent.
func (w *Window) Clear() {
	for y := 0; y < w.h; y++ {
		for x := 0; x < w.w; x++ {
			w.screen.SetContent(w.x0+x, w.y0+y, ' ', nil, w.style)
		}
	}
}

// Flush pushes all pending draws to the terminal, mirroring mc_wflush.
func (s *Screen) Flush() {
	s.tcell.Show()
}

// ShowCursor positions the terminal's hardware cursor inside w at its
// current local position, mirroring ret_csr's mc_wlocate+mc_wflush pair.
func (w *Window) ShowCursor() {
	w.screen.ShowCursor(w.x0+w.curx, w.y0+w.cury)
}
