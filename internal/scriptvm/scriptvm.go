// Package scriptvm implements the host-callable operation surface a script
// runtime calls into (C6): getenv/expect/send/print/flush/timeout/verbose/
// pipedshell/readline, grounded in scriptlua.c. The embedded interpreter
// itself (the thing that would call these) is out of scope; nothing in the
// example pack embeds a scripting language either, so there is no
// interpreter to wire up here.
package scriptvm

import (
	"bufio"
	"context"
	"io"
	"os/exec"
	"strings"
	"time"

	"github.com/xoxyuxu/minicom/internal/timeoutctl"
)

// InputBufferSize is the fixed shift-register size scriptlua.c reads the
// endpoint into (MAX_INBUF_SIZE).
const InputBufferSize = 512

// MaxExpectPatterns bounds a single Expect call (MAX_NUM_EXPECT).
const MaxExpectPatterns = 16

// InputBuffer is the 512-byte shift register expect() scans: each incoming
// byte pushes the oldest one out, and ExpectFound checks whether the
// buffer currently ends with a given word.
type InputBuffer struct {
	buf [InputBufferSize]byte
}

// Feed shifts c into the buffer as the newest byte.
func (b *InputBuffer) Feed(c byte) {
	copy(b.buf[:], b.buf[1:])
	b.buf[InputBufferSize-1] = c
}

// ExpectFound reports whether the buffer currently ends with word,
// mirroring expfound: a word longer than the buffer is truncated to the
// buffer's size before comparison.
func (b *InputBuffer) ExpectFound(word string) bool {
	if word == "" {
		return false
	}
	n := len(word)
	if n > InputBufferSize {
		n = InputBufferSize
	}
	tail := string(b.buf[InputBufferSize-n:])
	return tail == word[len(word)-n:]
}

// Reset clears the buffer, mirroring the memset(inbuf, 0, ...) calls in
// mc_flush and mc_pipedshell.
func (b *InputBuffer) Reset() {
	for i := range b.buf {
		b.buf[i] = 0
	}
}

// Env resolves getenv("LOGIN")/getenv("PASS") to the scrubbed login/
// password values captured at startup, and everything else to the
// process environment, mirroring mc_getenv + init_env's LOGIN=/PASS=
// scrubbing.
type Env struct {
	Login  string
	Pass   string
	Lookup func(string) (string, bool)
}

// Getenv resolves one variable per mc_getenv's precedence.
func (e *Env) Getenv(name string) string {
	switch name {
	case "LOGIN":
		return e.Login
	case "PASS":
		return e.Pass
	default:
		if e.Lookup != nil {
			if v, ok := e.Lookup(name); ok {
				return v
			}
		}
		return ""
	}
}

// ScrubEnviron extracts LOGIN=/PASS= values out of a process environment
// slice (as from os.Environ()) and returns the scrubbed slice alongside
// them, mirroring init_env's in-place "someone using ps might see them"
// scrub (LOGIN=/PASS= are left present but empty, not removed outright,
// so a child process still sees the variable name).
func ScrubEnviron(environ []string) (scrubbed []string, login, pass string) {
	scrubbed = make([]string, len(environ))
	for i, kv := range environ {
		switch {
		case strings.HasPrefix(kv, "LOGIN="):
			login = kv[len("LOGIN="):]
			scrubbed[i] = "LOGIN="
		case strings.HasPrefix(kv, "PASS="):
			pass = kv[len("PASS="):]
			scrubbed[i] = "PASS="
		default:
			scrubbed[i] = kv
		}
	}
	return scrubbed, login, pass
}

// VM is the host-callable surface a script interpreter's builtins would
// be wired to, one per running script.
type VM struct {
	Env     *Env
	Modem   io.ReadWriter // the endpoint's byte stream
	Console io.Writer     // stderr-equivalent, for Print and verbose echo

	timeouts      *timeoutctl.Controller
	etimeoutDflt  int
	verboseEcho   bool
	in            InputBuffer
	lastStatus    int
}

// DefaultGlobalTimeout and DefaultExpectTimeout match DFL_GTIMEOUT/
// DFL_ETIMEOUT.
const (
	DefaultGlobalTimeout = 60 * 60
	DefaultExpectTimeout = 60 * 2
)

// New builds a VM bound to a running timeout controller.
func New(env *Env, modem io.ReadWriter, console io.Writer, timeouts *timeoutctl.Controller) *VM {
	return &VM{
		Env:          env,
		Modem:        modem,
		Console:      console,
		timeouts:     timeouts,
		etimeoutDflt: DefaultExpectTimeout,
		verboseEcho:  true,
	}
}

// Getenv implements getenv(varname).
func (v *VM) Getenv(name string) string {
	return v.Env.Getenv(name)
}

// readchar reads exactly one byte from the modem stream and feeds it into
// the shift register, echoing it to Console when verbose echo is on,
// mirroring readchar().
func (v *VM) readchar() (byte, error) {
	var b [1]byte
	_, err := io.ReadFull(v.Modem, b[:])
	if err != nil {
		return 0, err
	}
	if v.verboseEcho && v.Console != nil {
		v.Console.Write(b[:])
	}
	v.in.Feed(b[0])
	return b[0], nil
}

// Expect reads from the modem until one of patterns (up to
// MaxExpectPatterns) appears as the buffer's suffix, or the per-expect
// timeout fires. It returns the 1-based index of the matched pattern (as
// mc_expect's "1 + idx" Lua return), or 0 on timeout.
func (v *VM) Expect(patterns ...string) (int, error) {
	if len(patterns) > MaxExpectPatterns {
		patterns = patterns[:MaxExpectPatterns]
	}

	ctx, cancel := v.timeouts.BeginExpect(v.etimeoutDflt)
	defer cancel()

	type result struct {
		idx int
		err error
	}
	done := make(chan result, 1)
	go func() {
		for {
			if _, err := v.readchar(); err != nil {
				done <- result{0, err}
				return
			}
			for i, p := range patterns {
				if v.in.ExpectFound(p) {
					done <- result{i + 1, nil}
					return
				}
			}
		}
	}()

	select {
	case <-ctx.Done():
		return 0, nil
	case r := <-done:
		return r.idx, r.err
	}
}

// ReadLine implements readline(): buffers bytes from the modem until a "\n"
// is seen and returns everything read since the previous call (or since
// the VM was created), with any trailing "\r" stripped, mirroring the
// line-buffered half of mc_expect. ok is false if the per-expect timeout
// fires before a newline arrives.
func (v *VM) ReadLine() (line string, ok bool, err error) {
	ctx, cancel := v.timeouts.BeginExpect(v.etimeoutDflt)
	defer cancel()

	type result struct {
		line string
		err  error
	}
	done := make(chan result, 1)
	go func() {
		var b strings.Builder
		for {
			c, rerr := v.readchar()
			if rerr != nil {
				done <- result{"", rerr}
				return
			}
			if c == '\n' {
				line := b.String()
				line = strings.TrimSuffix(line, "\r")
				done <- result{line, nil}
				return
			}
			b.WriteByte(c)
		}
	}()

	select {
	case <-ctx.Done():
		return "", false, nil
	case r := <-done:
		if r.err != nil {
			return "", false, r.err
		}
		return r.line, true, nil
	}
}

// Send implements send(string): writes p to the modem, translating "\n"
// to a literal "\n" (mc_send always uses newline = "\n").
func (v *VM) Send(p string) error {
	return output(v.Modem, p, "\n")
}

// Print implements print(string): writes p to the console, translating
// "\n" to "\r\n" (mc_print always uses newline = "\r\n").
func (v *VM) Print(p string) error {
	return output(v.Console, p, "\r\n")
}

func output(w io.Writer, p, newline string) error {
	var b strings.Builder
	for _, r := range p {
		if r == '\n' {
			b.WriteString(newline)
		} else {
			b.WriteRune(r)
		}
	}
	_, err := w.Write([]byte(b.String()))
	return err
}

// Flush implements flush(): clears the shift register. The original also
// flushes the tty's kernel input queue (m_flush); callers that own a
// *serial.Port can do that themselves before/after calling Flush.
func (v *VM) Flush() {
	v.in.Reset()
}

// Timeout implements timeout(varname, val): "gtime" changes the global
// countdown immediately (mirroring gtimeout feeding the controller),
// "etime" changes the per-expect default applied on the next Expect call.
// Reports false for any other varname.
func (v *VM) Timeout(varname string, val int) bool {
	switch varname {
	case "gtime":
		v.timeouts.SetGlobal(val)
		return true
	case "etime":
		v.etimeoutDflt = val
		return true
	default:
		return false
	}
}

// Verbose implements verbose(varbool). Preserves the original's behavior
// exactly, including its bug: "on" reports success but does NOT actually
// turn echoing on (scriptlua.c's mc_verbose never assigns the global in
// that branch); only "off" has any effect. Anything else reports false.
func (v *VM) Verbose(varbool string) bool {
	switch varbool {
	case "on":
		return true
	case "off":
		v.verboseEcho = false
		return true
	default:
		return false
	}
}

// PipedShell implements pipedshell(cmd): runs cmd via the shell, streams
// its stdout to the modem (pausing 20 ms after each block of up to 4 KiB),
// and returns (true, exit status) on success or
// (false, 0) if the command could not be started, mirroring
// mc_pipedshell.
func (v *VM) PipedShell(ctx context.Context, cmd string) (ok bool, status int) {
	if cmd == "" {
		return false, 0
	}
	c := exec.CommandContext(ctx, "sh", "-c", cmd)
	stdout, err := c.StdoutPipe()
	if err != nil {
		return false, 0
	}
	if err := c.Start(); err != nil {
		return false, 0
	}

	r := bufio.NewReader(stdout)
	buf := make([]byte, 4096)
	for {
		n, err := r.Read(buf)
		if n > 0 {
			v.Modem.Write(buf[:n])
			time.Sleep(20 * time.Millisecond)
		}
		if err != nil {
			break
		}
	}

	err = c.Wait()
	v.lastStatus = exitCode(err)
	v.in.Reset()
	return true, v.lastStatus
}

func exitCode(err error) int {
	if err == nil {
		return 0
	}
	if ee, ok := err.(*exec.ExitError); ok {
		return ee.ExitCode()
	}
	return -1
}

// LastStatus returns the exit status of the most recent PipedShell call.
func (v *VM) LastStatus() int {
	return v.lastStatus
}
