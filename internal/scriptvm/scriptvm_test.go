package scriptvm

import (
	"bytes"
	"context"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xoxyuxu/minicom/internal/timeoutctl"
)

func TestInputBufferExpectFound(t *testing.T) {
	var b InputBuffer
	for _, c := range []byte("login: ") {
		b.Feed(c)
	}
	assert.True(t, b.ExpectFound("login: "))
	assert.False(t, b.ExpectFound("password: "))
}

func TestInputBufferExpectFoundTruncatesLongWord(t *testing.T) {
	var b InputBuffer
	for _, c := range []byte(strings.Repeat("x", InputBufferSize) + "TAIL") {
		b.Feed(c)
	}
	// word is longer than the buffer itself; only its last InputBufferSize
	// bytes can ever be compared, matching expfound's len-clamp.
	longWord := strings.Repeat("y", 10) + strings.Repeat("x", InputBufferSize-4) + "TAIL"
	assert.True(t, b.ExpectFound(longWord))
}

func TestScrubEnvironExtractsLoginAndPass(t *testing.T) {
	in := []string{"PATH=/bin", "LOGIN=alice", "PASS=s3cret", "OTHER=1"}
	scrubbed, login, pass := ScrubEnviron(in)
	assert.Equal(t, "alice", login)
	assert.Equal(t, "s3cret", pass)
	assert.Equal(t, []string{"PATH=/bin", "LOGIN=", "PASS=", "OTHER=1"}, scrubbed)
}

func TestEnvGetenvPrecedence(t *testing.T) {
	e := &Env{Login: "bob", Pass: "hunter2", Lookup: func(k string) (string, bool) {
		if k == "TERM" {
			return "vt102", true
		}
		return "", false
	}}
	assert.Equal(t, "bob", e.Getenv("LOGIN"))
	assert.Equal(t, "hunter2", e.Getenv("PASS"))
	assert.Equal(t, "vt102", e.Getenv("TERM"))
	assert.Equal(t, "", e.Getenv("NOPE"))
}

type rwBuf struct {
	bytes.Buffer
}

func TestSendTranslatesNewline(t *testing.T) {
	modem := &rwBuf{}
	vm := New(&Env{}, modem, &bytes.Buffer{}, timeoutctl.New(3600))
	defer vm.timeouts.Stop()

	require.NoError(t, vm.Send("AT\n"))
	assert.Equal(t, "AT\n", modem.String())
}

func TestPrintTranslatesNewlineToCRLF(t *testing.T) {
	console := &bytes.Buffer{}
	vm := New(&Env{}, &rwBuf{}, console, timeoutctl.New(3600))
	defer vm.timeouts.Stop()

	require.NoError(t, vm.Print("hello\nworld"))
	assert.Equal(t, "hello\r\nworld", console.String())
}

func TestVerboseOnIsABugPreservedFromOriginal(t *testing.T) {
	vm := New(&Env{}, &rwBuf{}, &bytes.Buffer{}, timeoutctl.New(3600))
	defer vm.timeouts.Stop()

	assert.True(t, vm.Verbose("off"))
	assert.False(t, vm.verboseEcho)

	// "on" reports success but does not flip verboseEcho back on; this
	// mirrors mc_verbose's on-branch, which never assigns the flag.
	assert.True(t, vm.Verbose("on"))
	assert.False(t, vm.verboseEcho)

	assert.False(t, vm.Verbose("sideways"))
}

func TestTimeoutGtimeAndEtime(t *testing.T) {
	vm := New(&Env{}, &rwBuf{}, &bytes.Buffer{}, timeoutctl.New(3600))
	defer vm.timeouts.Stop()

	assert.True(t, vm.Timeout("gtime", 120))
	assert.True(t, vm.Timeout("etime", 30))
	assert.Equal(t, 30, vm.etimeoutDflt)
	assert.False(t, vm.Timeout("bogus", 1))
}

type pipeConn struct {
	r *bytes.Buffer
}

func (p *pipeConn) Read(b []byte) (int, error)  { return p.r.Read(b) }
func (p *pipeConn) Write(b []byte) (int, error) { return len(b), nil }

func TestExpectMatchesPattern(t *testing.T) {
	modem := &pipeConn{r: bytes.NewBufferString("garbage login: ")}
	vm := New(&Env{}, modem, &bytes.Buffer{}, timeoutctl.New(3600))
	defer vm.timeouts.Stop()

	idx, err := vm.Expect("login: ", "password: ")
	require.NoError(t, err)
	assert.Equal(t, 1, idx)
}

type readWriter struct {
	io.Reader
	io.Writer
}

func TestExpectTimesOut(t *testing.T) {
	pr, pw := io.Pipe()
	defer pw.Close()
	modem := readWriter{Reader: pr, Writer: &bytes.Buffer{}}

	vm := New(&Env{}, modem, &bytes.Buffer{}, timeoutctl.New(3600))
	defer vm.timeouts.Stop()
	vm.etimeoutDflt = 1

	start := time.Now()
	idx, err := vm.Expect("never-arrives")
	assert.NoError(t, err)
	assert.Equal(t, 0, idx)
	assert.WithinDuration(t, start.Add(1*time.Second), time.Now(), 2*time.Second)
}

func TestReadLineStripsTrailingCRAndStopsAtNewline(t *testing.T) {
	modem := &pipeConn{r: bytes.NewBufferString("hello world\r\nnext line\r\n")}
	vm := New(&Env{}, modem, &bytes.Buffer{}, timeoutctl.New(3600))
	defer vm.timeouts.Stop()

	line, ok, err := vm.ReadLine()
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "hello world", line)

	line, ok, err = vm.ReadLine()
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "next line", line)
}

func TestReadLineTimesOut(t *testing.T) {
	pr, pw := io.Pipe()
	defer pw.Close()
	modem := readWriter{Reader: pr, Writer: &bytes.Buffer{}}

	vm := New(&Env{}, modem, &bytes.Buffer{}, timeoutctl.New(3600))
	defer vm.timeouts.Stop()
	vm.etimeoutDflt = 1

	line, ok, err := vm.ReadLine()
	assert.NoError(t, err)
	assert.False(t, ok)
	assert.Equal(t, "", line)
}

func TestPipedShellRunsCommand(t *testing.T) {
	modem := &rwBuf{}
	vm := New(&Env{}, modem, &bytes.Buffer{}, timeoutctl.New(3600))
	defer vm.timeouts.Stop()

	ok, status := vm.PipedShell(context.Background(), "echo hi")
	require.True(t, ok)
	assert.Equal(t, 0, status)
	assert.Equal(t, "hi\n", modem.String())
}
