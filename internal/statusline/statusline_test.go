package statusline

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/xoxyuxu/minicom/internal/endpoint"
)

func TestShortenDevpath(t *testing.T) {
	assert.Equal(t, "ttyUSB0", ShortenDevpath("/dev/ttyUSB0", 40))
	assert.Equal(t, "foo", ShortenDevpath("/dev/serial/by-id/foo", 40))
	assert.Equal(t, "custom", ShortenDevpath("/opt/weird/custom", 40))
}

func TestEscKey(t *testing.T) {
	assert.Equal(t, "CTRL-A ", EscKey("^A", false))
	assert.Equal(t, "Meta-", EscKey("^A", true))
	assert.Equal(t, "Meta-", EscKey("^[", false))
}

func TestRenderChangedOnlyWhenTextDiffers(t *testing.T) {
	r := New("%H for help | %b", 40)
	st := State{EscapeKeyLabel: "CTRL-A ", Bearer: "9600 8N1", EndpointKind: endpoint.Device}

	text1, changed1 := r.Render(st, false)
	assert.True(t, changed1)
	assert.True(t, strings.HasPrefix(text1, "CTRL-A Z for help | 9600 8N1"))

	_, changed2 := r.Render(st, false)
	assert.False(t, changed2)

	st.Bearer = "115200 8N1"
	_, changed3 := r.Render(st, false)
	assert.True(t, changed3)
}

func TestRenderUnknownDirective(t *testing.T) {
	r := New("%Q", 10)
	text, _ := r.Render(State{}, false)
	assert.True(t, strings.HasPrefix(text, "?Q"))
}

func TestRenderSocketBearerOverridesConfig(t *testing.T) {
	r := New("%b", 20)
	text, _ := r.Render(State{EndpointKind: endpoint.TcpSocket, Bearer: "9600 8N1"}, false)
	assert.True(t, strings.HasPrefix(text, "TCP"))
}
