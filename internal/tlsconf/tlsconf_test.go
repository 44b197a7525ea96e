package tlsconf

import (
	"crypto/tls"
	"io"
	"net"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDeriveKeyDeterministic(t *testing.T) {
	a, err := deriveKey("token")
	require.NoError(t, err)
	b, err := deriveKey("token")
	require.NoError(t, err)
	c, err := deriveKey("other")
	require.NoError(t, err)
	assert.Equal(t, 0, a.D.Cmp(b.D))
	assert.NotEqual(t, 0, a.D.Cmp(c.D))
}

func handshake(t *testing.T, serverToken, clientToken string) error {
	t.Helper()
	sp, err := New(serverToken)
	require.NoError(t, err)
	cp, err := New(clientToken)
	require.NoError(t, err)

	ln, err := tls.Listen("tcp", "127.0.0.1:0", sp.Server)
	require.NoError(t, err)
	defer ln.Close()
	go func() {
		c, err := ln.Accept()
		if err != nil {
			return
		}
		defer c.Close()
		_, _ = io.Copy(io.Discard, c)
	}()

	raw, err := net.Dial("tcp", ln.Addr().String())
	require.NoError(t, err)
	defer raw.Close()
	return tls.Client(raw, cp.Client).Handshake()
}

func TestHandshakeSameToken(t *testing.T) {
	assert.NoError(t, handshake(t, "secret", "secret"))
}

func TestHandshakeDifferentToken(t *testing.T) {
	err := handshake(t, "secret", "wrong")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrKeyMismatch)
}
