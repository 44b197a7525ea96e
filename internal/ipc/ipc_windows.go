//go:build windows

package ipc

import (
	"net"

	"github.com/Microsoft/go-winio"
)

const pipeName = `\\.\pipe\clipshare`

func socketPath() string { return pipeName }

func removeStale(string) {}

func listenIPC(path string) (net.Listener, error) {
	return winio.ListenPipe(path, &winio.PipeConfig{
		// owner only
		SecurityDescriptor: "D:P(A;;GA;;;OW)",
	})
}

func dialIPC(path string) (net.Conn, error) {
	return winio.DialPipe(path, nil)
}
