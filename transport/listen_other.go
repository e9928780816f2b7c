//go:build !linux

package transport

import "net"

// listen relies on the system default backlog.
func listen(addr string, _ int) (listener, error) {
	tcpAddr, err := net.ResolveTCPAddr("tcp", addr)
	if err != nil {
		return nil, err
	}

	l, err := net.ListenTCP("tcp", tcpAddr)
	if err != nil {
		return nil, err
	}

	return l, nil
}
