//go:build linux

package transport

import (
	"net"
	"os"

	"golang.org/x/sys/unix"
)

// listen binds a TCP socket by hand, as the standard library always passes the system-wide
// maximum as the backlog.
func listen(addr string, backlog int) (listener, error) {
	tcpAddr, err := net.ResolveTCPAddr("tcp", addr)
	if err != nil {
		return nil, err
	}

	family, sockaddr := toSockaddr(tcpAddr)
	fd, err := unix.Socket(family, unix.SOCK_STREAM|unix.SOCK_NONBLOCK|unix.SOCK_CLOEXEC, unix.IPPROTO_TCP)
	if err != nil {
		return nil, os.NewSyscallError("socket", err)
	}

	if err = unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_REUSEADDR, 1); err != nil {
		_ = unix.Close(fd)
		return nil, os.NewSyscallError("setsockopt", err)
	}

	if err = unix.Bind(fd, sockaddr); err != nil {
		_ = unix.Close(fd)
		return nil, os.NewSyscallError("bind", err)
	}

	if err = unix.Listen(fd, backlog); err != nil {
		_ = unix.Close(fd)
		return nil, os.NewSyscallError("listen", err)
	}

	// FileListener duplicates the descriptor, so the file is closed in any case
	file := os.NewFile(uintptr(fd), "tcp:"+addr)
	defer file.Close()

	l, err := net.FileListener(file)
	if err != nil {
		return nil, err
	}

	return l.(*net.TCPListener), nil
}

func toSockaddr(addr *net.TCPAddr) (family int, sockaddr unix.Sockaddr) {
	if ip4 := addr.IP.To4(); ip4 != nil || addr.IP == nil {
		inet4 := &unix.SockaddrInet4{Port: addr.Port}
		copy(inet4.Addr[:], ip4)
		return unix.AF_INET, inet4
	}

	inet6 := &unix.SockaddrInet6{Port: addr.Port}
	copy(inet6.Addr[:], addr.IP.To16())
	return unix.AF_INET6, inet6
}
