// SPDX-License-Identifier: BSD-2-Clause

package relay

import (
	"fmt"
	"net"
	"syscall"

	"golang.org/x/sys/unix"
)

// connectUDP associates the already-bound socket behind conn with
// remote, using the underlying connect(2) rather than recreating the
// socket. This is the one place net.UDPConn's ordinary API falls short
// of the spec: once connected, the kernel filters datagrams to this
// peer and, crucially, starts delivering ICMP port-unreachable errors
// as socket errors instead of silently dropping them — which is what
// lets the relay loop classify a gone peer via SO_ERROR below.
func connectUDP(conn *net.UDPConn, remote *net.UDPAddr) error {
	raw, err := conn.SyscallConn()
	if err != nil {
		return fmt.Errorf("relay: syscall conn: %w", err)
	}

	sockAddr, err := udpAddrToSockaddr(remote)
	if err != nil {
		return err
	}

	var connectErr error
	if err := raw.Control(func(fd uintptr) {
		connectErr = unix.Connect(int(fd), sockAddr)
	}); err != nil {
		return fmt.Errorf("relay: control: %w", err)
	}
	if connectErr != nil {
		return fmt.Errorf("relay: connect %s: %w", remote, connectErr)
	}
	return nil
}

func udpAddrToSockaddr(addr *net.UDPAddr) (unix.Sockaddr, error) {
	if ip4 := addr.IP.To4(); ip4 != nil {
		var a unix.SockaddrInet4
		a.Port = addr.Port
		copy(a.Addr[:], ip4)
		return &a, nil
	}
	ip6 := addr.IP.To16()
	if ip6 == nil {
		return nil, fmt.Errorf("relay: invalid remote address %s", addr)
	}
	var a unix.SockaddrInet6
	a.Port = addr.Port
	copy(a.Addr[:], ip6)
	return &a, nil
}

// socketErrno reads and clears SO_ERROR on conn, mirroring the
// getsockopt(SO_ERROR) probe the poll-based original runs after seeing
// POLLERR/POLLHUP on a descriptor.
func socketErrno(conn *net.UDPConn) (syscall.Errno, error) {
	raw, err := conn.SyscallConn()
	if err != nil {
		return 0, err
	}

	var soErr int
	var getErr error
	err = raw.Control(func(fd uintptr) {
		soErr, getErr = unix.GetsockoptInt(int(fd), unix.SOL_SOCKET, unix.SO_ERROR)
	})
	if err != nil {
		return 0, err
	}
	if getErr != nil {
		return 0, getErr
	}
	return syscall.Errno(soErr), nil
}
