// SPDX-License-Identifier: MPL-2.0
// SPDX-FileCopyrightText: Copyright (C) 2024 rtprecv contributors

// Package mcast implements the multicast endpoint (component A): it
// creates a UDP socket, enables address reuse, joins a multicast group,
// and binds so only that group's traffic arrives.
package mcast

import (
	"context"
	"fmt"
	"net"
	"os"
	"syscall"

	"golang.org/x/net/ipv4"
	"golang.org/x/net/ipv6"
	"golang.org/x/sys/unix"
)

// SocketError wraps any syscall failure during multicast setup, per the
// error handling design (table in §7/§9 of the full spec).
type SocketError struct {
	Op  string
	Err error
}

func (e *SocketError) Error() string {
	return fmt.Sprintf("mcast: %s: %v", e.Op, e.Err)
}

func (e *SocketError) Unwrap() error { return e.Err }

// Endpoint is a joined multicast UDP socket, bound to group:port so only
// that group's datagrams arrive.
type Endpoint struct {
	conn  *net.UDPConn
	group net.IP
	port  int
}

// Join creates a datagram socket for group's address family, joins the
// multicast group on all available multicast-capable interfaces, and
// binds to group:port. Any failure cleans up partial state (closes the
// socket) before returning a *SocketError.
func Join(group net.IP, port int) (*Endpoint, error) {
	if group == nil || !group.IsMulticast() {
		return nil, &SocketError{Op: "validate", Err: fmt.Errorf("%s is not a multicast address", group)}
	}

	network := "udp4"
	if group.To4() == nil {
		network = "udp6"
	}

	lc := net.ListenConfig{Control: setReuseAddrPort}
	pconn, err := lc.ListenPacket(context.Background(), network, (&net.UDPAddr{IP: group, Port: port}).String())
	if err != nil {
		return nil, &SocketError{Op: "listen", Err: err}
	}
	conn := pconn.(*net.UDPConn)

	ifaces, err := multicastInterfaces()
	if err != nil {
		conn.Close()
		return nil, &SocketError{Op: "interfaces", Err: err}
	}

	if network == "udp4" {
		pc := ipv4.NewPacketConn(conn)
		addr := &net.UDPAddr{IP: group, Port: port}
		if err := joinAllV4(pc, ifaces, addr); err != nil {
			conn.Close()
			return nil, &SocketError{Op: "join-group", Err: err}
		}
	} else {
		pc := ipv6.NewPacketConn(conn)
		addr := &net.UDPAddr{IP: group, Port: port}
		if err := joinAllV6(pc, ifaces, addr); err != nil {
			conn.Close()
			return nil, &SocketError{Op: "join-group", Err: err}
		}
	}

	return &Endpoint{conn: conn, group: group, port: port}, nil
}

// setReuseAddrPort sets SO_REUSEADDR and SO_REUSEPORT on the listening
// socket before bind, so more than one process (or more than one session
// on an overlapping group/port) can share the address. Mirrors
// setupDataSocket's ListenConfig.Control hook.
func setReuseAddrPort(network, address string, c syscall.RawConn) error {
	var sockErr error
	err := c.Control(func(fd uintptr) {
		if err := unix.SetsockoptInt(int(fd), unix.SOL_SOCKET, unix.SO_REUSEPORT, 1); err != nil {
			sockErr = fmt.Errorf("setsockopt SO_REUSEPORT: %w", err)
			return
		}
		if err := unix.SetsockoptInt(int(fd), unix.SOL_SOCKET, unix.SO_REUSEADDR, 1); err != nil {
			sockErr = fmt.Errorf("setsockopt SO_REUSEADDR: %w", err)
			return
		}
	})
	if err != nil {
		return err
	}
	return sockErr
}

// multicastInterfaces returns every up, multicast-capable interface,
// plus the loopback interface even when it lacks the multicast flag
// (some platforms don't set it despite looping multicast traffic back
// locally), so a SAP/RTP sender and this receiver on the same host can
// exchange traffic without a real LAN segment. Mirrors
// listen_mcast()'s "join the primary interface, then also join
// loopback" fallback.
func multicastInterfaces() ([]net.Interface, error) {
	all, err := net.Interfaces()
	if err != nil {
		return nil, err
	}
	var out []net.Interface
	for _, ifc := range all {
		if ifc.Flags&net.FlagUp == 0 {
			continue
		}
		if ifc.Flags&net.FlagMulticast != 0 || ifc.Flags&net.FlagLoopback != 0 {
			out = append(out, ifc)
		}
	}
	return out, nil
}

// joinAllV4/joinAllV6 join the group on every available interface; a
// failure on one interface is not fatal as long as at least one join
// succeeds (mirrors listen_mcast's per-interface fallback idiom).
func joinAllV4(pc *ipv4.PacketConn, ifaces []net.Interface, addr *net.UDPAddr) error {
	var lastErr error
	joined := 0
	for i := range ifaces {
		if err := pc.JoinGroup(&ifaces[i], addr); err != nil {
			lastErr = err
			continue
		}
		joined++
	}
	if joined == 0 {
		if lastErr == nil {
			lastErr = fmt.Errorf("no multicast-capable interface available")
		}
		return lastErr
	}
	return nil
}

func joinAllV6(pc *ipv6.PacketConn, ifaces []net.Interface, addr *net.UDPAddr) error {
	var lastErr error
	joined := 0
	for i := range ifaces {
		if err := pc.JoinGroup(&ifaces[i], addr); err != nil {
			lastErr = err
			continue
		}
		joined++
	}
	if joined == 0 {
		if lastErr == nil {
			lastErr = fmt.Errorf("no multicast-capable interface available")
		}
		return lastErr
	}
	return nil
}

// Conn returns the underlying *net.UDPConn for reading/writing datagrams.
func (e *Endpoint) Conn() *net.UDPConn { return e.conn }

// Close leaves the multicast group and closes the socket.
func (e *Endpoint) Close() error { return e.conn.Close() }

// File returns the socket's file descriptor, used for attaching the
// session to the I/O context's poll set (see session.Adapter.Attach).
func (e *Endpoint) File() (*os.File, error) {
	return e.conn.File()
}
