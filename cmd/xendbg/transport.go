package main

import (
	"bufio"
	"context"
	"net"

	"github.com/openxen/xendbg/pkg/rsp"
	"github.com/openxen/xendbg/pkg/xlogflags"
)

// acceptLoop and serveConn implement the "$...#xx" packet framing that the
// remote protocol treats as an external transport concern (checksum on
// outgoing frames, one connection at a time; incoming checksums are
// skipped unverified, and '+'/'-' acks are discarded, none are sent): the
// minimal amount of socket
// plumbing needed to feed decoded rsp.Packets to a Handler and write its
// responses back, mirrored on the checksum arithmetic in
// pkg/proc/gdbserial/gdbserver_conn.go's send/recv, but for the server
// side of the wire rather than the client side delve implements there.
var wireLog = xlogflags.RSPWireLogger()

func acceptLoop(ln net.Listener, handler *rsp.Handler) {
	for {
		conn, err := ln.Accept()
		if err != nil {
			wireLog.WithError(err).Warn("accept failed, listener stopping")
			return
		}
		serveConn(conn, handler)
	}
}

func serveConn(conn net.Conn, handler *rsp.Handler) {
	defer conn.Close()
	r := bufio.NewReader(conn)
	for {
		raw, err := readPacket(r)
		if err != nil {
			wireLog.WithError(err).Debug("connection closed")
			return
		}
		wireLog.WithField("raw", raw).Debug("-> packet")

		pkt, ok := decodePacket(raw, handler.Vcpu)
		if !ok {
			writePacket(conn, "")
			continue
		}
		resp := handler.Handle(context.Background(), pkt)
		wireLog.WithField("raw", resp).Debug("<- packet")
		writePacket(conn, resp)
	}
}

// readPacket reads one "$<payload>#<checksum>" frame, discarding
// out-of-band '+'/'-' ack bytes a real client may interleave.
func readPacket(r *bufio.Reader) (string, error) {
	for {
		b, err := r.ReadByte()
		if err != nil {
			return "", err
		}
		if b != '$' {
			continue
		}
		payload, err := r.ReadString('#')
		if err != nil {
			return "", err
		}
		payload = payload[:len(payload)-1]
		if _, err := r.Discard(2); err != nil {
			return "", err
		}
		return payload, nil
	}
}

func writePacket(conn net.Conn, payload string) {
	sum := checksum(payload)
	frame := "$" + payload + "#" + hexByte(sum)
	conn.Write([]byte(frame))
}

func checksum(s string) byte {
	var sum byte
	for i := 0; i < len(s); i++ {
		sum += s[i]
	}
	return sum
}

func hexByte(b byte) string {
	const digits = "0123456789abcdef"
	return string([]byte{digits[b>>4], digits[b&0xf]})
}
