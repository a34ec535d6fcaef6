package main

import (
	"strconv"
	"strings"

	"github.com/openxen/xendbg/pkg/rsp"
	"github.com/openxen/xendbg/pkg/xenctrl"
)

// decodePacket turns one raw "$...#xx"-stripped payload into an rsp.Packet.
// Only the subset of the client wire protocol this engine answers is
// recognized; anything else is reported as not decoded (ok=false), and
// serveConn answers it with the empty NotSupported payload without calling
// Handle.
func decodePacket(raw string, vcpu xenctrl.VCPU) (rsp.Packet, bool) {
	if raw == "" {
		return rsp.Packet{}, false
	}
	switch {
	case raw == "?":
		return rsp.Packet{Kind: rsp.KindQueryStopReason}, true
	case raw == "g":
		return rsp.Packet{Kind: rsp.KindReadRegisters, Vcpu: vcpu}, true
	case raw == "c":
		return rsp.Packet{Kind: rsp.KindContinue, Vcpu: vcpu}, true
	case raw == "s":
		return rsp.Packet{Kind: rsp.KindStep, Vcpu: vcpu}, true
	case raw == "qC":
		return rsp.Packet{Kind: rsp.KindQueryCurrentThread}, true
	case strings.HasPrefix(raw, "qSupported"):
		return rsp.Packet{Kind: rsp.KindQuerySupported}, true
	case raw == "qfThreadInfo":
		return rsp.Packet{Kind: rsp.KindQueryThreadInfoStart, ThreadIDs: []uint64{uint64(vcpu)}}, true
	case raw == "qsThreadInfo":
		return rsp.Packet{Kind: rsp.KindQueryThreadInfoEnd}, true
	case raw == "qHostInfo":
		return rsp.Packet{Kind: rsp.KindQueryHostInfo}, true
	case raw == "qProcessInfo":
		return rsp.Packet{Kind: rsp.KindQueryProcessInfo}, true
	case strings.HasPrefix(raw, "qRegisterInfo"):
		n, err := strconv.ParseInt(raw[len("qRegisterInfo"):], 16, 64)
		if err != nil {
			return rsp.Packet{}, false
		}
		return rsp.Packet{Kind: rsp.KindQueryRegisterInfo, RegIndex: int(n)}, true
	case strings.HasPrefix(raw, "m"):
		return decodeReadMemory(raw[1:])
	case strings.HasPrefix(raw, "M"):
		return decodeWriteMemory(raw[1:])
	case strings.HasPrefix(raw, "Z0,"):
		return decodeBreakpoint(rsp.KindInsertBreakpoint, raw[len("Z0,"):])
	case strings.HasPrefix(raw, "z0,"):
		return decodeBreakpoint(rsp.KindRemoveBreakpoint, raw[len("z0,"):])
	default:
		return rsp.Packet{}, false
	}
}

func decodeReadMemory(rest string) (rsp.Packet, bool) {
	addrStr, lenStr, ok := strings.Cut(rest, ",")
	if !ok {
		return rsp.Packet{}, false
	}
	addr, err := strconv.ParseUint(addrStr, 16, 64)
	if err != nil {
		return rsp.Packet{}, false
	}
	length, err := strconv.ParseUint(lenStr, 16, 64)
	if err != nil {
		return rsp.Packet{}, false
	}
	return rsp.Packet{Kind: rsp.KindReadMemory, Addr: addr, Len: int(length)}, true
}

func decodeWriteMemory(rest string) (rsp.Packet, bool) {
	header, data, ok := strings.Cut(rest, ":")
	if !ok {
		return rsp.Packet{}, false
	}
	addrStr, lenStr, ok := strings.Cut(header, ",")
	if !ok {
		return rsp.Packet{}, false
	}
	addr, err := strconv.ParseUint(addrStr, 16, 64)
	if err != nil {
		return rsp.Packet{}, false
	}
	length, err := strconv.ParseUint(lenStr, 16, 64)
	if err != nil {
		return rsp.Packet{}, false
	}
	bytes, err := rsp.ParseHexBytes(data)
	if err != nil {
		return rsp.Packet{}, false
	}
	return rsp.Packet{Kind: rsp.KindWriteMemory, Addr: addr, Len: int(length), Data: bytes}, true
}

func decodeBreakpoint(kind rsp.PacketKind, rest string) (rsp.Packet, bool) {
	addrStr, _, _ := strings.Cut(rest, ",")
	addr, err := strconv.ParseUint(addrStr, 16, 64)
	if err != nil {
		return rsp.Packet{}, false
	}
	return rsp.Packet{Kind: kind, Addr: addr}, true
}
