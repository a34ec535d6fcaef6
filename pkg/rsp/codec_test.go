package rsp

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/openxen/xendbg/pkg/cpuregs"
)

func TestErrorEncoding(t *testing.T) {
	require.Equal(t, "E09", Error(9))
	require.Equal(t, "E00", Error(0))
}

func TestQueryCurrentThreadId(t *testing.T) {
	require.Equal(t, "QC-1", QueryCurrentThreadId(0))
	require.Equal(t, "QC-1", QueryCurrentThreadId(-1))
	require.Equal(t, "QC1", QueryCurrentThreadId(1))
}

func TestQueryThreadInfoRejectsEmpty(t *testing.T) {
	_, err := QueryThreadInfo(nil)
	require.Error(t, err)
}

func TestQueryThreadInfoEncoding(t *testing.T) {
	s, err := QueryThreadInfo([]uint64{1, 2})
	require.NoError(t, err)
	require.Equal(t, "m1,2l", s)
}

func TestMemoryReadEncoding(t *testing.T) {
	require.Equal(t, "deadbeef", MemoryRead([]byte{0xde, 0xad, 0xbe, 0xef}))
}

func TestParseHexBytesRoundTrip(t *testing.T) {
	data, err := ParseHexBytes("deadbeef")
	require.NoError(t, err)
	require.Equal(t, []byte{0xde, 0xad, 0xbe, 0xef}, data)
	require.Equal(t, "deadbeef", MemoryRead(data))
}

func TestGeneralRegistersBatch64NarrowsEflags(t *testing.T) {
	ctx := cpuregs.CpuContext{
		Size: cpuregs.Word64,
		R64: cpuregs.Regs64{
			Rax: 1, Rflags: 0xdeadbeefcafef00d,
		},
	}
	narrow, err := GeneralRegistersBatch(ctx, true)
	require.NoError(t, err)
	wide, err := GeneralRegistersBatch(ctx, false)
	require.NoError(t, err)
	require.NotEqual(t, narrow, wide)
	require.Less(t, len(narrow), len(wide))
}

func TestGeneralRegistersBatch32(t *testing.T) {
	ctx := cpuregs.CpuContext{
		Size: cpuregs.Word32,
		R32:  cpuregs.Regs32{Eax: 0x11223344},
	}
	s, err := GeneralRegistersBatch(ctx, true)
	require.NoError(t, err)
	require.Equal(t, "44332211", s[:8])
}

func TestRegisterInfoTableWordSizes(t *testing.T) {
	table32 := RegisterInfoTable(cpuregs.Word32)
	require.Len(t, table32, 16)
	require.Equal(t, 32, table32[0].BitSize)

	table64 := RegisterInfoTable(cpuregs.Word64)
	require.Equal(t, "rip", table64[16].Name)
	require.Equal(t, "eflags", table64[17].Name)
}
