package breakpoint

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/openxen/xendbg/pkg/cpuregs"
	"github.com/openxen/xendbg/pkg/xenctrl"
)

func newFakeDomain() *xenctrl.FakeDomain {
	dom := xenctrl.NewFakeDomain(1, cpuregs.Word64, 0x400000, 0x10000)
	dom.WriteGuest(0x401000, []byte{0x48, 0x89, 0xe5, 0xc3, 0x90, 0x90})
	return dom
}

func TestCreateReplacesOriginalBytes(t *testing.T) {
	dom := newFakeDomain()
	m := New(dom)

	id, err := m.Create(0x401000)
	require.NoError(t, err)

	patched := dom.ReadGuest(0x401000, 2)
	require.Equal(t, Sentinel[:], patched)

	bp, ok := m.FindByID(id)
	require.True(t, ok)
	require.Equal(t, [2]byte{0x48, 0x89}, bp.OriginalBytes)
}

func TestCreateIsIdempotentPerAddress(t *testing.T) {
	dom := newFakeDomain()
	m := New(dom)

	id1, err := m.Create(0x401000)
	require.NoError(t, err)
	id2, err := m.Create(0x401000)
	require.NoError(t, err)
	require.Equal(t, id1, id2)
	require.Equal(t, 1, m.Len())
}

func TestDeleteRestoresOriginalBytes(t *testing.T) {
	dom := newFakeDomain()
	m := New(dom)

	id, err := m.Create(0x401000)
	require.NoError(t, err)
	require.NoError(t, m.Delete(id))

	restored := dom.ReadGuest(0x401000, 2)
	require.Equal(t, []byte{0x48, 0x89}, restored)
	_, ok := m.FindByID(id)
	require.False(t, ok)
}

func TestDeleteUnknownID(t *testing.T) {
	dom := newFakeDomain()
	m := New(dom)
	err := m.Delete(99)
	require.Error(t, err)
}

func TestReadMemoryMaskingHidesSentinel(t *testing.T) {
	dom := newFakeDomain()
	m := New(dom)
	_, err := m.Create(0x401000)
	require.NoError(t, err)

	data, err := m.ReadMemoryMasking(0x401000, 6)
	require.NoError(t, err)
	require.Equal(t, []byte{0x48, 0x89, 0xe5, 0xc3, 0x90, 0x90}, data)
}

func TestWriteMemoryRetainingKeepsBreakpointPlanted(t *testing.T) {
	dom := newFakeDomain()
	m := New(dom)
	_, err := m.Create(0x401000)
	require.NoError(t, err)

	err = m.WriteMemoryRetaining(0x401000, 6, []byte{0x11, 0x22, 0x33, 0x44, 0x55, 0x66})
	require.NoError(t, err)

	onWire := dom.ReadGuest(0x401000, 6)
	require.Equal(t, Sentinel[:], onWire[:2])

	masked, err := m.ReadMemoryMasking(0x401000, 6)
	require.NoError(t, err)
	require.Equal(t, []byte{0x11, 0x22, 0x33, 0x44, 0x55, 0x66}, masked)
}

func TestDrainRestoresEveryBreakpoint(t *testing.T) {
	dom := newFakeDomain()
	m := New(dom)
	_, err := m.Create(0x401000)
	require.NoError(t, err)
	_, err = m.Create(0x401004)
	require.NoError(t, err)

	errs := m.Drain()
	require.Empty(t, errs)
	require.Equal(t, 0, m.Len())
	require.Equal(t, []byte{0x48, 0x89, 0xe5, 0xc3, 0x90, 0x90}, dom.ReadGuest(0x401000, 6))
}

// Create and Delete must never change the domain's pause state themselves:
// a caller composing several Manager calls under one pause (the stepping
// protocol's plant-both-traps, or a detach-time drain) relies on each call
// leaving pause state exactly as it found it, since Pause/Unpause are
// idempotent rather than ref-counted and an internal toggle would resume
// the guest mid-operation.
func TestCreateAndDeleteDoNotTogglePause(t *testing.T) {
	dom := newFakeDomain()
	m := New(dom)

	require.NoError(t, dom.Pause())
	id, err := m.Create(0x401000)
	require.NoError(t, err)
	require.True(t, dom.Paused(), "Create must not unpause the guest")

	require.NoError(t, m.Delete(id))
	require.True(t, dom.Paused(), "Delete must not unpause the guest")

	require.NoError(t, dom.Unpause())
	_, err = m.Create(0x401000)
	require.NoError(t, err)
	require.False(t, dom.Paused(), "Create must not pause the guest")
}
