package virt_test

import (
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/vkngwrapper/kmem/phys"
	"github.com/vkngwrapper/kmem/virt"
)

func TestEntryFrameAndFlags(t *testing.T) {
	entry := virt.NewEntry(0x123456, virt.FlagPresent|virt.FlagWritable)

	require.Equal(t, phys.Address(0x123000), entry.Frame())
	require.Equal(t, virt.FlagPresent|virt.FlagWritable, entry.Flags())
	require.True(t, entry.IsPresent())
	require.True(t, entry.IsWritable())
	require.False(t, entry.IsUser())

	entry.SetFrame(0xABCDE000)
	require.Equal(t, phys.Address(0xABCDE000), entry.Frame())
	require.True(t, entry.HasFlags(virt.FlagPresent|virt.FlagWritable))

	entry.SetFlags(virt.FlagUser | virt.FlagLargePage)
	require.True(t, entry.IsUser())
	require.True(t, entry.IsLargePage())
	require.True(t, entry.HasAnyFlag(virt.FlagDirty|virt.FlagUser))
	require.False(t, entry.HasAnyFlag(virt.FlagDirty|virt.FlagAccessed))

	entry.ClearFlags(virt.FlagPresent | virt.FlagLargePage)
	require.False(t, entry.IsPresent())
	require.Equal(t, phys.Address(0xABCDE000), entry.Frame())
	require.Equal(t, virt.FlagWritable|virt.FlagUser, entry.Flags())
}

func TestEntryFlagsString(t *testing.T) {
	require.Equal(t, "Present|Writable|User", (virt.FlagPresent | virt.FlagWritable | virt.FlagUser).String())
	require.Equal(t, "None", virt.EntryFlags(0).String())
	require.Equal(t, virt.FlagLargePage, virt.FlagPAT)
	require.Equal(t, virt.EntryFlags(0x200), virt.FlagLevel4Global)
}

func TestAddressIndices(t *testing.T) {
	addr := virt.Address(0xC0001234)

	require.Equal(t, uint32(768), addr.DirectoryIndex())
	require.Equal(t, uint32(1), addr.TableIndex())
	require.Equal(t, uint32(0x234), addr.PageOffset())
	require.Equal(t, virt.Address(0xC0001000), addr.PageBase())
	require.Equal(t, virt.Address(0xC0001000), virt.AddressFromIndices(768, 1))
	require.Equal(t, "0xc0001234", addr.String())
}
