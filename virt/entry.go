package virt

import (
	"github.com/vkngwrapper/kmem/memutils"
	"github.com/vkngwrapper/kmem/phys"
)

// EntryFlags are the attribute bits shared by page table and page directory entries
type EntryFlags uint32

var entryFlagsMapping = memutils.NewFlagStringMapping[EntryFlags]()

func (f EntryFlags) Register(str string) {
	entryFlagsMapping.Register(f, str)
}
func (f EntryFlags) String() string {
	return entryFlagsMapping.FlagsToString(f)
}

const (
	// FlagPresent is set when the entry maps a frame (or, in a directory, a page table)
	FlagPresent EntryFlags = 1 << iota
	// FlagWritable is set if the page can be written to
	FlagWritable
	// FlagUser is set if user-mode code can access the page. If not set only kernel code can
	// access it.
	FlagUser
	// FlagWriteThrough selects write-through caching instead of write-back caching
	FlagWriteThrough
	// FlagNotCacheable prevents the page from being cached
	FlagNotCacheable
	// FlagAccessed is set by the CPU when the page is read or written
	FlagAccessed
	// FlagDirty is set by the CPU when the page is written. Only meaningful in page table entries.
	FlagDirty
	// FlagLargePage marks a directory entry that maps a 4MB page directly. In a page table entry
	// the same bit selects the PAT.
	FlagLargePage
	// FlagGlobal keeps the translation in the TLB when CR3 is reloaded
	FlagGlobal
	// FlagLevel4Global is available to the operating system and ignored by the CPU
	FlagLevel4Global
)

// FlagPAT is the page table entry meaning of FlagLargePage
const FlagPAT = FlagLargePage

const (
	frameMask = 0xFFFFF000
	flagsMask = ^EntryFlags(frameMask)
)

func init() {
	FlagPresent.Register("Present")
	FlagWritable.Register("Writable")
	FlagUser.Register("User")
	FlagWriteThrough.Register("WriteThrough")
	FlagNotCacheable.Register("NotCacheable")
	FlagAccessed.Register("Accessed")
	FlagDirty.Register("Dirty")
	FlagLargePage.Register("LargePage")
	FlagGlobal.Register("Global")
	FlagLevel4Global.Register("Level4Global")
}

// Entry is a single 32-bit page table or page directory entry: a 4096-aligned frame address in
// the upper 20 bits and attribute flags in the lower 12.
type Entry uint32

// NewEntry builds an entry pointing at the frame that contains addr
func NewEntry(addr phys.Address, flags EntryFlags) Entry {
	return Entry(uint32(addr)&frameMask) | Entry(flags&flagsMask)
}

// HasFlags returns true if all of the provided flags are set
func (e Entry) HasFlags(flags EntryFlags) bool {
	return EntryFlags(e)&flags == flags
}

// HasAnyFlag returns true if at least one of the provided flags is set
func (e Entry) HasAnyFlag(flags EntryFlags) bool {
	return EntryFlags(e)&flags != 0
}

func (e *Entry) SetFlags(flags EntryFlags) {
	*e |= Entry(flags & flagsMask)
}

func (e *Entry) ClearFlags(flags EntryFlags) {
	*e &^= Entry(flags & flagsMask)
}

func (e Entry) Flags() EntryFlags {
	return EntryFlags(e) & flagsMask
}

// Frame is the physical address stored in the entry. It is meaningless unless the entry is present.
func (e Entry) Frame() phys.Address {
	return phys.Address(uint32(e) & frameMask)
}

// SetFrame replaces the frame address and leaves the flags untouched
func (e *Entry) SetFrame(addr phys.Address) {
	*e = Entry(uint32(*e)&^frameMask | uint32(addr)&frameMask)
}

func (e Entry) IsPresent() bool {
	return e.HasFlags(FlagPresent)
}

func (e Entry) IsWritable() bool {
	return e.HasFlags(FlagWritable)
}

func (e Entry) IsUser() bool {
	return e.HasFlags(FlagUser)
}

func (e Entry) IsLargePage() bool {
	return e.HasFlags(FlagLargePage)
}
