package virt

import (
	"github.com/launchdarkly/go-jsonstream/v3/jwriter"
	"github.com/vkngwrapper/kmem/phys"
)

// PrintJson populates a json object with the paging state and one entry per page table installed
// in the current directory
func (m *Manager) PrintJson(json jwriter.ObjectState) {
	json.Name("State").String(m.state.String())

	if m.current == nil {
		json.Name("Directory").Null()
		return
	}

	json.Name("Directory").String(m.current.base.String())
	json.Name("DirectoryFrames").Int(int(m.current.frames))

	tables := json.Name("Tables").Array()
	defer tables.End()

	for index := uint32(0); index < EntriesPerTable; index++ {
		pde := m.directoryEntry(m.current, index)
		if !pde.IsPresent() {
			continue
		}

		m.printTableJson(&tables, index, pde)
	}
}

func (m *Manager) printTableJson(tables *jwriter.ArrayState, index uint32, pde Entry) {
	obj := tables.Object()
	defer obj.End()

	state, _ := m.tables.Get(phys.FrameFromAddress(pde.Frame()))

	obj.Name("DirectoryIndex").Int(int(index))
	obj.Name("VirtualBase").String(AddressFromIndices(index, 0).String())
	obj.Name("Table").String(pde.Frame().String())
	obj.Name("Flags").String(pde.Flags().String())
	obj.Name("References").Int(int(state.references))
	obj.Name("SelfMapped").Bool(state.selfMapped)
}
