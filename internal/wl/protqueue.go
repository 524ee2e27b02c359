package wl

// protQueue is the bounded circular buffer of unordered PEB lists from
// spec.md §3/§4.2. A PEB that has just taken over a wear-leveling move's
// data parks here for a full cycle of global erases before it becomes
// movable again. GetPEB hands PEBs out straight into the used set; they do
// not pass through this queue.
type protQueue struct {
	slots []map[int32]*PEBEntry
	head  int
}

func newProtQueue(length int) *protQueue {
	slots := make([]map[int32]*PEBEntry, length)
	for i := range slots {
		slots[i] = make(map[int32]*PEBEntry)
	}

	return &protQueue{slots: slots}
}

func (q *protQueue) len() int { return len(q.slots) }

// Add parks e in the slot immediately before head, so it waits a full
// cycle (spec.md §4.2).
func (q *protQueue) Add(e *PEBEntry) {
	slot := (q.head - 1 + len(q.slots)) % len(q.slots)
	e.Loc = LocProtQueue
	e.ProtSlot = slot
	q.slots[slot][e.Pnum] = e
}

// Remove searches every slot for pnum and deletes it. Reports whether pnum
// was found. Used by removeFromCurrentLocked when a protected PEB leaves
// the queue early, e.g. when its erase is scheduled (spec.md §4.2).
func (q *protQueue) Remove(pnum int32) (*PEBEntry, bool) {
	for _, slot := range q.slots {
		if e, ok := slot[pnum]; ok {
			delete(slot, pnum)

			return e, true
		}
	}

	return nil, false
}

// Contains reports whether pnum currently sits in any protection slot.
func (q *protQueue) Contains(pnum int32) bool {
	for _, slot := range q.slots {
		if _, ok := slot[pnum]; ok {
			return true
		}
	}

	return false
}

// Advance drains the current head slot into drain (usually `used`), then
// advances head modulo the queue length. Called once per successful erase
// in the system (spec.md §4.2, §4.5).
func (q *protQueue) Advance(drain func(*PEBEntry)) {
	slot := q.slots[q.head]

	for pnum, e := range slot {
		drain(e)
		delete(slot, pnum)
	}

	q.head = (q.head + 1) % len(q.slots)
}

// Len returns the total number of PEBs parked across all slots.
func (q *protQueue) Len() int {
	n := 0
	for _, slot := range q.slots {
		n += len(slot)
	}

	return n
}
