package reconcile

// Palette slots. Slot 0 belongs to the local player; remote players share
// slots 1 to paletteSize.
const (
	SelfColor   = 0
	paletteSize = 8
)

// colorPool hands out the lowest free palette slot. When every slot is
// taken it falls back to a hash of the account id, which may collide.
type colorPool struct {
	owner [paletteSize + 1]string
	slot  map[string]int
}

func newColorPool() *colorPool {
	return &colorPool{slot: make(map[string]int)}
}

func (p *colorPool) acquire(id string) int {
	if s, ok := p.slot[id]; ok {
		return s
	}
	for s := 1; s <= paletteSize; s++ {
		if p.owner[s] == "" {
			p.owner[s] = id
			p.slot[id] = s
			return s
		}
	}
	return hashColor(id)
}

// release frees the slot owned by id, if it owns one.
func (p *colorPool) release(id string) {
	s, ok := p.slot[id]
	if !ok {
		return
	}
	delete(p.slot, id)
	p.owner[s] = ""
}

func (p *colorPool) inUse() int {
	return len(p.slot)
}

// hashColor maps id onto 1..paletteSize.
func hashColor(id string) int {
	var h int32
	for _, r := range id {
		h = h*31 + int32(r)
	}
	n := int(h % paletteSize)
	if n < 0 {
		n = -n
	}
	return n + 1
}
