package trees

// RefKind is the way a claimant inode references a contested block.
type RefKind uint8

const (
	RefData RefKind = iota
	RefMeta
	RefEA
	RefInodeItself
)

func (k RefKind) String() string {
	switch k {
	case RefData:
		return "data"
	case RefMeta:
		return "meta"
	case RefEA:
		return "ea"
	case RefInodeItself:
		return "inode-itself"
	default:
		return "unknown"
	}
}

// DupClaim is one inode's claim on a contested block.
type DupClaim struct {
	InodeAddr uint64
	Kind      RefKind
	// DupCount is how many times this inode alone references the block
	// (e.g. two indirect pointers in the same inode both pointing at it).
	DupCount int
}

// DupNode is the record kept per contested block address. Refs is the
// total claim count across all claimants, plus one for the original
// (first-seen, non-duplicate) reference, per spec.md §4.5's invariant.
type DupNode struct {
	Refs    int
	Claims  []DupClaim
	Deleted bool
}

// AddClaim records a new claimant, or bumps DupCount if inodeAddr already
// claims the block with the same kind.
func (n *DupNode) AddClaim(inodeAddr uint64, kind RefKind) {
	for i := range n.Claims {
		if n.Claims[i].InodeAddr == inodeAddr && n.Claims[i].Kind == kind {
			n.Claims[i].DupCount++
			n.Refs++
			return
		}
	}
	n.Claims = append(n.Claims, DupClaim{InodeAddr: inodeAddr, Kind: kind, DupCount: 1})
	n.Refs++
}

// RemoveClaimsFrom deletes every claim made by inodeAddr and returns how
// many references that removed.
func (n *DupNode) RemoveClaimsFrom(inodeAddr uint64) int {
	removed := 0
	kept := n.Claims[:0]
	for _, c := range n.Claims {
		if c.InodeAddr == inodeAddr {
			removed += c.DupCount
			continue
		}
		kept = append(kept, c)
	}
	n.Claims = kept
	n.Refs -= removed
	return removed
}

// DupTree maps a contested block address to its DupNode.
type DupTree = OrderedMap[*DupNode]

// NewDupTree creates an empty DupTree.
func NewDupTree() *DupTree { return New[*DupNode]() }

// Record adds a claim for addr by inodeAddr, creating the DupNode
// (seeded with the implicit first reference) if this is the first time
// addr has been seen as contested.
func Record(t *DupTree, addr, inodeAddr uint64, kind RefKind) {
	node, ok := t.Find(addr)
	if !ok {
		node = &DupNode{Refs: 1}
		t.Insert(addr, node)
	}
	node.AddClaim(inodeAddr, kind)
}
