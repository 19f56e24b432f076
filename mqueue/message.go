package mqueue

import "encoding/binary"

// Wire layout of one node inside a queue's backing page, replacing the
// source's absolute-pointer {next, dataaddr} pair with page offsets per
// spec.md §9's design note ("represent nodes as offsets ... to make reloc
// overlap-safe by construction"). Offset 0 is always the sentinel.
//
//	bytes 0..3   next   (uint32 offset, 0 = end of list)
//	bytes 4..7   typ    (int32 message type)
//	bytes 8..11  size   (uint32 payload size)
//	bytes 12..31 unused padding out to nodeStride
const (
	offNext = 0
	offType = 4
	offSize = 8
)

type nodeView struct {
	next uint32
	typ  int32
	size uint32
}

func readNode(page []byte, at uint32) nodeView {
	return nodeView{
		next: binary.LittleEndian.Uint32(page[at+offNext:]),
		typ:  int32(binary.LittleEndian.Uint32(page[at+offType:])),
		size: binary.LittleEndian.Uint32(page[at+offSize:]),
	}
}

func writeNode(page []byte, at uint32, n nodeView) {
	binary.LittleEndian.PutUint32(page[at+offNext:], n.next)
	binary.LittleEndian.PutUint32(page[at+offType:], uint32(n.typ))
	binary.LittleEndian.PutUint32(page[at+offSize:], n.size)
}

func dataOffset(at uint32) uint32 { return at + nodeStride }

// reloc compacts the list starting at the sentinel (offset 0) so nodes sit
// back-to-back with no gaps, preserving order — the simulated equivalent of
// the source's memmove-based reloc, safe by construction since it rebuilds
// from a fresh scratch buffer instead of sliding bytes in place.
func reloc(page []byte) {
	scratch := make([]byte, len(page))
	copy(scratch[:nodeStride], page[:nodeStride]) // sentinel stays at 0

	src := readNode(page, 0).next
	dst := uint32(nodeStride)
	prev := uint32(0)
	for src != 0 {
		n := readNode(page, src)
		copy(scratch[dst:dst+nodeStride+n.size], page[src:src+nodeStride+n.size])
		writeNode(scratch, dst, nodeView{next: 0, typ: n.typ, size: n.size})
		writeNode(scratch, prev, nodeView{next: dst, typ: readNode(scratch, prev).typ, size: readNode(scratch, prev).size})
		prev = dst
		dst += nodeStride + n.size
		src = n.next
	}
	copy(page, scratch)
}
