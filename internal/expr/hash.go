package expr

import "encoding/binary"

// structuralHash computes a 32-bit Murmur3-x86-32 hash over a fixed
// serialisation of the node, combining children hashes. Collisions are tolerated (the
// intern table still does a structural-equality check on hash hits).
func (a *Arena) structuralHash(n *node) uint32 {
	buf := make([]byte, 0, 32)
	buf = append(buf, byte(n.kind), byte(n.op), byte(n.mode))
	var tmp [8]byte
	binary.LittleEndian.PutUint32(tmp[:4], uint32(n.width))
	buf = append(buf, tmp[:4]...)
	binary.LittleEndian.PutUint64(tmp[:], uint64(n.cst))
	buf = append(buf, tmp[:]...)
	binary.LittleEndian.PutUint32(tmp[:4], uint32(n.hi))
	buf = append(buf, tmp[:4]...)
	binary.LittleEndian.PutUint32(tmp[:4], uint32(n.lo))
	buf = append(buf, tmp[:4]...)
	binary.LittleEndian.PutUint32(tmp[:4], uint32(n.reg))
	buf = append(buf, tmp[:4]...)
	buf = append(buf, n.name...)
	h := murmur3x86_32(buf, 0x5eed)
	for _, c := range n.args {
		if c == InvalidId {
			continue
		}
		ch := a.HashOf(c)
		binary.LittleEndian.PutUint32(tmp[:4], ch)
		h = murmur3x86_32(tmp[:4], h)
	}
	return h
}

// HashOf returns the cached structural hash of id, computing it if the
// node predates hashing (should not normally happen since internNode
// always sets it, but kept total for Ids produced by callers directly).
func (a *Arena) HashOf(id Id) uint32 {
	n := a.get(id)
	if n.hashValid {
		return n.hash
	}
	h := a.structuralHash(n)
	n.hash = h
	n.hashValid = true
	return h
}

func murmur3x86_32(data []byte, seed uint32) uint32 {
	const c1 = 0xcc9e2d51
	const c2 = 0x1b873593
	h := seed
	length := len(data)
	nblocks := length / 4
	for i := 0; i < nblocks; i++ {
		k := binary.LittleEndian.Uint32(data[i*4:])
		k *= c1
		k = (k << 15) | (k >> 17)
		k *= c2
		h ^= k
		h = (h << 13) | (h >> 19)
		h = h*5 + 0xe6546b64
	}
	tail := data[nblocks*4:]
	var k uint32
	switch len(tail) {
	case 3:
		k ^= uint32(tail[2]) << 16
		fallthrough
	case 2:
		k ^= uint32(tail[1]) << 8
		fallthrough
	case 1:
		k ^= uint32(tail[0])
		k *= c1
		k = (k << 15) | (k >> 17)
		k *= c2
		h ^= k
	}
	h ^= uint32(length)
	h ^= h >> 16
	h *= 0x85ebca6b
	h ^= h >> 13
	h *= 0xc2b2ae35
	h ^= h >> 16
	return h
}

