package btree

import (
	"encoding/binary"
	"fmt"

	"github.com/SimonWaldherr/tinyDB/internal/storage/dberr"
	"github.com/SimonWaldherr/tinyDB/internal/storage/page"
)

// ───────────────────────────────────────────────────────────────────────────
// Node serialization
// ───────────────────────────────────────────────────────────────────────────
//
// One node occupies exactly one Index page. The data region after the
// common page header holds:
//
//	page_num  (uint64)
//	is_leaf   (uint8)
//	key_count (uint16)
//	key_count × { key_len (uint16), key_bytes, value (uint64) }
//	key_count+1 child page numbers (uint64 each) when internal
//
// Child pointers carry page numbers only; the file id is the tree's own.

const (
	nodeDataOff   = page.HeaderSize
	nodeFixedSize = 8 + 1 + 2
)

// node is the in-memory form of one B-tree page. Keys and values are
// parallel; children has len(keys)+1 entries for internal nodes and is
// empty for leaves.
type node struct {
	id       page.ID
	isLeaf   bool
	keys     [][]byte
	values   []uint64
	children []uint64
}

func newNode(id page.ID, isLeaf bool) *node {
	n := &node{
		id:     id,
		isLeaf: isLeaf,
		keys:   make([][]byte, 0, MaxKeys),
		values: make([]uint64, 0, MaxKeys),
	}
	if !isLeaf {
		n.children = make([]uint64, 0, MaxKeys+1)
	}
	return n
}

// encodedSize returns the byte count the node needs on a page.
func (n *node) encodedSize() int {
	size := nodeFixedSize
	for _, k := range n.keys {
		size += 2 + len(k) + 8
	}
	if !n.isLeaf {
		size += 8 * len(n.children)
	}
	return size
}

// nodeFromPage decodes a node, deep-copying key bytes so the decoded node
// outlives the pin on the page. Malformed content surfaces as
// dberr.ErrCorruption; untrusted bytes never panic.
func nodeFromPage(p *page.Page, id page.ID) (*node, error) {
	buf := p.Bytes()
	pos := nodeDataOff

	corrupt := func(what string) error {
		return fmt.Errorf("node %s: %s: %w", id, what, dberr.ErrCorruption)
	}

	if p.Type() != page.TypeIndex {
		return nil, corrupt(fmt.Sprintf("page type %s", p.Type()))
	}
	if binary.LittleEndian.Uint64(buf[pos:]) != id.PageNum {
		return nil, corrupt("page number mismatch")
	}
	pos += 8
	isLeaf := buf[pos] != 0
	pos++
	keyCount := int(binary.LittleEndian.Uint16(buf[pos:]))
	pos += 2
	if keyCount > MaxKeys {
		return nil, corrupt(fmt.Sprintf("key count %d", keyCount))
	}

	n := newNode(id, isLeaf)
	for i := 0; i < keyCount; i++ {
		if pos+2 > page.Size {
			return nil, corrupt("truncated key length")
		}
		keyLen := int(binary.LittleEndian.Uint16(buf[pos:]))
		pos += 2
		if pos+keyLen+8 > page.Size {
			return nil, corrupt("truncated key entry")
		}
		key := make([]byte, keyLen)
		copy(key, buf[pos:pos+keyLen])
		pos += keyLen
		n.keys = append(n.keys, key)
		n.values = append(n.values, binary.LittleEndian.Uint64(buf[pos:]))
		pos += 8
	}

	if !isLeaf {
		for i := 0; i < keyCount+1; i++ {
			if pos+8 > page.Size {
				return nil, corrupt("truncated child pointer")
			}
			n.children = append(n.children, binary.LittleEndian.Uint64(buf[pos:]))
			pos += 8
		}
	}
	return n, nil
}

// storeNode encodes the node into the page's data region and refreshes
// the checksum.
func storeNode(n *node, p *page.Page) error {
	size := n.encodedSize()
	if nodeDataOff+size > page.Size {
		return fmt.Errorf("node %s: %d bytes: %w", n.id, size, dberr.ErrOutOfSpace)
	}
	if !n.isLeaf && len(n.children) != len(n.keys)+1 {
		return fmt.Errorf("node %s: %d keys, %d children: %w",
			n.id, len(n.keys), len(n.children), dberr.ErrCorruption)
	}

	buf := p.Bytes()
	pos := nodeDataOff
	binary.LittleEndian.PutUint64(buf[pos:], n.id.PageNum)
	pos += 8
	if n.isLeaf {
		buf[pos] = 1
	} else {
		buf[pos] = 0
	}
	pos++
	binary.LittleEndian.PutUint16(buf[pos:], uint16(len(n.keys)))
	pos += 2
	for i, k := range n.keys {
		binary.LittleEndian.PutUint16(buf[pos:], uint16(len(k)))
		pos += 2
		copy(buf[pos:], k)
		pos += len(k)
		binary.LittleEndian.PutUint64(buf[pos:], n.values[i])
		pos += 8
	}
	if !n.isLeaf {
		for _, c := range n.children {
			binary.LittleEndian.PutUint64(buf[pos:], c)
			pos += 8
		}
	}
	// Clear any stale tail from a previously larger node.
	for i := pos; i < page.Size; i++ {
		buf[i] = 0
	}

	p.SetType(page.TypeIndex)
	return nil
}
