// Package btree implements the disk-resident ordered index: an order-6
// multiway tree over byte keys mapping to 64-bit row ids, with all node
// I/O going through the buffer pool.
//
// Mutations are a single top-down pass: full children are split before
// descending on insert, minimal children are topped up (borrow or merge)
// before descending on delete. No parent re-latching happens on the way
// back up; the "parent" during recursion is a stack frame, never a
// materialized back-pointer.
package btree

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"

	"github.com/SimonWaldherr/tinyDB/internal/storage/buffer"
	"github.com/SimonWaldherr/tinyDB/internal/storage/dberr"
	"github.com/SimonWaldherr/tinyDB/internal/storage/page"
	"github.com/SimonWaldherr/tinyDB/internal/storage/pager"
)

const (
	// Order is the branching parameter B.
	Order = 6

	// MinKeys is the minimum key count for every non-root node.
	MinKeys = Order - 1

	// MaxKeys is the maximum key count for any node.
	MaxKeys = 2*Order - 1

	// DefaultMaxKeySize bounds key length so a full node always fits in
	// one page.
	DefaultMaxKeySize = 300
)

// Config describes one tree.
type Config struct {
	Name       string
	Unique     bool
	MaxKeySize int
}

// Entry is one key/row-id pair produced by RangeScan.
type Entry struct {
	Key   []byte
	Value uint64
}

// BTree is a handle to one tree rooted at a page. Insert and delete are
// serialized by a tree-level mutex (single-writer discipline); Search and
// RangeScan run concurrently under page read latches.
type BTree struct {
	cfg    Config
	pool   *buffer.Pool
	pager  *pager.Pager
	fileID uint64

	mu       sync.Mutex // serializes mutations
	rootMu   sync.RWMutex
	root     page.ID
	poisoned atomic.Bool
}

// Create allocates a tree with a single empty leaf root.
func Create(ctx context.Context, cfg Config, pool *buffer.Pool, pg *pager.Pager) (*BTree, error) {
	if cfg.MaxKeySize <= 0 {
		cfg.MaxKeySize = DefaultMaxKeySize
	}
	t := &BTree{cfg: cfg, pool: pool, pager: pg, fileID: pg.FileID()}
	root, err := t.allocNode(ctx, true)
	if err != nil {
		return nil, err
	}
	t.root = root.id
	return t, nil
}

// Open binds a handle to an existing root.
func Open(cfg Config, root page.ID, pool *buffer.Pool, pg *pager.Pager) *BTree {
	if cfg.MaxKeySize <= 0 {
		cfg.MaxKeySize = DefaultMaxKeySize
	}
	return &BTree{cfg: cfg, pool: pool, pager: pg, fileID: root.FileID, root: root}
}

// Root returns the current root page id. Callers persisting the tree must
// re-read it after mutations: splits and collapses move the root.
func (t *BTree) Root() page.ID {
	t.rootMu.RLock()
	defer t.rootMu.RUnlock()
	return t.root
}

func (t *BTree) setRoot(id page.ID) {
	t.rootMu.Lock()
	t.root = id
	t.rootMu.Unlock()
}

// Name returns the configured tree name.
func (t *BTree) Name() string { return t.cfg.Name }

// Unique reports whether the tree rejects duplicate keys.
func (t *BTree) Unique() bool { return t.cfg.Unique }

// ───────────────────────────────────────────────────────────────────────────
// Node I/O
// ───────────────────────────────────────────────────────────────────────────

// fail records corruption so later operations stop before touching disk.
func (t *BTree) fail(err error) error {
	if errors.Is(err, dberr.ErrCorruption) {
		t.poisoned.Store(true)
	}
	return err
}

func (t *BTree) guard(ctx context.Context) error {
	if t.poisoned.Load() {
		return fmt.Errorf("tree %q: %w", t.cfg.Name, dberr.ErrPoisoned)
	}
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("%w: %v", dberr.ErrCancelled, err)
	}
	return nil
}

// readNode fetches and decodes one node. The decoded copy is independent
// of the page buffer, so the pin is released before returning.
func (t *BTree) readNode(ctx context.Context, num uint64) (*node, error) {
	id := page.ID{FileID: t.fileID, PageNum: num}
	h, err := t.pool.GetPage(ctx, id)
	if err != nil {
		return nil, t.fail(err)
	}
	h.RLock()
	n, err := nodeFromPage(h.Page(), id)
	h.RUnlock()
	if rerr := h.Release(); rerr != nil && err == nil {
		err = rerr
	}
	if err != nil {
		return nil, t.fail(err)
	}
	return n, nil
}

// writeNode encodes a node into its page under the write latch.
func (t *BTree) writeNode(ctx context.Context, n *node) error {
	h, err := t.pool.GetPage(ctx, n.id)
	if err != nil {
		return t.fail(err)
	}
	h.Lock()
	err = storeNode(n, h.Page())
	h.Unlock()
	if rerr := h.Release(); rerr != nil && err == nil {
		err = rerr
	}
	return t.fail(err)
}

// allocNode allocates a fresh page for a node. An empty leaf is written
// into it at once; an internal node has no valid encoding until it has
// children, so its page is only typed as Index here and the caller writes
// the node once the children are in place.
func (t *BTree) allocNode(ctx context.Context, isLeaf bool) (*node, error) {
	id, err := t.pager.Allocate(ctx)
	if err != nil {
		return nil, err
	}
	h, err := t.pool.NewPage(ctx, id)
	if err != nil {
		return nil, err
	}
	n := newNode(id, isLeaf)
	h.Lock()
	if isLeaf {
		err = storeNode(n, h.Page())
	} else {
		h.Page().SetType(page.TypeIndex)
	}
	h.Unlock()
	if rerr := h.Release(); rerr != nil && err == nil {
		err = rerr
	}
	if err != nil {
		return nil, err
	}
	return n, nil
}

// freeNode returns a node's page to the pager and drops it from the pool.
func (t *BTree) freeNode(ctx context.Context, id page.ID) error {
	t.pool.Discard(id)
	return t.pager.Free(ctx, id)
}

// ───────────────────────────────────────────────────────────────────────────
// Search
// ───────────────────────────────────────────────────────────────────────────

// Search returns the row id stored under key, or found=false.
func (t *BTree) Search(ctx context.Context, key []byte) (value uint64, found bool, err error) {
	if err := t.guard(ctx); err != nil {
		return 0, false, err
	}
	num := t.Root().PageNum
	for {
		n, err := t.readNode(ctx, num)
		if err != nil {
			return 0, false, err
		}
		i := lowerBound(n.keys, key)
		if i < len(n.keys) && bytes.Equal(n.keys[i], key) {
			return n.values[i], true, nil
		}
		if n.isLeaf {
			return 0, false, nil
		}
		num = n.children[i]
	}
}

// lowerBound returns the smallest index with keys[i] >= key.
func lowerBound(keys [][]byte, key []byte) int {
	return sort.Search(len(keys), func(i int) bool {
		return bytes.Compare(keys[i], key) >= 0
	})
}

// upperBound returns the smallest index with key < keys[i].
func upperBound(keys [][]byte, key []byte) int {
	return sort.Search(len(keys), func(i int) bool {
		return bytes.Compare(key, keys[i]) < 0
	})
}

// ───────────────────────────────────────────────────────────────────────────
// Insert
// ───────────────────────────────────────────────────────────────────────────

// Insert adds a key/row-id pair. Unique trees reject duplicate keys with
// dberr.ErrDuplicateKey.
func (t *BTree) Insert(ctx context.Context, key []byte, value uint64) error {
	if err := t.guard(ctx); err != nil {
		return err
	}
	if len(key) > t.cfg.MaxKeySize {
		return fmt.Errorf("tree %q: key of %d bytes: %w", t.cfg.Name, len(key), dberr.ErrKeyTooLarge)
	}
	t.mu.Lock()
	defer t.mu.Unlock()

	root, err := t.readNode(ctx, t.Root().PageNum)
	if err != nil {
		return err
	}

	if len(root.keys) == MaxKeys {
		// Root split: height grows by one.
		newRoot, err := t.allocNode(ctx, false)
		if err != nil {
			return err
		}
		newRoot.children = append(newRoot.children, root.id.PageNum)
		if err := t.splitChild(ctx, newRoot, 0, root); err != nil {
			return err
		}
		t.setRoot(newRoot.id)
		root = newRoot
	}
	return t.insertNonFull(ctx, root, key, value)
}

func (t *BTree) insertNonFull(ctx context.Context, n *node, key []byte, value uint64) error {
	if err := t.guard(ctx); err != nil {
		return err
	}

	if n.isLeaf {
		i := lowerBound(n.keys, key)
		if t.cfg.Unique && i < len(n.keys) && bytes.Equal(n.keys[i], key) {
			return fmt.Errorf("tree %q: key %q: %w", t.cfg.Name, key, dberr.ErrDuplicateKey)
		}
		n.keys = append(n.keys, nil)
		copy(n.keys[i+1:], n.keys[i:])
		n.keys[i] = append([]byte(nil), key...)
		n.values = append(n.values, 0)
		copy(n.values[i+1:], n.values[i:])
		n.values[i] = value
		return t.writeNode(ctx, n)
	}

	i := upperBound(n.keys, key)
	if t.cfg.Unique && i > 0 && bytes.Equal(n.keys[i-1], key) {
		return fmt.Errorf("tree %q: key %q: %w", t.cfg.Name, key, dberr.ErrDuplicateKey)
	}

	child, err := t.readNode(ctx, n.children[i])
	if err != nil {
		return err
	}
	if len(child.keys) == MaxKeys {
		if err := t.splitChild(ctx, n, i, child); err != nil {
			return err
		}
		if t.cfg.Unique && bytes.Equal(n.keys[i], key) {
			return fmt.Errorf("tree %q: key %q: %w", t.cfg.Name, key, dberr.ErrDuplicateKey)
		}
		if bytes.Compare(key, n.keys[i]) >= 0 {
			i++
		}
		child, err = t.readNode(ctx, n.children[i])
		if err != nil {
			return err
		}
	}
	return t.insertNonFull(ctx, child, key, value)
}

// splitChild splits parent.children[i] (which must be full) at the median
// mid = Order-1, promoting the median into the parent and writing all
// three nodes.
func (t *BTree) splitChild(ctx context.Context, parent *node, i int, child *node) error {
	const mid = Order - 1

	right, err := t.allocNode(ctx, child.isLeaf)
	if err != nil {
		return err
	}

	medianKey, medianVal := child.keys[mid], child.values[mid]

	right.keys = append(right.keys, child.keys[mid+1:]...)
	right.values = append(right.values, child.values[mid+1:]...)
	child.keys = child.keys[:mid]
	child.values = child.values[:mid]
	if !child.isLeaf {
		right.children = append(right.children, child.children[mid+1:]...)
		child.children = child.children[:mid+1]
	}

	parent.keys = append(parent.keys, nil)
	copy(parent.keys[i+1:], parent.keys[i:])
	parent.keys[i] = medianKey
	parent.values = append(parent.values, 0)
	copy(parent.values[i+1:], parent.values[i:])
	parent.values[i] = medianVal
	parent.children = append(parent.children, 0)
	copy(parent.children[i+2:], parent.children[i+1:])
	parent.children[i+1] = right.id.PageNum

	if err := t.writeNode(ctx, child); err != nil {
		return err
	}
	if err := t.writeNode(ctx, right); err != nil {
		return err
	}
	return t.writeNode(ctx, parent)
}

// ───────────────────────────────────────────────────────────────────────────
// Range scan
// ───────────────────────────────────────────────────────────────────────────

// RangeScan returns all entries with lo <= key < hi in ascending order.
// Each node is read at one point in time; the scan as a whole is not a
// snapshot across concurrent mutations.
func (t *BTree) RangeScan(ctx context.Context, lo, hi []byte) ([]Entry, error) {
	if err := t.guard(ctx); err != nil {
		return nil, err
	}
	if bytes.Compare(lo, hi) >= 0 {
		return nil, nil
	}
	var out []Entry
	if err := t.scanNode(ctx, t.Root().PageNum, lo, hi, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (t *BTree) scanNode(ctx context.Context, num uint64, lo, hi []byte, out *[]Entry) error {
	if err := t.guard(ctx); err != nil {
		return err
	}
	n, err := t.readNode(ctx, num)
	if err != nil {
		return err
	}

	i := lowerBound(n.keys, lo)
	if !n.isLeaf {
		if err := t.scanNode(ctx, n.children[i], lo, hi, out); err != nil {
			return err
		}
	}
	for ; i < len(n.keys) && bytes.Compare(n.keys[i], hi) < 0; i++ {
		*out = append(*out, Entry{Key: n.keys[i], Value: n.values[i]})
		if !n.isLeaf {
			if err := t.scanNode(ctx, n.children[i+1], lo, hi, out); err != nil {
				return err
			}
		}
	}
	return nil
}

// ───────────────────────────────────────────────────────────────────────────
// Delete
// ───────────────────────────────────────────────────────────────────────────

// Delete removes one entry for key; absent keys are a silent no-op. Every
// descent enters a child holding more than MinKeys entries, so removal at
// any depth cannot under-fill a node the pass has not already fixed.
func (t *BTree) Delete(ctx context.Context, key []byte) error {
	if err := t.guard(ctx); err != nil {
		return err
	}
	t.mu.Lock()
	defer t.mu.Unlock()

	root, err := t.readNode(ctx, t.Root().PageNum)
	if err != nil {
		return err
	}
	if err := t.deleteFrom(ctx, root, key); err != nil {
		return err
	}

	// A root left keyless after a top-level merge shrinks the tree.
	root, err = t.readNode(ctx, t.Root().PageNum)
	if err != nil {
		return err
	}
	if !root.isLeaf && len(root.keys) == 0 {
		child := page.ID{FileID: root.id.FileID, PageNum: root.children[0]}
		if err := t.freeNode(ctx, root.id); err != nil {
			return err
		}
		t.setRoot(child)
	}
	return nil
}

func (t *BTree) deleteFrom(ctx context.Context, n *node, key []byte) error {
	if err := t.guard(ctx); err != nil {
		return err
	}

	i := lowerBound(n.keys, key)

	if n.isLeaf {
		if i >= len(n.keys) || !bytes.Equal(n.keys[i], key) {
			return nil
		}
		n.keys = append(n.keys[:i], n.keys[i+1:]...)
		n.values = append(n.values[:i], n.values[i+1:]...)
		return t.writeNode(ctx, n)
	}

	if i < len(n.keys) && bytes.Equal(n.keys[i], key) {
		return t.deleteFromInternal(ctx, n, i, key)
	}

	child, err := t.readNode(ctx, n.children[i])
	if err != nil {
		return err
	}
	if len(child.keys) <= MinKeys {
		child, err = t.fixChild(ctx, n, i, child)
		if err != nil {
			return err
		}
	}
	return t.deleteFrom(ctx, child, key)
}

// deleteFromInternal handles a key found at index i of an internal node:
// replace it with its in-order predecessor when the left subtree can give
// one up, with its successor when the right subtree can, else merge the
// two children around the key and recurse into the merged node.
func (t *BTree) deleteFromInternal(ctx context.Context, n *node, i int, key []byte) error {
	left, err := t.readNode(ctx, n.children[i])
	if err != nil {
		return err
	}
	if len(left.keys) > MinKeys {
		pk, pv, err := t.subtreeMax(ctx, left)
		if err != nil {
			return err
		}
		n.keys[i] = pk
		n.values[i] = pv
		if err := t.writeNode(ctx, n); err != nil {
			return err
		}
		return t.deleteFrom(ctx, left, pk)
	}

	right, err := t.readNode(ctx, n.children[i+1])
	if err != nil {
		return err
	}
	if len(right.keys) > MinKeys {
		sk, sv, err := t.subtreeMin(ctx, right)
		if err != nil {
			return err
		}
		n.keys[i] = sk
		n.values[i] = sv
		if err := t.writeNode(ctx, n); err != nil {
			return err
		}
		return t.deleteFrom(ctx, right, sk)
	}

	merged, err := t.mergeChildren(ctx, n, i, left, right)
	if err != nil {
		return err
	}
	return t.deleteFrom(ctx, merged, key)
}

// subtreeMax returns the rightmost entry below n.
func (t *BTree) subtreeMax(ctx context.Context, n *node) ([]byte, uint64, error) {
	for !n.isLeaf {
		var err error
		n, err = t.readNode(ctx, n.children[len(n.children)-1])
		if err != nil {
			return nil, 0, err
		}
	}
	if len(n.keys) == 0 {
		return nil, 0, t.fail(fmt.Errorf("empty leaf on predecessor walk: %w", dberr.ErrCorruption))
	}
	return n.keys[len(n.keys)-1], n.values[len(n.values)-1], nil
}

// subtreeMin returns the leftmost entry below n.
func (t *BTree) subtreeMin(ctx context.Context, n *node) ([]byte, uint64, error) {
	for !n.isLeaf {
		var err error
		n, err = t.readNode(ctx, n.children[0])
		if err != nil {
			return nil, 0, err
		}
	}
	if len(n.keys) == 0 {
		return nil, 0, t.fail(fmt.Errorf("empty leaf on successor walk: %w", dberr.ErrCorruption))
	}
	return n.keys[0], n.values[0], nil
}

// fixChild tops up parent.children[i] (holding exactly MinKeys) so the
// descent can continue: borrow from a sibling with spare keys, else merge.
// Returns the node to descend into.
func (t *BTree) fixChild(ctx context.Context, parent *node, i int, child *node) (*node, error) {
	var left *node
	if i > 0 {
		var err error
		left, err = t.readNode(ctx, parent.children[i-1])
		if err != nil {
			return nil, err
		}
		if len(left.keys) > MinKeys {
			// Rotate right: parent separator drops into child, left's
			// last key rises into the parent.
			child.keys = append([][]byte{parent.keys[i-1]}, child.keys...)
			child.values = append([]uint64{parent.values[i-1]}, child.values...)
			if !child.isLeaf {
				child.children = append([]uint64{left.children[len(left.children)-1]}, child.children...)
				left.children = left.children[:len(left.children)-1]
			}
			parent.keys[i-1] = left.keys[len(left.keys)-1]
			parent.values[i-1] = left.values[len(left.values)-1]
			left.keys = left.keys[:len(left.keys)-1]
			left.values = left.values[:len(left.values)-1]

			if err := t.writeNode(ctx, left); err != nil {
				return nil, err
			}
			if err := t.writeNode(ctx, child); err != nil {
				return nil, err
			}
			if err := t.writeNode(ctx, parent); err != nil {
				return nil, err
			}
			return child, nil
		}
		if i+1 == len(parent.children) {
			// No right sibling to borrow from: merge into the left one.
			return t.mergeChildren(ctx, parent, i-1, left, child)
		}
	}

	right, err := t.readNode(ctx, parent.children[i+1])
	if err != nil {
		return nil, err
	}
	if len(right.keys) > MinKeys {
		// Rotate left: parent separator drops into child, right's first
		// key rises into the parent.
		child.keys = append(child.keys, parent.keys[i])
		child.values = append(child.values, parent.values[i])
		if !child.isLeaf {
			child.children = append(child.children, right.children[0])
			right.children = right.children[1:]
		}
		parent.keys[i] = right.keys[0]
		parent.values[i] = right.values[0]
		right.keys = right.keys[1:]
		right.values = right.values[1:]

		if err := t.writeNode(ctx, right); err != nil {
			return nil, err
		}
		if err := t.writeNode(ctx, child); err != nil {
			return nil, err
		}
		if err := t.writeNode(ctx, parent); err != nil {
			return nil, err
		}
		return child, nil
	}
	if left != nil {
		// Neither sibling has spare keys: merge into the left one.
		return t.mergeChildren(ctx, parent, i-1, left, child)
	}
	return t.mergeChildren(ctx, parent, i, child, right)
}

// mergeChildren folds parent.keys[i] and the right sibling into the left
// sibling, frees the right sibling's page, and returns the merged node.
func (t *BTree) mergeChildren(ctx context.Context, parent *node, i int, left, right *node) (*node, error) {
	left.keys = append(left.keys, parent.keys[i])
	left.values = append(left.values, parent.values[i])
	left.keys = append(left.keys, right.keys...)
	left.values = append(left.values, right.values...)
	if !left.isLeaf {
		left.children = append(left.children, right.children...)
	}

	parent.keys = append(parent.keys[:i], parent.keys[i+1:]...)
	parent.values = append(parent.values[:i], parent.values[i+1:]...)
	parent.children = append(parent.children[:i+1], parent.children[i+2:]...)

	if err := t.writeNode(ctx, left); err != nil {
		return nil, err
	}
	if err := t.writeNode(ctx, parent); err != nil {
		return nil, err
	}
	if err := t.freeNode(ctx, right.id); err != nil {
		return nil, err
	}
	return left, nil
}

// ───────────────────────────────────────────────────────────────────────────
// Introspection
// ───────────────────────────────────────────────────────────────────────────

// Height returns the number of levels from root to leaf.
func (t *BTree) Height(ctx context.Context) (int, error) {
	if err := t.guard(ctx); err != nil {
		return 0, err
	}
	height := 1
	n, err := t.readNode(ctx, t.Root().PageNum)
	if err != nil {
		return 0, err
	}
	for !n.isLeaf {
		height++
		n, err = t.readNode(ctx, n.children[0])
		if err != nil {
			return 0, err
		}
	}
	return height, nil
}

// Count returns the number of entries in the tree.
func (t *BTree) Count(ctx context.Context) (int, error) {
	if err := t.guard(ctx); err != nil {
		return 0, err
	}
	return t.countNode(ctx, t.Root().PageNum)
}

func (t *BTree) countNode(ctx context.Context, num uint64) (int, error) {
	n, err := t.readNode(ctx, num)
	if err != nil {
		return 0, err
	}
	total := len(n.keys)
	if !n.isLeaf {
		for _, c := range n.children {
			sub, err := t.countNode(ctx, c)
			if err != nil {
				return 0, err
			}
			total += sub
		}
	}
	return total, nil
}

// FreeAll returns every page of the tree to the pager. The handle must not
// be used afterwards.
func (t *BTree) FreeAll(ctx context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.freeSubtree(ctx, t.Root().PageNum)
}

func (t *BTree) freeSubtree(ctx context.Context, num uint64) error {
	n, err := t.readNode(ctx, num)
	if err != nil {
		return err
	}
	if !n.isLeaf {
		for _, c := range n.children {
			if err := t.freeSubtree(ctx, c); err != nil {
				return err
			}
		}
	}
	return t.freeNode(ctx, n.id)
}

// Validate walks the tree and checks its structural invariants: key
// bounds per node, children counts, uniform leaf depth, and global key
// ordering. Intended for tests and integrity checks.
func (t *BTree) Validate(ctx context.Context) error {
	if err := t.guard(ctx); err != nil {
		return err
	}
	var prev []byte
	havePrev := false
	leafDepth := -1

	var walk func(num uint64, depth int, isRoot bool) error
	walk = func(num uint64, depth int, isRoot bool) error {
		n, err := t.readNode(ctx, num)
		if err != nil {
			return err
		}
		if !isRoot && (len(n.keys) < MinKeys || len(n.keys) > MaxKeys) {
			return fmt.Errorf("node %s: %d keys: %w", n.id, len(n.keys), dberr.ErrCorruption)
		}
		if len(n.values) != len(n.keys) {
			return fmt.Errorf("node %s: %d values for %d keys: %w", n.id, len(n.values), len(n.keys), dberr.ErrCorruption)
		}
		if n.isLeaf {
			if leafDepth == -1 {
				leafDepth = depth
			} else if depth != leafDepth {
				return fmt.Errorf("node %s: leaf at depth %d, expected %d: %w", n.id, depth, leafDepth, dberr.ErrCorruption)
			}
			for i, k := range n.keys {
				if err := checkOrder(&prev, &havePrev, k, t.cfg.Unique); err != nil {
					return fmt.Errorf("node %s key %d: %w", n.id, i, err)
				}
			}
			return nil
		}
		if len(n.children) != len(n.keys)+1 {
			return fmt.Errorf("node %s: %d children for %d keys: %w", n.id, len(n.children), len(n.keys), dberr.ErrCorruption)
		}
		for i := range n.children {
			if err := walk(n.children[i], depth+1, false); err != nil {
				return err
			}
			if i < len(n.keys) {
				if err := checkOrder(&prev, &havePrev, n.keys[i], t.cfg.Unique); err != nil {
					return fmt.Errorf("node %s key %d: %w", n.id, i, err)
				}
			}
		}
		return nil
	}
	return walk(t.Root().PageNum, 0, true)
}

func checkOrder(prev *[]byte, havePrev *bool, key []byte, unique bool) error {
	if *havePrev {
		cmp := bytes.Compare(*prev, key)
		if cmp > 0 || (unique && cmp == 0) {
			return fmt.Errorf("keys out of order (%q then %q): %w", *prev, key, dberr.ErrCorruption)
		}
	}
	*prev = key
	*havePrev = true
	return nil
}
