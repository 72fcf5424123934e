package discovery

import (
	"sort"
	"sync"

	"github.com/opd-ai/shroud/crypto"
)

const (
	// numBuckets is one bucket per bit of the identity hash.
	numBuckets = crypto.HashSize * 8
	// bucketSize is the maximum nodes per bucket.
	bucketSize = 8
)

// bucket holds nodes at one distance band from the local hash.
type bucket struct {
	nodes []*Node
}

func (b *bucket) find(hash crypto.IdentityHash) int {
	for i, n := range b.nodes {
		if n.Hash == hash {
			return i
		}
	}
	return -1
}

// Table is the XOR-distance node table. Nodes sort into buckets by the
// position of the highest differing bit between their hash and the
// local hash.
type Table struct {
	selfHash crypto.IdentityHash

	mu      sync.RWMutex
	buckets [numBuckets]bucket
}

// NewTable creates an empty table centered on the local hash.
func NewTable(selfHash crypto.IdentityHash) *Table {
	return &Table{selfHash: selfHash}
}

// bucketIndex returns which bucket a hash belongs to, or -1 for the
// local hash itself.
func (t *Table) bucketIndex(hash crypto.IdentityHash) int {
	dist := t.selfHash.Distance(hash)
	for i := 0; i < crypto.HashSize; i++ {
		if dist[i] == 0 {
			continue
		}
		bit := 7
		for dist[i]&(1<<uint(bit)) == 0 {
			bit--
		}
		return i*8 + (7 - bit)
	}
	return -1
}

// Add inserts or refreshes a node. A full bucket evicts its most
// stale non-good entry; when every entry is good the new node is
// dropped, keeping long-lived nodes in the table.
func (t *Table) Add(n *Node) bool {
	idx := t.bucketIndex(n.Hash)
	if idx < 0 {
		return false
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	b := &t.buckets[idx]
	if pos := b.find(n.Hash); pos >= 0 {
		b.nodes[pos].Addr = n.Addr
		b.nodes[pos].Update()
		return true
	}
	if len(b.nodes) < bucketSize {
		b.nodes = append(b.nodes, n)
		return true
	}

	// Replace the oldest entry that is not known good.
	evict := -1
	for i, existing := range b.nodes {
		if existing.Status == nodeGood {
			continue
		}
		if evict < 0 || existing.LastSeen.Before(b.nodes[evict].LastSeen) {
			evict = i
		}
	}
	if evict < 0 {
		return false
	}
	b.nodes[evict] = n
	return true
}

// Remove drops a node from the table.
func (t *Table) Remove(hash crypto.IdentityHash) {
	idx := t.bucketIndex(hash)
	if idx < 0 {
		return
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	b := &t.buckets[idx]
	if pos := b.find(hash); pos >= 0 {
		b.nodes = append(b.nodes[:pos], b.nodes[pos+1:]...)
	}
}

// Closest returns up to count nodes ordered by XOR distance to the
// target hash.
func (t *Table) Closest(target crypto.IdentityHash, count int) []*Node {
	all := t.AllNodes()
	sort.Slice(all, func(i, j int) bool {
		di := target.Distance(all[i].Hash)
		dj := target.Distance(all[j].Hash)
		for k := 0; k < crypto.HashSize; k++ {
			if di[k] != dj[k] {
				return di[k] < dj[k]
			}
		}
		return false
	})
	if len(all) > count {
		all = all[:count]
	}
	return all
}

// AllNodes returns copies of every node in the table. Handlers keep
// mutating the live entries, so callers never see table memory.
func (t *Table) AllNodes() []*Node {
	t.mu.RLock()
	defer t.mu.RUnlock()

	var out []*Node
	for i := range t.buckets {
		for _, n := range t.buckets[i].nodes {
			out = append(out, n.clone())
		}
	}
	return out
}

// Len reports the number of nodes in the table.
func (t *Table) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()

	n := 0
	for i := range t.buckets {
		n += len(t.buckets[i].nodes)
	}
	return n
}
