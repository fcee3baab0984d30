package cache

import "container/list"

// lruIndex tracks fingerprint recency using a doubly-linked list, the same
// idiom the teacher's result cache uses for its CEL decision cache: a
// map from key to *list.Element for O(1) touch/evict, backed by a list
// ordered least-recently-used to most-recently-used.
type lruIndex struct {
	order    *list.List
	elements map[uint64]*list.Element
}

func newLRUIndex() *lruIndex {
	return &lruIndex{
		order:    list.New(),
		elements: make(map[uint64]*list.Element),
	}
}

// touch marks fingerprint as most-recently-used, inserting it if absent.
func (l *lruIndex) touch(fingerprint uint64) {
	if el, ok := l.elements[fingerprint]; ok {
		l.order.MoveToFront(el)
		return
	}
	l.elements[fingerprint] = l.order.PushFront(fingerprint)
}

// remove drops fingerprint from the index.
func (l *lruIndex) remove(fingerprint uint64) {
	if el, ok := l.elements[fingerprint]; ok {
		l.order.Remove(el)
		delete(l.elements, fingerprint)
	}
}

// oldest returns the least-recently-used fingerprint and whether one exists.
func (l *lruIndex) oldest() (uint64, bool) {
	back := l.order.Back()
	if back == nil {
		return 0, false
	}
	return back.Value.(uint64), true
}

func (l *lruIndex) len() int {
	return l.order.Len()
}
