package cache

import (
	"container/list"
	"sync"
	"time"
)

type LRUOpts struct {
	Size int
	// Now overrides the clock used for TTL checks.
	Now func() time.Time
}

type entry struct {
	key       string
	val       any
	expiresAt time.Time
}

type op struct {
	kind    opKind
	key     string
	val     any
	ttl     time.Duration
	getResp chan getResp
}

type opKind uint8

const (
	opGet opKind = iota
	opPut
	opDelete
	opLen
)

type getResp struct {
	val any
	ok  bool
	n   int
}

// LRU is a size-bounded cache owned by a single goroutine. All operations
// are sent to that goroutine, so no locking is needed around the list.
type LRU struct {
	ops       chan op
	done      chan struct{}
	closeOnce sync.Once
}

func NewLRU(opts LRUOpts) *LRU {
	if opts.Size <= 0 {
		opts.Size = 128
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}

	l := &LRU{
		ops:  make(chan op),
		done: make(chan struct{}),
	}
	go l.run(opts.Size, opts.Now)
	return l
}

func (l *LRU) send(o op) bool {
	select {
	case l.ops <- o:
		return true
	case <-l.done:
		return false
	}
}

func (l *LRU) Get(key string) (any, bool) {
	resp := make(chan getResp, 1)
	if !l.send(op{kind: opGet, key: key, getResp: resp}) {
		return nil, false
	}
	r := <-resp
	return r.val, r.ok
}

func (l *LRU) Put(key string, val any, opts ...PutOption) {
	po := applyPut(opts)
	l.send(op{kind: opPut, key: key, val: val, ttl: po.ttl})
}

func (l *LRU) Delete(key string) {
	l.send(op{kind: opDelete, key: key})
}

// Len returns the number of entries, expired ones included.
func (l *LRU) Len() int {
	resp := make(chan getResp, 1)
	if !l.send(op{kind: opLen, getResp: resp}) {
		return 0
	}
	return (<-resp).n
}

// Close stops the cache goroutine. Later calls are no-ops and Get misses.
func (l *LRU) Close() {
	l.closeOnce.Do(func() { close(l.done) })
}

func (l *LRU) run(size int, now func() time.Time) {
	ll := list.New()
	items := make(map[string]*list.Element)

	remove := func(ele *list.Element) {
		ll.Remove(ele)
		delete(items, ele.Value.(*entry).key)
	}

	for {
		select {
		case <-l.done:
			return
		case o := <-l.ops:
			switch o.kind {
			case opGet:
				ele, ok := items[o.key]
				if !ok {
					o.getResp <- getResp{}
					continue
				}
				e := ele.Value.(*entry)
				if !e.expiresAt.IsZero() && now().After(e.expiresAt) {
					remove(ele)
					o.getResp <- getResp{}
					continue
				}
				ll.MoveToFront(ele)
				o.getResp <- getResp{val: e.val, ok: true}

			case opPut:
				var exp time.Time
				if o.ttl > 0 {
					exp = now().Add(o.ttl)
				}
				if ele, ok := items[o.key]; ok {
					ll.MoveToFront(ele)
					e := ele.Value.(*entry)
					e.val, e.expiresAt = o.val, exp
					continue
				}
				items[o.key] = ll.PushFront(&entry{key: o.key, val: o.val, expiresAt: exp})
				if ll.Len() > size {
					if last := ll.Back(); last != nil {
						remove(last)
					}
				}

			case opDelete:
				if ele, ok := items[o.key]; ok {
					remove(ele)
				}

			case opLen:
				o.getResp <- getResp{n: ll.Len()}
			}
		}
	}
}

var _ Cache = (*LRU)(nil)
