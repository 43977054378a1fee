// Package queue は収集と投稿の間でItemを保持する容量付きFIFOを提供する。
package queue

import (
	"sync"
	"time"

	"github.com/hitoshi/newsrelay/internal/model"
)

// DefaultCapacity はデフォルトの容量。
const DefaultCapacity = 50

// Entry はキュー内の投稿待ち1件を表す。
type Entry struct {
	Item   model.Item `json:"item"`
	Urgent bool       `json:"urgent"`
	// Attempts はこれまでに投稿を試みた回数。
	Attempts   int       `json:"attempts"`
	EnqueuedAt time.Time `json:"enqueued_at"`
}

// Queue は容量付きのFIFO。容量を超えた追加は最も古いエントリを追い出す。
// 同じ冪等性キーのエントリは同時に1件しか保持しない。
// すべての操作は1つのロック区間で完結し、収集タスクと投稿タスクから並行に呼ばれる。
type Queue struct {
	mu       sync.Mutex
	capacity int
	entries  []Entry
	keys     map[model.ItemKey]struct{}
}

// New は新しいQueueを生成する。capacity が0以下の場合はデフォルト値を使う。
func New(capacity int) *Queue {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Queue{
		capacity: capacity,
		entries:  make([]Entry, 0, capacity),
		keys:     make(map[model.ItemKey]struct{}, capacity),
	}
}

// Push はエントリを末尾に追加する。
// 同じキーのエントリが既にある場合は追加せず ok=false を返す。
// 満杯の場合は最も古いエントリを追い出して返す。
func (q *Queue) Push(e Entry) (evicted *Entry, ok bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	key := e.Item.Key()
	if _, exists := q.keys[key]; exists {
		return nil, false
	}
	if len(q.entries) >= q.capacity {
		oldest := q.entries[0]
		q.entries = q.entries[1:]
		delete(q.keys, oldest.Item.Key())
		evicted = &oldest
	}
	q.entries = append(q.entries, e)
	q.keys[key] = struct{}{}
	return evicted, true
}

// Requeue は投稿に失敗したエントリを末尾に戻す。
// 空きがない場合や同じキーのエントリが既にある場合は何もせず false を返し、既存のエントリを追い出すことはない。
func (q *Queue) Requeue(e Entry) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	key := e.Item.Key()
	if _, exists := q.keys[key]; exists {
		return false
	}
	if len(q.entries) >= q.capacity {
		return false
	}
	q.entries = append(q.entries, e)
	q.keys[key] = struct{}{}
	return true
}

// Pop は先頭のエントリを取り出す。空の場合は false を返す。
func (q *Queue) Pop() (Entry, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.entries) == 0 {
		return Entry{}, false
	}
	e := q.entries[0]
	q.entries[0] = Entry{}
	q.entries = q.entries[1:]
	delete(q.keys, e.Item.Key())
	return e, true
}

// Contains は同じキーのエントリがあるかを返す。
func (q *Queue) Contains(key model.ItemKey) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	_, ok := q.keys[key]
	return ok
}

// Len は現在のエントリ数を返す。
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.entries)
}

// Cap は容量を返す。
func (q *Queue) Cap() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.capacity
}

// SetCapacity は容量を変更する。capacity が0以下の場合はデフォルト値を使う。
// 新しい容量を超えるエントリは古いものから追い出して返す。
func (q *Queue) SetCapacity(capacity int) []Entry {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	q.mu.Lock()
	defer q.mu.Unlock()

	q.capacity = capacity
	over := len(q.entries) - capacity
	if over <= 0 {
		return nil
	}
	evicted := make([]Entry, over)
	copy(evicted, q.entries[:over])
	for _, e := range evicted {
		delete(q.keys, e.Item.Key())
	}
	q.entries = append([]Entry(nil), q.entries[over:]...)
	return evicted
}

// Snapshot は現在のエントリのコピーを先頭から順に返す。
func (q *Queue) Snapshot() []Entry {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make([]Entry, len(q.entries))
	copy(out, q.entries)
	return out
}
