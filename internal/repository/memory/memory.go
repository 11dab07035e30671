// Package memory implements the repositories in memory for development and
// testing.  Transactions are serialized and roll back by restoring a
// snapshot of every table.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/iliyamo/reservation-admin/internal/database"
	"github.com/iliyamo/reservation-admin/internal/model"
)

// Slot is a row of the slot table.
type Slot struct {
	ID      int64
	StaffID string
	Status  model.SlotStatus
}

// Order is a row of the order table.
type Order struct {
	ID       int64
	ClientID string
	SlotID   int64
	Status   model.OrderStatus
}

// Line is a row of itemInOrder.
type Line struct {
	ID       int64
	OrderID  int64
	ItemID   int64
	Point    int64
	Status   string
	Refunded bool
}

type tables struct {
	accounts map[string]model.Account
	sessions map[string]model.Session
	items    map[int64]model.Item
	slots    map[int64]Slot
	edges    map[[2]int64]bool
	orders   map[int64]Order
	lines    []Line
	marks    map[model.UnavailabilityMark]bool
	tasks    []model.Task
	taskErr  map[int64]string
	bans     map[string]model.Ban

	lineSeq int64
	taskSeq int64
}

func (t *tables) clone() *tables {
	c := &tables{
		accounts: make(map[string]model.Account, len(t.accounts)),
		sessions: make(map[string]model.Session, len(t.sessions)),
		items:    make(map[int64]model.Item, len(t.items)),
		slots:    make(map[int64]Slot, len(t.slots)),
		edges:    make(map[[2]int64]bool, len(t.edges)),
		orders:   make(map[int64]Order, len(t.orders)),
		lines:    append([]Line(nil), t.lines...),
		marks:    make(map[model.UnavailabilityMark]bool, len(t.marks)),
		tasks:    make([]model.Task, len(t.tasks)),
		taskErr:  make(map[int64]string, len(t.taskErr)),
		bans:     make(map[string]model.Ban, len(t.bans)),
		lineSeq:  t.lineSeq,
		taskSeq:  t.taskSeq,
	}
	for k, v := range t.accounts {
		c.accounts[k] = v
	}
	for k, v := range t.sessions {
		c.sessions[k] = v
	}
	for k, v := range t.items {
		c.items[k] = v
	}
	for k, v := range t.slots {
		c.slots[k] = v
	}
	for k, v := range t.edges {
		c.edges[k] = v
	}
	for k, v := range t.orders {
		c.orders[k] = v
	}
	for k, v := range t.marks {
		c.marks[k] = v
	}
	copy(c.tasks, t.tasks)
	for k, v := range t.taskErr {
		c.taskErr[k] = v
	}
	for k, v := range t.bans {
		c.bans[k] = v
	}
	return c
}

// DB is an in-memory database.  The typed views returned by Sessions,
// Accounts, Items, Bookings, Slots and Tasks mirror the Postgres
// repositories.
type DB struct {
	txMu sync.Mutex
	mu   sync.Mutex
	t    *tables

	failures map[string]error
	now      func() time.Time
}

// New creates an empty database.
func New() *DB {
	return &DB{
		t: &tables{
			accounts: make(map[string]model.Account),
			sessions: make(map[string]model.Session),
			items:    make(map[int64]model.Item),
			slots:    make(map[int64]Slot),
			edges:    make(map[[2]int64]bool),
			orders:   make(map[int64]Order),
			marks:    make(map[model.UnavailabilityMark]bool),
			taskErr:  make(map[int64]string),
			bans:     make(map[string]model.Ban),
		},
		failures: make(map[string]error),
		now:      time.Now,
	}
}

var _ database.TxRunner = (*DB)(nil)

// SetClock replaces the clock used for task scheduling.
func (db *DB) SetClock(now func() time.Time) {
	db.mu.Lock()
	db.now = now
	db.mu.Unlock()
}

// Fail makes every later call of op return err until cleared with a nil
// err.  Op names are "<view>.<method>", e.g. "sessions.delete".
func (db *DB) Fail(op string, err error) {
	db.mu.Lock()
	defer db.mu.Unlock()
	if err == nil {
		delete(db.failures, op)
		return
	}
	db.failures[op] = err
}

// failure reports an injected failure for op.  db.mu must be held.
func (db *DB) failure(op string) error {
	return db.failures[op]
}

type txKey struct{}

// RunInTx serializes fn against other transactions and restores the
// snapshot taken at the start when fn fails or panics.  Nested calls join
// the outer transaction.
func (db *DB) RunInTx(ctx context.Context, fn func(ctx context.Context) error) (err error) {
	if ctx.Value(txKey{}) != nil {
		return fn(ctx)
	}
	db.txMu.Lock()
	defer db.txMu.Unlock()

	db.mu.Lock()
	snapshot := db.t.clone()
	db.mu.Unlock()

	defer func() {
		if p := recover(); p != nil {
			db.restore(snapshot)
			panic(p)
		} else if err != nil {
			db.restore(snapshot)
		}
	}()
	return fn(context.WithValue(ctx, txKey{}, true))
}

func (db *DB) restore(t *tables) {
	db.mu.Lock()
	db.t = t
	db.mu.Unlock()
}

// --- seeding and inspection ---

func (db *DB) AddAccount(a model.Account) {
	db.mu.Lock()
	defer db.mu.Unlock()
	db.t.accounts[a.ID] = a
}

func (db *DB) Account(id string) (model.Account, bool) {
	db.mu.Lock()
	defer db.mu.Unlock()
	a, ok := db.t.accounts[id]
	return a, ok
}

func (db *DB) AddItem(it model.Item) {
	db.mu.Lock()
	defer db.mu.Unlock()
	db.t.items[it.ID] = it
}

func (db *DB) Item(id int64) (model.Item, bool) {
	db.mu.Lock()
	defer db.mu.Unlock()
	it, ok := db.t.items[id]
	return it, ok
}

func (db *DB) AddSlot(s Slot) {
	db.mu.Lock()
	defer db.mu.Unlock()
	db.t.slots[s.ID] = s
}

func (db *DB) Slot(id int64) (Slot, bool) {
	db.mu.Lock()
	defer db.mu.Unlock()
	s, ok := db.t.slots[id]
	return s, ok
}

// AddEdge records an adjacency pair in either order.
func (db *DB) AddEdge(a, b int64) {
	db.mu.Lock()
	defer db.mu.Unlock()
	db.t.edges[edgeKey(a, b)] = true
}

func (db *DB) HasEdge(a, b int64) bool {
	db.mu.Lock()
	defer db.mu.Unlock()
	return db.t.edges[edgeKey(a, b)]
}

func edgeKey(a, b int64) [2]int64 {
	if a > b {
		a, b = b, a
	}
	return [2]int64{a, b}
}

func (db *DB) AddOrder(o Order) {
	db.mu.Lock()
	defer db.mu.Unlock()
	db.t.orders[o.ID] = o
}

func (db *DB) Order(id int64) (Order, bool) {
	db.mu.Lock()
	defer db.mu.Unlock()
	o, ok := db.t.orders[id]
	return o, ok
}

// AddLine appends a live line item and returns its id.
func (db *DB) AddLine(orderID, itemID, point int64) int64 {
	db.mu.Lock()
	defer db.mu.Unlock()
	db.t.lineSeq++
	db.t.lines = append(db.t.lines, Line{
		ID: db.t.lineSeq, OrderID: orderID, ItemID: itemID, Point: point, Status: "normal",
	})
	return db.t.lineSeq
}

// Lines returns the line items of an order.
func (db *DB) Lines(orderID int64) []Line {
	db.mu.Lock()
	defer db.mu.Unlock()
	var out []Line
	for _, l := range db.t.lines {
		if l.OrderID == orderID {
			out = append(out, l)
		}
	}
	return out
}

func (db *DB) AddMark(m model.UnavailabilityMark) {
	db.mu.Lock()
	defer db.mu.Unlock()
	db.t.marks[m] = true
}

// Marks returns every unavailability mark sorted by slot, item, source.
func (db *DB) Marks() []model.UnavailabilityMark {
	db.mu.Lock()
	defer db.mu.Unlock()
	out := make([]model.UnavailabilityMark, 0, len(db.t.marks))
	for m := range db.t.marks {
		out = append(out, m)
	}
	sort.Slice(out, func(i, j int) bool {
		a, b := out[i], out[j]
		if a.SlotID != b.SlotID {
			return a.SlotID < b.SlotID
		}
		if a.ItemID != b.ItemID {
			return a.ItemID < b.ItemID
		}
		return a.SourceSlotID < b.SourceSlotID
	})
	return out
}

// AllTasks returns a copy of the task table.
func (db *DB) AllTasks() []model.Task {
	db.mu.Lock()
	defer db.mu.Unlock()
	return append([]model.Task(nil), db.t.tasks...)
}

// TaskError returns the last recorded delivery error of a task.
func (db *DB) TaskError(id int64) string {
	db.mu.Lock()
	defer db.mu.Unlock()
	return db.t.taskErr[id]
}

func (db *DB) Ban(email string) (model.Ban, bool) {
	db.mu.Lock()
	defer db.mu.Unlock()
	b, ok := db.t.bans[email]
	return b, ok
}

// SessionsOf returns the durable sessions of a user, most recently active
// first.
func (db *DB) SessionsOf(userID string) []model.Session {
	db.mu.Lock()
	defer db.mu.Unlock()
	return db.sessionsOf(userID, false)
}

func (db *DB) sessionsOf(userID string, oldestFirst bool) []model.Session {
	var out []model.Session
	for _, s := range db.t.sessions {
		if s.UserID == userID {
			out = append(out, s)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		a, b := out[i], out[j]
		if !oldestFirst {
			a, b = b, a
		}
		if !a.LastActive.Equal(b.LastActive) {
			return a.LastActive.Before(b.LastActive)
		}
		if !a.CreatedAt.Equal(b.CreatedAt) {
			return a.CreatedAt.Before(b.CreatedAt)
		}
		return a.ID < b.ID
	})
	return out
}
