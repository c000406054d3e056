package service

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/vwinv/backend-almadina/internal/dto"
	"github.com/vwinv/backend-almadina/internal/model"
	"github.com/vwinv/backend-almadina/internal/repository"

	"github.com/google/uuid"
)

// ── In-memory store shared by the fake repositories ──────────────────────────

type memStore struct {
	mu        sync.Mutex
	users     map[uuid.UUID]model.User
	orders    map[uuid.UUID]bool
	registers map[uuid.UUID]model.CashRegister
	txs       []model.CashRegisterTransaction

	// failures injected by tests
	failLockFor   map[uuid.UUID]error
	failCreateTx  error
	panicLockFor  map[uuid.UUID]bool
	findForUpdate int
}

func newMemStore() *memStore {
	return &memStore{
		users:        make(map[uuid.UUID]model.User),
		orders:       make(map[uuid.UUID]bool),
		registers:    make(map[uuid.UUID]model.CashRegister),
		failLockFor:  make(map[uuid.UUID]error),
		panicLockFor: make(map[uuid.UUID]bool),
	}
}

type memSnapshot struct {
	registers map[uuid.UUID]model.CashRegister
	txs       []model.CashRegisterTransaction
}

func (s *memStore) snapshot() memSnapshot {
	regs := make(map[uuid.UUID]model.CashRegister, len(s.registers))
	for k, v := range s.registers {
		regs[k] = v
	}
	return memSnapshot{registers: regs, txs: append([]model.CashRegisterTransaction(nil), s.txs...)}
}

func (s *memStore) restore(snap memSnapshot) {
	s.registers = snap.registers
	s.txs = snap.txs
}

// register returns a copy of the stored register with its ledger attached.
func (s *memStore) register(id uuid.UUID) (*model.CashRegister, bool) {
	r, ok := s.registers[id]
	if !ok {
		return nil, false
	}
	r.Transactions = s.transactionsOf(id)
	return &r, true
}

func (s *memStore) transactionsOf(id uuid.UUID) []model.CashRegisterTransaction {
	var out []model.CashRegisterTransaction
	for _, t := range s.txs {
		if t.CashRegisterID == id {
			out = append(out, t)
		}
	}
	return out
}

// checkUnique mirrors idx_cash_registers_manager_date and the partial
// one-open-per-manager index.
func (s *memStore) checkUnique(r *model.CashRegister) error {
	for id, other := range s.registers {
		if id == r.ID || other.ManagerID != r.ManagerID {
			continue
		}
		if other.BusinessDate.Equal(r.BusinessDate) {
			return fmt.Errorf("%w: idx_cash_registers_manager_date", repository.ErrConflict)
		}
		if other.Status == model.RegisterOpen && r.Status == model.RegisterOpen {
			return fmt.Errorf("%w: idx_cash_registers_one_open", repository.ErrConflict)
		}
	}
	return nil
}

// ── CashRegisterRepository ───────────────────────────────────────────────────

type memRegisterRepo struct {
	st     *memStore
	locked bool // inside Transaction; the store mutex is already held
}

func (r *memRegisterRepo) with(fn func()) {
	if !r.locked {
		r.st.mu.Lock()
		defer r.st.mu.Unlock()
	}
	fn()
}

// Transaction serializes whole transactions on the store mutex, so it cannot
// reproduce lock ordering bugs. TestE2E_ConcurrentClosesAppendOneClosing runs
// the same races against Postgres row locks.
func (r *memRegisterRepo) Transaction(_ context.Context, fn func(tx repository.CashRegisterRepository) error) error {
	if r.locked {
		return fn(r)
	}
	r.st.mu.Lock()
	defer r.st.mu.Unlock()
	snap := r.st.snapshot()
	if err := fn(&memRegisterRepo{st: r.st, locked: true}); err != nil {
		r.st.restore(snap)
		return err
	}
	return nil
}

func (r *memRegisterRepo) LockManager(_ context.Context, managerID uuid.UUID) (out *model.User, err error) {
	r.with(func() {
		u, ok := r.st.users[managerID]
		if !ok {
			err = repository.ErrNotFound
			return
		}
		out = &u
	})
	return
}

func (r *memRegisterRepo) Create(_ context.Context, reg *model.CashRegister) (err error) {
	r.with(func() {
		if reg.ID == uuid.Nil {
			reg.ID = uuid.New()
		}
		if reg.CreatedAt.IsZero() {
			reg.CreatedAt = time.Now()
		}
		if err = r.st.checkUnique(reg); err != nil {
			return
		}
		stored := *reg
		stored.Transactions = nil
		r.st.registers[reg.ID] = stored
	})
	return
}

func (r *memRegisterRepo) Update(_ context.Context, reg *model.CashRegister) (err error) {
	r.with(func() {
		if _, ok := r.st.registers[reg.ID]; !ok {
			err = repository.ErrNotFound
			return
		}
		if err = r.st.checkUnique(reg); err != nil {
			return
		}
		stored := *reg
		stored.Transactions = nil
		r.st.registers[reg.ID] = stored
	})
	return
}

func (r *memRegisterRepo) CreateTransaction(_ context.Context, t *model.CashRegisterTransaction) (err error) {
	r.with(func() {
		if r.st.failCreateTx != nil {
			err = r.st.failCreateTx
			return
		}
		if t.ID == uuid.Nil {
			t.ID = uuid.New()
		}
		if t.CreatedAt.IsZero() {
			t.CreatedAt = time.Now()
		}
		r.st.txs = append(r.st.txs, *t)
	})
	return
}

func (r *memRegisterRepo) FindByID(_ context.Context, id uuid.UUID) (out *model.CashRegister, err error) {
	r.with(func() {
		reg, ok := r.st.register(id)
		if !ok {
			err = repository.ErrNotFound
			return
		}
		out = reg
	})
	return
}

func (r *memRegisterRepo) FindByIDForUpdate(_ context.Context, id uuid.UUID) (out *model.CashRegister, err error) {
	r.with(func() {
		r.st.findForUpdate++
		if r.st.panicLockFor[id] {
			panic("storage exploded")
		}
		if e, ok := r.st.failLockFor[id]; ok {
			err = e
			return
		}
		reg, ok := r.st.register(id)
		if !ok {
			err = repository.ErrNotFound
			return
		}
		out = reg
	})
	return
}

func (r *memRegisterRepo) FindOpenByManager(_ context.Context, managerID uuid.UUID) (out *model.CashRegister, err error) {
	r.with(func() {
		for id, reg := range r.st.registers {
			if reg.ManagerID == managerID && reg.Status == model.RegisterOpen {
				out, _ = r.st.register(id)
				return
			}
		}
		err = repository.ErrNotFound
	})
	return
}

func (r *memRegisterRepo) FindByManagerAndDate(_ context.Context, managerID uuid.UUID, businessDate time.Time) (out *model.CashRegister, err error) {
	r.with(func() {
		for id, reg := range r.st.registers {
			if reg.ManagerID == managerID && reg.BusinessDate.Equal(businessDate) {
				out, _ = r.st.register(id)
				return
			}
		}
		err = repository.ErrNotFound
	})
	return
}

func (r *memRegisterRepo) FindLatestClosedByManager(_ context.Context, managerID uuid.UUID) (out *model.CashRegister, err error) {
	r.with(func() {
		for id, reg := range r.st.registers {
			if reg.ManagerID != managerID || reg.Status != model.RegisterClosed {
				continue
			}
			if out == nil || reg.BusinessDate.After(out.BusinessDate) ||
				(reg.BusinessDate.Equal(out.BusinessDate) && reg.CreatedAt.After(out.CreatedAt)) {
				out, _ = r.st.register(id)
			}
		}
		if out == nil {
			err = repository.ErrNotFound
		}
	})
	return
}

func (r *memRegisterRepo) CountByManager(_ context.Context, managerID uuid.UUID) (n int64, err error) {
	r.with(func() {
		for _, reg := range r.st.registers {
			if reg.ManagerID == managerID {
				n++
			}
		}
	})
	return
}

func (r *memRegisterRepo) ListByManager(_ context.Context, managerID uuid.UUID, f repository.RegisterFilter) (out []model.CashRegister, err error) {
	r.with(func() {
		for id, reg := range r.st.registers {
			if reg.ManagerID != managerID {
				continue
			}
			if f.From != nil && reg.BusinessDate.Before(*f.From) {
				continue
			}
			if f.To != nil && reg.BusinessDate.After(*f.To) {
				continue
			}
			if f.Status != "" && reg.Status != f.Status {
				continue
			}
			full, _ := r.st.register(id)
			out = append(out, *full)
		}
		sortRegisters(out, f.Ascending)
	})
	return
}

func (r *memRegisterRepo) ListOpenBefore(_ context.Context, businessDate time.Time) (ids []uuid.UUID, err error) {
	r.with(func() {
		var regs []model.CashRegister
		for _, reg := range r.st.registers {
			if reg.Status == model.RegisterOpen && reg.BusinessDate.Before(businessDate) {
				regs = append(regs, reg)
			}
		}
		sortRegisters(regs, true)
		for _, reg := range regs {
			ids = append(ids, reg.ID)
		}
	})
	return
}

func sortRegisters(regs []model.CashRegister, asc bool) {
	for i := 1; i < len(regs); i++ {
		for j := i; j > 0; j-- {
			a, b := regs[j-1].BusinessDate, regs[j].BusinessDate
			if (asc && a.After(b)) || (!asc && a.Before(b)) {
				regs[j-1], regs[j] = regs[j], regs[j-1]
			}
		}
	}
}

// ── UserRepository / OrderRepository ─────────────────────────────────────────

type memUserRepo struct{ st *memStore }

func (r *memUserRepo) FindByID(_ context.Context, id uuid.UUID) (*model.User, error) {
	r.st.mu.Lock()
	defer r.st.mu.Unlock()
	u, ok := r.st.users[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return &u, nil
}

func (r *memUserRepo) FindByUsername(_ context.Context, username string) (*model.User, error) {
	r.st.mu.Lock()
	defer r.st.mu.Unlock()
	for _, u := range r.st.users {
		if u.Username == username {
			return &u, nil
		}
	}
	return nil, repository.ErrNotFound
}

func (r *memUserRepo) Upsert(_ context.Context, u *model.User) error {
	r.st.mu.Lock()
	defer r.st.mu.Unlock()
	r.st.users[u.ID] = *u
	return nil
}

type memOrderRepo struct{ st *memStore }

func (r *memOrderRepo) Exists(_ context.Context, id uuid.UUID) (bool, error) {
	// Called while a ledger transaction may hold the store mutex; orders
	// are only written during fixture setup.
	return r.st.orders[id], nil
}

// ── Collaborator doubles ─────────────────────────────────────────────────────

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = t
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []dto.LedgerEvent
	err    error
}

func (p *recordingPublisher) PublishLedgerEvent(_ context.Context, ev dto.LedgerEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, ev)
	return p.err
}

func (p *recordingPublisher) types() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]string, 0, len(p.events))
	for _, e := range p.events {
		out = append(out, e.Type)
	}
	return out
}

type memReportCache struct {
	mu          sync.Mutex
	data        map[string][]byte
	versions    map[uuid.UUID]int64
	gets, sets  int
	invalidated int

	// beforeSet runs ahead of every store, outside the lock.
	beforeSet func()
}

func newMemReportCache() *memReportCache {
	return &memReportCache{data: make(map[string][]byte), versions: make(map[uuid.UUID]int64)}
}

func memCacheKey(managerID uuid.UUID, ver int64, key string) string {
	return fmt.Sprintf("%s:v%d:%s", managerID, ver, key)
}

func (c *memReportCache) Get(_ context.Context, managerID uuid.UUID, key string) ([]byte, int64, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.gets++
	ver := c.versions[managerID]
	d, ok := c.data[memCacheKey(managerID, ver, key)]
	return d, ver, ok
}

func (c *memReportCache) Set(_ context.Context, managerID uuid.UUID, ver int64, key string, data []byte) {
	if hook := c.beforeSet; hook != nil {
		c.beforeSet = nil
		hook()
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sets++
	c.data[memCacheKey(managerID, ver, key)] = data
}

func (c *memReportCache) Invalidate(_ context.Context, managerID uuid.UUID) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.invalidated++
	c.versions[managerID]++
	return nil
}
