// Пакет repotest — хранилище сервисных аккаунтов в памяти для тестов
// сервисного и HTTP-слоёв. Повторяет контракт PostgreSQL-репозитория:
// ошибки ErrNotFound/ErrConflict, порядок выборок, откат транзакций.
package repotest

import (
	"context"
	"slices"
	"sync"
	"time"

	"github.com/bigkaa/goartstore/auth-module/internal/domain/model"
	"github.com/bigkaa/goartstore/auth-module/internal/domain/scope"
	"github.com/bigkaa/goartstore/auth-module/internal/repository"
)

// Memory реализует repository.ServiceAccountRepository и repository.Transactor.
type Memory struct {
	// txMu сериализует транзакции (аналог блокировки строки FOR UPDATE)
	txMu sync.Mutex

	mu       sync.Mutex
	accounts map[string]*model.ServiceAccount
	scopes   map[string][]scope.Scope
	err      error
	now      func() time.Time
	seq      time.Duration
}

var (
	_ repository.ServiceAccountRepository = (*Memory)(nil)
	_ repository.Transactor               = (*Memory)(nil)
)

// NewMemory создаёт пустое хранилище.
func NewMemory() *Memory {
	return &Memory{
		accounts: make(map[string]*model.ServiceAccount),
		scopes:   make(map[string][]scope.Scope),
		now:      time.Now,
	}
}

// SetError заставляет все последующие операции возвращать err (nil — сброс).
func (m *Memory) SetError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.err = err
}

// Len возвращает число аккаунтов.
func (m *Memory) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.accounts)
}

// WithServiceAccounts выполняет fn под транзакционной блокировкой.
// При ошибке fn состояние восстанавливается из снимка.
func (m *Memory) WithServiceAccounts(_ context.Context, fn func(repo repository.ServiceAccountRepository) error) error {
	m.txMu.Lock()
	defer m.txMu.Unlock()

	m.mu.Lock()
	accounts, scopes := m.snapshot()
	m.mu.Unlock()

	if err := fn(m); err != nil {
		m.mu.Lock()
		m.accounts, m.scopes = accounts, scopes
		m.mu.Unlock()
		return err
	}
	return nil
}

func (m *Memory) snapshot() (map[string]*model.ServiceAccount, map[string][]scope.Scope) {
	accounts := make(map[string]*model.ServiceAccount, len(m.accounts))
	for id, sa := range m.accounts {
		accounts[id] = clone(sa)
	}
	scopes := make(map[string][]scope.Scope, len(m.scopes))
	for id, s := range m.scopes {
		scopes[id] = slices.Clone(s)
	}
	return accounts, scopes
}

// tick возвращает монотонно растущее время, чтобы порядок created_at был строгим.
func (m *Memory) tick() time.Time {
	m.seq += time.Microsecond
	return m.now().Add(m.seq)
}

func clone(sa *model.ServiceAccount) *model.ServiceAccount {
	c := *sa
	if sa.ValidTo != nil {
		v := *sa.ValidTo
		c.ValidTo = &v
	}
	c.AllowedIPs = slices.Clone(sa.AllowedIPs)
	if c.AllowedIPs == nil {
		c.AllowedIPs = []string{}
	}
	c.Scopes = nil
	return &c
}

func (m *Memory) Create(_ context.Context, sa *model.ServiceAccount) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}

	if _, ok := m.accounts[sa.ID]; ok {
		return repository.ErrConflict
	}
	for _, existing := range m.accounts {
		if existing.ClientID == sa.ClientID {
			return repository.ErrConflict
		}
	}

	ts := m.tick()
	sa.CreatedAt = ts
	sa.UpdatedAt = ts
	m.accounts[sa.ID] = clone(sa)
	return nil
}

func (m *Memory) GetByID(_ context.Context, id string) (*model.ServiceAccount, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return nil, m.err
	}
	sa, ok := m.accounts[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return clone(sa), nil
}

func (m *Memory) GetByIDForUpdate(ctx context.Context, id string) (*model.ServiceAccount, error) {
	return m.GetByID(ctx, id)
}

func (m *Memory) GetByClientID(_ context.Context, clientID string) (*model.ServiceAccount, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return nil, m.err
	}
	for _, sa := range m.accounts {
		if sa.ClientID == clientID {
			return clone(sa), nil
		}
	}
	return nil, repository.ErrNotFound
}

func (m *Memory) ListByUser(_ context.Context, userID string) ([]*model.ServiceAccount, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return nil, m.err
	}

	result := []*model.ServiceAccount{}
	for _, sa := range m.accounts {
		if sa.UserID != userID {
			continue
		}
		c := clone(sa)
		c.Scopes = sortedScopes(m.scopes[sa.ID])
		result = append(result, c)
	}
	slices.SortFunc(result, func(a, b *model.ServiceAccount) int {
		return b.CreatedAt.Compare(a.CreatedAt)
	})
	return result, nil
}

func (m *Memory) Update(_ context.Context, sa *model.ServiceAccount) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	stored, ok := m.accounts[sa.ID]
	if !ok {
		return repository.ErrNotFound
	}

	stored.Name = sa.Name
	stored.ValidFrom = sa.ValidFrom
	if sa.ValidTo != nil {
		v := *sa.ValidTo
		stored.ValidTo = &v
	} else {
		stored.ValidTo = nil
	}
	stored.AllowedIPs = slices.Clone(sa.AllowedIPs)
	if stored.AllowedIPs == nil {
		stored.AllowedIPs = []string{}
	}
	stored.UpdatedAt = m.tick()
	sa.UpdatedAt = stored.UpdatedAt
	return nil
}

func (m *Memory) UpdateSecretHash(_ context.Context, id, secretHash string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	stored, ok := m.accounts[id]
	if !ok {
		return repository.ErrNotFound
	}
	stored.SecretHash = secretHash
	stored.UpdatedAt = m.tick()
	return nil
}

func (m *Memory) Delete(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	if _, ok := m.accounts[id]; !ok {
		return repository.ErrNotFound
	}
	delete(m.accounts, id)
	delete(m.scopes, id)
	return nil
}

func (m *Memory) ListScopes(_ context.Context, id string) ([]scope.Scope, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return nil, m.err
	}
	return sortedScopes(m.scopes[id]), nil
}

func (m *Memory) AddScope(_ context.Context, id string, s scope.Scope) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	if _, ok := m.accounts[id]; !ok {
		return repository.ErrNotFound
	}
	if slices.Contains(m.scopes[id], s) {
		return repository.ErrConflict
	}
	m.scopes[id] = append(m.scopes[id], s)
	return nil
}

func (m *Memory) RemoveScope(_ context.Context, id string, s scope.Scope) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	i := slices.Index(m.scopes[id], s)
	if i < 0 {
		return repository.ErrNotFound
	}
	m.scopes[id] = slices.Delete(m.scopes[id], i, i+1)
	return nil
}

func sortedScopes(in []scope.Scope) []scope.Scope {
	out := slices.Clone(in)
	if out == nil {
		out = []scope.Scope{}
	}
	scope.Sort(out)
	return out
}
