package repository

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/bigkaa/goartstore/auth-module/internal/database"
	"github.com/bigkaa/goartstore/auth-module/internal/database/dbtest"
	"github.com/bigkaa/goartstore/auth-module/internal/domain/model"
	"github.com/bigkaa/goartstore/auth-module/internal/domain/scope"
)

// setupTestDB запускает PostgreSQL, применяет миграции и возвращает пул.
func setupTestDB(t *testing.T) *pgxpool.Pool {
	t.Helper()

	cfg := dbtest.Start(t)
	ctx := context.Background()
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelDebug}))

	if err := database.Migrate(cfg, logger); err != nil {
		t.Fatalf("Ошибка миграций: %v", err)
	}

	pool, err := database.Connect(ctx, cfg, logger)
	if err != nil {
		t.Fatalf("Ошибка подключения: %v", err)
	}
	t.Cleanup(func() { pool.Close() })

	return pool
}

func newAccount(userID, clientID, name string) *model.ServiceAccount {
	return &model.ServiceAccount{
		ID:         uuid.New().String(),
		UserID:     userID,
		ClientID:   clientID,
		SecretHash: "$2a$04$hash",
		Name:       name,
		ValidFrom:  time.Now().UTC().Truncate(time.Microsecond),
		AllowedIPs: []string{"203.0.113.0/24", "198.51.100.7"},
	}
}

func TestServiceAccountCRUD(t *testing.T) {
	pool := setupTestDB(t)
	ctx := context.Background()
	repo := NewServiceAccountRepository(pool)

	sa := newAccount("user-1", "client-crud", "ci-runner")

	// Create
	if err := repo.Create(ctx, sa); err != nil {
		t.Fatalf("Create() ошибка: %v", err)
	}
	if sa.CreatedAt.IsZero() {
		t.Error("CreatedAt не установлен")
	}

	// Дубликат client_id
	dup := newAccount("user-2", "client-crud", "other")
	if err := repo.Create(ctx, dup); !errors.Is(err, ErrConflict) {
		t.Errorf("Create() дубликата client_id: ошибка = %v, ожидается ErrConflict", err)
	}

	// GetByID
	got, err := repo.GetByID(ctx, sa.ID)
	if err != nil {
		t.Fatalf("GetByID() ошибка: %v", err)
	}
	if got.Name != "ci-runner" || got.UserID != "user-1" {
		t.Errorf("GetByID() = %+v", got)
	}
	if got.ValidTo != nil {
		t.Errorf("ValidTo = %v, ожидается nil", got.ValidTo)
	}
	if len(got.AllowedIPs) != 2 || got.AllowedIPs[0] != "203.0.113.0/24" {
		t.Errorf("AllowedIPs = %v, порядок не сохранён", got.AllowedIPs)
	}

	// GetByClientID
	got, err = repo.GetByClientID(ctx, "client-crud")
	if err != nil {
		t.Fatalf("GetByClientID() ошибка: %v", err)
	}
	if got.ID != sa.ID {
		t.Errorf("GetByClientID().ID = %q, ожидается %q", got.ID, sa.ID)
	}

	// Update
	validTo := time.Now().Add(time.Hour).UTC().Truncate(time.Microsecond)
	sa.Name = "ci-runner-2"
	sa.ValidTo = &validTo
	sa.AllowedIPs = nil
	if err := repo.Update(ctx, sa); err != nil {
		t.Fatalf("Update() ошибка: %v", err)
	}
	got, _ = repo.GetByID(ctx, sa.ID)
	if got.Name != "ci-runner-2" {
		t.Errorf("Name = %q после Update", got.Name)
	}
	if got.ValidTo == nil || !got.ValidTo.Equal(validTo) {
		t.Errorf("ValidTo = %v, ожидается %v", got.ValidTo, validTo)
	}
	if len(got.AllowedIPs) != 0 {
		t.Errorf("AllowedIPs = %v, ожидается пустой список", got.AllowedIPs)
	}

	// UpdateSecretHash
	if err := repo.UpdateSecretHash(ctx, sa.ID, "$2a$04$new"); err != nil {
		t.Fatalf("UpdateSecretHash() ошибка: %v", err)
	}
	got, _ = repo.GetByID(ctx, sa.ID)
	if got.SecretHash != "$2a$04$new" {
		t.Errorf("SecretHash = %q после UpdateSecretHash", got.SecretHash)
	}

	// Delete
	if err := repo.Delete(ctx, sa.ID); err != nil {
		t.Fatalf("Delete() ошибка: %v", err)
	}
	if _, err := repo.GetByID(ctx, sa.ID); !errors.Is(err, ErrNotFound) {
		t.Errorf("GetByID() после Delete: ошибка = %v, ожидается ErrNotFound", err)
	}
	if err := repo.Delete(ctx, sa.ID); !errors.Is(err, ErrNotFound) {
		t.Errorf("повторный Delete(): ошибка = %v, ожидается ErrNotFound", err)
	}
	if err := repo.UpdateSecretHash(ctx, sa.ID, "x"); !errors.Is(err, ErrNotFound) {
		t.Errorf("UpdateSecretHash() удалённого: ошибка = %v, ожидается ErrNotFound", err)
	}
}

func TestServiceAccountScopes(t *testing.T) {
	pool := setupTestDB(t)
	ctx := context.Background()
	repo := NewServiceAccountRepository(pool)

	sa := newAccount("user-1", "client-scopes", "scoped")
	if err := repo.Create(ctx, sa); err != nil {
		t.Fatalf("Create() ошибка: %v", err)
	}

	userWrite := scope.Scope{Target: scope.TargetUser, Permission: scope.PermissionWrite}
	authRead := scope.Scope{Target: scope.TargetAuth, Permission: scope.PermissionRead}

	for _, s := range []scope.Scope{userWrite, authRead} {
		if err := repo.AddScope(ctx, sa.ID, s); err != nil {
			t.Fatalf("AddScope(%s) ошибка: %v", s, err)
		}
	}
	if err := repo.AddScope(ctx, sa.ID, authRead); !errors.Is(err, ErrConflict) {
		t.Errorf("повторный AddScope(): ошибка = %v, ожидается ErrConflict", err)
	}
	if err := repo.AddScope(ctx, uuid.New().String(), authRead); !errors.Is(err, ErrNotFound) {
		t.Errorf("AddScope() несуществующему SA: ошибка = %v, ожидается ErrNotFound", err)
	}

	scopes, err := repo.ListScopes(ctx, sa.ID)
	if err != nil {
		t.Fatalf("ListScopes() ошибка: %v", err)
	}
	if len(scopes) != 2 || scopes[0] != authRead || scopes[1] != userWrite {
		t.Errorf("ListScopes() = %v, ожидается [auth:read user:write]", scopes)
	}

	if err := repo.RemoveScope(ctx, sa.ID, authRead); err != nil {
		t.Fatalf("RemoveScope() ошибка: %v", err)
	}
	if err := repo.RemoveScope(ctx, sa.ID, authRead); !errors.Is(err, ErrNotFound) {
		t.Errorf("повторный RemoveScope(): ошибка = %v, ожидается ErrNotFound", err)
	}

	// Каскадное удаление scopes вместе с аккаунтом
	if err := repo.Delete(ctx, sa.ID); err != nil {
		t.Fatalf("Delete() ошибка: %v", err)
	}
	var count int
	if err := pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM service_account_scopes WHERE service_account_id = $1`, sa.ID,
	).Scan(&count); err != nil {
		t.Fatalf("подсчёт scopes: %v", err)
	}
	if count != 0 {
		t.Errorf("после Delete осталось %d scopes", count)
	}
}

func TestListByUser(t *testing.T) {
	pool := setupTestDB(t)
	ctx := context.Background()
	repo := NewServiceAccountRepository(pool)

	first := newAccount("owner", "client-first", "first")
	if err := repo.Create(ctx, first); err != nil {
		t.Fatalf("Create() ошибка: %v", err)
	}
	time.Sleep(10 * time.Millisecond)
	second := newAccount("owner", "client-second", "second")
	if err := repo.Create(ctx, second); err != nil {
		t.Fatalf("Create() ошибка: %v", err)
	}
	foreign := newAccount("someone-else", "client-foreign", "foreign")
	if err := repo.Create(ctx, foreign); err != nil {
		t.Fatalf("Create() ошибка: %v", err)
	}

	if err := repo.AddScope(ctx, first.ID, scope.Scope{Target: scope.TargetBusiness, Permission: scope.PermissionRead}); err != nil {
		t.Fatalf("AddScope() ошибка: %v", err)
	}

	list, err := repo.ListByUser(ctx, "owner")
	if err != nil {
		t.Fatalf("ListByUser() ошибка: %v", err)
	}
	if len(list) != 2 {
		t.Fatalf("ListByUser() вернул %d записей, ожидается 2", len(list))
	}
	if list[0].ID != second.ID {
		t.Error("ListByUser(): новые аккаунты должны идти первыми")
	}
	if len(list[0].Scopes) != 0 {
		t.Errorf("Scopes второго = %v, ожидается пусто", list[0].Scopes)
	}
	if len(list[1].Scopes) != 1 || list[1].Scopes[0].String() != "business:read" {
		t.Errorf("Scopes первого = %v, ожидается [business:read]", list[1].Scopes)
	}

	empty, err := repo.ListByUser(ctx, "nobody")
	if err != nil {
		t.Fatalf("ListByUser() ошибка: %v", err)
	}
	if len(empty) != 0 {
		t.Errorf("ListByUser(nobody) вернул %d записей", len(empty))
	}
}

// Ошибка внутри транзакции откатывает все изменения.
func TestTxRunner_Rollback(t *testing.T) {
	pool := setupTestDB(t)
	ctx := context.Background()
	runner := NewTxRunner(pool)

	sa := newAccount("user-tx", "client-tx", "tx")
	errBoom := errors.New("boom")

	err := runner.WithServiceAccounts(ctx, func(repo ServiceAccountRepository) error {
		if err := repo.Create(ctx, sa); err != nil {
			return err
		}
		if err := repo.AddScope(ctx, sa.ID, scope.Scope{Target: scope.TargetAuth, Permission: scope.PermissionRead}); err != nil {
			return err
		}
		return errBoom
	})
	if !errors.Is(err, errBoom) {
		t.Fatalf("WithServiceAccounts() ошибка = %v, ожидается errBoom", err)
	}

	if _, err := NewServiceAccountRepository(pool).GetByID(ctx, sa.ID); !errors.Is(err, ErrNotFound) {
		t.Errorf("после отката GetByID(): ошибка = %v, ожидается ErrNotFound", err)
	}

	// Успешная транзакция коммитится, строка блокируется GetByIDForUpdate
	err = runner.WithServiceAccounts(ctx, func(repo ServiceAccountRepository) error {
		if err := repo.Create(ctx, sa); err != nil {
			return err
		}
		_, err := repo.GetByIDForUpdate(ctx, sa.ID)
		return err
	})
	if err != nil {
		t.Fatalf("WithServiceAccounts() ошибка: %v", err)
	}
	if _, err := NewServiceAccountRepository(pool).GetByID(ctx, sa.ID); err != nil {
		t.Errorf("после коммита GetByID(): %v", err)
	}
}
