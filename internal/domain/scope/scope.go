// Пакет scope — права сервисных аккаунтов.
// Право (scope) — пара (target, permission), где target — домен доступа,
// permission — уровень доступа. Наборы значений закрыты: неизвестные строки
// отвергаются при разборе, до попадания в хранилище или токен.
package scope

import (
	"fmt"
	"slices"
	"strings"
)

// Target — домен, к которому выдаётся доступ.
type Target string

// Допустимые домены.
const (
	TargetAuth     Target = "AUTH"
	TargetUser     Target = "USER"
	TargetBusiness Target = "BUSINESS"
)

// Permission — уровень доступа к домену.
type Permission string

// Допустимые уровни доступа.
const (
	PermissionRead  Permission = "READ"
	PermissionWrite Permission = "WRITE"
)

// Targets возвращает все допустимые домены.
func Targets() []Target {
	return []Target{TargetAuth, TargetUser, TargetBusiness}
}

// Permissions возвращает все допустимые уровни доступа.
func Permissions() []Permission {
	return []Permission{PermissionRead, PermissionWrite}
}

// ParseTarget разбирает строку в Target (без учёта регистра).
func ParseTarget(s string) (Target, error) {
	t := Target(strings.ToUpper(strings.TrimSpace(s)))
	switch t {
	case TargetAuth, TargetUser, TargetBusiness:
		return t, nil
	default:
		return "", fmt.Errorf("неизвестный target %q", s)
	}
}

// ParsePermission разбирает строку в Permission (без учёта регистра).
func ParsePermission(s string) (Permission, error) {
	p := Permission(strings.ToUpper(strings.TrimSpace(s)))
	switch p {
	case PermissionRead, PermissionWrite:
		return p, nil
	default:
		return "", fmt.Errorf("неизвестный permission %q", s)
	}
}

// Scope — право сервисного аккаунта.
type Scope struct {
	Target     Target
	Permission Permission
}

// New создаёт Scope из строковых значений с проверкой.
func New(target, permission string) (Scope, error) {
	t, err := ParseTarget(target)
	if err != nil {
		return Scope{}, err
	}
	p, err := ParsePermission(permission)
	if err != nil {
		return Scope{}, err
	}
	return Scope{Target: t, Permission: p}, nil
}

// String возвращает представление для токена: "<target>:<permission>" в нижнем регистре.
func (s Scope) String() string {
	return strings.ToLower(string(s.Target)) + ":" + strings.ToLower(string(s.Permission))
}

// Compare сравнивает два scope по (target, permission) лексикографически.
func Compare(a, b Scope) int {
	if c := strings.Compare(string(a.Target), string(b.Target)); c != 0 {
		return c
	}
	return strings.Compare(string(a.Permission), string(b.Permission))
}

// Sort сортирует scopes на месте по (target, permission).
func Sort(scopes []Scope) {
	slices.SortFunc(scopes, Compare)
}

// Dedup возвращает отсортированную копию набора без повторов.
func Dedup(scopes []Scope) []Scope {
	out := slices.Clone(scopes)
	Sort(out)
	return slices.Compact(out)
}

// Render возвращает отсортированный список строк "<target>:<permission>".
// Входной срез не изменяется.
func Render(scopes []Scope) []string {
	sorted := Dedup(scopes)
	out := make([]string, 0, len(sorted))
	for _, s := range sorted {
		out = append(out, s.String())
	}
	return out
}

// Join объединяет отрендеренные scopes через пробел (значение claim "scope").
func Join(rendered []string) string {
	return strings.Join(rendered, " ")
}

// Diff вычисляет изменения для перехода от current к desired:
// toRemove = current − desired, toAdd = desired − current.
// Оба результата отсортированы и не содержат повторов.
// Scopes, присутствующие в обоих наборах, не затрагиваются.
func Diff(current, desired []Scope) (toRemove, toAdd []Scope) {
	cur := make(map[Scope]struct{}, len(current))
	for _, s := range current {
		cur[s] = struct{}{}
	}
	want := make(map[Scope]struct{}, len(desired))
	for _, s := range desired {
		want[s] = struct{}{}
	}

	for _, s := range Dedup(current) {
		if _, ok := want[s]; !ok {
			toRemove = append(toRemove, s)
		}
	}
	for _, s := range Dedup(desired) {
		if _, ok := cur[s]; !ok {
			toAdd = append(toAdd, s)
		}
	}
	return toRemove, toAdd
}
