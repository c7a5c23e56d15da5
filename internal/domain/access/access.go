// Пакет access — проверка применимости сервисного аккаунта в момент запроса:
// срок действия и список разрешённых IP-адресов.
package access

import (
	"net/netip"
	"strings"
	"time"

	"github.com/bigkaa/goartstore/auth-module/internal/domain/model"
)

// Reason — причина отказа. Набор значений закрыт.
type Reason string

// Причины отказа.
const (
	// ReasonNotYetValid — срок действия ещё не начался
	ReasonNotYetValid Reason = "NOT_YET_VALID"
	// ReasonExpired — срок действия истёк
	ReasonExpired Reason = "EXPIRED"
	// ReasonIPNotAllowed — адрес источника не входит в allowlist
	ReasonIPNotAllowed Reason = "IP_NOT_ALLOWED"
)

// Message возвращает человекочитаемое описание причины.
func (r Reason) Message() string {
	switch r {
	case ReasonNotYetValid:
		return "Сервисный аккаунт ещё не действует"
	case ReasonExpired:
		return "Срок действия сервисного аккаунта истёк"
	case ReasonIPNotAllowed:
		return "Доступ с этого IP-адреса запрещён"
	default:
		return "Доступ запрещён"
	}
}

// Decision — результат проверки.
type Decision struct {
	// Allowed — аккаунт можно использовать
	Allowed bool
	// Reason — причина отказа (пусто при Allowed)
	Reason Reason
}

// Allow — положительное решение.
var Allow = Decision{Allowed: true}

// Deny возвращает отрицательное решение с причиной.
func Deny(r Reason) Decision {
	return Decision{Reason: r}
}

// Evaluate проверяет аккаунт на момент now для адреса sourceIP.
//
// Порядок проверок фиксирован: начало срока, конец срока, allowlist.
// Границы срока включительные: now == ValidFrom и now == ValidTo допустимы.
// Пустой AllowedIPs снимает ограничение по адресу. При непустом списке
// отсутствующий или нераспознанный sourceIP даёт отказ.
func Evaluate(sa *model.ServiceAccount, now time.Time, sourceIP string) Decision {
	if now.Before(sa.ValidFrom) {
		return Deny(ReasonNotYetValid)
	}
	if sa.ValidTo != nil && now.After(*sa.ValidTo) {
		return Deny(ReasonExpired)
	}
	if len(sa.AllowedIPs) == 0 {
		return Allow
	}
	sourceIP = strings.TrimSpace(sourceIP)
	if sourceIP == "" {
		return Deny(ReasonIPNotAllowed)
	}

	addr, err := netip.ParseAddr(sourceIP)
	if err != nil {
		return Deny(ReasonIPNotAllowed)
	}
	if IPAllowed(sa.AllowedIPs, addr) {
		return Allow
	}
	return Deny(ReasonIPNotAllowed)
}

// IPAllowed сообщает, входит ли addr хотя бы в одну запись allowlist.
// Записи — подсети в нотации CIDR или одиночные адреса.
// Нераспознанные записи пропускаются.
func IPAllowed(allowlist []string, addr netip.Addr) bool {
	addr = addr.Unmap().WithZone("")
	for _, entry := range allowlist {
		prefix, ok := ParseEntry(entry)
		if !ok {
			continue
		}
		if prefix.Contains(addr) {
			return true
		}
	}
	return false
}

// ParseEntry разбирает запись allowlist в подсеть.
// Одиночный адрес превращается в подсеть из одного хоста (/32 или /128).
// IPv4-mapped IPv6 записи приводятся к IPv4.
func ParseEntry(entry string) (netip.Prefix, bool) {
	entry = strings.TrimSpace(entry)
	if entry == "" {
		return netip.Prefix{}, false
	}

	if strings.Contains(entry, "/") {
		p, err := netip.ParsePrefix(entry)
		if err != nil {
			return netip.Prefix{}, false
		}
		if p.Addr().Is4In6() && p.Bits() >= 96 {
			p = netip.PrefixFrom(p.Addr().Unmap(), p.Bits()-96)
		}
		return p.Masked(), true
	}

	a, err := netip.ParseAddr(entry)
	if err != nil {
		return netip.Prefix{}, false
	}
	a = a.Unmap().WithZone("")
	return netip.PrefixFrom(a, a.BitLen()), true
}
