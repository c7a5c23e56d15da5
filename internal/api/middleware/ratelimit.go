// ratelimit.go — ограничение частоты запросов токена по IP-адресу источника.
// Token bucket (golang.org/x/time/rate) на каждый IP, лимитеры хранятся
// в ограниченном LRU с TTL.
package middleware

import (
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"golang.org/x/time/rate"

	apierrors "github.com/bigkaa/goartstore/auth-module/internal/api/errors"
)

// limiterTTL — время жизни лимитера IP без запросов.
const limiterTTL = 10 * time.Minute

var rateLimitedTotal = promauto.NewCounter(prometheus.CounterOpts{
	Name: "au_rate_limited_total",
	Help: "Количество запросов, отклонённых ограничением частоты.",
})

// IPRateLimiter — ограничение частоты запросов по IP.
type IPRateLimiter struct {
	limit    rate.Limit
	burst    int
	mu       sync.Mutex
	limiters *expirable.LRU[string, *rate.Limiter]
	now      func() time.Time
	logger   *slog.Logger
}

// NewIPRateLimiter создаёт лимитер: perSecond запросов в секунду с запасом burst.
// perSecond <= 0 выключает ограничение.
func NewIPRateLimiter(perSecond float64, burst, cacheSize int, logger *slog.Logger) *IPRateLimiter {
	if cacheSize <= 0 {
		cacheSize = 10000
	}
	if burst < 1 {
		burst = 1
	}
	return &IPRateLimiter{
		limit:    rate.Limit(perSecond),
		burst:    burst,
		limiters: expirable.NewLRU[string, *rate.Limiter](cacheSize, nil, limiterTTL),
		now:      time.Now,
		logger:   logger.With(slog.String("component", "rate_limiter")),
	}
}

// Enabled сообщает, включено ли ограничение.
func (l *IPRateLimiter) Enabled() bool {
	return l != nil && l.limit > 0
}

// Allow резервирует запрос для ip. Если лимит исчерпан, возвращает false
// и время до освобождения.
func (l *IPRateLimiter) Allow(ip string) (bool, time.Duration) {
	if !l.Enabled() {
		return true, 0
	}
	now := l.now()

	l.mu.Lock()
	lim, ok := l.limiters.Get(ip)
	if !ok {
		lim = rate.NewLimiter(l.limit, l.burst)
		l.limiters.Add(ip, lim)
	}
	l.mu.Unlock()

	res := lim.ReserveN(now, 1)
	if !res.OK() {
		return false, time.Second
	}
	if delay := res.DelayFrom(now); delay > 0 {
		res.CancelAt(now)
		return false, delay
	}
	return true, 0
}

// Middleware возвращает HTTP middleware, отвечающий 429 при превышении лимита.
func (l *IPRateLimiter) Middleware() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if !l.Enabled() {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ip := SourceIP(r)
			if ok, retryAfter := l.Allow(ip); !ok {
				rateLimitedTotal.Inc()
				l.logger.Warn("Превышен лимит запросов",
					slog.String("source_ip", ip),
					slog.String("path", r.URL.Path),
					slog.Duration("retry_after", retryAfter),
				)
				apierrors.TooManyRequests(w, retryAfter, "Слишком много запросов, повторите позже")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// SourceIP возвращает IP-адрес источника запроса из RemoteAddr.
// За доверенным прокси RemoteAddr предварительно переписывает chi middleware.RealIP.
func SourceIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
