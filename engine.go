package authcore

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/Bidiche49/art-des-jardins-sub001/cache"
	"github.com/Bidiche49/art-des-jardins-sub001/internal/audit"
	"github.com/Bidiche49/art-des-jardins-sub001/internal/rate"
	"github.com/Bidiche49/art-des-jardins-sub001/jwt"
	"github.com/Bidiche49/art-des-jardins-sub001/password"
	"github.com/Bidiche49/art-des-jardins-sub001/secretbox"
)

// backgroundTimeout bounds alert delivery started after the request returned.
const backgroundTimeout = 30 * time.Second

// Engine is the authentication core. It is safe for concurrent use once built.
type Engine struct {
	config       Config
	store        Store
	challenges   cache.Store
	mailer       MailSender
	geo          GeoResolver
	sealer       secretbox.Sealer
	limiter      *rate.Limiter
	audit        *audit.Dispatcher
	metrics      *Metrics
	passwordHash *password.Argon2
	recoveryHash *password.Argon2
	jwtManager   *jwt.Manager
	logger       *slog.Logger
	now          func() time.Time

	bgMu       sync.Mutex
	background sync.WaitGroup
	closed     bool
}

// Close waits for pending alert emails and flushes the audit queue.
func (e *Engine) Close() {
	if e == nil {
		return
	}
	e.bgMu.Lock()
	e.closed = true
	e.bgMu.Unlock()
	e.background.Wait()
	if e.audit != nil {
		e.audit.Close()
	}
}

// AuditDropped reports events discarded because the audit buffer was full.
func (e *Engine) AuditDropped() uint64 {
	if e == nil || e.audit == nil {
		return 0
	}
	return e.audit.Dropped()
}

func (e *Engine) MetricsSnapshot() MetricsSnapshot {
	if e == nil || e.metrics == nil {
		return MetricsSnapshot{
			Counters:   map[MetricID]uint64{},
			Histograms: map[MetricID][]uint64{},
		}
	}
	return e.metrics.Snapshot()
}

func (e *Engine) metricInc(id MetricID) {
	if e == nil || e.metrics == nil {
		return
	}
	e.metrics.Inc(id)
}

func (e *Engine) ready() bool {
	return e != nil && e.store != nil && e.jwtManager != nil && e.passwordHash != nil
}

func (e *Engine) clock() time.Time {
	if e.now == nil {
		return time.Now()
	}
	return e.now()
}

// goBackground runs fn detached from the request context. Work submitted
// after Close is dropped.
func (e *Engine) goBackground(ctx context.Context, fn func(ctx context.Context)) bool {
	e.bgMu.Lock()
	if e.closed {
		e.bgMu.Unlock()
		return false
	}
	e.background.Add(1)
	e.bgMu.Unlock()
	go func() {
		defer e.background.Done()
		bctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), backgroundTimeout)
		defer cancel()
		fn(bctx)
	}()
	return true
}
