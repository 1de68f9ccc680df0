// internal/controller/middleware.go
package controller

import (
    "context"
    "net"
    "net/http"
    "strconv"
    "sync"
    "time"

    "github.com/rs/zerolog"
    "golang.org/x/time/rate"

    appErrors "github.com/unclebandit/wagateway/internal/errors"
    "github.com/unclebandit/wagateway/internal/model"
)

type ctxKey int

const (
    accountKey ctxKey = iota
    credentialKey
)

const (
    HeaderAccountID = "X-Account-ID"
    HeaderAPIKey    = "X-API-Key"
)

func withAccount(ctx context.Context, id int64) context.Context {
    return context.WithValue(ctx, accountKey, id)
}

// AccountID returns the authenticated account, set by RequireAccount or
// CredentialAuth.
func AccountID(ctx context.Context) (int64, bool) {
    id, ok := ctx.Value(accountKey).(int64)
    return id, ok
}

// CredentialFrom returns the API credential of a CredentialAuth request.
func CredentialFrom(ctx context.Context) *model.Credential {
    c, _ := ctx.Value(credentialKey).(*model.Credential)
    return c
}

// RequireAccount trusts the account id the upstream auth layer put in
// X-Account-ID.
func RequireAccount(next http.Handler) http.Handler {
    return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
        id, err := strconv.ParseInt(r.Header.Get(HeaderAccountID), 10, 64)
        if err != nil || id <= 0 {
            writeJSON(w, http.StatusUnauthorized, errorBody{Error: "unauthorized", Message: "missing account"})
            return
        }
        next.ServeHTTP(w, r.WithContext(withAccount(r.Context(), id)))
    })
}

type CredentialFinder interface {
    FindActiveByKey(ctx context.Context, key string) (*model.Credential, error)
}

// CredentialAuth admits requests carrying an active, unexpired API key used
// from an allowed IP with quota left.
func CredentialAuth(creds CredentialFinder, log zerolog.Logger, now func() time.Time) func(http.Handler) http.Handler {
    if now == nil {
        now = time.Now
    }
    return func(next http.Handler) http.Handler {
        return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
            key := r.Header.Get(HeaderAPIKey)
            if key == "" {
                writeJSON(w, http.StatusUnauthorized, errorBody{Error: "unauthorized", Message: "missing api key"})
                return
            }
            cred, err := creds.FindActiveByKey(r.Context(), key)
            if err != nil {
                WriteError(w, log, err)
                return
            }
            if cred.Expired(now()) {
                WriteError(w, log, appErrors.ErrCredentialExpired)
                return
            }
            if !cred.AllowsIP(clientIP(r)) {
                WriteError(w, log, appErrors.ErrIPNotAllowed)
                return
            }
            if !cred.QuotaAvailable() {
                WriteError(w, log, appErrors.NewQuotaExceeded("api", 0))
                return
            }

            ctx := withAccount(r.Context(), cred.AccountID)
            ctx = context.WithValue(ctx, credentialKey, cred)
            next.ServeHTTP(w, r.WithContext(ctx))
        })
    }
}

// clientIP expects chi's RealIP to have rewritten RemoteAddr already.
func clientIP(r *http.Request) string {
    host, _, err := net.SplitHostPort(r.RemoteAddr)
    if err != nil {
        return r.RemoteAddr
    }
    return host
}

type visitor struct {
    limiter  *rate.Limiter
    lastSeen time.Time
}

// IPRateLimiter hands out one token bucket per client IP.
type IPRateLimiter struct {
    mu       sync.Mutex
    visitors map[string]*visitor
    rps      rate.Limit
    burst    int
}

func NewIPRateLimiter(rps float64, burst int) *IPRateLimiter {
    return &IPRateLimiter{
        visitors: make(map[string]*visitor),
        rps:      rate.Limit(rps),
        burst:    burst,
    }
}

func (l *IPRateLimiter) get(ip string) *rate.Limiter {
    l.mu.Lock()
    defer l.mu.Unlock()
    v, ok := l.visitors[ip]
    if !ok {
        v = &visitor{limiter: rate.NewLimiter(l.rps, l.burst)}
        l.visitors[ip] = v
    }
    v.lastSeen = time.Now()
    return v.limiter
}

// Cleanup forgets visitors idle for longer than idle, every interval, until
// ctx is done.
func (l *IPRateLimiter) Cleanup(ctx context.Context, interval, idle time.Duration) {
    t := time.NewTicker(interval)
    defer t.Stop()
    for {
        select {
        case <-ctx.Done():
            return
        case <-t.C:
            l.mu.Lock()
            for ip, v := range l.visitors {
                if time.Since(v.lastSeen) > idle {
                    delete(l.visitors, ip)
                }
            }
            l.mu.Unlock()
        }
    }
}

func (l *IPRateLimiter) Middleware(next http.Handler) http.Handler {
    return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
        if !l.get(clientIP(r)).Allow() {
            writeJSON(w, http.StatusTooManyRequests, errorBody{Error: "rate_limited", Message: "too many requests"})
            return
        }
        next.ServeHTTP(w, r)
    })
}
