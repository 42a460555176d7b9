package reqcache

import (
	"context"
	"sync"
)

// CredentialStore supplies the tenant scope and bearer token attached to
// every request. A missing token is not an error here; the server decides.
type CredentialStore interface {
	Token() string
	TenantID() string
	// ClearToken forgets the bearer token after the session became invalid.
	ClearToken()
}

// MemoryCredentials is a CredentialStore held in process memory.
type MemoryCredentials struct {
	mu     sync.RWMutex
	tenant string
	token  string
}

// NewMemoryCredentials returns credentials for tenant with an optional token.
func NewMemoryCredentials(tenant, token string) *MemoryCredentials {
	return &MemoryCredentials{tenant: tenant, token: token}
}

// Token implements CredentialStore.
func (m *MemoryCredentials) Token() string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.token
}

// TenantID implements CredentialStore.
func (m *MemoryCredentials) TenantID() string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.tenant
}

// ClearToken implements CredentialStore.
func (m *MemoryCredentials) ClearToken() {
	m.mu.Lock()
	m.token = ""
	m.mu.Unlock()
}

// SetToken replaces the bearer token, e.g. after a new login.
func (m *MemoryCredentials) SetToken(token string) {
	m.mu.Lock()
	m.token = token
	m.mu.Unlock()
}

// SetTenantID switches the tenant scope.
func (m *MemoryCredentials) SetTenantID(tenant string) {
	m.mu.Lock()
	m.tenant = tenant
	m.mu.Unlock()
}

// ErrorHook receives a final error of a given class. Hooks run on the
// caller's goroutine after the retry loop has settled.
type ErrorHook func(ctx context.Context, err *ClientError)

// sessionGuard fires the 401 and 403 hooks. The client calls it once per
// failing physical call, never per retry attempt.
type sessionGuard struct {
	credentials CredentialStore
	onSession   ErrorHook
	onForbidden ErrorHook
	logger      Logger
	metrics     *MetricsCollector
}

func (g *sessionGuard) handle(ctx context.Context, err error) {
	ce, ok := AsClientError(err)
	if !ok {
		return
	}

	switch ce.Type {
	case ErrorTypeUnauthorized:
		if g.credentials != nil {
			g.credentials.ClearToken()
		}
		g.logger.Warn("Session invalid, credentials cleared", "requestID", ce.RequestID, "path", ce.Path)
		g.metrics.RecordSessionInvalidation()
		if g.onSession != nil {
			g.onSession(ctx, ce)
		}
	case ErrorTypeForbidden:
		g.logger.Warn("Permission denied", "requestID", ce.RequestID, "path", ce.Path)
		if g.onForbidden != nil {
			g.onForbidden(ctx, ce)
		}
	}
}
