package shared

import "context"

type tenantContextKey struct{}

// ContextWithTenant stores the resolved tenant id in context. Tenant
// resolution itself happens upstream; the core only ever reads it back.
func ContextWithTenant(ctx context.Context, tenantID int64) context.Context {
	return context.WithValue(ctx, tenantContextKey{}, tenantID)
}

// TenantFromContext extracts the tenant id from context.
func TenantFromContext(ctx context.Context) (int64, bool) {
	id, ok := ctx.Value(tenantContextKey{}).(int64)
	return id, ok && id > 0
}
