package principal_test

import (
	"context"
	"testing"

	"github.com/Mindburn-Labs/fabric/pkg/principal"
)

func TestContextRoundTrip(t *testing.T) {
	p := &principal.Base{ID: "user-1", TenantID: "tenant-a", Roles: []string{"admin"}}
	ctx := principal.WithPrincipal(context.Background(), p)

	got, err := principal.FromContext(ctx)
	if err != nil {
		t.Fatalf("expected principal in context: %v", err)
	}
	if got.GetID() != "user-1" {
		t.Errorf("expected id 'user-1', got %q", got.GetID())
	}

	tid, err := principal.TenantID(ctx)
	if err != nil {
		t.Fatalf("expected tenant in context: %v", err)
	}
	if tid != "tenant-a" {
		t.Errorf("expected tenant 'tenant-a', got %q", tid)
	}
}

func TestFromContext_Missing(t *testing.T) {
	if _, err := principal.FromContext(context.Background()); err == nil {
		t.Error("expected error for context without principal")
	}
	if _, err := principal.TenantID(context.Background()); err == nil {
		t.Error("expected error for tenant lookup without principal")
	}
}

func TestMustTenantID_PanicsWithoutPrincipal(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Error("expected panic for context without principal")
		}
	}()
	principal.MustTenantID(context.Background())
}

func TestHasRole(t *testing.T) {
	p := &principal.Base{ID: "svc", TenantID: "tenant-a", Roles: []string{"service", "reader"}}
	if !p.HasRole("service") {
		t.Error("expected HasRole to find 'service'")
	}
	if p.HasRole("admin") {
		t.Error("expected HasRole to reject 'admin'")
	}
}
