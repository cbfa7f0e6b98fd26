package model

import (
	"context"
	"testing"
)

func TestRequestContext_Validate(t *testing.T) {
	rc := &RequestContext{ClientID: "client-1"}
	if err := rc.Validate(); err != nil {
		t.Errorf("Validate() error = %v, want nil", err)
	}

	rc = &RequestContext{}
	if err := rc.Validate(); err == nil {
		t.Error("Validate() should fail without ClientID")
	}
}

func TestRequestContext_HasRole(t *testing.T) {
	rc := &RequestContext{Roles: []string{"hr.manager", "employee"}}
	if !rc.HasRole("employee") {
		t.Error("HasRole(employee) = false, want true")
	}
	if rc.HasRole("admin") {
		t.Error("HasRole(admin) = true, want false")
	}
}

func TestRequestContext_roundTrip(t *testing.T) {
	rctx := &RequestContext{ClientID: "client-1", CorrelationID: "corr-1"}
	ctx := WithRequestContext(context.Background(), rctx)

	got := RequestContextFrom(ctx)
	if got != rctx {
		t.Error("RequestContextFrom did not return the stored value")
	}

	if RequestContextFrom(context.Background()) != nil {
		t.Error("RequestContextFrom on empty context should be nil")
	}
}

func TestMustRequestContext_panics(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Error("MustRequestContext should panic without a RequestContext")
		}
	}()
	MustRequestContext(context.Background())
}
