package otel

import (
	"context"
	"testing"
)

func TestInitRequiresServiceName(t *testing.T) {
	if _, err := Init(context.Background(), Config{Traces: true}); err == nil {
		t.Fatalf("expected error without service name")
	}
}

func TestInitDisabledIsNoop(t *testing.T) {
	shutdown, err := Init(context.Background(), Config{ServiceName: "vaultd"})
	if err != nil {
		t.Fatalf("init: %v", err)
	}
	if err := shutdown(context.Background()); err != nil {
		t.Fatalf("shutdown: %v", err)
	}
}

func TestParseHeaders(t *testing.T) {
	got := ParseHeaders("authorization=Bearer x, ,bad, =skip,tenant = vault ")
	if len(got) != 2 || got["authorization"] != "Bearer x" || got["tenant"] != "vault" {
		t.Fatalf("unexpected headers %v", got)
	}
}
