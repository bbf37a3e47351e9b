package common

import (
	"context"
	"testing"
	"time"
)

// TestWithRunID tests run ID functionality
func TestWithRunID(t *testing.T) {
	ctx := WithRunID(context.Background())

	runID := GetRunID(ctx)
	if runID == "" || runID == "unknown" {
		t.Errorf("Expected a generated run ID, got %q", runID)
	}
	if other := GetRunID(WithRunID(context.Background())); other == runID {
		t.Error("Run IDs should be unique")
	}
	if GetRunID(context.Background()) != "unknown" {
		t.Error("Missing run ID should read as unknown")
	}
}

func TestDomainAndOperation(t *testing.T) {
	ctx := WithOperation(WithDomain(context.Background(), "example.com"), "renew")
	if GetDomain(ctx) != "example.com" {
		t.Errorf("GetDomain = %q", GetDomain(ctx))
	}
	if GetOperation(ctx) != "renew" {
		t.Errorf("GetOperation = %q", GetOperation(ctx))
	}
	if GetDomain(context.Background()) != "" || GetOperation(context.Background()) != "" {
		t.Error("Empty context should carry no values")
	}
}

func TestGetContextError(t *testing.T) {
	if GetContextError(context.Background(), "op") != nil {
		t.Error("Live context should yield no error")
	}

	ctx, cancel := context.WithCancel(WithOperation(WithDomain(WithRunID(context.Background()), "example.com"), "deploying"))
	cancel()
	if !IsContextCanceled(ctx) {
		t.Error("IsContextCanceled should report a canceled context")
	}
	appErr := GetContextError(ctx, "renew")
	if appErr.Type != ErrorTypeValidation || appErr.Message != "Operation was canceled" {
		t.Errorf("unexpected error %v", appErr)
	}
	if appErr.Context["domain"] != "example.com" || appErr.Context["run_id"] != GetRunID(ctx) || appErr.Context["stage"] != "deploying" {
		t.Errorf("context missing: %v", appErr.Context)
	}

	ctx, cancel = context.WithTimeout(context.Background(), time.Nanosecond)
	defer cancel()
	<-ctx.Done()
	appErr = GetContextError(ctx, "check certificate")
	if appErr.Type != ErrorTypeNetwork {
		t.Errorf("deadline should map to NETWORK, got %s", appErr.Type)
	}
	if _, ok := appErr.Context["stage"]; ok {
		t.Error("no stage on a context without one")
	}
}
