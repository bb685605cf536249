package services_test

import (
	"context"
	"testing"

	"discflow/internal/services"
)

func TestContextHelpers(t *testing.T) {
	ctx := context.Background()
	ctx = services.WithPlugin(ctx, "bdrom-reader")
	ctx = services.WithStage(ctx, "scan")
	ctx = services.WithRequestID(ctx, "req-123")

	if id, ok := services.PluginFromContext(ctx); !ok || id != "bdrom-reader" {
		t.Fatalf("unexpected plugin id: %v %v", id, ok)
	}
	if stage, ok := services.StageFromContext(ctx); !ok || stage != "scan" {
		t.Fatalf("unexpected stage: %v %v", stage, ok)
	}
	if rid, ok := services.RequestIDFromContext(ctx); !ok || rid != "req-123" {
		t.Fatalf("unexpected request id: %v %v", rid, ok)
	}
}

func TestStageBlankPreservesContext(t *testing.T) {
	ctx := context.Background()
	ctx = services.WithStage(ctx, "")
	if _, ok := services.StageFromContext(ctx); ok {
		t.Fatal("expected no stage value")
	}
	ctx = services.WithPlugin(ctx, "")
	if _, ok := services.PluginFromContext(ctx); ok {
		t.Fatal("expected no plugin value")
	}
}
