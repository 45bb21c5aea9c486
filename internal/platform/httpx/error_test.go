package httpx

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/chobo-shop/api/internal/platform/requestctx"
)

func TestWriteErrorEnvelope(t *testing.T) {
	ctx := requestctx.WithTrace(context.Background(), requestctx.TraceInfo{TraceID: "trace-1"})
	rr := httptest.NewRecorder()

	err := NewError("cart_item_not_found", "item\nmissing", http.StatusNotFound).
		WithDetails(map[string]any{"notices": []string{"gone"}}).
		WithDetails(map[string]any{"productId": "sku-1", "status": 999})
	WriteError(ctx, rr, err)

	if rr.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rr.Code)
	}
	if rr.Header().Get("Cache-Control") != "no-store" {
		t.Fatalf("expected no-store header")
	}

	var body map[string]any
	if decodeErr := json.Unmarshal(rr.Body.Bytes(), &body); decodeErr != nil {
		t.Fatalf("decode: %v", decodeErr)
	}
	if body["error"] != "cart_item_not_found" || body["message"] != "item missing" {
		t.Fatalf("unexpected envelope: %v", body)
	}
	if body["status"] != float64(http.StatusNotFound) {
		t.Fatalf("details must not override status, got %v", body["status"])
	}
	if body["trace_id"] != "trace-1" || body["productId"] != "sku-1" || body["notices"] == nil {
		t.Fatalf("expected trace id and merged details, got %v", body)
	}
}

func TestNewErrorDefaultsStatus(t *testing.T) {
	if got := NewError("x", "y", 0).Status; got != http.StatusInternalServerError {
		t.Fatalf("expected 500 default, got %d", got)
	}
}
