package requestid

import (
	"context"
	"testing"
)

func TestContextRoundTrip(t *testing.T) {
	ctx := WithID(context.Background(), " rid-1 ")
	got, ok := FromContext(ctx)
	if !ok || got != "rid-1" {
		t.Fatalf("expected rid-1 got %q (ok=%v)", got, ok)
	}
	if _, ok := FromContext(WithID(context.Background(), "  ")); ok {
		t.Fatalf("blank id must not be stored")
	}
	if New() == New() {
		t.Fatalf("expected unique ids")
	}
}
