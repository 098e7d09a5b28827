package store

import (
	"context"
	"testing"
)

func TestNewDBMalformedDSN(t *testing.T) {
	db, err := NewDB("://not-a-dsn")
	if err == nil {
		t.Fatal("malformed DSN must fail")
	}
	if db != nil {
		t.Fatal("no handle should be returned for a malformed DSN")
	}
	// Callers that only warn must still be able to probe the nil handle.
	if db.Healthy(context.Background()) {
		t.Fatal("nil handle must report unhealthy")
	}
	if err := db.Close(); err != nil {
		t.Fatalf("closing a nil handle must be a no-op, got %v", err)
	}
}
