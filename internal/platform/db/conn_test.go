package db

import (
	"context"
	"errors"
	"testing"
)

func TestConnFromContext_Nil(t *testing.T) {
	if c := ConnFromContext(context.Background()); c != nil {
		t.Errorf("expected nil connection, got %v", c)
	}
}

func TestConn_FallsBack(t *testing.T) {
	var fallback Querier
	if got := Conn(context.Background(), fallback); got != nil {
		t.Errorf("expected fallback, got %v", got)
	}
}

func TestNoScope_RunsInline(t *testing.T) {
	ctx := context.WithValue(context.Background(), contextKey("k"), "v")
	called := false

	err := NoScope{}.Scoped(ctx, func(inner context.Context) error {
		called = true
		if inner.Value(contextKey("k")) != "v" {
			t.Error("expected caller context to be passed through")
		}
		return nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !called {
		t.Error("expected fn to be called")
	}
}

func TestNoScope_PropagatesError(t *testing.T) {
	want := errors.New("boom")
	if err := (NoScope{}).Scoped(context.Background(), func(context.Context) error { return want }); !errors.Is(err, want) {
		t.Errorf("expected %v, got %v", want, err)
	}
}
