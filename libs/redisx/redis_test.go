package redisx

import (
	"context"
	"testing"

	"github.com/alicebob/miniredis/v2"
)

func TestOpen(t *testing.T) {
	mr := miniredis.RunT(t)

	rdb, err := Open(context.Background(), Config{Addr: mr.Addr()})
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer rdb.Close()

	if err := ReadyCheck(rdb)(context.Background()); err != nil {
		t.Fatalf("ready check: %v", err)
	}
}

func TestOpenRequiresAddr(t *testing.T) {
	if _, err := Open(context.Background(), Config{}); err == nil {
		t.Fatal("expected error without addr")
	}
}

func TestOpenUnreachable(t *testing.T) {
	mr := miniredis.RunT(t)
	addr := mr.Addr()
	mr.Close()

	if _, err := Open(context.Background(), Config{Addr: addr}); err == nil {
		t.Fatal("expected ping failure against closed server")
	}
}
