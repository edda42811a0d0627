package syncq

import (
	"encoding/json"
	"errors"
	"testing"
)

func TestPushLoadDrain(t *testing.T) {
	t.Setenv("HOME", t.TempDir())

	if got, err := Load(); err != nil || len(got) != 0 {
		t.Fatalf("empty queue: %v %v", got, err)
	}
	for _, key := range []string{"k1", "k2", "k3"} {
		if err := Push(Command{Method: "POST", Path: "/v1/teams/t1/decisions", Body: json.RawMessage(`{"quarter":1}`), IdempotencyKey: key}); err != nil {
			t.Fatalf("push: %v", err)
		}
	}

	var seen []string
	sent, errs, err := Drain(func(c Command) (bool, error) {
		seen = append(seen, c.IdempotencyKey)
		switch c.IdempotencyKey {
		case "k1":
			return false, nil
		case "k2":
			return false, errors.New("rejected")
		default:
			return true, errors.New("offline")
		}
	})
	if err != nil {
		t.Fatalf("drain: %v", err)
	}
	if sent != 1 || len(errs) != 2 || len(seen) != 3 {
		t.Fatalf("sent=%d errs=%v seen=%v", sent, errs, seen)
	}

	left, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(left) != 1 || left[0].IdempotencyKey != "k3" || left[0].QueuedAt.IsZero() {
		t.Fatalf("unexpected remaining queue: %+v", left)
	}
	if string(left[0].Body) != `{"quarter":1}` {
		t.Fatalf("body not preserved: %s", left[0].Body)
	}

	sent, _, err = Drain(func(Command) (bool, error) { return false, nil })
	if err != nil || sent != 1 {
		t.Fatalf("second drain: sent=%d err=%v", sent, err)
	}
	if left, _ := Load(); len(left) != 0 {
		t.Fatalf("queue should be empty: %+v", left)
	}
}

func TestLoadKeepsBodiesCompact(t *testing.T) {
	t.Setenv("HOME", t.TempDir())

	body := json.RawMessage(`{"quarter":2,"allocations":[{"city":"Pune","percentage":100}]}`)
	if err := Push(Command{Method: "POST", Path: "/v1/teams/t1/decisions", Body: body, IdempotencyKey: "k"}); err != nil {
		t.Fatalf("push: %v", err)
	}
	got, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(got) != 1 || string(got[0].Body) != string(body) {
		t.Fatalf("body changed across save/load: %+v", got)
	}
}
