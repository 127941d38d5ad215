package approvals_test

import (
	"strings"
	"testing"
	"time"

	"github.com/safeclaw/safeclaw/internal/safeclaw/approvals"
)

func newTestStore(ttl time.Duration) *approvals.Store {
	return approvals.NewStore(ttl)
}

func TestCreateAndApprove(t *testing.T) {
	s := newTestStore(time.Minute)

	req := s.Create(approvals.Spec{
		ToolName:   "filesystem",
		Action:     "write_file",
		Params:     map[string]any{"path": "notes.md"},
		Summary:    "write 42 bytes to notes.md",
		ToolCallID: "call_1",
	})

	if len(req.ID) != 12 {
		t.Errorf("ID length = %d, want 12 hex chars", len(req.ID))
	}
	if !req.ExpiresAt.After(req.CreatedAt) {
		t.Error("ExpiresAt should be after CreatedAt")
	}

	got, ok := s.Approve(req.ID)
	if !ok {
		t.Fatal("Approve returned ok=false for a pending request")
	}
	if got.ToolCallID != "call_1" {
		t.Errorf("ToolCallID = %q, want %q", got.ToolCallID, "call_1")
	}

	// Resolution removes the request; a second decision finds nothing.
	if _, ok := s.Approve(req.ID); ok {
		t.Error("second Approve should report the request as gone")
	}
	if _, ok := s.Deny(req.ID); ok {
		t.Error("Deny after Approve should report the request as gone")
	}
}

func TestDenyRemoves(t *testing.T) {
	s := newTestStore(time.Minute)
	req := s.Create(approvals.Spec{ToolName: "shell", Action: "exec_shell"})

	if _, ok := s.Deny(req.ID); !ok {
		t.Fatal("Deny returned ok=false for a pending request")
	}
	if got := s.Pending(); len(got) != 0 {
		t.Errorf("Pending after deny = %d requests, want 0", len(got))
	}
}

func TestUnknownID(t *testing.T) {
	s := newTestStore(time.Minute)
	if _, ok := s.Approve("deadbeef0000"); ok {
		t.Error("Approve of unknown ID should return ok=false")
	}
}

func TestPendingOrder(t *testing.T) {
	s := newTestStore(time.Minute)
	a := s.Create(approvals.Spec{ToolName: "shell", Action: "exec_shell"})
	b := s.Create(approvals.Spec{ToolName: "filesystem", Action: "delete_file"})
	c := s.Create(approvals.Spec{ToolName: "filesystem", Action: "move_file"})

	got := s.Pending()
	if len(got) != 3 {
		t.Fatalf("Pending = %d requests, want 3", len(got))
	}
	for i, want := range []string{a.ID, b.ID, c.ID} {
		if got[i].ID != want {
			t.Errorf("Pending[%d].ID = %s, want %s", i, got[i].ID, want)
		}
	}
}

func TestBatchResolution(t *testing.T) {
	s := newTestStore(time.Minute)
	batch := "turn-xyz"
	s.Create(approvals.Spec{ToolName: "filesystem", Action: "write_file", BatchID: batch})
	s.Create(approvals.Spec{ToolName: "shell", Action: "exec_shell", BatchID: batch})
	solo := s.Create(approvals.Spec{ToolName: "filesystem", Action: "delete_file"})

	resolved := s.ResolveBatch(batch)
	if len(resolved) != 2 {
		t.Fatalf("ResolveBatch = %d requests, want 2", len(resolved))
	}
	if resolved[0].Action != "write_file" || resolved[1].Action != "exec_shell" {
		t.Errorf("batch resolved out of order: %s, %s", resolved[0].Action, resolved[1].Action)
	}

	// The solo request is untouched.
	if _, ok := s.Get(solo.ID); !ok {
		t.Error("request outside the batch should still be pending")
	}

	// Empty batch IDs never match anything.
	if got := s.ResolveBatch(""); len(got) != 0 {
		t.Errorf("ResolveBatch(\"\") = %d requests, want 0", len(got))
	}
}

func TestSingle(t *testing.T) {
	s := newTestStore(time.Minute)

	if _, ok := s.Single(); ok {
		t.Error("Single on empty store should return ok=false")
	}

	only := s.Create(approvals.Spec{ToolName: "shell", Action: "exec_shell"})
	got, ok := s.Single()
	if !ok || got.ID != only.ID {
		t.Errorf("Single = (%v, %v), want the only pending request", got, ok)
	}

	s.Create(approvals.Spec{ToolName: "filesystem", Action: "write_file"})
	if _, ok := s.Single(); ok {
		t.Error("Single with two pending requests should return ok=false")
	}
}

func TestExpiry(t *testing.T) {
	s := newTestStore(10 * time.Millisecond)
	req := s.Create(approvals.Spec{ToolName: "shell", Action: "exec_shell", ToolCallID: "call_9"})

	time.Sleep(30 * time.Millisecond)

	// Confirming after the deadline finds nothing.
	if _, ok := s.Approve(req.ID); ok {
		t.Fatal("Approve after expiry should return ok=false")
	}

	expired := s.TakeExpired()
	if len(expired) != 1 || expired[0].ID != req.ID {
		t.Fatalf("TakeExpired = %v, want the lapsed request", expired)
	}

	// Drained once, gone for good.
	if again := s.TakeExpired(); len(again) != 0 {
		t.Errorf("second TakeExpired = %d requests, want 0", len(again))
	}
}

func TestExpirySweepOnRead(t *testing.T) {
	s := newTestStore(10 * time.Millisecond)
	s.Create(approvals.Spec{ToolName: "shell", Action: "exec_shell"})

	time.Sleep(30 * time.Millisecond)

	if got := s.Pending(); len(got) != 0 {
		t.Errorf("Pending after TTL = %d requests, want 0", len(got))
	}
}

func TestClear(t *testing.T) {
	s := newTestStore(time.Minute)
	s.Create(approvals.Spec{ToolName: "shell", Action: "exec_shell"})
	s.Create(approvals.Spec{ToolName: "filesystem", Action: "write_file"})

	cleared := s.Clear()
	if len(cleared) != 2 {
		t.Fatalf("Clear = %d requests, want 2", len(cleared))
	}
	if got := s.Pending(); len(got) != 0 {
		t.Errorf("Pending after Clear = %d requests, want 0", len(got))
	}
}

func TestFormatRequest(t *testing.T) {
	s := newTestStore(time.Minute)
	req := s.Create(approvals.Spec{
		ToolName: "shell",
		Action:   "exec_shell",
		Summary:  "rm -rf build/",
	})

	msg := approvals.FormatRequest(req)
	for _, want := range []string{"shell.exec_shell", req.ID, "/confirm " + req.ID, "/deny " + req.ID, "rm -rf build/"} {
		if !strings.Contains(msg, want) {
			t.Errorf("FormatRequest missing %q:\n%s", want, msg)
		}
	}
}

func TestFormatBatch(t *testing.T) {
	s := newTestStore(time.Minute)
	batch := "b-123"
	r1 := s.Create(approvals.Spec{ToolName: "filesystem", Action: "write_file", BatchID: batch})
	r2 := s.Create(approvals.Spec{ToolName: "shell", Action: "exec_shell", BatchID: batch})

	msg := approvals.FormatBatch(batch, []*approvals.Request{r1, r2})
	for _, want := range []string{"2 actions", r1.ID, r2.ID, "/confirm all " + batch, "/deny all " + batch} {
		if !strings.Contains(msg, want) {
			t.Errorf("FormatBatch missing %q:\n%s", want, msg)
		}
	}
}

func TestFormatPendingList(t *testing.T) {
	if got := approvals.FormatPendingList(nil); !strings.Contains(got, "Nothing") {
		t.Errorf("empty list message = %q", got)
	}

	s := newTestStore(time.Minute)
	req := s.Create(approvals.Spec{ToolName: "patch", Action: "apply_patch", Summary: "2 files"})
	msg := approvals.FormatPendingList([]*approvals.Request{req})
	if !strings.Contains(msg, req.ID) || !strings.Contains(msg, "patch.apply_patch") {
		t.Errorf("FormatPendingList missing request details:\n%s", msg)
	}
}
