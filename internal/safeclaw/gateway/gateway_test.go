package gateway_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/safeclaw/safeclaw/internal/safeclaw/approvals"
	"github.com/safeclaw/safeclaw/internal/safeclaw/audit"
	"github.com/safeclaw/safeclaw/internal/safeclaw/gateway"
	"github.com/safeclaw/safeclaw/internal/safeclaw/memstore"
	"github.com/safeclaw/safeclaw/internal/safeclaw/procs"
	"github.com/safeclaw/safeclaw/internal/safeclaw/provider"
	"github.com/safeclaw/safeclaw/internal/safeclaw/registry"
	"github.com/safeclaw/safeclaw/internal/safeclaw/secretguard"
	"github.com/safeclaw/safeclaw/internal/safeclaw/skills"
	"github.com/safeclaw/safeclaw/internal/safeclaw/tools"
	"github.com/safeclaw/safeclaw/internal/safeclaw/workspace"
)

type fakeProvider struct {
	mu     sync.Mutex
	script []*provider.ChatResponse
	calls  int
}

func (f *fakeProvider) Name() string { return "fake" }

func (f *fakeProvider) Chat(_ context.Context, _ provider.ChatRequest) (*provider.ChatResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.calls >= len(f.script) {
		return nil, errors.New("fake provider: script exhausted")
	}
	resp := f.script[f.calls]
	f.calls++
	return resp, nil
}

func (f *fakeProvider) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

type fakeCreds struct{ prov provider.Provider }

func (f fakeCreds) Resolve() (provider.Provider, string, error) { return f.prov, "fake-model", nil }

type stubHost struct{}

func (stubHost) Shell(context.Context, string) (string, error) { return "", nil }
func (stubHost) ReadFile(string) (string, error)               { return "", errors.New("no file") }
func (stubHost) WriteFile(string, string) error                { return nil }

type env struct {
	gw      *gateway.Gateway
	reg     *registry.Registry
	appr    *approvals.Store
	log     *audit.Logger
	wsDir   string
	storage string
	notices []string
	mu      sync.Mutex
}

func (e *env) notified() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]string(nil), e.notices...)
}

type option func(*gateway.Config)

func withTTL(appr *approvals.Store) option {
	return func(cfg *gateway.Config) { cfg.Approvals = appr }
}

func withInactivity(d time.Duration) option {
	return func(cfg *gateway.Config) { cfg.Inactivity = d }
}

func newEnv(t *testing.T, prov provider.Provider, opts ...option) *env {
	t.Helper()
	home := t.TempDir()
	storage := filepath.Join(home, ".safeclaw")
	wsDir := filepath.Join(home, "work")
	ws, err := workspace.New(wsDir, home)
	if err != nil {
		t.Fatalf("workspace: %v", err)
	}
	guard := secretguard.New(storage, home)
	pr := procs.New(procs.Config{})
	t.Cleanup(pr.Close)
	mem, err := memstore.Open(filepath.Join(storage, "memory.json"))
	if err != nil {
		t.Fatalf("memstore: %v", err)
	}
	log, err := audit.NewLogger(filepath.Join(storage, "audit.jsonl"))
	if err != nil {
		t.Fatalf("audit: %v", err)
	}
	t.Cleanup(func() { log.Close() })
	sk, err := skills.NewManager(filepath.Join(storage, "skills"), stubHost{})
	if err != nil {
		t.Fatalf("skills: %v", err)
	}

	e := &env{
		reg:     registry.New(),
		appr:    approvals.NewStore(time.Minute),
		log:     log,
		wsDir:   ws.Dir(),
		storage: storage,
	}
	cfg := gateway.Config{
		Registry:   e.reg,
		Approvals:  e.appr,
		Runner:     tools.New(ws, guard, pr, mem),
		Skills:     sk,
		Procs:      pr,
		Audit:      log,
		Creds:      fakeCreds{prov: prov},
		StorageDir: storage,
		Notify: func(_ context.Context, text string) {
			e.mu.Lock()
			e.notices = append(e.notices, text)
			e.mu.Unlock()
		},
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.Approvals != e.appr {
		e.appr = cfg.Approvals
	}
	e.gw = gateway.New(cfg)
	return e
}

func auditTypes(t *testing.T, log *audit.Logger) map[string]int {
	t.Helper()
	events, err := log.Tail(50)
	if err != nil {
		t.Fatalf("audit tail: %v", err)
	}
	out := make(map[string]int)
	for _, ev := range events {
		out[ev.Type]++
	}
	return out
}

func TestDormantDropsFreeText(t *testing.T) {
	fake := &fakeProvider{}
	e := newEnv(t, fake)

	if reply := e.gw.HandleText(context.Background(), "hello"); reply != "" {
		t.Errorf("dormant reply = %q, want silence", reply)
	}
	if fake.callCount() != 0 {
		t.Error("dormant text must not reach the provider")
	}
	if e.gw.State() != gateway.StateDormant {
		t.Errorf("state = %s", e.gw.State())
	}
}

func TestWakeReportAndCleanSlate(t *testing.T) {
	fake := &fakeProvider{}
	e := newEnv(t, fake)

	// Persona and one prompt skill with a missing binary.
	if err := os.MkdirAll(filepath.Join(e.storage, "prompt-skills"), 0o700); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(e.storage, "soul.md"), []byte("Be terse."), 0o600); err != nil {
		t.Fatal(err)
	}
	skill := "---\nname: backups\nrequires: [no_such_binary_xyz123]\n---\nAlways use rsync."
	if err := os.WriteFile(filepath.Join(e.storage, "prompt-skills", "backups.md"), []byte(skill), 0o600); err != nil {
		t.Fatal(err)
	}

	report := e.gw.Wake(context.Background())
	for _, want := range []string{"awake", "soul.md loaded", "skipped backups", "no_such_binary_xyz123", "disabled"} {
		if !strings.Contains(report, want) {
			t.Errorf("wake report missing %q:\n%s", want, report)
		}
	}
	if e.gw.State() != gateway.StateAwake {
		t.Errorf("state = %s", e.gw.State())
	}
	if got := e.reg.Enabled(); len(got) != 0 {
		t.Errorf("enabled tools after wake = %d, want 0", len(got))
	}

	if reply := e.gw.Wake(context.Background()); !strings.Contains(reply, "already awake") {
		t.Errorf("double wake reply = %q", reply)
	}
}

func TestSleepTearsDown(t *testing.T) {
	fake := &fakeProvider{}
	e := newEnv(t, fake)

	e.gw.Wake(context.Background())
	e.reg.Enable("filesystem")
	e.reg.Enable("shell")

	reply := e.gw.Sleep(context.Background())
	if !strings.Contains(reply, "dormant") {
		t.Errorf("sleep reply = %q", reply)
	}
	if e.gw.State() != gateway.StateDormant {
		t.Errorf("state = %s", e.gw.State())
	}
	if got := e.reg.Enabled(); len(got) != 0 {
		t.Errorf("enabled tools after sleep = %d, want 0", len(got))
	}
	if reply := e.gw.Sleep(context.Background()); !strings.Contains(reply, "already dormant") {
		t.Errorf("double sleep reply = %q", reply)
	}
}

func TestDangerousSuspendThenConfirm(t *testing.T) {
	fake := &fakeProvider{script: []*provider.ChatResponse{
		{ToolCalls: []provider.ToolCall{{
			ID:   "call_w",
			Name: "write_file",
			Input: map[string]any{"path": "b.txt", "content": "x"},
		}}},
		{Text: "Written."},
	}}
	e := newEnv(t, fake)

	e.gw.Wake(context.Background())
	e.reg.Enable("filesystem")

	reply := e.gw.HandleText(context.Background(), "write x to b.txt")
	if !strings.Contains(reply, "Approval required") {
		t.Fatalf("reply = %q", reply)
	}
	if e.gw.State() != gateway.StateActionPending {
		t.Fatalf("state = %s", e.gw.State())
	}
	if _, err := os.Stat(filepath.Join(e.wsDir, "b.txt")); !errors.Is(err, os.ErrNotExist) {
		t.Fatal("file must not exist before approval")
	}

	// Free text while pending re-shows the list instead of running.
	before := fake.callCount()
	list := e.gw.HandleText(context.Background(), "so?")
	if !strings.Contains(list, "waiting on your decision") {
		t.Errorf("pending reply = %q", list)
	}
	if fake.callCount() != before {
		t.Error("pending free text must not reach the provider")
	}

	pending := e.appr.Pending()
	if len(pending) != 1 {
		t.Fatalf("pending = %d", len(pending))
	}
	out := e.gw.Confirm(context.Background(), pending[0].ID)
	if !strings.Contains(out, "Approved.") || !strings.Contains(out, "Written.") {
		t.Errorf("confirm reply = %q", out)
	}
	data, err := os.ReadFile(filepath.Join(e.wsDir, "b.txt"))
	if err != nil || string(data) != "x" {
		t.Errorf("b.txt = %q, err %v", data, err)
	}
	if e.gw.State() != gateway.StateAwake {
		t.Errorf("state = %s", e.gw.State())
	}
	types := auditTypes(t, e.log)
	if types["approval_created"] != 1 || types["approval_approved"] != 1 {
		t.Errorf("audit counts = %v", types)
	}
}

func TestDenyReturnsToAwake(t *testing.T) {
	fake := &fakeProvider{script: []*provider.ChatResponse{
		{ToolCalls: []provider.ToolCall{{
			ID:   "call_d",
			Name: "exec_shell",
			Input: map[string]any{"command": "rm -rf /tmp/x"},
		}}},
	}}
	e := newEnv(t, fake)

	e.gw.Wake(context.Background())
	e.reg.Enable("shell")
	e.gw.HandleText(context.Background(), "clean up")

	pending := e.appr.Pending()
	if len(pending) != 1 {
		t.Fatalf("pending = %d", len(pending))
	}
	ack := e.gw.Deny(context.Background(), pending[0].ID)
	if !strings.Contains(ack, "Denied") {
		t.Errorf("ack = %q", ack)
	}
	if e.gw.State() != gateway.StateAwake {
		t.Errorf("state = %s", e.gw.State())
	}
	if auditTypes(t, e.log)["approval_denied"] != 1 {
		t.Error("approval_denied not audited")
	}
}

func TestExpiredTicketReported(t *testing.T) {
	fake := &fakeProvider{script: []*provider.ChatResponse{
		{ToolCalls: []provider.ToolCall{{
			ID:   "call_w",
			Name: "write_file",
			Input: map[string]any{"path": "b.txt", "content": "x"},
		}}},
	}}
	e := newEnv(t, fake, withTTL(approvals.NewStore(10*time.Millisecond)))

	e.gw.Wake(context.Background())
	e.reg.Enable("filesystem")
	e.gw.HandleText(context.Background(), "write it")

	pending := e.appr.Pending()
	if len(pending) != 1 {
		t.Fatalf("pending = %d", len(pending))
	}
	id := pending[0].ID
	time.Sleep(30 * time.Millisecond)

	out := e.gw.Confirm(context.Background(), id)
	if !strings.Contains(out, "expired without a decision") {
		t.Errorf("confirm reply = %q", out)
	}
	if !strings.Contains(out, "No pending approval") {
		t.Errorf("confirm reply = %q", out)
	}
	if e.gw.State() != gateway.StateAwake {
		t.Errorf("state = %s", e.gw.State())
	}
	if _, err := os.Stat(filepath.Join(e.wsDir, "b.txt")); !errors.Is(err, os.ErrNotExist) {
		t.Error("expired approval must not execute")
	}
	if auditTypes(t, e.log)["approval_expired"] != 1 {
		t.Error("approval_expired not audited")
	}
}

func TestAutoSleepNotifies(t *testing.T) {
	fake := &fakeProvider{}
	e := newEnv(t, fake, withInactivity(40*time.Millisecond))

	e.gw.Wake(context.Background())
	time.Sleep(120 * time.Millisecond)

	if e.gw.State() != gateway.StateDormant {
		t.Fatalf("state = %s, want dormant", e.gw.State())
	}
	notices := e.notified()
	if len(notices) != 1 || !strings.Contains(notices[0], "inactivity") {
		t.Errorf("notices = %v", notices)
	}
	if auditTypes(t, e.log)["auto_sleep"] != 1 {
		t.Error("auto_sleep not audited")
	}
	if reply := e.gw.HandleText(context.Background(), "hi"); reply != "" {
		t.Errorf("post-sleep text reply = %q, want silence", reply)
	}
}

func TestActivityDefersAutoSleep(t *testing.T) {
	fake := &fakeProvider{script: []*provider.ChatResponse{
		{Text: "here"}, {Text: "still here"},
	}}
	e := newEnv(t, fake, withInactivity(80*time.Millisecond))

	e.gw.Wake(context.Background())
	time.Sleep(50 * time.Millisecond)
	e.gw.HandleText(context.Background(), "ping")
	time.Sleep(50 * time.Millisecond)

	if e.gw.State() != gateway.StateAwake {
		t.Fatalf("state = %s, activity should defer auto-sleep", e.gw.State())
	}
	e.gw.HandleText(context.Background(), "ping again")
	time.Sleep(150 * time.Millisecond)
	if e.gw.State() != gateway.StateDormant {
		t.Errorf("state = %s, want dormant after quiet period", e.gw.State())
	}
}

func TestKillIsTerminal(t *testing.T) {
	fake := &fakeProvider{}
	e := newEnv(t, fake)

	e.gw.Wake(context.Background())
	reply := e.gw.Kill(context.Background())
	if !strings.Contains(reply, "Shutting down") {
		t.Errorf("kill reply = %q", reply)
	}
	if e.gw.State() != gateway.StateShutdown {
		t.Errorf("state = %s", e.gw.State())
	}
	select {
	case <-e.gw.Done():
	default:
		t.Error("Done must be closed after kill")
	}
	if reply := e.gw.Wake(context.Background()); reply != "" {
		t.Errorf("wake after kill = %q, shutdown is terminal", reply)
	}
}

func TestBatchConfirmAll(t *testing.T) {
	fake := &fakeProvider{script: []*provider.ChatResponse{
		{ToolCalls: []provider.ToolCall{
			{ID: "c1", Name: "write_file", Input: map[string]any{"path": "a.txt", "content": "a"}},
			{ID: "c2", Name: "write_file", Input: map[string]any{"path": "b.txt", "content": "b"}},
		}},
		{Text: "Both written."},
	}}
	e := newEnv(t, fake)

	e.gw.Wake(context.Background())
	e.reg.Enable("filesystem")
	reply := e.gw.HandleText(context.Background(), "write both")
	if !strings.Contains(reply, "2 actions") {
		t.Fatalf("reply = %q", reply)
	}
	batch := e.appr.Pending()[0].BatchID
	if batch == "" {
		t.Fatal("batch id missing")
	}

	out := e.gw.ConfirmAll(context.Background(), batch)
	if !strings.Contains(out, "Both written.") {
		t.Errorf("confirm-all reply = %q", out)
	}
	for _, name := range []string{"a.txt", "b.txt"} {
		if _, err := os.Stat(filepath.Join(e.wsDir, name)); err != nil {
			t.Errorf("%s not written: %v", name, err)
		}
	}
	if e.gw.State() != gateway.StateAwake {
		t.Errorf("state = %s", e.gw.State())
	}
}

func TestBatchConfirmOneAtATime(t *testing.T) {
	fake := &fakeProvider{script: []*provider.ChatResponse{
		{ToolCalls: []provider.ToolCall{
			{ID: "c1", Name: "write_file", Input: map[string]any{"path": "a.txt", "content": "a"}},
			{ID: "c2", Name: "write_file", Input: map[string]any{"path": "b.txt", "content": "b"}},
		}},
		{Text: "Both written."},
	}}
	e := newEnv(t, fake)

	e.gw.Wake(context.Background())
	e.reg.Enable("filesystem")
	e.gw.HandleText(context.Background(), "write both")
	pending := e.appr.Pending()
	if len(pending) != 2 {
		t.Fatalf("pending = %d, want 2", len(pending))
	}

	out := e.gw.Confirm(context.Background(), pending[0].ID)
	if fake.callCount() != 1 {
		t.Fatalf("provider calls = %d; the sibling ticket is still unanswered", fake.callCount())
	}
	if !strings.Contains(out, "still pending") {
		t.Errorf("partial-confirm reply = %q", out)
	}
	if _, err := os.Stat(filepath.Join(e.wsDir, "a.txt")); err != nil {
		t.Errorf("approved action not executed: %v", err)
	}
	if _, err := os.Stat(filepath.Join(e.wsDir, "b.txt")); !errors.Is(err, os.ErrNotExist) {
		t.Error("undecided action must not run")
	}
	if e.gw.State() != gateway.StateActionPending {
		t.Errorf("state = %s, want action_pending", e.gw.State())
	}

	out = e.gw.Confirm(context.Background(), pending[1].ID)
	if !strings.Contains(out, "Both written.") {
		t.Errorf("final confirm reply = %q", out)
	}
	if _, err := os.Stat(filepath.Join(e.wsDir, "b.txt")); err != nil {
		t.Errorf("b.txt not written: %v", err)
	}
	if e.gw.State() != gateway.StateAwake {
		t.Errorf("state = %s, want awake", e.gw.State())
	}
}

func TestStatusRendering(t *testing.T) {
	fake := &fakeProvider{}
	e := newEnv(t, fake)

	out := e.gw.Status()
	if !strings.Contains(out, "dormant") || !strings.Contains(out, "fake/fake-model") {
		t.Errorf("status = %q", out)
	}

	e.gw.Wake(context.Background())
	e.reg.Enable("memory")
	out = e.gw.Status()
	if !strings.Contains(out, "awake") || !strings.Contains(out, "memory") {
		t.Errorf("status = %q", out)
	}
}
