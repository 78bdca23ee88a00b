package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"storefront/internal/chat"
	"storefront/internal/config"
	"storefront/internal/protocol"
	"storefront/internal/state"
	"storefront/internal/transport"
)

// executeCmd runs the root command against an isolated profile directory.
func executeCmd(t *testing.T, dir string, args ...string) (string, error) {
	t.Helper()
	config.Reset()
	t.Cleanup(config.Reset)
	t.Setenv("STOREFRONT_STORAGE_PATH", filepath.Join(dir, "profile.db"))

	root := NewRootCmd()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(append([]string{"--quiet", "--config", filepath.Join(dir, "config.yaml")}, args...))
	err := root.ExecuteContext(context.Background())
	return out.String(), err
}

func TestEffectiveLogLevel(t *testing.T) {
	tests := []struct {
		name  string
		flags GlobalFlags
		want  string
	}{
		{"configured", GlobalFlags{}, "warn"},
		{"verbose", GlobalFlags{Verbose: true}, "debug"},
		{"quiet", GlobalFlags{Quiet: true}, "error"},
		{"verbose wins", GlobalFlags{Verbose: true, Quiet: true}, "debug"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, effectiveLogLevel("warn", tt.flags))
		})
	}
}

func TestPrintVersion(t *testing.T) {
	info := BuildInfo{Version: "1.2.3", GitCommit: "abc", BuildTime: "now", GoVersion: "go1.24", OS: "linux", Arch: "amd64"}

	var text bytes.Buffer
	require.NoError(t, printVersion(&text, info, false))
	assert.Contains(t, text.String(), "storefront 1.2.3")
	assert.Contains(t, text.String(), "linux/amd64")

	var js bytes.Buffer
	require.NoError(t, printVersion(&js, info, true))
	var decoded BuildInfo
	require.NoError(t, json.Unmarshal(js.Bytes(), &decoded))
	assert.Equal(t, info, decoded)
}

func TestSessionCommands(t *testing.T) {
	dir := t.TempDir()

	first, err := executeCmd(t, dir, "session", "id")
	require.NoError(t, err)
	first = strings.TrimSpace(first)
	assert.True(t, strings.HasPrefix(first, "session_"))

	again, err := executeCmd(t, dir, "session", "id")
	require.NoError(t, err)
	assert.Equal(t, first, strings.TrimSpace(again))

	out, err := executeCmd(t, dir, "session", "forget")
	require.NoError(t, err)
	assert.Contains(t, out, "forgotten")

	fresh, err := executeCmd(t, dir, "session", "id")
	require.NoError(t, err)
	assert.NotEqual(t, first, strings.TrimSpace(fresh))
}

func TestConfigCommands(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")

	out, err := executeCmd(t, dir, "config", "path")
	require.NoError(t, err)
	assert.Equal(t, path, strings.TrimSpace(out))

	out, err = executeCmd(t, dir, "config", "init")
	require.NoError(t, err)
	assert.Contains(t, out, path)

	_, err = executeCmd(t, dir, "config", "init")
	assert.Error(t, err)

	_, err = executeCmd(t, dir, "config", "init", "--force")
	require.NoError(t, err)

	out, err = executeCmd(t, dir, "config", "show")
	require.NoError(t, err)
	assert.Contains(t, out, "http://localhost:8000")
	assert.Contains(t, out, "reconnect_delay: 3s")
}

// fakeSession records what the interactive loop asks of it.
type fakeSession struct {
	store      *state.Store
	online     bool
	submitted  []string
	resets     int
	transcript []chat.Message
}

func newFakeSession(online bool) *fakeSession {
	return &fakeSession{store: state.NewStore(), online: online}
}

func (f *fakeSession) ID() string          { return "session_cli" }
func (f *fakeSession) Store() *state.Store { return f.store }
func (f *fakeSession) ConnState() transport.State {
	if f.online {
		return transport.Open
	}
	return transport.Disconnected
}
func (f *fakeSession) Submit(text string) bool {
	f.submitted = append(f.submitted, text)
	return f.online
}
func (f *fakeSession) ResetSession() bool {
	f.resets++
	return f.online
}
func (f *fakeSession) Transcript() []chat.Message { return f.transcript }

func TestRepl_Run(t *testing.T) {
	s := newFakeSession(true)
	var out bytes.Buffer
	r := &repl{s: s, out: &out}

	in := strings.NewReader("hello\n\n  /reset  \n/help\nexit\nnever sent\n")
	require.NoError(t, r.run(context.Background(), in))

	assert.Equal(t, []string{"hello"}, s.submitted)
	assert.Equal(t, 1, s.resets)
	assert.Contains(t, out.String(), "/history")
	assert.Contains(t, out.String(), "Goodbye!")
}

func TestRepl_RunEndsOnEOF(t *testing.T) {
	s := newFakeSession(true)
	r := &repl{s: s, out: &bytes.Buffer{}}

	require.NoError(t, r.run(context.Background(), strings.NewReader("one\ntwo")))
	assert.Equal(t, []string{"one", "two"}, s.submitted)
}

func TestRepl_RunEndsOnCancel(t *testing.T) {
	s := newFakeSession(true)
	var out bytes.Buffer
	r := &repl{s: s, out: &out}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	require.NoError(t, r.run(ctx, blockingReader{}))
	assert.Contains(t, out.String(), "Goodbye!")
}

type blockingReader struct{}

func (blockingReader) Read([]byte) (int, error) {
	time.Sleep(time.Hour)
	return 0, nil
}

func TestRepl_ResetWhileOffline(t *testing.T) {
	var out bytes.Buffer
	r := &repl{s: newFakeSession(false), out: &out}

	assert.True(t, r.handle("/reset"))
	assert.Contains(t, out.String(), chat.OfflineNotice)
}

func TestRepl_StateAndCart(t *testing.T) {
	s := newFakeSession(true)
	s.store.SetAgent(state.AgentNegotiator)
	var out bytes.Buffer
	r := &repl{s: s, out: &out}

	r.handle("/cart")
	assert.Contains(t, out.String(), "[cart] empty")

	out.Reset()
	r.handle("/state")
	assert.Contains(t, out.String(), "connection: open")
	assert.Contains(t, out.String(), `"current_agent": "Negotiator"`)
}

func TestRepl_History(t *testing.T) {
	s := newFakeSession(true)
	s.transcript = []chat.Message{
		{ID: 1, Role: chat.RoleUser, Text: "hi"},
		{ID: 2, Role: chat.RoleAssistant, Text: "hello there"},
	}

	var plain bytes.Buffer
	(&repl{s: s, out: &plain}).handle("/history")
	assert.Equal(t, "user: hi\nassistant: hello there\n", plain.String())

	var rendered bytes.Buffer
	(&repl{s: s, out: &rendered, markdown: true, width: 60}).handle("/history")
	assert.Contains(t, rendered.String(), "hello there")
}

func TestRepl_WatchStore(t *testing.T) {
	s := newFakeSession(true)
	var out bytes.Buffer
	r := &repl{s: s, out: &out}
	r.watchStore()

	agreed := 800.0
	s.store.UpdateCart(protocol.Cart{
		Items: []protocol.CartLineItem{
			{ID: "p1", Name: "Laptop", Qty: 2, OriginalPrice: 1000, AgreedPrice: &agreed},
		},
		Total:  1600,
		Status: protocol.CartReserved,
	})
	s.store.UpdatePrice(protocol.PriceUpdate{ProductID: "p1", NewPrice: 800})

	got := out.String()
	assert.Contains(t, got, "[cart] 2 item(s), total 1600.00 (reserved)")
	assert.Contains(t, got, "2 x Laptop @ 800.00 (saved 200.00)")
	assert.Contains(t, got, "[price] p1 is now 800.00")
}

func TestCheckConfigFile(t *testing.T) {
	dir := t.TempDir()
	missing := checkConfigFile(filepath.Join(dir, "absent.yaml"))
	assert.Equal(t, checkWarning, missing.status)

	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, config.SaveTo(config.Default(), path))
	assert.Equal(t, checkOK, checkConfigFile(path).status)
}

func TestCheckBackend(t *testing.T) {
	paths := make(chan string, 1)
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		paths <- r.URL.Path
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		_, _, _ = conn.ReadMessage()
	}))
	defer srv.Close()

	res := checkBackend(context.Background(), srv.URL, "session_doc", time.Second)
	assert.Equal(t, checkOK, res.status, res.message)
	assert.Equal(t, "/ws/chat/session_doc", <-paths)

	assert.Equal(t, checkError, checkBackend(context.Background(), "ftp://x", "session_doc", time.Second).status)
	assert.Equal(t, checkError, checkBackend(context.Background(), "http://127.0.0.1:1", "session_doc", 200*time.Millisecond).status)
}

func TestPrintResults(t *testing.T) {
	var out bytes.Buffer
	printResults(&out, []checkResult{
		{name: "A", status: checkOK, message: "fine"},
		{name: "B", status: checkError, message: "broken"},
	})
	assert.Contains(t, out.String(), "✓ A: fine")
	assert.Contains(t, out.String(), "✗ B: broken")
	assert.Contains(t, out.String(), "Some checks failed")
}

func TestDoctorCommand(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("STOREFRONT_SERVER_URL", "http://127.0.0.1:1")

	out, err := executeCmd(t, dir, "doctor", "--timeout", "200ms")
	require.NoError(t, err)
	assert.Contains(t, out, "! Config File: Not found")
	assert.Contains(t, out, "✓ Profile Storage: "+filepath.Join(dir, "profile.db")+" (schema v1)")
	assert.Contains(t, out, "✗ Backend: Cannot reach ws://127.0.0.1:1/ws/chat/session_")
	assert.Contains(t, out, "Some checks failed")
}
