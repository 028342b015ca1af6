package control

import (
	"bufio"
	"encoding/json"
	"net"
	"strings"
	"testing"

	"github.com/snapetech/splashcast/internal/events"
	"github.com/snapetech/splashcast/internal/queue"
	"github.com/snapetech/splashcast/internal/registry"
)

type fakePipeline struct {
	streaming         bool
	startErr          error
	stopErr           error
	startCalls        int
	stopCalls         int
	secondarySelected bool
}

func (f *fakePipeline) Streaming() bool { return f.streaming }
func (f *fakePipeline) Start() error {
	f.startCalls++
	if f.startErr != nil {
		return f.startErr
	}
	f.streaming = true
	return nil
}
func (f *fakePipeline) Stop() error {
	f.stopCalls++
	if f.stopErr != nil {
		return f.stopErr
	}
	f.streaming = false
	return nil
}
func (f *fakePipeline) SelectPrimary()   { f.secondarySelected = false }
func (f *fakePipeline) SelectSecondary() { f.secondarySelected = true }

func setupServer(t *testing.T, policy RepeatPolicy) (*Server, *fakePipeline, *queue.Engine) {
	t.Helper()
	reg, err := registry.Build(30, []registry.SequenceDef{
		{Name: "intro", StartFrame: 0, EndFrame: 29},
		{Name: "loop", StartFrame: 30, EndFrame: 59},
	}, []registry.ComboDef{
		{Name: "welcome", Order: []string{"intro", "loop"}, LoopAtEnd: true},
	})
	if err != nil {
		t.Fatalf("registry.Build: %v", err)
	}
	q := queue.New(reg.Len(), events.Discard)
	pipe := &fakePipeline{}
	s := New("127.0.0.1:0", pipe, reg, q, policy)
	if err := s.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	t.Cleanup(func() { s.Stop() })
	return s, pipe, q
}

// request dials s, sends a raw request line, and returns the parsed
// status code and body.
func request(t *testing.T, s *Server, line string) (status int, body string) {
	t.Helper()
	conn, err := net.Dial("tcp", s.Addr().String())
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	defer conn.Close()
	if _, err := conn.Write([]byte(line + "\r\n\r\n")); err != nil {
		t.Fatalf("Write: %v", err)
	}
	r := bufio.NewReader(conn)
	statusLine, err := r.ReadString('\n')
	if err != nil {
		t.Fatalf("ReadString: %v", err)
	}
	fields := strings.Fields(statusLine)
	if len(fields) < 2 {
		t.Fatalf("malformed status line %q", statusLine)
	}
	var code int
	if _, err := fScanStatus(fields[1], &code); err != nil {
		t.Fatalf("parse status %q: %v", fields[1], err)
	}
	var contentLength int
	for {
		hdr, err := r.ReadString('\n')
		if err != nil || hdr == "\r\n" {
			break
		}
		key, val, ok := strings.Cut(strings.TrimSpace(hdr), ":")
		if ok && strings.EqualFold(strings.TrimSpace(key), "Content-Length") {
			fScanStatus(strings.TrimSpace(val), &contentLength)
		}
	}
	buf := make([]byte, contentLength)
	if contentLength > 0 {
		if _, err := readFull(r, buf); err != nil {
			t.Fatalf("read body: %v", err)
		}
	}
	return code, string(buf)
}

func fScanStatus(s string, out *int) (int, error) {
	n := 0
	for _, c := range s {
		if c < '0' || c > '9' {
			break
		}
		n = n*10 + int(c-'0')
	}
	*out = n
	return n, nil
}

func readFull(r *bufio.Reader, buf []byte) (int, error) {
	total := 0
	for total < len(buf) {
		n, err := r.Read(buf[total:])
		total += n
		if err != nil {
			return total, err
		}
	}
	return total, nil
}

func TestStart_transitionsFromStoppedToStarted(t *testing.T) {
	s, pipe, _ := setupServer(t, RepeatPolicyFinal)
	status, body := request(t, s, "GET /request/start HTTP/1.1")
	if status != 200 {
		t.Fatalf("status = %d, want 200", status)
	}
	if !strings.Contains(body, `"started"`) {
		t.Fatalf("body = %s, want started", body)
	}
	if pipe.startCalls != 1 {
		t.Fatalf("startCalls = %d, want 1", pipe.startCalls)
	}
}

func TestStart_reportsAlreadyRunning(t *testing.T) {
	s, pipe, _ := setupServer(t, RepeatPolicyFinal)
	pipe.streaming = true
	status, body := request(t, s, "GET /request/start HTTP/1.1")
	if status != 200 || !strings.Contains(body, "already_running") {
		t.Fatalf("status=%d body=%s, want 200 already_running", status, body)
	}
	if pipe.startCalls != 0 {
		t.Fatalf("expected no Start call, got %d", pipe.startCalls)
	}
}

func TestStop_reportsAlreadyStopped(t *testing.T) {
	s, pipe, _ := setupServer(t, RepeatPolicyFinal)
	status, body := request(t, s, "GET /request/stop HTTP/1.1")
	if status != 200 || !strings.Contains(body, "already_stopped") {
		t.Fatalf("status=%d body=%s, want 200 already_stopped", status, body)
	}
	if pipe.stopCalls != 0 {
		t.Fatalf("expected no Stop call, got %d", pipe.stopCalls)
	}
}

func TestStop_stopsRunningPipeline(t *testing.T) {
	s, pipe, _ := setupServer(t, RepeatPolicyFinal)
	pipe.streaming = true
	status, body := request(t, s, "GET /request/stop HTTP/1.1")
	if status != 200 || !strings.Contains(body, `"stopped"`) {
		t.Fatalf("status=%d body=%s, want 200 stopped", status, body)
	}
	if pipe.stopCalls != 1 {
		t.Fatalf("stopCalls = %d, want 1", pipe.stopCalls)
	}
}

func TestList_returnsSequencesAndCombos(t *testing.T) {
	s, _, _ := setupServer(t, RepeatPolicyFinal)
	status, body := request(t, s, "GET /request/list HTTP/1.1")
	if status != 200 {
		t.Fatalf("status = %d, want 200", status)
	}
	var parsed struct {
		Sequences []string `json:"sequences"`
		Combos    []struct {
			Name      string `json:"name"`
			Order     []int  `json:"order"`
			LoopAtEnd bool   `json:"loop_at_end"`
		} `json:"combos"`
	}
	if err := json.Unmarshal([]byte(body), &parsed); err != nil {
		t.Fatalf("Unmarshal: %v, body=%s", err, body)
	}
	if len(parsed.Sequences) != 2 || parsed.Sequences[0] != "intro" {
		t.Fatalf("sequences = %v", parsed.Sequences)
	}
	if len(parsed.Combos) != 1 || parsed.Combos[0].Name != "welcome" || !parsed.Combos[0].LoopAtEnd {
		t.Fatalf("combos = %+v", parsed.Combos)
	}
}

func TestEnqueue_sequenceHit_noRepeat(t *testing.T) {
	s, _, q := setupServer(t, RepeatPolicyFinal)
	status, _ := request(t, s, "GET /request/enqueue/intro HTTP/1.1")
	if status != 200 {
		t.Fatalf("status = %d, want 200", status)
	}
	_, pending, repeat := q.Snapshot()
	if len(pending) != 1 || pending[0] != 0 {
		t.Fatalf("pending = %v, want [0]", pending)
	}
	if len(repeat) != 0 {
		t.Fatalf("repeat = %v, want empty for a plain sequence enqueue", repeat)
	}
}

func TestEnqueue_comboWithLoopAtEnd_installsRepeatPerPolicy(t *testing.T) {
	s, _, q := setupServer(t, RepeatPolicyEntire)
	status, _ := request(t, s, "GET /request/enqueue/welcome HTTP/1.1")
	if status != 200 {
		t.Fatalf("status = %d, want 200", status)
	}
	_, pending, repeat := q.Snapshot()
	if len(pending) != 2 {
		t.Fatalf("pending = %v, want 2 entries", pending)
	}
	if len(repeat) != 2 {
		t.Fatalf("repeat = %v, want full combo order under RepeatPolicyEntire", repeat)
	}
}

func TestEnqueue_unknownName_404(t *testing.T) {
	s, _, _ := setupServer(t, RepeatPolicyFinal)
	status, body := request(t, s, "GET /request/enqueue/nope HTTP/1.1")
	if status != 404 {
		t.Fatalf("status = %d, want 404", status)
	}
	if !strings.Contains(body, `"status":"not_found"`) {
		t.Fatalf("body = %q, want it to include \"status\":\"not_found\"", body)
	}
}

func TestEnqueue_emptyName_400(t *testing.T) {
	s, _, _ := setupServer(t, RepeatPolicyFinal)
	status, _ := request(t, s, "GET /request/enqueue/ HTTP/1.1")
	if status != 400 {
		t.Fatalf("status = %d, want 400", status)
	}
}

func TestEnqueue_queueFull_409(t *testing.T) {
	s, _, q := setupServer(t, RepeatPolicyFinal)
	full := make([]int, queue.Cap)
	if !q.EnqueueMany(full) {
		t.Fatal("expected to fill the queue to capacity")
	}
	status, _ := request(t, s, "GET /request/enqueue/intro HTTP/1.1")
	if status != 409 {
		t.Fatalf("status = %d, want 409", status)
	}
}

func TestNonGETMethod_405(t *testing.T) {
	s, _, _ := setupServer(t, RepeatPolicyFinal)
	status, _ := request(t, s, "POST /request/start HTTP/1.1")
	if status != 405 {
		t.Fatalf("status = %d, want 405", status)
	}
}

func TestUnknownPath_404(t *testing.T) {
	s, _, _ := setupServer(t, RepeatPolicyFinal)
	status, _ := request(t, s, "GET /nonexistent HTTP/1.1")
	if status != 404 {
		t.Fatalf("status = %d, want 404", status)
	}
}

func TestSelectSecondary_switchesSenderThenSelectPrimaryReverts(t *testing.T) {
	s, pipe, _ := setupServer(t, RepeatPolicyFinal)
	status, body := request(t, s, "GET /request/select/secondary HTTP/1.1")
	if status != 200 || !strings.Contains(body, `"status":"secondary"`) {
		t.Fatalf("status=%d body=%q, want 200 with status=secondary", status, body)
	}
	if !pipe.secondarySelected {
		t.Fatal("expected SelectSecondary to have been called")
	}

	status, body = request(t, s, "GET /request/select/primary HTTP/1.1")
	if status != 200 || !strings.Contains(body, `"status":"primary"`) {
		t.Fatalf("status=%d body=%q, want 200 with status=primary", status, body)
	}
	if pipe.secondarySelected {
		t.Fatal("expected SelectPrimary to have been called")
	}
}
