//go:build e2e

package e2e

import (
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/hyperengineering/bidkit/internal/types"
)

const consoleToken = "e2e-console-token"

// newBackend serves a single template so list endpoints have data.
func newBackend(t *testing.T) *httptest.Server {
	t.Helper()
	r := chi.NewRouter()
	r.Route("/api", func(r chi.Router) {
		r.Get("/templates", func(w http.ResponseWriter, r *http.Request) {
			writeJSON(w, map[string]any{
				"items": []types.Template{{ID: "t1", Name: "Deck Template", CreatedAt: time.Now().UTC()}},
				"total": 1,
			})
		})
		r.Get("/templates/{id}/variables", func(w http.ResponseWriter, r *http.Request) {
			writeJSON(w, []types.Variable{})
		})
		r.Get("/templates/{id}/categories", func(w http.ResponseWriter, r *http.Request) {
			writeJSON(w, []types.Category{})
		})
	})
	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)
	return srv
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(v)
}

// bidkitServer manages a running console process.
type bidkitServer struct {
	cmd     *exec.Cmd
	address string
	logFile string
	exited  chan error
}

// startBidkit launches the console against apiURL. Configuration is passed
// entirely through environment variables; extra entries are appended.
func startBidkit(t *testing.T, apiURL string, extraEnv ...string) *bidkitServer {
	t.Helper()
	if bidkitBin == "" {
		t.Skip("bidkit binary not available (set BIDKIT_BIN or add to PATH)")
	}

	dir := t.TempDir()
	port := freePort(t)
	s := &bidkitServer{
		address: fmt.Sprintf("127.0.0.1:%d", port),
		logFile: filepath.Join(dir, "bidkit.log"),
		exited:  make(chan error, 1),
	}

	cmd := exec.Command(bidkitBin)
	cmd.Env = append(os.Environ(),
		fmt.Sprintf("BIDKIT_PORT=%d", port),
		"BIDKIT_API_URL="+apiURL,
		"BIDKIT_CONSOLE_TOKEN="+consoleToken,
		"BIDKIT_CONFIG_PATH="+filepath.Join(dir, "nonexistent.yaml"),
		"BIDKIT_LOG_LEVEL=debug",
	)
	cmd.Env = append(cmd.Env, extraEnv...)

	lf, err := os.Create(s.logFile)
	if err != nil {
		t.Fatalf("create log file: %v", err)
	}
	cmd.Stdout = lf
	cmd.Stderr = lf
	if err := cmd.Start(); err != nil {
		lf.Close()
		t.Fatalf("start bidkit: %v", err)
	}
	s.cmd = cmd
	go func() { s.exited <- cmd.Wait() }()

	t.Cleanup(func() {
		s.stop(t)
		lf.Close()
	})

	if err := s.waitHealthy(10 * time.Second); err != nil {
		t.Fatalf("bidkit not healthy: %v\n%s", err, s.logs())
	}
	return s
}

// stop sends SIGINT and waits for the process to exit.
func (s *bidkitServer) stop(t *testing.T) error {
	t.Helper()
	if s.cmd == nil || s.cmd.Process == nil {
		return nil
	}
	_ = s.cmd.Process.Signal(os.Interrupt)
	select {
	case err := <-s.exited:
		s.cmd = nil
		return err
	case <-time.After(10 * time.Second):
		_ = s.cmd.Process.Kill()
		s.cmd = nil
		return fmt.Errorf("bidkit did not exit after SIGINT")
	}
}

func (s *bidkitServer) baseURL() string {
	return "http://" + s.address
}

func (s *bidkitServer) logs() string {
	data, _ := os.ReadFile(s.logFile)
	return string(data)
}

func (s *bidkitServer) waitHealthy(timeout time.Duration) error {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		resp, err := http.Get(s.baseURL() + "/health")
		if err == nil {
			resp.Body.Close()
			if resp.StatusCode == http.StatusOK {
				return nil
			}
		}
		time.Sleep(100 * time.Millisecond)
	}
	return fmt.Errorf("not healthy after %s", timeout)
}

// do sends an authenticated console request and returns status and body.
func (s *bidkitServer) do(t *testing.T, method, path string, body any) (int, []byte) {
	t.Helper()
	var rd io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("encode body: %v", err)
		}
		rd = bytes.NewReader(data)
	}
	req, _ := http.NewRequest(method, s.baseURL()+path, rd)
	req.Header.Set("Authorization", "Bearer "+consoleToken)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, path, err)
	}
	defer resp.Body.Close()
	out, _ := io.ReadAll(resp.Body)
	return resp.StatusCode, out
}

// sseEvent is one server-sent event.
type sseEvent struct {
	Name string
	Data string
}

// openStream connects to /events and delivers parsed events on the
// returned channel until the test ends.
func (s *bidkitServer) openStream(t *testing.T, kinds string) <-chan sseEvent {
	t.Helper()
	req, _ := http.NewRequest(http.MethodGet, s.baseURL()+"/events?kinds="+kinds+"&token="+consoleToken, nil)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("open stream: %v", err)
	}
	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		t.Fatalf("open stream: status %d", resp.StatusCode)
	}
	t.Cleanup(func() { resp.Body.Close() })

	out := make(chan sseEvent, 16)
	go func() {
		defer close(out)
		sc := bufio.NewScanner(resp.Body)
		var ev sseEvent
		for sc.Scan() {
			line := sc.Text()
			switch {
			case strings.HasPrefix(line, "event: "):
				ev.Name = strings.TrimPrefix(line, "event: ")
			case strings.HasPrefix(line, "data: "):
				ev.Data = strings.TrimPrefix(line, "data: ")
			case line == "" && ev.Name != "":
				out <- ev
				ev = sseEvent{}
			}
		}
	}()
	return out
}

// nextEvent waits for an event with the given name.
func nextEvent(t *testing.T, ch <-chan sseEvent, name string, timeout time.Duration) sseEvent {
	t.Helper()
	deadline := time.After(timeout)
	for {
		select {
		case ev, ok := <-ch:
			if !ok {
				t.Fatalf("stream closed before %q", name)
			}
			if ev.Name == name {
				return ev
			}
		case <-deadline:
			t.Fatalf("no %q event within %s", name, timeout)
		}
	}
}

// freePort returns a free TCP port.
func freePort(t *testing.T) int {
	t.Helper()
	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("find free port: %v", err)
	}
	defer l.Close()
	return l.Addr().(*net.TCPAddr).Port
}
