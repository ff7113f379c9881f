package browser

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/littlebro/lb3/internal/lberrors"
)

// TargetEvent is a normalized CDP target lifecycle notification: a tab
// created, destroyed, or navigated to a new URL.
type TargetEvent struct {
	Kind     string // "created", "destroyed", "changed"
	TargetID string
	URL      string
	Title    string
}

// CDPSource discovers and streams Chrome DevTools Protocol target events
// from a locally running browser with remote debugging enabled.
type CDPSource interface {
	Available() bool
	Start(onEvent func(TargetEvent)) error
	Stop()
}

// UnavailableCDPSource reports CaptureUnavailable unconditionally; used
// when no remote-debugging port is configured.
type UnavailableCDPSource struct{}

func (UnavailableCDPSource) Available() bool { return false }
func (UnavailableCDPSource) Start(onEvent func(TargetEvent)) error {
	return lberrors.New(lberrors.KindCaptureUnavailable, monitorName, "chrome devtools protocol not configured")
}
func (UnavailableCDPSource) Stop() {}

// httpClient is the narrow surface realCDPSource needs from net/http,
// satisfied by http.DefaultClient in production.
type httpClient interface {
	Get(url string) (*http.Response, error)
}

// devtoolsTarget mirrors the subset of /json and /json/version fields this
// plugin cares about.
type devtoolsTarget struct {
	ID    string `json:"id"`
	Type  string `json:"type"`
	URL   string `json:"url"`
	Title string `json:"title"`
}

type devtoolsVersion struct {
	WebSocketDebuggerURL string `json:"webSocketDebuggerUrl"`
}

// RealCDPSource connects to a Chrome-compatible remote-debugging endpoint
// over the raw CDP websocket and translates Target.* events into
// TargetEvents (spec §4.8e primary mode).
type RealCDPSource struct {
	baseURL string
	http    httpClient

	mu      sync.Mutex
	targets map[string]devtoolsTarget
	conn    *websocket.Conn
	cancel  context.CancelFunc
	onEvent func(TargetEvent)
}

// NewRealCDPSource targets a Chrome remote-debugging port on localhost, as
// started with --remote-debugging-port (spec §4.8e, §6 browser.integration
// .chrome_remote_debug_port).
func NewRealCDPSource(port int) *RealCDPSource {
	return &RealCDPSource{
		baseURL: fmt.Sprintf("http://127.0.0.1:%d", port),
		http:    http.DefaultClient,
		targets: make(map[string]devtoolsTarget),
	}
}

func (s *RealCDPSource) Available() bool {
	resp, err := s.http.Get(s.baseURL + "/json/version")
	if err != nil {
		return false
	}
	defer resp.Body.Close()
	return resp.StatusCode == http.StatusOK
}

func (s *RealCDPSource) Start(onEvent func(TargetEvent)) error {
	var version devtoolsVersion
	if err := s.getJSON("/json/version", &version); err != nil {
		return lberrors.Wrap(lberrors.KindCaptureUnavailable, monitorName, "fetch devtools version", err)
	}
	if version.WebSocketDebuggerURL == "" {
		return lberrors.New(lberrors.KindCaptureUnavailable, monitorName, "devtools endpoint has no websocket debugger url")
	}

	var targets []devtoolsTarget
	_ = s.getJSON("/json", &targets)
	s.mu.Lock()
	for _, t := range targets {
		if t.Type == "page" {
			s.targets[t.ID] = t
		}
	}
	s.onEvent = onEvent
	s.mu.Unlock()

	ctx, cancel := context.WithCancel(context.Background())
	conn, _, err := websocket.Dial(ctx, version.WebSocketDebuggerURL, nil)
	if err != nil {
		cancel()
		return lberrors.Wrap(lberrors.KindCaptureUnavailable, monitorName, "dial cdp websocket", err)
	}

	s.mu.Lock()
	s.conn = conn
	s.cancel = cancel
	s.mu.Unlock()

	if err := s.send(ctx, "Target.setDiscoverTargets", map[string]any{"discover": true}); err != nil {
		s.Stop()
		return lberrors.Wrap(lberrors.KindCaptureUnavailable, monitorName, "enable target discovery", err)
	}

	go s.readLoop(ctx)
	return nil
}

func (s *RealCDPSource) Stop() {
	s.mu.Lock()
	conn := s.conn
	cancel := s.cancel
	s.conn = nil
	s.cancel = nil
	s.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if conn != nil {
		_ = conn.Close(websocket.StatusNormalClosure, "")
	}
}

func (s *RealCDPSource) getJSON(path string, out any) error {
	resp, err := s.http.Get(s.baseURL + path)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	return json.NewDecoder(resp.Body).Decode(out)
}

func (s *RealCDPSource) send(ctx context.Context, method string, params map[string]any) error {
	s.mu.Lock()
	conn := s.conn
	s.mu.Unlock()
	if conn == nil {
		return fmt.Errorf("cdp: not connected")
	}
	msg := map[string]any{
		"id":     time.Now().UnixNano(),
		"method": method,
		"params": params,
	}
	b, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	return conn.Write(ctx, websocket.MessageText, b)
}

func (s *RealCDPSource) readLoop(ctx context.Context) {
	for {
		s.mu.Lock()
		conn := s.conn
		s.mu.Unlock()
		if conn == nil {
			return
		}
		_, data, err := conn.Read(ctx)
		if err != nil {
			return
		}
		s.handleMessage(data)
	}
}

type cdpMessage struct {
	Method string          `json:"method"`
	ID     *int64          `json:"id"`
	Params json.RawMessage `json:"params"`
}

type targetInfoParams struct {
	TargetInfo devtoolsTarget `json:"targetInfo"`
}

type targetDestroyedParams struct {
	TargetID string `json:"targetId"`
}

func (s *RealCDPSource) handleMessage(data []byte) {
	var msg cdpMessage
	if err := json.Unmarshal(data, &msg); err != nil || msg.ID != nil {
		return // replies to our own commands carry an id; we only want events
	}

	switch msg.Method {
	case "Target.targetCreated":
		var p targetInfoParams
		if json.Unmarshal(msg.Params, &p) == nil && p.TargetInfo.Type == "page" {
			s.mu.Lock()
			s.targets[p.TargetInfo.ID] = p.TargetInfo
			onEvent := s.onEvent
			s.mu.Unlock()
			if onEvent != nil && isRealPage(p.TargetInfo.URL) {
				onEvent(TargetEvent{Kind: "created", TargetID: p.TargetInfo.ID, URL: p.TargetInfo.URL, Title: p.TargetInfo.Title})
			}
		}
	case "Target.targetDestroyed":
		var p targetDestroyedParams
		if json.Unmarshal(msg.Params, &p) == nil {
			s.mu.Lock()
			old, ok := s.targets[p.TargetID]
			delete(s.targets, p.TargetID)
			onEvent := s.onEvent
			s.mu.Unlock()
			if ok && onEvent != nil && isRealPage(old.URL) {
				onEvent(TargetEvent{Kind: "destroyed", TargetID: p.TargetID, URL: old.URL})
			}
		}
	case "Target.targetInfoChanged":
		var p targetInfoParams
		if json.Unmarshal(msg.Params, &p) == nil && p.TargetInfo.Type == "page" {
			s.mu.Lock()
			old := s.targets[p.TargetInfo.ID]
			s.targets[p.TargetInfo.ID] = p.TargetInfo
			onEvent := s.onEvent
			s.mu.Unlock()
			if onEvent != nil && p.TargetInfo.URL != old.URL && isRealPage(p.TargetInfo.URL) {
				onEvent(TargetEvent{Kind: "changed", TargetID: p.TargetInfo.ID, URL: p.TargetInfo.URL, Title: p.TargetInfo.Title})
			}
		}
	}
}

// isRealPage excludes internal browser URLs the spec has no interest in
// recording (about:, chrome:, edge:, data:).
func isRealPage(url string) bool {
	if url == "" {
		return false
	}
	for _, prefix := range []string{"about:", "chrome:", "edge:", "data:"} {
		if strings.HasPrefix(url, prefix) {
			return false
		}
	}
	return true
}
