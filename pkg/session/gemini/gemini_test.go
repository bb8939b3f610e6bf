package gemini_test

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/coder/websocket"

	"github.com/fixer-ai/fixer/pkg/media"
	"github.com/fixer-ai/fixer/pkg/session"
	"github.com/fixer-ai/fixer/pkg/session/gemini"
)

// ── Helpers ───────────────────────────────────────────────────────────────────

// wsURL converts an httptest server HTTP URL to a WebSocket URL.
func wsURL(srv *httptest.Server) string {
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

// startGeminiServer launches a test WebSocket server. The handler function
// receives the accepted *websocket.Conn. The server is automatically closed
// when the test finishes.
func startGeminiServer(t *testing.T, handler func(conn *websocket.Conn, r *http.Request)) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
			InsecureSkipVerify: true,
		})
		if err != nil {
			return
		}
		defer conn.Close(websocket.StatusNormalClosure, "done")
		handler(conn, r)
	}))
	t.Cleanup(srv.Close)
	return srv
}

// readJSON reads one WebSocket text frame and decodes it into v.
func readJSON(t *testing.T, conn *websocket.Conn, v any) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	_, data, err := conn.Read(ctx)
	if err != nil {
		t.Fatalf("readJSON: %v", err)
	}
	if err := json.Unmarshal(data, v); err != nil {
		t.Fatalf("readJSON unmarshal: %v", err)
	}
}

// writeJSON marshals v and sends it as a text frame.
func writeJSON(t *testing.T, conn *websocket.Conn, v any) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	data, _ := json.Marshal(v)
	if err := conn.Write(ctx, websocket.MessageText, data); err != nil {
		t.Logf("writeJSON: %v (may be expected on close)", err)
	}
}

// sendSetupComplete sends the server-side setupComplete ack.
func sendSetupComplete(t *testing.T, conn *websocket.Conn) {
	t.Helper()
	writeJSON(t, conn, map[string]any{"setupComplete": map[string]any{}})
}

// audioContent builds a serverContent message carrying one audio part.
func audioContent(pcm []byte) map[string]any {
	return map[string]any{
		"serverContent": map[string]any{
			"modelTurn": map[string]any{
				"parts": []map[string]any{
					{
						"inlineData": map[string]any{
							"mimeType": "audio/pcm;rate=24000",
							"data":     base64.StdEncoding.EncodeToString(pcm),
						},
					},
				},
			},
		},
	}
}

// newDialer creates a Dialer pointing at the given test server.
func newDialer(srv *httptest.Server) *gemini.Dialer {
	return gemini.New("test-api-key", gemini.WithBaseURL(wsURL(srv)))
}

// nextEvent waits for the next inbound event or fails the test.
func nextEvent(t *testing.T, h session.Handle) session.Event {
	t.Helper()
	select {
	case ev, ok := <-h.Events():
		if !ok {
			t.Fatal("events channel closed unexpectedly")
		}
		return ev
	case <-time.After(3 * time.Second):
		t.Fatal("timeout waiting for event")
	}
	return session.Event{}
}

// ── Option constructor tests ───────────────────────────────────────────────────

func TestNew_DefaultValues(t *testing.T) {
	t.Parallel()
	d := gemini.New("my-key")
	if d == nil {
		t.Fatal("New returned nil")
	}
}

func TestWithModel_SetsModel(t *testing.T) {
	t.Parallel()

	modelCh := make(chan string, 1)

	srv := startGeminiServer(t, func(conn *websocket.Conn, _ *http.Request) {
		var msg struct {
			Setup struct {
				Model string `json:"model"`
			} `json:"setup"`
		}
		readJSON(t, conn, &msg)
		modelCh <- msg.Setup.Model
		sendSetupComplete(t, conn)
		<-conn.CloseRead(context.Background()).Done()
	})

	d := gemini.New("key", gemini.WithModel("custom-model"), gemini.WithBaseURL(wsURL(srv)))
	handle, err := d.Connect(context.Background(), session.Config{})
	if err != nil {
		t.Fatalf("Connect: %v", err)
	}
	defer handle.Close()

	select {
	case model := <-modelCh:
		if want := "models/custom-model"; model != want {
			t.Errorf("model = %q; want %q", model, want)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("timeout waiting for model in setup message")
	}
}

// ── TestConnect_SendsSetup ─────────────────────────────────────────────────────

func TestConnect_SendsSetup(t *testing.T) {
	t.Parallel()

	type setupMsg struct {
		Setup struct {
			Model            string `json:"model"`
			GenerationConfig struct {
				ResponseModalities []string `json:"responseModalities"`
				SpeechConfig       *struct {
					VoiceConfig struct {
						PrebuiltVoiceConfig struct {
							VoiceName string `json:"voiceName"`
						} `json:"prebuiltVoiceConfig"`
					} `json:"voiceConfig"`
				} `json:"speechConfig"`
			} `json:"generationConfig"`
			SystemInstruction *struct {
				Parts []struct {
					Text string `json:"text"`
				} `json:"parts"`
			} `json:"systemInstruction"`
			Tools []struct {
				FunctionDeclarations []struct {
					Name string `json:"name"`
				} `json:"functionDeclarations"`
			} `json:"tools"`
		} `json:"setup"`
	}

	received := make(chan setupMsg, 1)

	srv := startGeminiServer(t, func(conn *websocket.Conn, _ *http.Request) {
		var msg setupMsg
		readJSON(t, conn, &msg)
		received <- msg
		sendSetupComplete(t, conn)
		<-conn.CloseRead(context.Background()).Done()
	})

	d := newDialer(srv)
	cfg := session.Config{
		Instructions: "You are a repair assistant.",
		Voice:        "Puck",
		Tools: []session.ToolDefinition{
			{Name: "run_script", Description: "Runs a repair script"},
		},
	}
	handle, err := d.Connect(context.Background(), cfg)
	if err != nil {
		t.Fatalf("Connect: %v", err)
	}
	defer handle.Close()

	select {
	case msg := <-received:
		if !strings.HasPrefix(msg.Setup.Model, "models/") {
			t.Errorf("model %q should start with 'models/'", msg.Setup.Model)
		}
		if got := msg.Setup.GenerationConfig.ResponseModalities; len(got) != 1 || got[0] != "audio" {
			t.Errorf("responseModalities = %v; want [audio]", got)
		}
		if msg.Setup.GenerationConfig.SpeechConfig == nil {
			t.Fatal("speechConfig is nil")
		}
		if got := msg.Setup.GenerationConfig.SpeechConfig.VoiceConfig.PrebuiltVoiceConfig.VoiceName; got != "Puck" {
			t.Errorf("voiceName = %q; want Puck", got)
		}
		if msg.Setup.SystemInstruction == nil {
			t.Fatal("systemInstruction is nil")
		}
		if len(msg.Setup.SystemInstruction.Parts) == 0 || msg.Setup.SystemInstruction.Parts[0].Text != "You are a repair assistant." {
			t.Errorf("unexpected system instruction: %+v", msg.Setup.SystemInstruction)
		}
		if len(msg.Setup.Tools) == 0 || len(msg.Setup.Tools[0].FunctionDeclarations) == 0 {
			t.Fatal("tools should be non-empty")
		}
		if got := msg.Setup.Tools[0].FunctionDeclarations[0].Name; got != "run_script" {
			t.Errorf("tool name = %q; want run_script", got)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("timeout waiting for setup message")
	}
}

func TestConnect_IncludesAPIKeyInURL(t *testing.T) {
	t.Parallel()

	urlQuery := make(chan string, 1)

	srv := startGeminiServer(t, func(conn *websocket.Conn, r *http.Request) {
		urlQuery <- r.URL.RawQuery
		var raw map[string]any
		readJSON(t, conn, &raw)
		sendSetupComplete(t, conn)
		<-conn.CloseRead(context.Background()).Done()
	})

	d := gemini.New("secret-key", gemini.WithBaseURL(wsURL(srv)))
	handle, err := d.Connect(context.Background(), session.Config{})
	if err != nil {
		t.Fatalf("Connect: %v", err)
	}
	defer handle.Close()

	select {
	case q := <-urlQuery:
		if !strings.Contains(q, "key=secret-key") {
			t.Errorf("URL query %q should contain key=secret-key", q)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("timeout")
	}
}

func TestConnect_CancelledContext_ReturnsError(t *testing.T) {
	t.Parallel()

	srv := startGeminiServer(t, func(conn *websocket.Conn, _ *http.Request) {
		<-conn.CloseRead(context.Background()).Done()
	})

	d := newDialer(srv)
	ctx, cancel := context.WithCancel(context.Background())
	cancel() // already cancelled

	_, err := d.Connect(ctx, session.Config{})
	if err == nil {
		t.Fatal("Connect with cancelled context should return an error")
	}
}

// ── TestSend ───────────────────────────────────────────────────────────────────

func TestSend_AudioFrame_EncodesAsRealtimeInput(t *testing.T) {
	t.Parallel()

	type realtimeInput struct {
		RealtimeInput struct {
			MediaChunks []struct {
				MIMEType string `json:"mimeType"`
				Data     string `json:"data"`
			} `json:"mediaChunks"`
		} `json:"realtimeInput"`
	}

	audioMsg := make(chan realtimeInput, 1)

	srv := startGeminiServer(t, func(conn *websocket.Conn, _ *http.Request) {
		// Consume setup.
		var raw map[string]any
		readJSON(t, conn, &raw)
		sendSetupComplete(t, conn)

		// Read audio message.
		var msg realtimeInput
		readJSON(t, conn, &msg)
		audioMsg <- msg

		<-conn.CloseRead(context.Background()).Done()
	})

	d := newDialer(srv)
	handle, err := d.Connect(context.Background(), session.Config{})
	if err != nil {
		t.Fatalf("Connect: %v", err)
	}
	defer handle.Close()

	wantPCM := []byte{0x01, 0x02, 0x03, 0x04}
	if err := handle.Send(context.Background(), media.AudioFrame(wantPCM)); err != nil {
		t.Fatalf("Send: %v", err)
	}

	select {
	case msg := <-audioMsg:
		chunks := msg.RealtimeInput.MediaChunks
		if len(chunks) == 0 {
			t.Fatal("no media chunks in realtimeInput")
		}
		if chunks[0].MIMEType != media.MIMEPCM16 {
			t.Errorf("mimeType = %q; want %q", chunks[0].MIMEType, media.MIMEPCM16)
		}
		got, err := base64.StdEncoding.DecodeString(chunks[0].Data)
		if err != nil {
			t.Fatalf("base64 decode: %v", err)
		}
		if string(got) != string(wantPCM) {
			t.Errorf("decoded audio = %v; want %v", got, wantPCM)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("timeout waiting for audio message")
	}
}

func TestSend_ImageFrame_UsesJPEGMIME(t *testing.T) {
	t.Parallel()

	type realtimeInput struct {
		RealtimeInput struct {
			MediaChunks []struct {
				MIMEType string `json:"mimeType"`
			} `json:"mediaChunks"`
		} `json:"realtimeInput"`
	}

	imgMsg := make(chan realtimeInput, 1)

	srv := startGeminiServer(t, func(conn *websocket.Conn, _ *http.Request) {
		var raw map[string]any
		readJSON(t, conn, &raw)
		sendSetupComplete(t, conn)

		var msg realtimeInput
		readJSON(t, conn, &msg)
		imgMsg <- msg

		<-conn.CloseRead(context.Background()).Done()
	})

	d := newDialer(srv)
	handle, err := d.Connect(context.Background(), session.Config{})
	if err != nil {
		t.Fatalf("Connect: %v", err)
	}
	defer handle.Close()

	if err := handle.Send(context.Background(), media.JPEGFrame([]byte{0xFF, 0xD8})); err != nil {
		t.Fatalf("Send: %v", err)
	}

	select {
	case msg := <-imgMsg:
		if len(msg.RealtimeInput.MediaChunks) == 0 {
			t.Fatal("no media chunks")
		}
		if got := msg.RealtimeInput.MediaChunks[0].MIMEType; got != media.MIMEJPEG {
			t.Errorf("mimeType = %q; want %q", got, media.MIMEJPEG)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("timeout waiting for image message")
	}
}

func TestSend_TextFrame_CompletesClientTurn(t *testing.T) {
	t.Parallel()

	type clientContentMsg struct {
		ClientContent struct {
			Turns []struct {
				Role  string `json:"role"`
				Parts []struct {
					Text string `json:"text"`
				} `json:"parts"`
			} `json:"turns"`
			TurnComplete bool `json:"turnComplete"`
		} `json:"clientContent"`
	}

	contentMsg := make(chan clientContentMsg, 1)

	srv := startGeminiServer(t, func(conn *websocket.Conn, _ *http.Request) {
		var raw map[string]any
		readJSON(t, conn, &raw)
		sendSetupComplete(t, conn)

		var msg clientContentMsg
		readJSON(t, conn, &msg)
		contentMsg <- msg

		<-conn.CloseRead(context.Background()).Done()
	})

	d := newDialer(srv)
	handle, err := d.Connect(context.Background(), session.Config{})
	if err != nil {
		t.Fatalf("Connect: %v", err)
	}
	defer handle.Close()

	if err := handle.Send(context.Background(), media.TextFrame("my router is dead")); err != nil {
		t.Fatalf("Send: %v", err)
	}

	select {
	case msg := <-contentMsg:
		turns := msg.ClientContent.Turns
		if len(turns) != 1 {
			t.Fatalf("expected 1 turn; got %d", len(turns))
		}
		if turns[0].Role != "user" {
			t.Errorf("role = %q; want user", turns[0].Role)
		}
		if len(turns[0].Parts) == 0 || turns[0].Parts[0].Text != "my router is dead" {
			t.Errorf("unexpected parts: %+v", turns[0].Parts)
		}
		if !msg.ClientContent.TurnComplete {
			t.Error("turnComplete should be true for text frames")
		}
	case <-time.After(3 * time.Second):
		t.Fatal("timeout waiting for clientContent message")
	}
}

func TestSend_AfterClose_ReturnsErrClosed(t *testing.T) {
	t.Parallel()

	srv := startGeminiServer(t, func(conn *websocket.Conn, _ *http.Request) {
		var raw map[string]any
		readJSON(t, conn, &raw)
		sendSetupComplete(t, conn)
		<-conn.CloseRead(context.Background()).Done()
	})

	d := newDialer(srv)
	handle, err := d.Connect(context.Background(), session.Config{})
	if err != nil {
		t.Fatalf("Connect: %v", err)
	}
	if err := handle.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	err = handle.Send(context.Background(), media.AudioFrame([]byte{1, 2, 3}))
	if !errors.Is(err, session.ErrClosed) {
		t.Fatalf("Send after Close = %v; want session.ErrClosed", err)
	}
}

// ── TestEvents ─────────────────────────────────────────────────────────────────

func TestEvents_TurnBoundaryPrecedesAudio(t *testing.T) {
	t.Parallel()

	wantPCM := []byte{0xAA, 0xBB, 0xCC, 0xDD}

	srv := startGeminiServer(t, func(conn *websocket.Conn, _ *http.Request) {
		var raw map[string]any
		readJSON(t, conn, &raw)
		sendSetupComplete(t, conn)

		writeJSON(t, conn, audioContent(wantPCM))

		<-conn.CloseRead(context.Background()).Done()
	})

	d := newDialer(srv)
	handle, err := d.Connect(context.Background(), session.Config{})
	if err != nil {
		t.Fatalf("Connect: %v", err)
	}
	defer handle.Close()

	first := nextEvent(t, handle)
	if first.Kind != session.EventTurn {
		t.Fatalf("first event kind = %v; want turn boundary", first.Kind)
	}
	if first.Turn != 1 {
		t.Errorf("turn = %d; want 1", first.Turn)
	}

	second := nextEvent(t, handle)
	if second.Kind != session.EventAudio {
		t.Fatalf("second event kind = %v; want audio", second.Kind)
	}
	if string(second.Audio) != string(wantPCM) {
		t.Errorf("audio = %v; want %v", second.Audio, wantPCM)
	}
	if second.Turn != 1 {
		t.Errorf("audio turn = %d; want 1", second.Turn)
	}
}

func TestEvents_TurnCompleteStartsNewTurn(t *testing.T) {
	t.Parallel()

	srv := startGeminiServer(t, func(conn *websocket.Conn, _ *http.Request) {
		var raw map[string]any
		readJSON(t, conn, &raw)
		sendSetupComplete(t, conn)

		writeJSON(t, conn, audioContent([]byte{0x01}))
		writeJSON(t, conn, map[string]any{
			"serverContent": map[string]any{"turnComplete": true},
		})
		writeJSON(t, conn, audioContent([]byte{0x02}))

		<-conn.CloseRead(context.Background()).Done()
	})

	d := newDialer(srv)
	handle, err := d.Connect(context.Background(), session.Config{})
	if err != nil {
		t.Fatalf("Connect: %v", err)
	}
	defer handle.Close()

	wantKinds := []session.EventKind{
		session.EventTurn, session.EventAudio,
		session.EventTurn, session.EventAudio,
	}
	wantTurns := []int{1, 1, 2, 2}

	for i, wantKind := range wantKinds {
		ev := nextEvent(t, handle)
		if ev.Kind != wantKind {
			t.Fatalf("event[%d] kind = %v; want %v", i, ev.Kind, wantKind)
		}
		if ev.Turn != wantTurns[i] {
			t.Errorf("event[%d] turn = %d; want %d", i, ev.Turn, wantTurns[i])
		}
	}
}

func TestEvents_InterruptedStartsNewTurn(t *testing.T) {
	t.Parallel()

	srv := startGeminiServer(t, func(conn *websocket.Conn, _ *http.Request) {
		var raw map[string]any
		readJSON(t, conn, &raw)
		sendSetupComplete(t, conn)

		writeJSON(t, conn, audioContent([]byte{0x01}))
		writeJSON(t, conn, map[string]any{
			"serverContent": map[string]any{"interrupted": true},
		})
		writeJSON(t, conn, audioContent([]byte{0x02}))

		<-conn.CloseRead(context.Background()).Done()
	})

	d := newDialer(srv)
	handle, err := d.Connect(context.Background(), session.Config{})
	if err != nil {
		t.Fatalf("Connect: %v", err)
	}
	defer handle.Close()

	// turn 1 boundary + audio, then an interruption, then turn 2 opens.
	_ = nextEvent(t, handle) // turn 1
	_ = nextEvent(t, handle) // audio 1

	boundary := nextEvent(t, handle)
	if boundary.Kind != session.EventTurn || boundary.Turn != 2 {
		t.Fatalf("post-interrupt event = %+v; want turn boundary 2", boundary)
	}
}

func TestEvents_ModelTextPart(t *testing.T) {
	t.Parallel()

	srv := startGeminiServer(t, func(conn *websocket.Conn, _ *http.Request) {
		var raw map[string]any
		readJSON(t, conn, &raw)
		sendSetupComplete(t, conn)

		writeJSON(t, conn, map[string]any{
			"serverContent": map[string]any{
				"modelTurn": map[string]any{
					"parts": []map[string]any{
						{"text": "Try reseating the cable."},
					},
				},
			},
		})

		<-conn.CloseRead(context.Background()).Done()
	})

	d := newDialer(srv)
	handle, err := d.Connect(context.Background(), session.Config{})
	if err != nil {
		t.Fatalf("Connect: %v", err)
	}
	defer handle.Close()

	boundary := nextEvent(t, handle)
	if boundary.Kind != session.EventTurn {
		t.Fatalf("first event kind = %v; want turn boundary", boundary.Kind)
	}

	ev := nextEvent(t, handle)
	if ev.Kind != session.EventText {
		t.Fatalf("event kind = %v; want text", ev.Kind)
	}
	if ev.Text != "Try reseating the cable." {
		t.Errorf("text = %q; want %q", ev.Text, "Try reseating the cable.")
	}
}

func TestEvents_OutputTranscription(t *testing.T) {
	t.Parallel()

	srv := startGeminiServer(t, func(conn *websocket.Conn, _ *http.Request) {
		var raw map[string]any
		readJSON(t, conn, &raw)
		sendSetupComplete(t, conn)

		writeJSON(t, conn, map[string]any{
			"serverContent": map[string]any{
				"outputTranscription": map[string]any{
					"text": "power cycle the modem",
				},
			},
		})

		<-conn.CloseRead(context.Background()).Done()
	})

	d := newDialer(srv)
	handle, err := d.Connect(context.Background(), session.Config{})
	if err != nil {
		t.Fatalf("Connect: %v", err)
	}
	defer handle.Close()

	_ = nextEvent(t, handle) // turn boundary

	ev := nextEvent(t, handle)
	if ev.Kind != session.EventText || ev.Text != "power cycle the modem" {
		t.Errorf("event = %+v; want text 'power cycle the modem'", ev)
	}
}

// ── TestOnToolCall ─────────────────────────────────────────────────────────────

func TestOnToolCall_RoutesToolCallToHandler(t *testing.T) {
	t.Parallel()

	toolCallSent := make(chan struct{}, 1)
	handlerResult := make(chan string, 1)

	srv := startGeminiServer(t, func(conn *websocket.Conn, _ *http.Request) {
		var raw map[string]any
		readJSON(t, conn, &raw)
		sendSetupComplete(t, conn)

		// Send a tool call.
		writeJSON(t, conn, map[string]any{
			"toolCall": map[string]any{
				"functionCalls": []map[string]any{
					{
						"id":   "fc-1",
						"name": "run_script",
						"args": map[string]any{"script": "echo ok"},
					},
				},
			},
		})

		// Read the tool response.
		var resp map[string]any
		readJSON(t, conn, &resp)
		data, _ := json.Marshal(resp)
		handlerResult <- string(data)
		close(toolCallSent)

		<-conn.CloseRead(context.Background()).Done()
	})

	d := newDialer(srv)
	handle, err := d.Connect(context.Background(), session.Config{})
	if err != nil {
		t.Fatalf("Connect: %v", err)
	}
	defer handle.Close()

	handlerCalled := make(chan string, 1)
	handle.OnToolCall(func(name, args string) (string, error) {
		handlerCalled <- name + ":" + args
		return `{"result": "script ran"}`, nil
	})

	select {
	case <-toolCallSent:
	case <-time.After(3 * time.Second):
		t.Fatal("timeout waiting for tool response exchange")
	}

	select {
	case call := <-handlerCalled:
		if !strings.HasPrefix(call, "run_script:") {
			t.Errorf("handler called with %q; want prefix run_script:", call)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("timeout waiting for handler to be called")
	}

	select {
	case respStr := <-handlerResult:
		if !strings.Contains(respStr, "toolResponse") {
			t.Errorf("expected toolResponse in %q", respStr)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("timeout waiting for tool response")
	}
}

func TestOnToolCall_NilHandlerSkipsToolCall(t *testing.T) {
	t.Parallel()

	toolCallSent := make(chan struct{}, 1)

	srv := startGeminiServer(t, func(conn *websocket.Conn, _ *http.Request) {
		var raw map[string]any
		readJSON(t, conn, &raw)
		sendSetupComplete(t, conn)

		writeJSON(t, conn, map[string]any{
			"toolCall": map[string]any{
				"functionCalls": []map[string]any{
					{"id": "fc-1", "name": "do_thing", "args": map[string]any{}},
				},
			},
		})
		close(toolCallSent)

		// Keep the connection alive; no response is expected.
		time.Sleep(200 * time.Millisecond)
		<-conn.CloseRead(context.Background()).Done()
	})

	d := newDialer(srv)
	handle, err := d.Connect(context.Background(), session.Config{})
	if err != nil {
		t.Fatalf("Connect: %v", err)
	}
	defer handle.Close()

	// No handler registered — should not panic.
	select {
	case <-toolCallSent:
	case <-time.After(3 * time.Second):
		t.Fatal("timeout")
	}
	// Give the receive loop time to process without a handler.
	time.Sleep(50 * time.Millisecond)
}

// ── TestClose ──────────────────────────────────────────────────────────────────

func TestClose_Idempotent(t *testing.T) {
	t.Parallel()

	srv := startGeminiServer(t, func(conn *websocket.Conn, _ *http.Request) {
		var raw map[string]any
		readJSON(t, conn, &raw)
		sendSetupComplete(t, conn)
		<-conn.CloseRead(context.Background()).Done()
	})

	d := newDialer(srv)
	handle, err := d.Connect(context.Background(), session.Config{})
	if err != nil {
		t.Fatalf("Connect: %v", err)
	}

	if err := handle.Close(); err != nil {
		t.Fatalf("first Close() returned error: %v", err)
	}
	if err := handle.Close(); err != nil {
		t.Fatalf("second Close() returned error: %v", err)
	}
}

func TestClose_ClosesEventsChannel(t *testing.T) {
	t.Parallel()

	srv := startGeminiServer(t, func(conn *websocket.Conn, _ *http.Request) {
		var raw map[string]any
		readJSON(t, conn, &raw)
		sendSetupComplete(t, conn)
		<-conn.CloseRead(context.Background()).Done()
	})

	d := newDialer(srv)
	handle, err := d.Connect(context.Background(), session.Config{})
	if err != nil {
		t.Fatalf("Connect: %v", err)
	}

	_ = handle.Close()

	select {
	case _, open := <-handle.Events():
		if open {
			t.Error("events channel should be closed after Close()")
		}
	case <-time.After(3 * time.Second):
		t.Fatal("timeout waiting for events channel to close")
	}
}

// ── TestConcurrentSend ─────────────────────────────────────────────────────────

func TestConcurrentSend_DoesNotRace(t *testing.T) {
	t.Parallel()

	srv := startGeminiServer(t, func(conn *websocket.Conn, _ *http.Request) {
		// Consume setup, then drain all messages.
		var raw map[string]any
		readJSON(t, conn, &raw)
		sendSetupComplete(t, conn)

		ctx := context.Background()
		for {
			_, _, err := conn.Read(ctx)
			if err != nil {
				return
			}
		}
	})

	d := newDialer(srv)
	handle, err := d.Connect(context.Background(), session.Config{})
	if err != nil {
		t.Fatalf("Connect: %v", err)
	}
	defer handle.Close()

	const goroutines = 8
	const framesPerGoroutine = 16

	var wg sync.WaitGroup
	for range goroutines {
		wg.Go(func() {
			for range framesPerGoroutine {
				_ = handle.Send(context.Background(), media.AudioFrame([]byte{0x01, 0x02, 0x03, 0x04}))
			}
		})
	}
	wg.Wait()
}

// ── TestErr ────────────────────────────────────────────────────────────────────

func TestErr_NilBeforeClose(t *testing.T) {
	t.Parallel()

	srv := startGeminiServer(t, func(conn *websocket.Conn, _ *http.Request) {
		var raw map[string]any
		readJSON(t, conn, &raw)
		sendSetupComplete(t, conn)
		<-conn.CloseRead(context.Background()).Done()
	})

	d := newDialer(srv)
	handle, err := d.Connect(context.Background(), session.Config{})
	if err != nil {
		t.Fatalf("Connect: %v", err)
	}
	defer handle.Close()

	if got := handle.Err(); got != nil {
		t.Errorf("Err() = %v; want nil before any error", got)
	}
}
