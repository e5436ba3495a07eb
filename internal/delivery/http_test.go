package delivery

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/opsd/internal/model"
)

// gateway records JSON bodies posted to it.
type gateway struct {
	mu     sync.Mutex
	bodies []map[string]any
	auth   []string
}

func (g *gateway) record(r *http.Request) {
	var body map[string]any
	_ = json.NewDecoder(r.Body).Decode(&body)
	g.mu.Lock()
	defer g.mu.Unlock()
	g.bodies = append(g.bodies, body)
	g.auth = append(g.auth, r.Header.Get("Authorization"))
}

func (g *gateway) posts() []map[string]any {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]map[string]any(nil), g.bodies...)
}

func whatsappServer(t *testing.T, state string, sendStatus int) (*httptest.Server, *gateway) {
	t.Helper()
	g := &gateway{}
	mux := http.NewServeMux()
	mux.HandleFunc("GET /session/status/s1", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"success":true,"state":"` + state + `"}`))
	})
	mux.HandleFunc("POST /client/sendMessage/s1", func(w http.ResponseWriter, r *http.Request) {
		g.record(r)
		w.WriteHeader(sendStatus)
		_, _ = w.Write([]byte(`{"error":"chat not found"}`))
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv, g
}

func TestWhatsAppSender_Execute(t *testing.T) {
	srv, g := whatsappServer(t, "CONNECTED", http.StatusOK)
	s := NewWhatsAppSender(WhatsAppConfig{APIURL: srv.URL + "/", SessionID: "s1"}, discardLogger())

	payload := rawJSON(t, MessagePayload{To: []string{"111@c.us", "222@c.us"}, Message: "your invoice is ready"})
	require.NoError(t, s.Execute(context.Background(), newTask(model.ChannelWhatsApp, payload)))

	posts := g.posts()
	require.Len(t, posts, 2)
	assert.Equal(t, map[string]any{"chatId": "111@c.us", "contentType": "string", "content": "your invoice is ready"}, posts[0])
	assert.Equal(t, "222@c.us", posts[1]["chatId"])
}

func TestWhatsAppSender_SessionNotConnected(t *testing.T) {
	srv, g := whatsappServer(t, "UNPAIRED", http.StatusOK)
	s := NewWhatsAppSender(WhatsAppConfig{APIURL: srv.URL, SessionID: "s1"}, discardLogger())

	payload := rawJSON(t, MessagePayload{To: []string{"111@c.us"}, Message: "hi"})
	err := s.Execute(context.Background(), newTask(model.ChannelWhatsApp, payload))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not connected")
	assert.Empty(t, g.posts())
}

func TestWhatsAppSender_SendRejected(t *testing.T) {
	srv, _ := whatsappServer(t, "CONNECTED", http.StatusNotFound)
	s := NewWhatsAppSender(WhatsAppConfig{APIURL: srv.URL, SessionID: "s1"}, discardLogger())

	payload := rawJSON(t, MessagePayload{To: []string{"111@c.us"}, Message: "hi"})
	err := s.Execute(context.Background(), newTask(model.ChannelWhatsApp, payload))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "status 404")
	assert.Contains(t, err.Error(), "chat not found")
}

func TestWhatsAppSender_Validate(t *testing.T) {
	s := NewWhatsAppSender(WhatsAppConfig{APIURL: "http://gw", SessionID: "s1"}, discardLogger())
	assert.NoError(t, s.Validate(model.Target{Kind: model.ChannelWhatsApp, Payload: []byte(`{"to":["1"],"message":"m"}`)}))
	assert.ErrorIs(t, s.Validate(model.Target{Kind: model.ChannelWhatsApp, Payload: []byte(`{"to":[]}`)}), model.ErrValidation)

	unconfigured := NewWhatsAppSender(WhatsAppConfig{}, discardLogger())
	err := unconfigured.Validate(model.Target{Kind: model.ChannelWhatsApp, Payload: []byte(`{"to":["1"],"message":"m"}`)})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not configured")
}

func TestWhatsAppSender_SendsAttachmentsAsMedia(t *testing.T) {
	srv, g := whatsappServer(t, "CONNECTED", http.StatusOK)
	s := NewWhatsAppSender(WhatsAppConfig{APIURL: srv.URL, SessionID: "s1"}, discardLogger())

	payload := rawJSON(t, WhatsAppPayload{
		To:      []string{"111@c.us", "222@c.us"},
		Message: "your invoice",
		AttachmentSet: AttachmentSet{Attachments: []Attachment{
			{Filename: "invoice.pdf", ContentType: "application/pdf", Data: []byte("%PDF-1.4")},
		}},
	})
	require.NoError(t, s.Execute(context.Background(), newTask(model.ChannelWhatsApp, payload)))

	posts := g.posts()
	require.Len(t, posts, 4, "text then media, per recipient")
	assert.Equal(t, "string", posts[0]["contentType"])
	assert.Equal(t, "string", posts[1]["contentType"])
	assert.Equal(t, map[string]any{
		"chatId":      "111@c.us",
		"contentType": "MessageMedia",
		"content": map[string]any{
			"mimetype": "application/pdf",
			"data":     fakePDF,
			"filename": "invoice.pdf",
		},
	}, posts[2])
	assert.Equal(t, "222@c.us", posts[3]["chatId"])
}

func TestWhatsAppSender_AttachmentOnlyWithRenderedPDF(t *testing.T) {
	srv, g := whatsappServer(t, "CONNECTED", http.StatusOK)
	renderer, _ := writeRenderer(t, recordingRenderer)
	s := NewWhatsAppSender(WhatsAppConfig{APIURL: srv.URL, SessionID: "s1"}, discardLogger())
	s.renderer = NewPDFRenderer(testPDFConfig(renderer, t.TempDir()), discardLogger())

	payload := rawJSON(t, WhatsAppPayload{
		To:            []string{"111@c.us"},
		AttachmentSet: AttachmentSet{PDF: &PDFPayload{HTML: "<h1>Receipt</h1>"}},
	})
	require.NoError(t, s.Execute(context.Background(), newTask(model.ChannelWhatsApp, payload)))

	posts := g.posts()
	require.Len(t, posts, 1, "no text message without one")
	assert.Equal(t, "MessageMedia", posts[0]["contentType"])
	content, ok := posts[0]["content"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, defaultPDFName, content["filename"])
	assert.Equal(t, fakePDF, content["data"])
}

func TestWhatsAppSender_ValidateAttachments(t *testing.T) {
	s := NewWhatsAppSender(WhatsAppConfig{APIURL: "http://gw", SessionID: "s1"}, discardLogger())

	err := s.Validate(model.Target{Kind: model.ChannelWhatsApp, Payload: []byte(`{"to":["1"]}`)})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "or attachments")

	assert.NoError(t, s.Validate(model.Target{Kind: model.ChannelWhatsApp, Payload: []byte(`{"to":["1"],"attachments":[{"filename":"a.txt","data":"aGk="}]}`)}))

	err = s.Validate(model.Target{Kind: model.ChannelWhatsApp, Payload: []byte(`{"to":["1"],"message":"m","attachments":[{"filename":"a.txt"}]}`)})
	assert.ErrorIs(t, err, model.ErrValidation)
}

func TestSMSSender_Execute(t *testing.T) {
	g := &gateway{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		g.record(r)
		w.WriteHeader(http.StatusAccepted)
	}))
	t.Cleanup(srv.Close)

	s := NewSMSSender(SMSConfig{WebhookURL: srv.URL, Token: "secret"}, discardLogger())
	payload := rawJSON(t, MessagePayload{To: []string{"+15550001", "+15550002"}, Message: "code 1234"})
	require.NoError(t, s.Execute(context.Background(), newTask(model.ChannelSMS, payload)))

	posts := g.posts()
	require.Len(t, posts, 2)
	assert.Equal(t, map[string]any{"to": "+15550001", "message": "code 1234"}, posts[0])
	assert.Equal(t, []string{"Bearer secret", "Bearer secret"}, g.auth)
}

func TestSMSSender_GatewayError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "quota exceeded", http.StatusTooManyRequests)
	}))
	t.Cleanup(srv.Close)

	s := NewSMSSender(SMSConfig{WebhookURL: srv.URL}, discardLogger())
	payload := rawJSON(t, MessagePayload{To: []string{"+15550001"}, Message: "x"})
	err := s.Execute(context.Background(), newTask(model.ChannelSMS, payload))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "status 429")
	assert.Contains(t, err.Error(), "quota exceeded")
}

func TestSMSSender_CancelledContext(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	t.Cleanup(srv.Close)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	s := NewSMSSender(SMSConfig{WebhookURL: srv.URL}, discardLogger())
	payload := rawJSON(t, MessagePayload{To: []string{"+15550001"}, Message: "x"})
	err := s.Execute(ctx, newTask(model.ChannelSMS, payload))
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
}
