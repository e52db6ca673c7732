package backend

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"go.uber.org/zap"
)

func bytesReader(s string) io.Reader { return strings.NewReader(s) }

func testClient(t *testing.T, handler http.Handler) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return New(srv.URL, "desktop", zap.NewNop())
}

func TestListConversationsDecodesEnvelope(t *testing.T) {
	c := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/conversations" {
			t.Errorf("path = %q, want /api/conversations", r.URL.Path)
		}
		_, _ = w.Write([]byte(`{"data":[{"id":"42","name":"Anna","last_message":"hi","last_message_at":1000,"labels":["vip"]}]}`))
	}))

	convs, err := c.ListConversations(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if len(convs) != 1 || convs[0].ID != "42" || convs[0].Labels[0] != "vip" {
		t.Errorf("convs = %+v", convs)
	}
}

func TestSendMessagePayload(t *testing.T) {
	var got SendRequest
	c := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/conversations/42/send" {
			t.Errorf("path = %q", r.URL.Path)
		}
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Fatal(err)
		}
		_, _ = w.Write([]byte(`{"data":{"message_id":"srv-1","timestamp":123}}`))
	}))

	res, err := c.SendMessage(context.Background(), "42", SendRequest{Message: "Hello", Translate: false, ClientID: "c1"})
	if err != nil {
		t.Fatal(err)
	}
	if got.Message != "Hello" || got.Translate {
		t.Errorf("request = %+v, want {Hello false}", got)
	}
	if res.MessageID != "srv-1" {
		t.Errorf("message_id = %q, want srv-1", res.MessageID)
	}
}

func TestRejectedErrorOn4xx(t *testing.T) {
	c := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "no such conversation", http.StatusNotFound)
	}))

	_, err := c.SendMessage(context.Background(), "missing", SendRequest{Message: "x"})
	var rej *RejectedError
	if !errors.As(err, &rej) {
		t.Fatalf("error = %v, want RejectedError", err)
	}
	if rej.Status != http.StatusNotFound {
		t.Errorf("status = %d, want 404", rej.Status)
	}
	if errors.Is(err, ErrNetworkUnreachable) {
		t.Error("a definitive rejection must not classify as network-unreachable")
	}
}

func TestNetworkClassOn5xx(t *testing.T) {
	c := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusBadGateway)
	}))

	_, err := c.SendMessage(context.Background(), "42", SendRequest{Message: "x"})
	if !errors.Is(err, ErrNetworkUnreachable) {
		t.Errorf("error = %v, want ErrNetworkUnreachable (5xx is retryable)", err)
	}
}

func TestNetworkClassOnConnectionRefused(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	c := New(url, "desktop", zap.NewNop())
	err := c.Health(context.Background())
	if !errors.Is(err, ErrNetworkUnreachable) {
		t.Errorf("error = %v, want ErrNetworkUnreachable", err)
	}
}

func TestGetMessagesLimitParam(t *testing.T) {
	c := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.URL.Query().Get("limit"); got != "25" {
			t.Errorf("limit = %q, want 25", got)
		}
		_, _ = w.Write([]byte(`{"data":[{"id":"m1","message":"hey","timestamp":5}]}`))
	}))

	msgs, err := c.GetMessages(context.Background(), "7", 25)
	if err != nil {
		t.Fatal(err)
	}
	if len(msgs) != 1 || msgs[0].Body != "hey" {
		t.Errorf("msgs = %+v", msgs)
	}
}

func TestSendMediaMultipart(t *testing.T) {
	c := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseMultipartForm(1 << 20); err != nil {
			t.Fatal(err)
		}
		f, hdr, err := r.FormFile("media")
		if err != nil {
			t.Fatal(err)
		}
		defer func() { _ = f.Close() }()
		if hdr.Filename != "photo.png" {
			t.Errorf("filename = %q", hdr.Filename)
		}
		if got := r.FormValue("caption"); got != "look" {
			t.Errorf("caption = %q, want look", got)
		}
		_, _ = w.Write([]byte(`{"data":{"message_id":"srv-2","media_url":"/m/1.png"}}`))
	}))

	res, err := c.SendMedia(context.Background(), "42", "photo.png", bytesReader("fake-png"), "look")
	if err != nil {
		t.Fatal(err)
	}
	if res.MediaURL != "/m/1.png" {
		t.Errorf("media_url = %q", res.MediaURL)
	}
}

func TestLabelLifecycle(t *testing.T) {
	var deleted, detached bool
	c := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.Method == http.MethodPost && r.URL.Path == "/api/labels":
			_, _ = w.Write([]byte(`{"data":{"id":"l1","name":"VIP","color":"#f00"}}`))
		case r.Method == http.MethodDelete && r.URL.Path == "/api/labels/l1":
			deleted = true
		case r.Method == http.MethodDelete && r.URL.Path == "/api/customers/42/labels/l1":
			detached = true
		default:
			t.Errorf("unexpected %s %s", r.Method, r.URL.Path)
		}
	}))

	ctx := context.Background()
	label, err := c.CreateLabel(ctx, "VIP", "#f00")
	if err != nil {
		t.Fatal(err)
	}
	if label.ID != "l1" {
		t.Errorf("label id = %q", label.ID)
	}
	if err := c.DetachLabel(ctx, "42", "l1"); err != nil {
		t.Fatal(err)
	}
	if err := c.DeleteLabel(ctx, "l1"); err != nil {
		t.Fatal(err)
	}
	if !deleted || !detached {
		t.Errorf("deleted=%v detached=%v, want both true", deleted, detached)
	}
}
