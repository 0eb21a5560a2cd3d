package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"crm-platform/internal/upstream"
)

func TestDecodeStatus_NestedShape(t *testing.T) {
	var raw map[string]any
	_ = json.Unmarshal([]byte(`{
		"instance": {"status":"connected","owner":"5547999999999@s.whatsapp.net","profileName":"Loja","profilePicUrl":"https://x/p.jpg","isBusiness":true,"plataform":"android"},
		"status": {"connected": true, "loggedIn": true, "jid": "5547999999999:3@s.whatsapp.net"}
	}`), &raw)

	rep, err := DecodeStatus(raw)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if rep.Connected == nil || !*rep.Connected || !rep.LoggedIn {
		t.Fatalf("expected connected flags, got %+v", rep)
	}
	if rep.RawStatus != "connected" || rep.Owner != "5547999999999@s.whatsapp.net" {
		t.Fatalf("unexpected fields: %+v", rep)
	}
	if !rep.IsBusiness || rep.Platform != "android" || rep.ProfileName != "Loja" {
		t.Fatalf("unexpected profile: %+v", rep)
	}
}

func TestDecodeStatus_FlatShapeAndWeakTypes(t *testing.T) {
	rep, err := DecodeStatus(map[string]any{"status": "qrcode", "connected": "false", "qrcode": "data:image/png;base64,AAA"})
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if rep.Connected == nil || *rep.Connected {
		t.Fatalf("expected explicit connected=false, got %+v", rep.Connected)
	}
	if rep.RawStatus != "qrcode" || rep.QRCode == "" {
		t.Fatalf("unexpected: %+v", rep)
	}
}

func TestDecodeStatus_MissingFlagIsNil(t *testing.T) {
	rep, err := DecodeStatus(map[string]any{"status": "connecting"})
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if rep.Connected != nil {
		t.Fatalf("expected nil connected flag")
	}
}

func TestHTTPClient_CreateAndStatus(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/instance/init", func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("admintoken") != "admin" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		var body map[string]string
		_ = json.NewDecoder(r.Body).Decode(&body)
		_ = json.NewEncoder(w).Encode(map[string]any{"token": "tok-" + body["name"]})
	})
	mux.HandleFunc("/instance/status", func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("token") != "tok-loja" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		_, _ = w.Write([]byte(`{"instance":{"status":"connecting"},"status":{"connected":false}}`))
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	c := NewHTTPClient(upstream.Options{Timeout: time.Second})
	ep := Endpoint{BaseURL: srv.URL, AdminToken: "admin"}

	created, err := c.CreateInstance(context.Background(), ep, "loja")
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if created.Token != "tok-loja" {
		t.Fatalf("unexpected token %q", created.Token)
	}
	rep, err := c.Status(context.Background(), ep, created.Token)
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	if rep.RawStatus != "connecting" {
		t.Fatalf("unexpected status %+v", rep)
	}
	if got := c.BridgeURL(ep, "loja"); got != srv.URL+"/chatwoot/webhook/loja" {
		t.Fatalf("unexpected bridge url %q", got)
	}
}

func TestHTTPClient_RequiresToken(t *testing.T) {
	c := NewHTTPClient(upstream.Options{})
	if _, err := c.Status(context.Background(), Endpoint{BaseURL: "http://x"}, ""); !errors.Is(err, ErrMissingToken) {
		t.Fatalf("expected ErrMissingToken, got %v", err)
	}
}

func TestHTTPClient_Non2xxIsUnavailable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	c := NewHTTPClient(upstream.Options{})
	err := c.Logout(context.Background(), Endpoint{BaseURL: srv.URL}, "tok")
	if !errors.Is(err, upstream.ErrUnavailable) {
		t.Fatalf("expected ErrUnavailable, got %v", err)
	}
}
