package captcha

import (
	"context"
	"encoding/json"
	"errors"
	"image"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/ohmynofan/wos-giftcode-bot/internal/config"
)

func TestRemote_Recognize(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/ocr" {
			t.Errorf("path = %s, want /ocr", r.URL.Path)
		}
		var req remoteRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Fatal(err)
		}
		if req.Image == "" || req.Device != "cuda:0" || req.Length != 4 {
			t.Errorf("request = %+v", req)
		}
		w.Write([]byte(`{"code":"OK","results":[{"text":"AB12","confidence":93},{"text":"A812","confidence":0.4}]}`))
	}))
	defer srv.Close()

	r, err := NewRemote(srv.URL+"/", "cuda:0", time.Second)
	if err != nil {
		t.Fatal(err)
	}
	got, err := r.Recognize(context.Background(), image.NewGray(image.Rect(0, 0, 8, 8)))
	if err != nil {
		t.Fatalf("Recognize() error = %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("len = %d, want 2", len(got))
	}
	if got[0].Text != "AB12" || got[0].Confidence != 0.93 {
		t.Errorf("got[0] = %+v, want AB12 0.93", got[0])
	}
	if got[1].Confidence != 0.4 {
		t.Errorf("got[1].Confidence = %v, want 0.4", got[1].Confidence)
	}
}

func TestRemote_ServerErrors(t *testing.T) {
	tests := []struct {
		name   string
		status int
		body   string
		check  func(error) bool
	}{
		{"busy status", http.StatusServiceUnavailable, ``, func(err error) bool { return errors.Is(err, ErrEngineBusy) }},
		{"busy code", http.StatusOK, `{"code":"BUSY"}`, IsTransient},
		{"no device", http.StatusOK, `{"code":"NO_DEVICE"}`, func(err error) bool { return errors.Is(err, ErrDeviceUnavailable) }},
		{"bad image", http.StatusOK, `{"code":"BAD_IMAGE"}`, func(err error) bool { return err == nil }},
		{"server error", http.StatusInternalServerError, `oops`, func(err error) bool { return err != nil && !IsTransient(err) }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				w.Write([]byte(tt.body))
			}))
			defer srv.Close()

			r, _ := NewRemote(srv.URL, "", time.Second)
			_, err := r.Recognize(context.Background(), image.NewGray(image.Rect(0, 0, 2, 2)))
			if !tt.check(err) {
				t.Errorf("unexpected err = %v", err)
			}
		})
	}
}

func TestNew_SelectsEngine(t *testing.T) {
	cfg := config.Config{OCREngine: config.OCREngineRemote, Policy: config.DefaultPolicy()}
	if _, err := New(cfg); !errors.Is(err, ErrEndpointRequired) {
		t.Errorf("remote without endpoint err = %v, want ErrEndpointRequired", err)
	}

	cfg.OCREndpoint = "http://127.0.0.1:9"
	engine, err := New(cfg)
	if err != nil {
		t.Fatal(err)
	}
	if _, ok := engine.(*Remote); !ok {
		t.Errorf("engine = %T, want *Remote", engine)
	}

	cfg.OCREngine = "paddle"
	if _, err := New(cfg); !errors.Is(err, ErrUnknownEngine) {
		t.Errorf("unknown engine err = %v", err)
	}
}
