package transport

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/quantfold/venuelink/errs"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) (*Client, *httptest.Server) {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)
	client := NewClient(Options{
		Venue:     "testvenue",
		BaseURL:   server.URL,
		RateLimit: 1000,
		RateBurst: 1000,
	})
	return client, server
}

func TestDoDecodesSuccess(t *testing.T) {
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/ticker" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if r.URL.Query().Get("symbol") != "BTCUSDT" {
			t.Errorf("missing query parameter")
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"price":"50000.1"}`))
	})

	var out struct {
		Price string `json:"price"`
	}
	req := Request{Method: http.MethodGet, Path: "/api/ticker"}
	req.Query = map[string][]string{"symbol": {"BTCUSDT"}}
	if err := client.Do(context.Background(), req, &out); err != nil {
		t.Fatalf("Do returned error: %v", err)
	}
	if out.Price != "50000.1" {
		t.Fatalf("decoded price = %s", out.Price)
	}
}

func TestDoPreservesVenueErrorMessage(t *testing.T) {
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"code":-1121,"msg":"Invalid symbol."}`))
	})

	err := client.Do(context.Background(), Request{Method: http.MethodGet, Path: "/x"}, nil)
	if err == nil {
		t.Fatalf("expected error for 400 response")
	}
	var envelope *errs.E
	if !errors.As(err, &envelope) {
		t.Fatalf("error is not an envelope: %v", err)
	}
	if envelope.Kind != errs.KindVenue {
		t.Fatalf("kind = %s, want venue", envelope.Kind)
	}
	if envelope.HTTP != http.StatusBadRequest {
		t.Fatalf("http = %d", envelope.HTTP)
	}
	if !strings.Contains(envelope.RawMsg, "Invalid symbol.") {
		t.Fatalf("raw venue message lost: %q", envelope.RawMsg)
	}
}

func TestDoClassifiesAuthAndRateLimit(t *testing.T) {
	cases := []struct {
		status int
		kind   errs.Kind
	}{
		{http.StatusUnauthorized, errs.KindAuth},
		{http.StatusForbidden, errs.KindAuth},
		{http.StatusTooManyRequests, errs.KindRateLimited},
		{http.StatusBadGateway, errs.KindConnectivity},
	}
	for _, tc := range cases {
		status := tc.status
		client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(status)
		})
		err := client.Do(context.Background(), Request{Method: http.MethodGet, Path: "/x"}, nil)
		if got := errs.KindOf(err); got != tc.kind {
			t.Fatalf("status %d mapped to kind %q, want %q", tc.status, got, tc.kind)
		}
	}
}

func TestDoConnectivityError(t *testing.T) {
	client := NewClient(Options{
		Venue:     "testvenue",
		BaseURL:   "http://127.0.0.1:1", // nothing listens here
		RateLimit: 1000,
	})
	err := client.Do(context.Background(), Request{
		Method:  http.MethodGet,
		Path:    "/x",
		Timeout: 500 * time.Millisecond,
	}, nil)
	if errs.KindOf(err) != errs.KindConnectivity {
		t.Fatalf("expected connectivity error, got %v", err)
	}
}

func TestDoCustomErrorParser(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"error":["EOrder:Insufficient funds"]}`))
	}))
	t.Cleanup(server.Close)

	client := NewClient(Options{
		Venue:     "kraken",
		BaseURL:   server.URL,
		RateLimit: 1000,
		ParseError: func(status int, body []byte) *errs.E {
			if strings.Contains(string(body), "Insufficient funds") {
				return errs.New("kraken", errs.KindVenue,
					errs.WithReason(errs.ReasonInsufficientBalance),
					errs.WithHTTP(status),
					errs.WithRawMessage(string(body)))
			}
			return nil
		},
	})
	err := client.Do(context.Background(), Request{Method: http.MethodPost, Path: "/x"}, nil)
	if errs.ReasonOf(err) != errs.ReasonInsufficientBalance {
		t.Fatalf("custom parser not applied: %v", err)
	}
}

func TestDoHonorsContextCancellation(t *testing.T) {
	release := make(chan struct{})
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		<-release
	})
	t.Cleanup(func() { close(release) })

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(50 * time.Millisecond)
		cancel()
	}()
	err := client.Do(ctx, Request{Method: http.MethodGet, Path: "/slow", Timeout: 10 * time.Second}, nil)
	if errs.KindOf(err) != errs.KindConnectivity {
		t.Fatalf("expected connectivity classification for canceled call, got %v", err)
	}
}
