package marketfeed

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

func TestClient_Connect(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			t.Fatalf("upgrade: %v", err)
		}
		defer conn.Close()

		for {
			_, _, err := conn.ReadMessage()
			if err != nil {
				return
			}
		}
	}))
	defer server.Close()

	wsURL := "ws" + strings.TrimPrefix(server.URL, "http")

	ctx := context.Background()
	client, err := NewClient(ctx, wsURL, []string{"ACME_CORP"}, []string{"USD"}, nil, nil, zerolog.Nop())
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	defer client.Close()

	if client.closed.Load() {
		t.Error("client should not be closed")
	}
}

func TestClient_ReceivesQuotes(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		c, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			t.Fatalf("upgrade: %v", err)
		}
		defer c.Close()

		// Read subscribe request
		_, msg, err := c.ReadMessage()
		if err != nil {
			return
		}

		var req feedRequest
		if err := json.Unmarshal(msg, &req); err != nil {
			t.Errorf("unmarshal request: %v", err)
			return
		}
		if req.Type != "subscribe" {
			t.Errorf("expected subscribe, got %s", req.Type)
		}
		if len(req.Entities) != 1 || req.Entities[0] != "ACME_CORP" {
			t.Errorf("expected entities [ACME_CORP], got %v", req.Entities)
		}

		if err := c.WriteJSON(feedMessage{Type: "subscribed"}); err != nil {
			return
		}

		quoteTime := time.Date(2024, 6, 28, 16, 0, 0, 0, time.UTC)
		quotes := []quotePayload{
			{Kind: "CDS_SPREAD", Entity: "ACME_CORP", Tenor: "5Y", Currency: "USD",
				Seniority: "SNR", Value: decimal.NewFromInt(125), Source: "FEED", Time: quoteTime},
			{Kind: "IR_RATE", Currency: "USD", CurveType: "OIS", Tenor: "5Y",
				Value: decimal.NewFromFloat(0.045), Source: "FEED", Time: quoteTime},
			{Kind: "FX_RATE", Currency: "EUR", QuoteCurrency: "USD",
				Value: decimal.NewFromFloat(1.08), Source: "FEED", Time: quoteTime},
			{Kind: "RECOVERY_RATE", Entity: "ACME_CORP", Seniority: "SNR",
				Value: decimal.NewFromFloat(0.4), Source: "FEED", Time: quoteTime},
		}
		for i := range quotes {
			if err := c.WriteJSON(feedMessage{Type: "quote", Quote: &quotes[i]}); err != nil {
				return
			}
		}

		for {
			_, _, err := c.ReadMessage()
			if err != nil {
				return
			}
		}
	}))
	defer server.Close()

	wsURL := "ws" + strings.TrimPrefix(server.URL, "http")

	ctx := context.Background()
	client, err := NewClient(ctx, wsURL, []string{"ACME_CORP"}, []string{"USD"}, nil, nil, zerolog.Nop())
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	defer client.Close()

	// Wait for all four quotes to arrive.
	deadline := time.Now().Add(2 * time.Second)
	for client.QuoteCount() < 4 {
		if time.Now().After(deadline) {
			t.Fatalf("timeout waiting for quotes, got %d", client.QuoteCount())
		}
		time.Sleep(10 * time.Millisecond)
	}

	spreads, err := client.CdsSpreads(ctx, time.Now())
	if err != nil {
		t.Fatalf("CdsSpreads: %v", err)
	}
	if len(spreads) != 1 || spreads[0].ReferenceEntity != "ACME_CORP" {
		t.Errorf("spreads: got %+v", spreads)
	}
	if !spreads[0].SpreadBps.Equal(decimal.NewFromInt(125)) {
		t.Errorf("spread value: got %s, want 125", spreads[0].SpreadBps)
	}

	curve, err := client.IrCurve(ctx, time.Now())
	if err != nil {
		t.Fatalf("IrCurve: %v", err)
	}
	if len(curve) != 1 || curve[0].Currency != "USD" || curve[0].CurveType != "OIS" {
		t.Errorf("curve: got %+v", curve)
	}

	fx, err := client.FxRates(ctx, time.Now())
	if err != nil {
		t.Fatalf("FxRates: %v", err)
	}
	if len(fx) != 1 || fx[0].BaseCurrency != "EUR" || fx[0].QuoteCurrency != "USD" {
		t.Errorf("fx: got %+v", fx)
	}

	recoveries, err := client.RecoveryRates(ctx, time.Now())
	if err != nil {
		t.Fatalf("RecoveryRates: %v", err)
	}
	if len(recoveries) != 1 || !recoveries[0].Recovery.Equal(decimal.NewFromFloat(0.4)) {
		t.Errorf("recoveries: got %+v", recoveries)
	}
}

func TestClient_LastQuoteWins(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		c, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			t.Fatalf("upgrade: %v", err)
		}
		defer c.Close()

		if _, _, err := c.ReadMessage(); err != nil {
			return
		}

		quoteTime := time.Date(2024, 6, 28, 16, 0, 0, 0, time.UTC)
		for _, v := range []int64{100, 110, 120} {
			q := quotePayload{Kind: "CDS_SPREAD", Entity: "ACME_CORP", Tenor: "5Y",
				Currency: "USD", Seniority: "SNR", Value: decimal.NewFromInt(v),
				Source: "FEED", Time: quoteTime}
			if err := c.WriteJSON(feedMessage{Type: "quote", Quote: &q}); err != nil {
				return
			}
		}

		for {
			_, _, err := c.ReadMessage()
			if err != nil {
				return
			}
		}
	}))
	defer server.Close()

	wsURL := "ws" + strings.TrimPrefix(server.URL, "http")

	ctx := context.Background()
	client, err := NewClient(ctx, wsURL, nil, nil, nil, nil, zerolog.Nop())
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	defer client.Close()

	deadline := time.Now().Add(2 * time.Second)
	for {
		spreads, err := client.CdsSpreads(ctx, time.Now())
		if err != nil {
			t.Fatalf("CdsSpreads: %v", err)
		}
		if len(spreads) == 1 && spreads[0].SpreadBps.Equal(decimal.NewFromInt(120)) {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("timeout waiting for final quote, got %+v", spreads)
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestClient_Close(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			t.Fatalf("upgrade: %v", err)
		}
		defer conn.Close()

		for {
			_, _, err := conn.ReadMessage()
			if err != nil {
				return
			}
		}
	}))
	defer server.Close()

	wsURL := "ws" + strings.TrimPrefix(server.URL, "http")

	ctx := context.Background()
	client, err := NewClient(ctx, wsURL, nil, nil, nil, nil, zerolog.Nop())
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}

	if err := client.Close(); err != nil {
		t.Errorf("Close: %v", err)
	}
	if !client.closed.Load() {
		t.Error("client should be closed")
	}

	// Double close should be safe
	if err := client.Close(); err != nil {
		t.Errorf("double Close: %v", err)
	}
}

func TestClient_CustomConfig(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()

		for {
			_, _, err := conn.ReadMessage()
			if err != nil {
				return
			}
		}
	}))
	defer server.Close()

	wsURL := "ws" + strings.TrimPrefix(server.URL, "http")

	config := &Config{
		ReconnectDelay:    100 * time.Millisecond,
		MaxReconnectDelay: 1 * time.Second,
		PingInterval:      5 * time.Second,
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      5 * time.Second,
		HandshakeTimeout:  5 * time.Second,
	}

	ctx := context.Background()
	client, err := NewClient(ctx, wsURL, nil, nil, config, nil, zerolog.Nop())
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	defer client.Close()

	if client.cfg.PingInterval != 5*time.Second {
		t.Errorf("expected PingInterval 5s, got %v", client.cfg.PingInterval)
	}
}
