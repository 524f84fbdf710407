package upstream

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func relayServer(t *testing.T) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/api/messages/unprocessed", func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer tok-1" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		if r.URL.Query().Get("channel_id") != "chan-1" {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]any{
			"data": []map[string]any{
				{
					"message_id": "m1",
					"channel_id": "chan-1",
					"text":       "ATIVO: VALE3 COMPRA: 50.00",
					"sender":     "trader",
					"media_type": "none",
					"posted_at":  time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC).Unix(),
				},
				{
					"message_id": "m2",
					"channel_id": "chan-1",
					"caption":    "ATIVO: PETR4 COMPRA: 25.00",
					"media_type": "sticker", // unknown types normalize to none
				},
			},
		})
	})
	mux.HandleFunc("/api/messages/ack", func(w http.ResponseWriter, r *http.Request) {
		var body struct {
			MessageIDs []string `json:"message_ids"`
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]any{
			"data": map[string]any{"acknowledged": len(body.MessageIDs)},
		})
	})
	mux.HandleFunc("/api/messages/sync", func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{
			"data": map[string]any{"messages_synced": 100, "has_more": true},
		})
	})
	mux.HandleFunc("/api/health", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	return httptest.NewServer(mux)
}

func TestClientFetchUnprocessed(t *testing.T) {
	srv := relayServer(t)
	defer srv.Close()

	c := NewClient(srv.URL, "tok-1", "chan-1", 5*time.Second)
	msgs, err := c.FetchUnprocessed(context.Background(), 50)
	if err != nil {
		t.Fatalf("fetch failed: %v", err)
	}
	if len(msgs) != 2 {
		t.Fatalf("expected 2 messages, got %d", len(msgs))
	}
	if msgs[0].MessageID != "m1" || msgs[0].Content() != "ATIVO: VALE3 COMPRA: 50.00" {
		t.Fatalf("unexpected message %+v", msgs[0])
	}
	if msgs[1].Content() != "ATIVO: PETR4 COMPRA: 25.00" {
		t.Fatalf("caption not used as content: %+v", msgs[1])
	}
	if string(msgs[1].MediaType) != "none" {
		t.Fatalf("unknown media type not normalized: %q", msgs[1].MediaType)
	}
}

func TestClientRejectedToken(t *testing.T) {
	srv := relayServer(t)
	defer srv.Close()

	c := NewClient(srv.URL, "wrong", "chan-1", 5*time.Second)
	if _, err := c.FetchUnprocessed(context.Background(), 50); err == nil {
		t.Fatalf("expected auth error")
	}
}

func TestClientAcknowledge(t *testing.T) {
	srv := relayServer(t)
	defer srv.Close()

	c := NewClient(srv.URL, "tok-1", "chan-1", 5*time.Second)
	n, err := c.Acknowledge(context.Background(), []string{"m1", "m2", "m3"})
	if err != nil {
		t.Fatalf("ack failed: %v", err)
	}
	if n != 3 {
		t.Fatalf("expected 3 acked, got %d", n)
	}

	// empty batch short-circuits without a request
	if n, err := c.Acknowledge(context.Background(), nil); err != nil || n != 0 {
		t.Fatalf("unexpected result n=%d err=%v", n, err)
	}
}

func TestClientBulkSync(t *testing.T) {
	srv := relayServer(t)
	defer srv.Close()

	c := NewClient(srv.URL, "tok-1", "chan-1", 5*time.Second)
	res, err := c.BulkSync(context.Background(), 100)
	if err != nil {
		t.Fatalf("sync failed: %v", err)
	}
	if res.MessagesSynced != 100 || !res.HasMore {
		t.Fatalf("unexpected result %+v", res)
	}
}

func TestClientTestConnection(t *testing.T) {
	srv := relayServer(t)
	defer srv.Close()

	c := NewClient(srv.URL, "tok-1", "chan-1", 5*time.Second)
	if !c.TestConnection(context.Background()) {
		t.Fatalf("expected healthy relay")
	}

	srv.Close()
	if c.TestConnection(context.Background()) {
		t.Fatalf("expected unreachable relay")
	}
}
