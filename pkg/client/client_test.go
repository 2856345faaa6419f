package client

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestCreateEvidence(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/api/v1/evidence" {
			t.Errorf("unexpected request: %s %s", r.Method, r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer tok-123" {
			t.Errorf("Authorization = %q", got)
		}
		var req CreateEvidenceRequest
		json.NewDecoder(r.Body).Decode(&req)
		if req.SourceType != "manual_note" {
			t.Errorf("source_type = %q", req.SourceType)
		}
		w.WriteHeader(http.StatusCreated)
		json.NewEncoder(w).Encode(Evidence{
			ID: "ev-1", SourceType: req.SourceType, Title: req.Title,
			ContentSHA256: strings.Repeat("a", 64), ChainStatus: "open",
		})
	}))
	defer srv.Close()

	c := MustNew(srv.URL, WithBearerToken("tok-123"))
	ev, err := c.CreateEvidence(context.Background(), CreateEvidenceRequest{
		SourceType: "manual_note", Title: "note", Content: "text",
	})
	if err != nil {
		t.Fatalf("CreateEvidence: %v", err)
	}
	if ev.ID != "ev-1" || ev.ChainStatus != "open" {
		t.Errorf("unexpected evidence: %+v", ev)
	}
}

func TestAttachSurfacesAPIError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusConflict)
		json.NewEncoder(w).Encode(map[string]string{"error": "evidence object must be sealed"})
	}))
	defer srv.Close()

	c := MustNew(srv.URL)
	evID := "ev-1"
	_, err := c.Attach(context.Background(), "parent-1", AttachRequest{EvidenceObjectID: &evID})
	if err == nil {
		t.Fatal("expected error")
	}
	if !strings.Contains(err.Error(), "must be sealed") {
		t.Errorf("error = %v, want sealed message", err)
	}
}

func TestListInputsUnwrapsEnvelope(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{
			"inputs": []map[string]any{{"id": "att-1", "parent_id": "parent-1"}},
		})
	}))
	defer srv.Close()

	c := MustNew(srv.URL)
	inputs, err := c.ListInputs(context.Background(), "parent-1")
	if err != nil {
		t.Fatalf("ListInputs: %v", err)
	}
	if len(inputs) != 1 || inputs[0].ID != "att-1" {
		t.Errorf("unexpected inputs: %+v", inputs)
	}
}
