//go:build integration

package handler_test

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/staykeeper/custody/internal/api/handler"
	"github.com/staykeeper/custody/internal/artifact"
	"github.com/staykeeper/custody/internal/attachment"
	"github.com/staykeeper/custody/internal/bundle"
	"github.com/staykeeper/custody/internal/evidence"
	"github.com/staykeeper/custody/internal/identity"
)

type integrationEnv struct {
	srv    *httptest.Server
	db     *pgxpool.Pool
	token  string
	tenant uuid.UUID
}

func setupIntegration(t *testing.T) *integrationEnv {
	t.Helper()

	dbURL := os.Getenv("DATABASE_URL")
	if dbURL == "" {
		t.Skip("DATABASE_URL not set — skipping integration test")
	}

	ctx := context.Background()
	db, err := pgxpool.New(ctx, dbURL)
	if err != nil {
		t.Fatalf("connect to postgres: %v", err)
	}
	if err := db.Ping(ctx); err != nil {
		t.Fatalf("ping postgres: %v", err)
	}

	// Clean custody tables for deterministic tests. Assumes migrations have
	// been applied (go run ./cmd/migrate).
	db.Exec(ctx, "TRUNCATE evidence_objects, evidence_bundles, parent_inputs, derived_artifacts CASCADE")

	logger := zap.NewNop()
	tenant := uuid.New()

	tokens := identity.NewTokenIssuer([]byte("integration-secret"), "http://test", time.Hour)
	token, err := tokens.Issue(tenant, nil)
	if err != nil {
		t.Fatalf("issue token: %v", err)
	}

	ledger := evidence.NewPostgresLedger(db, logger)
	bundles := bundle.NewPostgresStore(db, logger)
	compiler := bundle.NewCompiler(bundles, ledger, logger)
	attachments := attachment.NewPostgresStore(db, logger)
	gate := attachment.NewGate(attachments, ledger, bundles, logger)
	artifacts := artifact.NewPostgresStore(db, logger)
	assembler := artifact.NewAssembler(artifacts, attachments, ledger, bundles, nil, logger)

	gin.SetMode(gin.TestMode)
	router := gin.New()
	v1 := router.Group("/api/v1", handler.RequireAuth(tokens))
	handler.NewEvidenceHandler(ledger, nil, logger).Register(v1)
	handler.NewBundleHandler(compiler, logger).Register(v1)
	handler.NewAttachmentHandler(gate, logger).Register(v1)
	handler.NewArtifactHandler(assembler, logger).Register(v1)

	srv := httptest.NewServer(router)
	t.Cleanup(func() {
		srv.Close()
		db.Close()
	})
	return &integrationEnv{srv: srv, db: db, token: token, tenant: tenant}
}

func (e *integrationEnv) do(t *testing.T, method, path string, body any) (*http.Response, map[string]any) {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req, err := http.NewRequest(method, e.srv.URL+path, &buf)
	if err != nil {
		t.Fatalf("%s %s: %v", method, path, err)
	}
	req.Header.Set("Authorization", "Bearer "+e.token)
	req.Header.Set("Content-Type", "application/json")

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, path, err)
	}
	defer resp.Body.Close()
	var result map[string]any
	json.NewDecoder(resp.Body).Decode(&result)
	return resp, result
}

func TestIntegration_EvidenceLifecycle(t *testing.T) {
	env := setupIntegration(t)

	resp, created := env.do(t, http.MethodPost, "/api/v1/evidence", map[string]any{
		"source_type": "manual_note",
		"title":       "inspection note",
		"content":     "scratched dining table",
	})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("create evidence: status %d", resp.StatusCode)
	}
	id := created["id"].(string)

	// Append a custody event, then verify the chain end to end against the
	// stored bytes.
	resp, _ = env.do(t, http.MethodPost, "/api/v1/evidence/"+id+"/events", map[string]any{
		"event_type": "annotated",
		"payload":    map[string]string{"note": "matched to booking bk-1"},
	})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("append event: status %d", resp.StatusCode)
	}

	resp, report := env.do(t, http.MethodGet, "/api/v1/evidence/"+id+"/verify", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("verify: status %d", resp.StatusCode)
	}
	if report["valid"] != true {
		t.Fatalf("expected valid chain, got %v", report)
	}

	resp, sealed := env.do(t, http.MethodPost, "/api/v1/evidence/"+id+"/seal", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("seal: status %d", resp.StatusCode)
	}
	if sealed["chain_status"] != "sealed" {
		t.Fatalf("expected sealed, got %v", sealed["chain_status"])
	}

	// Sealing again is a no-op.
	resp, _ = env.do(t, http.MethodPost, "/api/v1/evidence/"+id+"/seal", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("re-seal: status %d", resp.StatusCode)
	}

	// The chain stays verifiable after sealing (sealed event included).
	_, report = env.do(t, http.MethodGet, "/api/v1/evidence/"+id+"/verify", nil)
	if report["valid"] != true {
		t.Fatalf("expected valid chain after seal, got %v", report)
	}
}

func TestIntegration_AssembleFlow(t *testing.T) {
	env := setupIntegration(t)
	parent := uuid.New()

	// Two sealed evidence objects.
	var ids []string
	for i := 0; i < 2; i++ {
		_, created := env.do(t, http.MethodPost, "/api/v1/evidence", map[string]any{
			"source_type": "manual_note",
			"title":       fmt.Sprintf("note %d", i),
			"content":     fmt.Sprintf("observation %d", i),
		})
		id := created["id"].(string)
		if resp, _ := env.do(t, http.MethodPost, "/api/v1/evidence/"+id+"/seal", nil); resp.StatusCode != http.StatusOK {
			t.Fatalf("seal %s: status %d", id, resp.StatusCode)
		}
		ids = append(ids, id)
	}

	for _, id := range ids {
		resp, _ := env.do(t, http.MethodPost, "/api/v1/parents/"+parent.String()+"/inputs", map[string]any{
			"evidence_object_id": id,
		})
		if resp.StatusCode != http.StatusCreated {
			t.Fatalf("attach %s: status %d", id, resp.StatusCode)
		}
	}

	// Duplicate attachment runs into the partial unique index.
	resp, _ := env.do(t, http.MethodPost, "/api/v1/parents/"+parent.String()+"/inputs", map[string]any{
		"evidence_object_id": ids[0],
	})
	if resp.StatusCode != http.StatusConflict {
		t.Fatalf("duplicate attach: expected 409, got %d", resp.StatusCode)
	}

	resp, art := env.do(t, http.MethodPost, "/api/v1/parents/"+parent.String()+"/artifacts", map[string]any{
		"kind": "claim_dossier",
	})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("assemble: status %d", resp.StatusCode)
	}
	if art["version"].(float64) != 1 {
		t.Fatalf("expected version 1, got %v", art["version"])
	}

	// Second assembly supersedes the first.
	_, art2 := env.do(t, http.MethodPost, "/api/v1/parents/"+parent.String()+"/artifacts", map[string]any{
		"kind": "claim_dossier",
	})
	if art2["version"].(float64) != 2 {
		t.Fatalf("expected version 2, got %v", art2["version"])
	}

	_, listed := env.do(t, http.MethodGet, "/api/v1/parents/"+parent.String()+"/artifacts", nil)
	artifacts := listed["artifacts"].([]any)
	if len(artifacts) != 2 {
		t.Fatalf("expected 2 versions, got %d", len(artifacts))
	}
	latest := artifacts[0].(map[string]any)
	prior := artifacts[1].(map[string]any)
	if latest["status"] != "assembled" || prior["status"] != "superseded" {
		t.Fatalf("expected assembled/superseded, got %v/%v", latest["status"], prior["status"])
	}
}

// Concurrent assemblies against the same parent must serialize on the
// advisory lock and come out with distinct consecutive versions.
func TestIntegration_ConcurrentAssembly(t *testing.T) {
	env := setupIntegration(t)
	parent := uuid.New()

	_, created := env.do(t, http.MethodPost, "/api/v1/evidence", map[string]any{
		"source_type": "manual_note",
		"title":       "shared input",
		"content":     "broken lamp",
	})
	id := created["id"].(string)
	env.do(t, http.MethodPost, "/api/v1/evidence/"+id+"/seal", nil)
	env.do(t, http.MethodPost, "/api/v1/parents/"+parent.String()+"/inputs", map[string]any{
		"evidence_object_id": id,
	})

	const n = 4
	versions := make(chan float64, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			resp, art := env.do(t, http.MethodPost, "/api/v1/parents/"+parent.String()+"/artifacts", map[string]any{
				"kind": "defense_pack",
			})
			if resp.StatusCode != http.StatusCreated {
				t.Errorf("concurrent assemble: status %d", resp.StatusCode)
				return
			}
			versions <- art["version"].(float64)
		}()
	}
	wg.Wait()
	close(versions)

	seen := make(map[float64]bool)
	for v := range versions {
		if seen[v] {
			t.Fatalf("duplicate version %v", v)
		}
		seen[v] = true
	}
	if len(seen) != n {
		t.Fatalf("expected %d distinct versions, got %d", n, len(seen))
	}
}
