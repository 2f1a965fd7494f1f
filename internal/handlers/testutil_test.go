package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"tangled.org/arabica.social/arbiter/internal/database/boltstore"
	"tangled.org/arabica.social/arbiter/internal/middleware"
	"tangled.org/arabica.social/arbiter/internal/moderation"
)

const (
	testAdmin = "did:plc:admin"
	testMod   = "did:plc:mod"
	testAlice = "did:plc:alice"
	testBob   = "did:plc:bob"
)

// testContext bundles a handler with the engine behind it
type testContext struct {
	Handler *Handler
	Engine  *moderation.Engine
	Broker  *moderation.Broker
}

func newTestContext(t *testing.T) *testContext {
	t.Helper()

	db, err := boltstore.Open(boltstore.Options{Path: filepath.Join(t.TempDir(), "handlers.db")})
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	dir, err := moderation.NewStaticDirectory(
		moderation.DirectoryUser{ID: testAdmin, Role: moderation.RoleAdmin},
		moderation.DirectoryUser{ID: testMod, Handle: "mod.test", Role: moderation.RoleModerator},
	)
	require.NoError(t, err)

	broker := moderation.NewBroker(16)
	engine, err := moderation.NewEngine(moderation.Options{
		Store:     db.ModerationStore(),
		Directory: dir,
		Broker:    broker,
	})
	require.NoError(t, err)

	return &testContext{Handler: NewHandler(engine), Engine: engine, Broker: broker}
}

// call invokes fn as actor. pathValues are name/value pairs for r.PathValue.
func call(t *testing.T, fn http.HandlerFunc, method, target, actor string, body any, pathValues ...string) *httptest.ResponseRecorder {
	t.Helper()

	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, target, &buf)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if actor != "" {
		req = req.WithContext(middleware.WithActor(req.Context(), actor))
	}
	for i := 0; i+1 < len(pathValues); i += 2 {
		req.SetPathValue(pathValues[i], pathValues[i+1])
	}

	rec := httptest.NewRecorder()
	fn(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}

// fileReport submits a spam report from alice against one of bob's posts.
func (tc *testContext) fileReport(t *testing.T, postID string) string {
	t.Helper()
	rec := call(t, tc.Handler.HandleSubmitReport, http.MethodPost, "/api/reports", testAlice, ReportRequest{
		ReportedUserID: testBob,
		TargetKind:     "post",
		TargetID:       postID,
		Reason:         "spam",
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	return decode[map[string]string](t, rec)["id"]
}

func withActor(r *http.Request, actor string) context.Context {
	return middleware.WithActor(r.Context(), actor)
}

func ptr[T any](v T) *T { return &v }
