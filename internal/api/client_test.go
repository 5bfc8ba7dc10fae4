package api

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
)

const acceptedMatch = `[{
	"id": "m-1",
	"status": "accepted",
	"requester_id": "a1",
	"responder_id": "b2",
	"requester": {"id": "a1", "display_name": "Ada"},
	"responder": {"id": "b2", "display_name": "Bo"}
}]`

func newServer(t *testing.T, body string, check func(*http.Request)) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if check != nil {
			check(r)
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(body))
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestResolveMatch_LocalIsSelf(t *testing.T) {
	var gotPath, gotID, gotKey, gotAuth string
	srv := newServer(t, acceptedMatch, func(r *http.Request) {
		gotPath = r.URL.Path
		gotID = r.URL.Query().Get("id")
		gotKey = r.Header.Get("apikey")
		gotAuth = r.Header.Get("Authorization")
	})

	c := NewClient(srv.URL+"/", "anon-key")
	local, remote, err := c.ResolveMatch(context.Background(), "m-1", "b2")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if gotPath != "/rest/v1/matches" {
		t.Errorf("path = %s", gotPath)
	}
	if gotID != "eq.m-1" {
		t.Errorf("id filter = %s", gotID)
	}
	if gotKey != "anon-key" || gotAuth != "Bearer anon-key" {
		t.Errorf("headers = %q / %q", gotKey, gotAuth)
	}
	if local.ID != "b2" || local.DisplayName != "Bo" {
		t.Errorf("local = %+v", local)
	}
	if remote.ID != "a1" || remote.DisplayName != "Ada" {
		t.Errorf("remote = %+v", remote)
	}
}

func TestResolveMatch_AccessToken(t *testing.T) {
	var gotAuth string
	srv := newServer(t, acceptedMatch, func(r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
	})

	c := NewClient(srv.URL, "anon-key", WithAccessToken("user-jwt"))
	if _, _, err := c.ResolveMatch(context.Background(), "m-1", "a1"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if gotAuth != "Bearer user-jwt" {
		t.Errorf("Authorization = %s", gotAuth)
	}
}

func TestResolveMatch_NotFound(t *testing.T) {
	srv := newServer(t, `[]`, nil)

	_, _, err := NewClient(srv.URL, "k").ResolveMatch(context.Background(), "m-404", "a1")
	if !errors.Is(err, ErrMatchNotFound) {
		t.Errorf("expected ErrMatchNotFound, got %v", err)
	}
}

func TestResolveMatch_NotAMember(t *testing.T) {
	srv := newServer(t, acceptedMatch, nil)

	if _, _, err := NewClient(srv.URL, "k").ResolveMatch(context.Background(), "m-1", "c3"); err == nil {
		t.Error("expected error for outsider")
	}
}

func TestResolveMatch_PendingRejected(t *testing.T) {
	srv := newServer(t, `[{"id":"m-1","status":"pending","requester_id":"a1","responder_id":"b2"}]`, nil)

	if _, _, err := NewClient(srv.URL, "k").ResolveMatch(context.Background(), "m-1", "a1"); err == nil {
		t.Error("expected error for pending match")
	}
}

func TestResolveMatch_FallsBackToColumnIDs(t *testing.T) {
	srv := newServer(t, `[{"id":"m-1","status":"accepted","requester_id":"a1","responder_id":"b2"}]`, nil)

	local, remote, err := NewClient(srv.URL, "k").ResolveMatch(context.Background(), "m-1", "a1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if local.ID != "a1" || remote.ID != "b2" {
		t.Errorf("got %+v / %+v", local, remote)
	}
}

func TestResolveMatch_HTTPError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "jwt expired", http.StatusUnauthorized)
	}))
	defer srv.Close()

	if _, _, err := NewClient(srv.URL, "k").ResolveMatch(context.Background(), "m-1", "a1"); err == nil {
		t.Error("expected error for 401")
	}
}
