package transport

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"hydragent/internal/link"
)

// TestFetch_Decodes tests fetching and decoding a member resource
func TestFetch_Decodes(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			t.Errorf("method = %s, want GET", r.Method)
		}
		w.Write([]byte(`{"@id": "/Drone/1", "@type": "Drone", "name": "X1"}`))
	}))
	defer srv.Close()

	doc, err := NewClient().Fetch(context.Background(), srv.URL+"/Drone/1")
	if err != nil {
		t.Fatalf("Fetch() failed: %v", err)
	}
	if doc.ID != "/Drone/1" || doc.Type != "Drone" {
		t.Errorf("doc = %s %s, want /Drone/1 Drone", doc.ID, doc.Type)
	}
}

// TestFetch_NotFound tests that a 404 maps to link.ErrNotFound
func TestFetch_NotFound(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	_, err := NewClient().Fetch(context.Background(), srv.URL+"/Drone/404")
	if !errors.Is(err, link.ErrNotFound) {
		t.Errorf("err = %v, want link.ErrNotFound", err)
	}
}

// TestFetch_ServerError tests that other failure statuses are plain errors
func TestFetch_ServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	_, err := NewClient().Fetch(context.Background(), srv.URL+"/Drone/1")
	if err == nil {
		t.Fatal("Fetch() succeeded on a 500")
	}
	if errors.Is(err, link.ErrNotFound) {
		t.Error("500 reported as ErrNotFound")
	}
}

// TestCreate_Location tests that the server-assigned location is returned
func TestCreate_Location(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPut {
			t.Errorf("method = %s, want PUT", r.Method)
		}
		if ct := r.Header.Get("Content-Type"); ct != "application/ld+json" {
			t.Errorf("Content-Type = %q", ct)
		}
		w.Header().Set("Location", "http://localhost:8080/api/Drone/9")
		w.WriteHeader(http.StatusCreated)
	}))
	defer srv.Close()

	location, err := NewClient().Create(context.Background(), srv.URL+"/Drone", map[string]interface{}{
		"@type": "Drone",
		"name":  "X9",
	})
	if err != nil {
		t.Fatalf("Create() failed: %v", err)
	}
	if location != "http://localhost:8080/api/Drone/9" {
		t.Errorf("location = %q", location)
	}
}

// TestCreate_NoLocation tests falling back to the request URL
func TestCreate_NoLocation(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	url := srv.URL + "/Drone/3"
	location, err := NewClient().Create(context.Background(), url, nil)
	if err != nil {
		t.Fatalf("Create() failed: %v", err)
	}
	if location != url {
		t.Errorf("location = %q, want request URL", location)
	}
}

// TestReplace_NotFound tests that replacing a missing resource surfaces 404
func TestReplace_NotFound(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("method = %s, want POST", r.Method)
		}
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	err := NewClient().Replace(context.Background(), srv.URL+"/Drone/404", nil)
	if !errors.Is(err, link.ErrNotFound) {
		t.Errorf("err = %v, want link.ErrNotFound", err)
	}
}

// TestDelete_Success tests the delete request shape
func TestDelete_Success(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodDelete {
			t.Errorf("method = %s, want DELETE", r.Method)
		}
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	if err := NewClient().Delete(context.Background(), srv.URL+"/Drone/1"); err != nil {
		t.Errorf("Delete() failed: %v", err)
	}
}
