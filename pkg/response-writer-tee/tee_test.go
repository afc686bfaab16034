package tee

import (
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestSaverRecordsHandlerResponse(t *testing.T) {
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain")
		w.WriteHeader(http.StatusCreated)
		w.Write([]byte("Hello world"))
	})
	rs := NewResponseSaver(nil)
	handler.ServeHTTP(rs, httptest.NewRequest("GET", "/", nil))

	if rs.StatusCode() != http.StatusCreated {
		t.Fatalf("Status is %d", rs.StatusCode())
	}
	if ct := rs.Header().Get("Content-Type"); ct != "text/plain" {
		t.Fatalf("Content-Type is %s", ct)
	}
	if string(rs.Body()) != "Hello world" {
		t.Fatalf("Body is %s", rs.Body())
	}
}

func TestSaverTeesToUnderlyingWriter(t *testing.T) {
	rr := httptest.NewRecorder()
	rs := NewResponseSaver(rr)
	rs.Header().Set("X-Test", "yes")
	rs.Write([]byte("tee"))

	if rr.Code != http.StatusOK {
		t.Fatalf("Underlying status is %d", rr.Code)
	}
	if rr.Header().Get("X-Test") != "yes" {
		t.Fatal("Header not copied to underlying writer")
	}
	if rr.Body.String() != "tee" || string(rs.Body()) != "tee" {
		t.Fatalf("Bodies are %q and %q", rr.Body.String(), rs.Body())
	}
}

func TestSaverImplicitStatus(t *testing.T) {
	rs := NewResponseSaver(nil)
	if rs.StatusCode() != http.StatusOK {
		t.Fatalf("Status is %d", rs.StatusCode())
	}
}
