package serializer

import (
	"io"
	"net/http"
	"strings"
	"testing"
	"time"
)

func TestRoundTripKeepsStatusHeadersBodyAndTime(t *testing.T) {
	storedAt := time.Unix(1700000000, 42)
	sRes := StoredResponse{
		StatusCode: http.StatusOK,
		Header:     http.Header{"Content-Type": {"text/html"}},
		Body:       []byte("<h1>offline</h1>"),
		StoredAt:   storedAt,
	}
	b, err := StoredResponseToBytes(sRes)
	if err != nil {
		t.Fatal(err)
	}
	got, err := BytesToStoredResponse(b)
	if err != nil {
		t.Fatal(err)
	}
	if got.StatusCode != http.StatusOK {
		t.Fatalf("Status is %d", got.StatusCode)
	}
	if ct := got.Header.Get("Content-Type"); ct != "text/html" {
		t.Fatalf("Content-Type is %s", ct)
	}
	if string(got.Body) != "<h1>offline</h1>" {
		t.Fatalf("Body is %s", got.Body)
	}
	if !got.StoredAt.Equal(storedAt) {
		t.Fatalf("StoredAt is %s, expected %s", got.StoredAt, storedAt)
	}
	if got.Header.Get(storedAtHeaderName) != "" {
		t.Fatal("Internal header leaked")
	}
}

func TestFromResponseConsumesBody(t *testing.T) {
	res := &http.Response{
		StatusCode: http.StatusNotFound,
		Header:     http.Header{"Content-Length": {"5"}},
		Body:       io.NopCloser(strings.NewReader("nope!")),
	}
	sRes, err := FromResponse(res)
	if err != nil {
		t.Fatal(err)
	}
	if sRes.OK() {
		t.Fatal("404 reported as OK")
	}
	if string(sRes.Body) != "nope!" {
		t.Fatalf("Body is %s", sRes.Body)
	}
	if sRes.Header.Get("Content-Length") != "" {
		t.Fatal("Content-Length kept")
	}
}

func TestResponseReturnsIndependentReaders(t *testing.T) {
	sRes := StoredResponse{StatusCode: 200, Header: http.Header{}, Body: []byte("abc")}
	first, _ := io.ReadAll(sRes.Response(nil).Body)
	second, _ := io.ReadAll(sRes.Response(nil).Body)
	if string(first) != "abc" || string(second) != "abc" {
		t.Fatalf("Bodies are %s and %s", first, second)
	}
}

func TestCloneIsDeep(t *testing.T) {
	sRes := StoredResponse{StatusCode: 200, Header: http.Header{"X": {"1"}}, Body: []byte("abc")}
	c := sRes.Clone()
	c.Header.Set("X", "2")
	c.Body[0] = 'z'
	if sRes.Header.Get("X") != "1" || string(sRes.Body) != "abc" {
		t.Fatal("Clone shares state with original")
	}
}
