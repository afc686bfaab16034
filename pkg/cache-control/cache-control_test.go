package cachecontrol

import (
	"net/http"
	"testing"
)

func TestMaxAge(t *testing.T) {
	cc := Parse([]string{"max-age=60"})
	val, ok := cc.Get("max-age")
	if !ok {
		t.Fatal("Could not get directive")
	}
	if val != "60" {
		t.Fatalf("Value is %s", val)
	}
}

func TestReal(t *testing.T) {
	cc := Parse([]string{"public,max-age=0, S-MaxAge=\"600\""})
	if val, ok := cc.Get("public"); !ok || val != "" {
		t.Fatalf("val: '%s', ok: %v", val, ok)
	}
	if val, ok := cc.Get("max-age"); !ok || val != "0" {
		t.Fatalf("val: '%s', ok: %v", val, ok)
	}
	if val, ok := cc.Get("s-maxage"); !ok || val != "600" {
		t.Fatalf("val: '%s', ok: %v", val, ok)
	}
}

func TestNoStore(t *testing.T) {
	h := http.Header{}
	if NoStore(h) {
		t.Fatal("Empty header is no-store")
	}
	h.Add("Cache-Control", "max-age=60")
	h.Add("Cache-Control", "No-Store")
	if !NoStore(h) {
		t.Fatal("no-store in second field not found")
	}
}
