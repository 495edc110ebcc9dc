package metrics

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestResponseRecorderDefaultsToOK(t *testing.T) {
	rr := NewResponseRecorder(httptest.NewRecorder())
	if rr.Status() != http.StatusOK {
		t.Fatalf("expected 200 before WriteHeader, got %d", rr.Status())
	}
}

func TestResponseRecorderCapturesStatus(t *testing.T) {
	inner := httptest.NewRecorder()
	rr := NewResponseRecorder(inner)

	rr.WriteHeader(http.StatusNotFound)
	if rr.Status() != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rr.Status())
	}
	if inner.Code != http.StatusNotFound {
		t.Fatalf("status was not forwarded, got %d", inner.Code)
	}
}

func TestResponseRecorderReadFrom(t *testing.T) {
	inner := httptest.NewRecorder()
	rr := NewResponseRecorder(inner)

	n, err := rr.ReadFrom(strings.NewReader("segment bytes"))
	if err != nil || n != int64(len("segment bytes")) {
		t.Fatalf("ReadFrom = %d, %v", n, err)
	}
	if inner.Body.String() != "segment bytes" {
		t.Fatalf("unexpected body %q", inner.Body.String())
	}
}
