package apierr

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestNewAssignsDocsURLAndRequestID(t *testing.T) {
	e := New(CodeNotFound, "namespace not found", nil)
	if e.DocsURL != docsBaseURL+string(CodeNotFound) {
		t.Fatalf("unexpected docs url: %q", e.DocsURL)
	}
	if e.RequestID == "" {
		t.Fatal("expected a minted request ID")
	}
}

func TestWithRequestIDOverridesMintedID(t *testing.T) {
	e := New(CodeBadRequest, "bad", nil).WithRequestID("caller-supplied-id")
	if e.RequestID != "caller-supplied-id" {
		t.Fatalf("want caller-supplied-id, got %q", e.RequestID)
	}
}

func TestWithRequestIDIgnoresEmptyString(t *testing.T) {
	e := New(CodeBadRequest, "bad", nil)
	original := e.RequestID
	e.WithRequestID("")
	if e.RequestID != original {
		t.Fatal("empty request ID must not overwrite the minted one")
	}
}

func TestStatusMapsEveryCode(t *testing.T) {
	cases := map[Code]int{
		CodeBadRequest:    http.StatusBadRequest,
		CodeUnauthorized:  http.StatusUnauthorized,
		CodeForbidden:     http.StatusForbidden,
		CodeNotFound:      http.StatusNotFound,
		CodeOriginUnavail: http.StatusServiceUnavailable,
		CodeInternal:      http.StatusInternalServerError,
	}
	for code, want := range cases {
		if got := New(code, "msg", nil).Status(); got != want {
			t.Fatalf("%s: want %d, got %d", code, want, got)
		}
	}
}

func TestErrorUnwrapsCause(t *testing.T) {
	cause := errors.New("underlying failure")
	e := New(CodeInternal, "wrapped", cause)
	if !errors.Is(e, cause) {
		t.Fatal("Error must unwrap to its cause")
	}
}

func TestAsExtractsTypedErrorThroughWrapping(t *testing.T) {
	original := New(CodeNotFound, "missing", nil)
	wrapped := fmt.Errorf("context: %w", original)

	var target *Error
	if !As(wrapped, &target) {
		t.Fatal("As must find the typed *Error even when joined/wrapped")
	}
	if target.Code != CodeNotFound {
		t.Fatalf("want %s, got %s", CodeNotFound, target.Code)
	}
}

func TestAsReturnsFalseForUnrelatedError(t *testing.T) {
	var target *Error
	if As(errors.New("plain"), &target) {
		t.Fatal("As must return false for an error with no *Error in its chain")
	}
}

func TestWriteErrorOmitsSuccessFields(t *testing.T) {
	rec := httptest.NewRecorder()
	WriteError(rec, New(CodeForbidden, "nope", nil))

	if rec.Code != http.StatusForbidden {
		t.Fatalf("want 403, got %d", rec.Code)
	}
	var body map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	for _, field := range []string{"success", "remaining", "reset"} {
		if _, ok := body[field]; ok {
			t.Fatalf("error envelope must not carry %q", field)
		}
	}
	for _, field := range []string{"code", "message", "docs_url", "request_id"} {
		if _, ok := body[field]; !ok {
			t.Fatalf("error envelope missing %q", field)
		}
	}
}
