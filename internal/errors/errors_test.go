package errors

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"testing"

	"google.golang.org/genproto/googleapis/rpc/errdetails"
	"google.golang.org/grpc/codes"
	"google.golang.org/protobuf/proto"
)

func TestAppErrorMessage(t *testing.T) {
	err := Wrap(fmt.Errorf("boom"), CodeEngineFault, "recognize failed").WithMetadata("generation", "3")

	msg := err.Error()
	for _, want := range []string{"[ENGINE_FAULT]", "recognize failed", "generation:3", "caused by: boom"} {
		if !strings.Contains(msg, want) {
			t.Errorf("Error() = %q, missing %q", msg, want)
		}
	}
}

func TestIsMatchesWrappedSentinel(t *testing.T) {
	err := fmt.Errorf("shot: %w", Wrap(errors.New("low"), CodeRejectedByConfidence, "rejected"))

	if !errors.Is(err, ErrRejectedByConfidence) {
		t.Error("wrapped rejection should match ErrRejectedByConfidence")
	}
	if errors.Is(err, ErrNoText) {
		t.Error("rejection should not match ErrNoText")
	}
}

func TestGRPCCodeMapping(t *testing.T) {
	tests := []struct {
		code Code
		want codes.Code
		http int
	}{
		{CodeEngineFault, codes.Internal, http.StatusInternalServerError},
		{CodeResourceUnavailable, codes.Unavailable, http.StatusServiceUnavailable},
		{CodeInvalidConfig, codes.InvalidArgument, http.StatusBadRequest},
		{CodeNoText, codes.NotFound, http.StatusNotFound},
		{CodeRejectedByConfidence, codes.FailedPrecondition, http.StatusConflict},
		{Code("BOGUS"), codes.Unknown, http.StatusInternalServerError},
	}

	for _, tt := range tests {
		e := New(tt.code, "x")
		if got := e.GRPCCode(); got != tt.want {
			t.Errorf("%s GRPCCode() = %v, want %v", tt.code, got, tt.want)
		}
		if got := e.HTTPStatus(); got != tt.http {
			t.Errorf("%s HTTPStatus() = %d, want %d", tt.code, got, tt.http)
		}
	}
}

func TestGRPCStatusRoundTrip(t *testing.T) {
	orig := New(CodeMalformedResult, "box count mismatch").WithMetadata("words", "4")

	back := FromGRPCError(orig.GRPCStatus().Err())
	if back.Code != CodeMalformedResult {
		t.Errorf("Code = %s, want %s", back.Code, CodeMalformedResult)
	}
	if back.Metadata["words"] != "4" {
		t.Errorf("Metadata = %v, want words=4", back.Metadata)
	}
}

func TestFromGRPCErrorPlain(t *testing.T) {
	back := FromGRPCError(errors.New("plain"))
	if back.Code != CodeUnknown {
		t.Errorf("Code = %s, want UNKNOWN", back.Code)
	}
}

func TestIsRetryable(t *testing.T) {
	if !IsRetryable(New(CodeResourceUnavailable, "x")) {
		t.Error("unavailable should be retryable")
	}
	if IsRetryable(New(CodeInvalidConfig, "x")) {
		t.Error("invalid config should not be retryable")
	}
	if IsRetryable(errors.New("plain")) {
		t.Error("plain errors should not be retryable")
	}
}

func TestGRPCStatusErrorInfo(t *testing.T) {
	st := New(CodeMalformedResult, "box mismatch").WithMetadata("boxes", "2").GRPCStatus()

	details := st.Details()
	if len(details) != 1 {
		t.Fatalf("details = %d, want 1", len(details))
	}
	info, ok := details[0].(*errdetails.ErrorInfo)
	if !ok {
		t.Fatalf("detail type = %T, want *errdetails.ErrorInfo", details[0])
	}
	want := &errdetails.ErrorInfo{Reason: "MALFORMED_RESULT", Domain: Domain, Metadata: map[string]string{"boxes": "2"}}
	if !proto.Equal(info, want) {
		t.Errorf("ErrorInfo = %v, want %v", info, want)
	}
}
