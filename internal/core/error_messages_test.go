package core

import (
	"errors"
	"fmt"
	"strings"
	"testing"
)

func TestMapError(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		wantCode string
	}{
		{"nil error returns empty", nil, ""},

		// Sentinels, also when wrapped
		{"file too large", fmt.Errorf("%w: 30MB", ErrFileTooLarge), "FILE001"},
		{"unreadable file", fmt.Errorf("%w: zip: not a valid zip file", ErrUnreadableFile), "FILE002"},
		{"no rows", ErrNoRows, "FILE005"},
		{"cancelled", ErrCancelled, "RUN001"},
		{"run active", ErrRunActive, "RUN002"},
		{"run not found", ErrRunNotFound, "RUN003"},
		{"corrupt checkpoint", fmt.Errorf("%w: index 9", ErrCorruptCheckpoint), "RUN004"},
		{"too many runs", ErrTooManyRuns, "RUN005"},
		{"invalid phase", ErrInvalidPhase, "RUN006"},
		{"unknown type", fmt.Errorf("%w: orders", ErrUnknownType), "RUN007"},
		{"no checkpoint", ErrNoCheckpoint, "RUN008"},

		// Remote target
		{"unauthorized", errors.New("upsert rejected: status 401: JWT expired"), "UPS001"},
		{"conflict", errors.New("upsert rejected: status 409: conflict"), "UPS002"},
		{"server error", errors.New("upsert rejected: status 503: unavailable"), "UPS003"},
		{"bad request", errors.New("upsert rejected: status 400: column missing"), "UPS004"},

		// Database
		{"duplicate key", errors.New("ERROR: duplicate key value violates unique constraint"), "DB001"},
		{"unique constraint", errors.New("ERROR: unique constraint violated"), "DB002"},
		{"foreign key", errors.New("insert violates foreign key constraint"), "DB003"},
		{"not null", errors.New(`null value in column "name" violates not-null constraint`), "DB008"},
		{"connection refused", errors.New("dial tcp: connection refused"), "DB004"},
		{"connection reset", errors.New("read: connection reset by peer"), "DB005"},
		{"timeout", errors.New("context deadline exceeded"), "DB006"},
		{"deadlock", errors.New("deadlock detected"), "DB007"},

		{"no file", errors.New("no file provided"), "FILE004"},
		{"rate limit", errors.New("rate limit exceeded"), "RATE001"},
		{"case insensitive", errors.New("CONNECTION REFUSED"), "DB004"},
		{"unknown", errors.New("something odd"), "ERR000"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := MapError(tt.err)
			if got.Code != tt.wantCode {
				t.Errorf("MapError(%v).Code = %q, want %q", tt.err, got.Code, tt.wantCode)
			}
			if tt.err != nil && (got.Message == "" || got.Action == "") {
				t.Errorf("MapError(%v) has empty message or action: %+v", tt.err, got)
			}
		})
	}
}

func TestFormatUserError(t *testing.T) {
	if got := FormatUserError(nil); got != "" {
		t.Errorf("FormatUserError(nil) = %q, want empty", got)
	}

	got := FormatUserError(ErrTooManyRuns)
	if !strings.Contains(got, "(Code: RUN005)") {
		t.Errorf("FormatUserError missing code: %q", got)
	}
	if !strings.HasPrefix(got, "System is busy") {
		t.Errorf("FormatUserError should start with the message: %q", got)
	}
}

func TestIsUserFacing(t *testing.T) {
	if IsUserFacing(nil) {
		t.Error("nil should not be user facing")
	}
	if !IsUserFacing(ErrNoRows) {
		t.Error("ErrNoRows should be user facing")
	}
	if IsUserFacing(errors.New("something odd")) {
		t.Error("unmatched errors should not be user facing")
	}
}
