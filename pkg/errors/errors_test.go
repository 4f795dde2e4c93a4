package errors

import "testing"

func TestIsRetryable(t *testing.T) {
	retryable := []ErrorType{ErrorTypeNetwork, ErrorTypeRateLimit, ErrorTypeServerError}
	for _, et := range retryable {
		if !IsRetryable(et) {
			t.Errorf("IsRetryable(%s) = false", et)
		}
	}

	terminal := []ErrorType{ErrorTypeAuth, ErrorTypeHardBlock, ErrorTypeNotFound, ErrorTypeParsing, ErrorTypeSchemaDrift, ErrorTypeUnknown}
	for _, et := range terminal {
		if IsRetryable(et) {
			t.Errorf("IsRetryable(%s) = true", et)
		}
	}
}

func TestIsRetryableStatusCode(t *testing.T) {
	cases := []struct {
		code int
		want bool
	}{
		{0, true},
		{429, true},
		{461, false},
		{500, true},
		{502, true},
		{404, false},
		{403, false},
		{599, true},
		{418, false},
	}
	for _, tc := range cases {
		if got := IsRetryableStatusCode(tc.code); got != tc.want {
			t.Errorf("IsRetryableStatusCode(%d) = %v, want %v", tc.code, got, tc.want)
		}
	}
}

func TestErrorFormatting(t *testing.T) {
	err := &Error{Type: ErrorTypeAuth, Code: -100, Message: "login expired"}
	want := "auth error (code -100): login expired"
	if err.Error() != want {
		t.Errorf("Error() = %q, want %q", err.Error(), want)
	}
}

func TestSchemaDriftErrorFormatting(t *testing.T) {
	withKey := &SchemaDriftError{URL: "https://example.com/x", Key: "time", Detail: "moved"}
	if withKey.Error() != `schema drift at https://example.com/x: key "time": moved` {
		t.Errorf("Error() = %q", withKey.Error())
	}

	noKey := &SchemaDriftError{URL: "https://example.com/x", Detail: "shape changed"}
	if noKey.Error() != "schema drift at https://example.com/x: shape changed" {
		t.Errorf("Error() = %q", noKey.Error())
	}
}
