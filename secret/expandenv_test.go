package secret

import (
	"errors"
	"strings"
	"testing"
)

func TestExpandEnvStrict_MissingVarErrors(t *testing.T) {
	t.Setenv("CARDS_PRESENT", "ok")

	_, err := ExpandEnvStrict("a=${CARDS_PRESENT} b=${CARDS_MISSING_B} c=${CARDS_MISSING_A}")
	if !errors.Is(err, ErrMissingEnv) {
		t.Fatalf("error = %v, want ErrMissingEnv", err)
	}
	if !strings.HasSuffix(err.Error(), "CARDS_MISSING_A, CARDS_MISSING_B") {
		t.Fatalf("expected sorted missing names in error, got: %v", err)
	}
}

func TestExpandEnvStrict(t *testing.T) {
	t.Setenv("CARDS_X", "y")

	tests := []struct {
		in, want string
	}{
		{"$$${CARDS_X}", "$y"},
		{"plain", "plain"},
		{"https://${CARDS_X}.example", "https://y.example"},
		{"cost: $$5", "cost: $5"},
	}
	for _, tt := range tests {
		out, err := ExpandEnvStrict(tt.in)
		if err != nil {
			t.Fatalf("ExpandEnvStrict(%q) error = %v", tt.in, err)
		}
		if out != tt.want {
			t.Errorf("ExpandEnvStrict(%q) = %q, want %q", tt.in, out, tt.want)
		}
	}
}
