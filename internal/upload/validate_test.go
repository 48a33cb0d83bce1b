package upload

import (
	"strings"
	"testing"

	"apk-portal/internal/apperr"
)

func TestValidateVersion(t *testing.T) {
	tests := []struct {
		name    string
		version string
		want    string
		wantErr bool
	}{
		{"trimmed", "  1.2.0 ", "1.2.0", false},
		{"empty", "   ", "", true},
		{"ascii at limit", strings.Repeat("a", maxVersionLength), strings.Repeat("a", maxVersionLength), false},
		{"ascii over limit", strings.Repeat("a", maxVersionLength+1), "", true},
		{"multibyte at limit", strings.Repeat("é", maxVersionLength), strings.Repeat("é", maxVersionLength), false},
		{"multibyte over limit", strings.Repeat("版", maxVersionLength+1), "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := validateVersion(tt.version)
			if tt.wantErr {
				if !apperr.Is(err, apperr.KindValidation) {
					t.Errorf("Expected Validation, got %v", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("validateVersion failed: %v", err)
			}
			if got != tt.want {
				t.Errorf("Expected %q, got %q", tt.want, got)
			}
		})
	}
}
