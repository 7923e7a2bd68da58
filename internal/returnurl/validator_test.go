package returnurl_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/osmcloud/auth-gateway/internal/returnurl"
)

func TestValidator_Validate(t *testing.T) {
	allowed := []string{
		"/map",
		"/map/edit",
		"https://ui.example.com/after-login",
	}

	tests := []struct {
		name      string
		candidate string
		want      string
	}{
		{
			name:      "Allowed path is returned unchanged",
			candidate: "/map",
			want:      "/map",
		},
		{
			name:      "Allowed absolute URL is returned unchanged",
			candidate: "https://ui.example.com/after-login",
			want:      "https://ui.example.com/after-login",
		},
		{
			name:      "Empty string degrades to default",
			candidate: "",
			want:      "/",
		},
		{
			name:      "Whitespace degrades to default",
			candidate: "   \t",
			want:      "/",
		},
		{
			name:      "Unknown URL degrades to default",
			candidate: "https://evil.example.com/phish",
			want:      "/",
		},
		{
			name:      "Prefix of an allowed URL is not allowed",
			candidate: "/ma",
			want:      "/",
		},
		{
			name:      "Allowed URL with extra suffix is not allowed",
			candidate: "/map/edit/x",
			want:      "/",
		},
		{
			name:      "Case differs from the allowlisted entry",
			candidate: "/Map",
			want:      "/",
		},
	}

	v := returnurl.NewValidator(allowed)
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, v.Validate(tt.candidate))
		})
	}
}

func TestValidator_EmptyAllowlist(t *testing.T) {
	v := returnurl.NewValidator(nil)

	assert.Equal(t, "/", v.Validate("/anything"))
	assert.Equal(t, "/", v.Validate(""))
}
