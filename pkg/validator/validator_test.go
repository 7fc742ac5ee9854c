package validator

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestValidateRegister(t *testing.T) {
	errs := ValidateRegister("alice@example.com", "alice", "Alice", "hunter42abc")
	assert.False(t, errs.HasErrors())

	errs = ValidateRegister("", "", "", "")
	assert.True(t, errs.HasErrors())
	assert.Contains(t, errs, "email")
	assert.Contains(t, errs, "username")
	assert.Contains(t, errs, "display_name")
	assert.Contains(t, errs, "password")

	errs = ValidateRegister("not-an-email", "ab", "A", "short")
	assert.Contains(t, errs, "email")
	assert.Contains(t, errs, "username")
	assert.Contains(t, errs, "display_name")
	assert.Contains(t, errs, "password")

	errs = ValidateRegister("alice@example.com", "al ice", "Alice", "hunter42abc")
	assert.Contains(t, errs, "username")

	// Letters-only passwords are rejected.
	errs = ValidateRegister("alice@example.com", "alice", "Alice", "onlyletters")
	assert.Contains(t, errs, "password")
}

func TestValidateLogin(t *testing.T) {
	errs := ValidateLogin("alice@example.com", "whatever")
	assert.False(t, errs.HasErrors())

	errs = ValidateLogin("", "")
	assert.Contains(t, errs, "email")
	assert.Contains(t, errs, "password")
}

func TestValidateSendMessage(t *testing.T) {
	tests := []struct {
		name    string
		content string
		hasFile bool
		wantErr bool
	}{
		{"text only", "hello", false, false},
		{"file only", "", true, false},
		{"text and file", "here you go", true, false},
		{"empty", "", false, true},
		{"whitespace only", "   \n\t", false, true},
		{"whitespace with file", "   ", true, false},
		{"at the cap", strings.Repeat("a", 4000), false, false},
		{"over the cap", strings.Repeat("a", 4001), false, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			errs := ValidateSendMessage(tt.content, tt.hasFile)
			assert.Equal(t, tt.wantErr, errs.HasErrors())
		})
	}
}
