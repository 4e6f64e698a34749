package types

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDigest_IsValid(t *testing.T) {
	valid := strings.Repeat("ab", 64)

	tests := []struct {
		name  string
		input Digest
		want  bool
	}{
		{name: "Valid Digest (128 hex chars)", input: Digest(valid), want: true},
		{name: "Too Short", input: Digest(valid[1:]), want: false},
		{name: "Too Long", input: Digest(valid + "a"), want: false},
		{name: "Non Hex", input: Digest(strings.Repeat("j", 128)), want: false},
		{name: "Upper Case", input: Digest(strings.ToUpper(valid)), want: false},
		{name: "Empty", input: Digest(""), want: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.input.IsValid())
		})
	}
}

func TestKeyName(t *testing.T) {
	d := Digest(strings.Repeat("0", 128))
	assert.Equal(t, "sha512/"+strings.Repeat("0", 128), KeyName(d))
	assert.Equal(t, "0000000000", d.Short())
	assert.Equal(t, "abc", Digest("abc").Short())
}

func TestVisibility_IsValid(t *testing.T) {
	assert.True(t, Public.IsValid())
	assert.True(t, Internal.IsValid())
	assert.False(t, Visibility("secret").IsValid())
	assert.False(t, Visibility("").IsValid())
}
