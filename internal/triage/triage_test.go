package triage

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"rustmend/internal/diagnostics"
)

func TestClassify(t *testing.T) {
	tests := []struct {
		name    string
		message string
		want    Class
	}{
		{"missing crate", "cannot find crate for `serde`", ClassManifestProblem},
		{"missing crate alt spelling", "can't find crate for `tokio`", ClassManifestProblem},
		{"unresolved import", "unresolved import `rand::Rng`", ClassManifestProblem},
		{"extern crate", "no such extern crate `foo`", ClassManifestProblem},
		{"derive macro", "cannot find derive macro `Serialize` in this scope", ClassManifestProblem},
		{"linker", "error: linking with `cc` failed", ClassLinkerProblem},
		{"undefined reference", "undefined reference to `my_ffi_fn`", ClassLinkerProblem},
		{"plain type error", "mismatched types", ClassCodeDefect},
		{"empty message", "", ClassCodeDefect},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Classify(diagnostics.Diagnostic{Message: tt.message})
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestSelect(t *testing.T) {
	t.Run("empty list", func(t *testing.T) {
		_, ok := Select(nil)
		assert.False(t, ok)
	})

	t.Run("earliest error wins", func(t *testing.T) {
		errs := []diagnostics.Diagnostic{
			{Message: "unresolved import `serde`", Code: "E0432"},
			{Message: "mismatched types", Code: "E0308"},
		}
		issue, ok := Select(errs)
		require.True(t, ok)
		assert.Equal(t, "E0432", issue.Diagnostic.Code)
		assert.Equal(t, ClassManifestProblem, issue.Class)
	})
}

func TestSignature(t *testing.T) {
	t.Run("deterministic", func(t *testing.T) {
		a := Signature("E0308", "mismatched types. expected `u32`, found `&str`")
		b := Signature("E0308", "mismatched types. expected `u32`, found `&str`")
		assert.Equal(t, a, b)
	})

	t.Run("truncates at first sentence", func(t *testing.T) {
		got := Signature("E0308", "mismatched types. expected `u32`, found `&str`")
		assert.Equal(t, "E0308:mismatched types", got)
	})

	t.Run("message tail ignored", func(t *testing.T) {
		a := Signature("E0308", "mismatched types. expected `u32`, found `&str`")
		b := Signature("E0308", "mismatched types. expected `i64`, found `bool`")
		assert.Equal(t, a, b)
	})

	t.Run("missing code falls back to generic", func(t *testing.T) {
		got := Signature("", "cannot find value `foo` in this scope")
		assert.Equal(t, "generic:cannot find value `foo` in this scope", got)
	})

	t.Run("differs when code differs", func(t *testing.T) {
		assert.NotEqual(t,
			Signature("E0308", "mismatched types"),
			Signature("E0425", "mismatched types"))
	})

	t.Run("differs when leading clause differs", func(t *testing.T) {
		assert.NotEqual(t,
			Signature("E0308", "mismatched types."),
			Signature("E0308", "expected struct."))
	})
}
