package upload

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestPolicyRejectsDisallowedExtension(t *testing.T) {
	policy := NewPolicy(5*1024*1024, 5, []string{"jpeg", "jpg", "png", "pdf"})

	result := policy.CheckFile("malware.exe", "application/octet-stream", 1024)
	require.False(t, result.OK)
	require.Contains(t, result.Reason, ".exe")
}

func TestPolicySizeCeiling(t *testing.T) {
	policy := NewPolicy(5*1024*1024, 5, nil)

	ok := policy.CheckFile("transcript.pdf", "application/pdf", 4*1024*1024)
	require.True(t, ok.OK)

	tooBig := policy.CheckFile("transcript.pdf", "application/pdf", 6*1024*1024)
	require.False(t, tooBig.OK)
	require.Contains(t, tooBig.Reason, "exceeds")
}

func TestPolicyRejectsEmptyFile(t *testing.T) {
	policy := NewPolicy(0, 0, nil)

	result := policy.CheckFile("id.png", "image/png", 0)
	require.False(t, result.OK)
}

func TestPolicyContentTypeMismatch(t *testing.T) {
	policy := NewPolicy(0, 0, nil)

	result := policy.CheckFile("doc.pdf", "text/html", 100)
	require.False(t, result.OK)
	require.Contains(t, result.Reason, "content type")
}

func TestPolicyCheckCount(t *testing.T) {
	policy := NewPolicy(0, 5, nil)

	require.False(t, policy.CheckCount(0).OK)
	require.True(t, policy.CheckCount(5).OK)
	require.False(t, policy.CheckCount(6).OK)
}
