package upload

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arenabridge/agent/internal/shared/faults"
)

func TestParseSignPrefixedLines(t *testing.T) {
	body := "0:{\"a\":\"header\"}\n" +
		"1:{\"uploadUrl\":\"https://bucket.example/put?sig=1\",\"key\":\"files/k1\"}\n"

	sig, err := ParseSign(body)
	require.NoError(t, err)
	assert.Equal(t, "https://bucket.example/put?sig=1", sig.UploadURL)
	assert.Equal(t, "files/k1", sig.Key)
}

func TestParseSignBareJSON(t *testing.T) {
	sig, err := ParseSign(`{"url":"https://bucket.example/put","objectKey":"k2"}`)
	require.NoError(t, err)
	assert.Equal(t, "https://bucket.example/put", sig.UploadURL)
	assert.Equal(t, "k2", sig.Key)
}

func TestParseSignDataEnvelope(t *testing.T) {
	sig, err := ParseSign(`{"data":{"signedUrl":"https://bucket.example/s","fileId":"f9"}}`)
	require.NoError(t, err)
	assert.Equal(t, "https://bucket.example/s", sig.UploadURL)
	assert.Equal(t, "f9", sig.Key)
}

func TestParseSignEmbeddedObject(t *testing.T) {
	body := `garbage before {"uploadUrl":"https://bucket.example/e","key":"k3"} garbage after`

	sig, err := ParseSign(body)
	require.NoError(t, err)
	assert.Equal(t, "https://bucket.example/e", sig.UploadURL)
	assert.Equal(t, "k3", sig.Key)
}

func TestParseSignKeyRegexFallback(t *testing.T) {
	// Broken JSON that no structural strategy can decode.
	body := `<<"uploadUrl": "https://bucket.example/r", "key": "k4",>>`

	sig, err := ParseSign(body)
	require.NoError(t, err)
	assert.Equal(t, "https://bucket.example/r", sig.UploadURL)
	assert.Equal(t, "k4", sig.Key)
}

func TestParseSignExhaustsStrategies(t *testing.T) {
	_, err := ParseSign("plain text with no recognizable structure")
	require.Error(t, err)
	assert.True(t, faults.IsKind(err, faults.ParseFailure))
}

func TestParseSignEmptyBody(t *testing.T) {
	_, err := ParseSign("   ")
	require.Error(t, err)
	assert.True(t, faults.IsKind(err, faults.ParseFailure))
}

func TestParseNotify(t *testing.T) {
	tests := []struct {
		name string
		body string
		want string
	}{
		{"bare json", `{"downloadUrl":"https://cdn.example/a"}`, "https://cdn.example/a"},
		{"prefixed line", "1:{\"fileUrl\":\"https://cdn.example/b\"}", "https://cdn.example/b"},
		{"url alias", `{"url":"https://cdn.example/c"}`, "https://cdn.example/c"},
		{"escaped characters", `{"downloadUrl":"https://cdn.example/d?x=1&y=2"}`, "https://cdn.example/d?x=1&y=2"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			url, err := ParseNotify(tt.body)
			require.NoError(t, err)
			assert.Equal(t, tt.want, url)
		})
	}
}

func TestParseNotifyMissingReference(t *testing.T) {
	_, err := ParseNotify(`{"status":"ok"}`)
	require.Error(t, err)
	assert.True(t, faults.IsKind(err, faults.ParseFailure))
}

func TestBalancedObjectHonorsStringsAndEscapes(t *testing.T) {
	raw, ok := balancedObject(`{"a":"braces } in \" string","b":{"c":1}} trailing`)
	require.True(t, ok)
	assert.Equal(t, `{"a":"braces } in \" string","b":{"c":1}}`, raw)
}

func TestBalancedObjectUnterminated(t *testing.T) {
	_, ok := balancedObject(`{"a":{"b":1}`)
	assert.False(t, ok)
}
