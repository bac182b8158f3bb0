package logger

import (
	"bytes"
	"encoding/json"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func capture(t *testing.T, fn func()) map[string]interface{} {
	t.Helper()
	var buf bytes.Buffer
	SetOutput(&buf)
	t.Cleanup(func() { SetOutput(os.Stderr) })

	fn()

	if buf.Len() == 0 {
		return nil
	}
	var entry map[string]interface{}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	return entry
}

func TestLogEmitsFields(t *testing.T) {
	entry := capture(t, func() {
		Info("campaign started", "campaign_id", "c1", "batch", 3)
	})
	require.NotNil(t, entry)
	assert.Equal(t, "INFO", entry["level"])
	assert.Equal(t, "campaign started", entry["msg"])
	assert.Equal(t, "c1", entry["campaign_id"])
	assert.Equal(t, "3", entry["batch"])
}

func TestLevelFiltering(t *testing.T) {
	SetLevel(WARN)
	t.Cleanup(func() { SetLevel(INFO) })

	entry := capture(t, func() {
		Info("should not appear")
	})
	assert.Nil(t, entry)
}

func TestAddressFieldsRedacted(t *testing.T) {
	entry := capture(t, func() {
		Warn("send failed", "address", "john.doe@example.com")
	})
	require.NotNil(t, entry)
	assert.Equal(t, "jo***@example.com", entry["address"])
}

func TestEmbeddedEmailRedacted(t *testing.T) {
	entry := capture(t, func() {
		Error("transport error", "detail", "rejected recipient carol@example.org by policy")
	})
	require.NotNil(t, entry)
	assert.Equal(t, "rejected recipient ca***@example.org by policy", entry["detail"])
}

func TestRedactEmail(t *testing.T) {
	assert.Equal(t, "jo***@example.com", RedactEmail("john@example.com"))
	assert.Equal(t, "***@example.com", RedactEmail("ab@example.com"))
	assert.Equal(t, "***@***", RedactEmail("not-an-email"))
}
