package records

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRawMessageImagePathIsNullWhenMissing(t *testing.T) {
	msg := RawMessage{ID: 101, Channel: "CheMed123", Date: time.Date(2024, 1, 1, 9, 0, 0, 0, time.UTC)}

	data, err := json.Marshal(msg)
	require.NoError(t, err)

	var fields map[string]any
	require.NoError(t, json.Unmarshal(data, &fields))
	v, ok := fields["image_path"]
	assert.True(t, ok, "image_path must always be present")
	assert.Nil(t, v)
	assert.Equal(t, float64(101), fields["id"])
}

func TestDetectionFieldNames(t *testing.T) {
	d := Detection{MessageID: 100, ClassID: 39, ClassName: "bottle", Score: 0.9, Timestamp: "2024-01-01T10:00:00.000000"}

	data, err := json.Marshal(d)
	require.NoError(t, err)
	assert.JSONEq(t, `{
		"message_id": 100,
		"detected_object_class_id": 39,
		"detected_object_class_name": "bottle",
		"confidence_score": 0.9,
		"timestamp": "2024-01-01T10:00:00.000000"
	}`, string(data))
}

func TestNewRowCompactsPayload(t *testing.T) {
	row, err := NewRow(KindMessage, json.RawMessage("{\n    \"id\": 1,\n    \"image_path\": null\n}"), "CheMed123.json")
	require.NoError(t, err)
	assert.Equal(t, KindMessage, row.Kind)
	assert.Equal(t, "CheMed123.json", row.SourceFile)
	assert.Equal(t, `{"id":1,"image_path":null}`, string(row.Payload))
}

func TestNewRowRejectsInvalidJSON(t *testing.T) {
	_, err := NewRow(KindDetection, json.RawMessage(`{"message_id":`), "image_detections.json")
	assert.Error(t, err)
}

func TestRecordKinds(t *testing.T) {
	var r Record = RawMessage{}
	assert.Equal(t, KindMessage, r.Kind())
	r = Detection{}
	assert.Equal(t, KindDetection, r.Kind())
}
