package warehouse

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"tgpipeline/pkg/partition"
)

func testPartition(t *testing.T) partition.Partition {
	t.Helper()
	p, err := partition.Parse(t.TempDir(), "2024-01-01")
	require.NoError(t, err)
	return p
}

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
}

const batchCheMed = `[
    {
        "id": 101,
        "channel": "CheMed123",
        "message": "Open today",
        "image_path": null
    },
    {
        "id": 100,
        "channel": "CheMed123",
        "message": "Vitamin C",
        "image_path": "data/raw/telegram_images/2024-01-01/100.jpg"
    }
]
`

const detectionsBatch = `[
    {
        "message_id": 100,
        "detected_object_class_id": 39,
        "detected_object_class_name": "bottle",
        "confidence_score": 0.9,
        "timestamp": "2024-01-01T10:00:00.000000"
    }
]
`
