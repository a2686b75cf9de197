package detect

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func detectionServer(t *testing.T, loadStatus int) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/v1/models/load", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer secret", r.Header.Get("Authorization"))
		var req map[string]string
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "yolov8x.pt", req["model"])
		if loadStatus != http.StatusOK {
			w.WriteHeader(loadStatus)
			return
		}
		json.NewEncoder(w).Encode(map[string]any{"model": "yolov8x.pt", "classes": 80})
	})
	mux.HandleFunc("/v1/detect", func(w http.ResponseWriter, r *http.Request) {
		var req map[string]string
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		image, err := base64.StdEncoding.DecodeString(req["image"])
		assert.NoError(t, err)
		if string(image) == "broken" {
			w.WriteHeader(http.StatusUnprocessableEntity)
			return
		}
		assert.Equal(t, "100.jpg", req["filename"])
		json.NewEncoder(w).Encode(map[string]any{
			"detections": []map[string]any{
				{"class_id": 39, "class_name": "bottle", "confidence": 0.9},
				{"class_id": 0, "class_name": "person", "confidence": 0.55},
			},
		})
	})
	return httptest.NewServer(mux)
}

func writeImage(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func TestLoadAndDetect(t *testing.T) {
	server := detectionServer(t, http.StatusOK)
	defer server.Close()

	client := NewClient(server.URL+"/", "secret", "yolov8x.pt", 5*time.Second)
	detector, err := client.Load(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "yolov8x.pt", detector.(*Model).Name())

	labels, err := detector.Detect(context.Background(), writeImage(t, "100.jpg", "jpeg"))
	require.NoError(t, err)
	assert.Equal(t, []Label{
		{ClassID: 39, ClassName: "bottle", Confidence: 0.9},
		{ClassID: 0, ClassName: "person", Confidence: 0.55},
	}, labels)
}

func TestLoadFailure(t *testing.T) {
	server := detectionServer(t, http.StatusServiceUnavailable)
	defer server.Close()

	_, err := NewClient(server.URL, "secret", "yolov8x.pt", time.Second).Load(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "503")
}

func TestDetectFailures(t *testing.T) {
	server := detectionServer(t, http.StatusOK)
	defer server.Close()

	detector, err := NewClient(server.URL, "secret", "yolov8x.pt", time.Second).Load(context.Background())
	require.NoError(t, err)

	_, err = detector.Detect(context.Background(), filepath.Join(t.TempDir(), "missing.jpg"))
	assert.Error(t, err)

	_, err = detector.Detect(context.Background(), writeImage(t, "100.jpg", "broken"))
	assert.Error(t, err)
}

func TestDetectorFunc(t *testing.T) {
	var d Detector = DetectorFunc(func(ctx context.Context, path string) ([]Label, error) {
		return []Label{{ClassName: path}}, nil
	})
	labels, err := d.Detect(context.Background(), "x.jpg")
	require.NoError(t, err)
	assert.Equal(t, "x.jpg", labels[0].ClassName)
}
