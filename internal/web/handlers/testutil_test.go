package handlers

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"image"
	"image/color"
	"image/jpeg"
	"math"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/classtrack/attendance-engine/internal/allocator"
	"github.com/classtrack/attendance-engine/internal/config"
	"github.com/classtrack/attendance-engine/internal/recognition"
	"github.com/classtrack/attendance-engine/internal/store"
	"github.com/classtrack/attendance-engine/internal/store/mock"
)

// testConfig creates a deterministic config for handler tests.
func testConfig() *config.Config {
	return &config.Config{
		Detection: config.DetectionConfig{
			MinConfidence:          0.60,
			RegistrationConfidence: 0.80,
			MinFaceSizePx:          40,
			MinFaceAreaPercent:     2.0,
			MaxFaceAreaPercent:     60.0,
			MaxCenterOffset:        0.25,
			MaxDecodeDim:           1600,
		},
		Matching: config.MatchingConfig{
			MatchThreshold:     0.60,
			LiveThreshold:      0.50,
			ExcellentThreshold: 0.80,
			GoodThreshold:      0.70,
			MinEmbeddingNorm:   0.10,
		},
		Allocator: config.AllocatorConfig{
			MaxRetries:  3,
			BaseBackoff: time.Millisecond,
		},
		Marking: config.MarkingConfig{
			LateGrace: 10 * time.Minute,
		},
	}
}

// testFrame returns a base64-encoded 400x400 JPEG.
func testFrame(t *testing.T) string {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, 400, 400))
	for y := 0; y < 400; y++ {
		for x := 0; x < 400; x++ {
			img.Set(x, y, color.RGBA{R: uint8(x % 256), G: uint8(y % 256), B: 128, A: 255})
		}
	}
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, nil); err != nil {
		t.Fatalf("failed to encode test frame: %v", err)
	}
	return base64.StdEncoding.EncodeToString(buf.Bytes())
}

// centeredDetection is a detection that passes every gate check on a 400x400
// frame: 200px face, 25% area, perfectly centered.
func centeredDetection(confidence float64) recognition.Detection {
	return recognition.Detection{
		BBox:       [4]float64{100, 100, 300, 300},
		Confidence: confidence,
	}
}

// fakeExtractor serves canned detections and embeddings.
type fakeExtractor struct {
	detections []recognition.Detection
	detectErr  error
	embedding  []float32
	embedErr   error
}

func (f *fakeExtractor) Detect(ctx context.Context, image []byte) ([]recognition.Detection, error) {
	return f.detections, f.detectErr
}

func (f *fakeExtractor) Embed(ctx context.Context, image []byte, bbox [4]float64) ([]float32, error) {
	return f.embedding, f.embedErr
}

// unitVec returns an 8-dim unit vector along the given axis.
func unitVec(axis int) []float32 {
	v := make([]float32, 8)
	v[axis] = 1
	return v
}

// blendVec returns a unit vector whose cosine similarity to unitVec(axis)
// equals the given value.
func blendVec(axis int, similarity float64) []float32 {
	v := make([]float32, 8)
	v[axis] = float32(similarity)
	other := (axis + 1) % 8
	v[other] = float32(math.Sqrt(1 - similarity*similarity))
	return v
}

type handlerFixture struct {
	cfg        *config.Config
	extractor  *fakeExtractor
	identities *mock.IdentityStore
	attendance *mock.AttendanceStore
	sequences  *mock.SequenceStore
	index      *store.IdentityIndex
	alloc      *allocator.RecordAllocator
}

func newHandlerFixture() *handlerFixture {
	cfg := testConfig()
	attendance := mock.NewAttendanceStore()
	sequences := mock.NewSequenceStore()
	return &handlerFixture{
		cfg:        cfg,
		extractor:  &fakeExtractor{},
		identities: mock.NewIdentityStore(),
		attendance: attendance,
		sequences:  sequences,
		index:      store.NewIdentityIndex(),
		alloc:      allocator.New(attendance, sequences, cfg.Allocator),
	}
}

func (f *handlerFixture) enrollIdentity(t *testing.T, studentID string, axis int) {
	t.Helper()
	identity := store.EnrolledIdentity{
		StudentID: studentID,
		Embedding: unitVec(axis),
		Dim:       8,
	}
	if err := f.identities.Enroll(context.Background(), identity); err != nil {
		t.Fatalf("failed to enroll %s: %v", studentID, err)
	}
	f.index.Add(identity)
}

func (f *handlerFixture) captureHandler() *CaptureHandler {
	gate := recognition.NewQualityGate(f.cfg.Detection)
	scorer := recognition.NewMatchScorer(f.cfg.Matching)
	return NewCaptureHandler(f.cfg, f.extractor, gate, scorer, f.index, f.identities, nil, f.alloc)
}

func (f *handlerFixture) identityHandler() *IdentityHandler {
	gate := recognition.NewQualityGate(f.cfg.Detection)
	return NewIdentityHandler(f.cfg, f.extractor, gate, f.identities, f.index)
}

// doJSON performs a request with a JSON body against a handler func.
func doJSON(t *testing.T, handler http.HandlerFunc, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("failed to encode request body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	handler(rec, req)
	return rec
}

// decodeResponse unmarshals a JSON response body.
func decodeResponse(t *testing.T, rec *httptest.ResponseRecorder, out any) {
	t.Helper()
	if err := json.Unmarshal(rec.Body.Bytes(), out); err != nil {
		t.Fatalf("failed to decode response %q: %v", rec.Body.String(), err)
	}
}
