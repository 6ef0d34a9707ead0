package service

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/binary"
	"errors"
	"hash/crc32"
	"image"
	"image/color"
	"image/jpeg"
	"image/png"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/badal-health/risk-server/internal/domain"
)

type MockLesionModel struct {
	mock.Mock
}

func (m *MockLesionModel) Predict(ctx context.Context, img image.Image) (map[domain.LesionClass]float64, error) {
	args := m.Called(ctx, img)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(map[domain.LesionClass]float64), args.Error(1)
}

func samplePNG(t *testing.T, w, h int) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for x := 0; x < w; x++ {
		for y := 0; y < h; y++ {
			img.Set(x, y, color.RGBA{R: uint8(x), G: uint8(y), B: 120, A: 255})
		}
	}
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

func TestLesionPipeline_Screen(t *testing.T) {
	pipeline := NewLesionPipeline(NewFixedLesionModel(), NewDefaultRuleEngine())

	resp, err := pipeline.Screen(context.Background(), "lesion.png", "image/png", samplePNG(t, 64, 48))
	require.NoError(t, err)

	assert.Equal(t, domain.NV, resp.Prediction.ClassCode)
	assert.Equal(t, "Melanocytic Nevi", resp.Prediction.Type)
	assert.Equal(t, 55.0, resp.Prediction.Confidence)
	assert.Equal(t, domain.LOW, resp.Prediction.RiskLevel)
	assert.Empty(t, resp.Prediction.Recommendations)

	raw, err := base64.StdEncoding.DecodeString(resp.ProcessedImage)
	require.NoError(t, err)
	decoded, err := jpeg.Decode(bytes.NewReader(raw))
	require.NoError(t, err)
	assert.Equal(t, ModelInputSize, decoded.Bounds().Dx())
	assert.Equal(t, ModelInputSize, decoded.Bounds().Dy())
}

func TestLesionPipeline_UsesModelOutput(t *testing.T) {
	model := new(MockLesionModel)
	model.On("Predict", mock.Anything, mock.AnythingOfType("*image.RGBA")).
		Return(map[domain.LesionClass]float64{domain.MEL: 0.9, domain.NV: 0.1}, nil)

	pipeline := NewLesionPipeline(model, NewDefaultRuleEngine())
	resp, err := pipeline.Screen(context.Background(), "lesion.png", "image/png", samplePNG(t, 10, 10))
	require.NoError(t, err)

	assert.Equal(t, domain.MEL, resp.Prediction.ClassCode)
	assert.Equal(t, domain.HIGH, resp.Prediction.RiskLevel)
	model.AssertExpectations(t)
}

// pngHeader returns a PNG holding only a signature and an IHDR chunk that
// declares an 8-bit RGBA image of the given size.
func pngHeader(width, height uint32) []byte {
	var buf bytes.Buffer
	buf.WriteString("\x89PNG\r\n\x1a\n")

	chunk := make([]byte, 0, 17)
	chunk = append(chunk, "IHDR"...)
	chunk = binary.BigEndian.AppendUint32(chunk, width)
	chunk = binary.BigEndian.AppendUint32(chunk, height)
	chunk = append(chunk, 8, 6, 0, 0, 0)

	_ = binary.Write(&buf, binary.BigEndian, uint32(len(chunk)-4))
	buf.Write(chunk)
	_ = binary.Write(&buf, binary.BigEndian, crc32.ChecksumIEEE(chunk))
	return buf.Bytes()
}

func TestPreprocess_RejectsOversizedDimensions(t *testing.T) {
	content := pngHeader(20000, 20000)
	require.Less(t, len(content), 100)

	_, err := Preprocess(content)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrImageTooLarge)

	pipeline := NewLesionPipeline(NewFixedLesionModel(), NewDefaultRuleEngine())
	_, err = pipeline.Screen(context.Background(), "huge.png", "image/png", content)
	var validation *domain.ValidationError
	require.ErrorAs(t, err, &validation)
	assert.Equal(t, "file", validation.Field)
	assert.Contains(t, validation.Message, "image dimensions exceed limit")
}

func TestPreprocess_AcceptsHeaderWithinLimit(t *testing.T) {
	// Within the cap the header passes and decoding fails on the missing data.
	_, err := Preprocess(pngHeader(64, 64))
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrImageTooLarge)
}

func TestLesionPipeline_Rejections(t *testing.T) {
	pipeline := NewLesionPipeline(NewFixedLesionModel(), NewDefaultRuleEngine())

	tests := []struct {
		name        string
		contentType string
		content     []byte
	}{
		{"non image content type", "application/pdf", []byte("%PDF")},
		{"empty payload", "image/png", nil},
		{"undecodable image", "image/jpeg", []byte("definitely not a jpeg")},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := pipeline.Screen(context.Background(), "upload", tt.contentType, tt.content)
			require.Error(t, err)
			assert.True(t, errors.Is(err, domain.ErrInvalidInput))
		})
	}
}

func TestLesionPipeline_ModelFailureIsInternal(t *testing.T) {
	model := new(MockLesionModel)
	model.On("Predict", mock.Anything, mock.Anything).Return(nil, errors.New("model unavailable"))

	pipeline := NewLesionPipeline(model, NewDefaultRuleEngine())
	_, err := pipeline.Screen(context.Background(), "lesion.png", "image/png", samplePNG(t, 8, 8))
	require.Error(t, err)

	var internal *domain.InternalError
	assert.True(t, errors.As(err, &internal))
	assert.False(t, errors.Is(err, domain.ErrInvalidInput))
}

func TestLesionPipeline_InvalidModelOutput(t *testing.T) {
	model := new(MockLesionModel)
	model.On("Predict", mock.Anything, mock.Anything).
		Return(map[domain.LesionClass]float64{"unknown": 0.9}, nil)

	pipeline := NewLesionPipeline(model, NewDefaultRuleEngine())
	_, err := pipeline.Screen(context.Background(), "lesion.png", "image/png", samplePNG(t, 8, 8))
	assert.Error(t, err)
}

func TestFixedLesionModel_ReturnsCopy(t *testing.T) {
	model := NewFixedLesionModel()
	first, err := model.Predict(context.Background(), nil)
	require.NoError(t, err)
	first[domain.NV] = 0

	second, err := model.Predict(context.Background(), nil)
	require.NoError(t, err)
	assert.Equal(t, 0.55, second[domain.NV])
}

func TestFixedLesionModel_CancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := NewFixedLesionModel().Predict(ctx, nil)
	assert.ErrorIs(t, err, context.Canceled)
}
