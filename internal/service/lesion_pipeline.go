package service

import (
	"bytes"
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"image"
	"image/jpeg"
	"strings"

	// registered decoders for accepted uploads
	_ "image/gif"
	_ "image/png"

	"golang.org/x/image/draw"

	"github.com/badal-health/risk-server/internal/domain"
)

// ModelInputSize is the square edge length the lesion model expects.
const ModelInputSize = 224

// MaxImagePixels caps the pixel count declared in an image header. It is
// checked before the image is decoded.
const MaxImagePixels = 8192 * 8192

// ErrImageTooLarge is returned when an image header declares more than
// MaxImagePixels pixels.
var ErrImageTooLarge = errors.New("image dimensions exceed limit")

// FixedLesionModel returns a constant class distribution regardless of input.
type FixedLesionModel struct {
	distribution map[domain.LesionClass]float64
}

// NewFixedLesionModel creates a model returning the reference distribution.
func NewFixedLesionModel() *FixedLesionModel {
	return &FixedLesionModel{
		distribution: map[domain.LesionClass]float64{
			domain.AKIEC: 0.05,
			domain.BCC:   0.10,
			domain.BKL:   0.15,
			domain.DF:    0.05,
			domain.MEL:   0.05,
			domain.NV:    0.55,
			domain.VASC:  0.05,
		},
	}
}

// Predict returns a copy of the fixed distribution.
func (m *FixedLesionModel) Predict(ctx context.Context, img image.Image) (map[domain.LesionClass]float64, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	out := make(map[domain.LesionClass]float64, len(m.distribution))
	for k, v := range m.distribution {
		out[k] = v
	}
	return out, nil
}

// LesionPipeline validates and preprocesses an uploaded image, runs the lesion
// model and classifies its output with the rule engine.
type LesionPipeline struct {
	model      domain.LesionModel
	classifier domain.RiskClassifier
}

// NewLesionPipeline creates a new lesion pipeline
func NewLesionPipeline(model domain.LesionModel, classifier domain.RiskClassifier) *LesionPipeline {
	return &LesionPipeline{model: model, classifier: classifier}
}

// Screen classifies one uploaded lesion image.
func (p *LesionPipeline) Screen(ctx context.Context, name, contentType string, content []byte) (*domain.ScreeningResponse, error) {
	if !strings.HasPrefix(strings.ToLower(contentType), "image/") {
		return nil, domain.NewValidationError("file", "file must be an image", contentType)
	}
	if len(content) == 0 {
		return nil, domain.NewValidationError("file", "image is empty", name)
	}

	processed, err := Preprocess(content)
	if errors.Is(err, ErrImageTooLarge) {
		return nil, domain.NewValidationError("file", err.Error(), name)
	}
	if err != nil {
		return nil, domain.NewValidationError("file", "unable to decode image: "+err.Error(), name)
	}

	probs, err := p.model.Predict(ctx, processed)
	if err != nil {
		return nil, domain.NewInternalError("running lesion model", err)
	}

	assessment, err := p.classifier.ClassifyByProbability(probs)
	if err != nil {
		return nil, fmt.Errorf("classifying lesion model output: %w", err)
	}

	encoded, err := EncodeJPEGBase64(processed)
	if err != nil {
		return nil, domain.NewInternalError("encoding processed image", err)
	}

	return &domain.ScreeningResponse{
		Prediction:     assessment,
		ProcessedImage: encoded,
	}, nil
}

// Preprocess decodes an image and resizes it to the model input size in RGB.
func Preprocess(content []byte) (*image.RGBA, error) {
	cfg, _, err := image.DecodeConfig(bytes.NewReader(content))
	if err != nil {
		return nil, err
	}
	if cfg.Width <= 0 || cfg.Height <= 0 {
		return nil, fmt.Errorf("invalid image dimensions %dx%d", cfg.Width, cfg.Height)
	}
	if int64(cfg.Width)*int64(cfg.Height) > MaxImagePixels {
		return nil, fmt.Errorf("%w: %dx%d, at most %d pixels", ErrImageTooLarge, cfg.Width, cfg.Height, MaxImagePixels)
	}

	src, _, err := image.Decode(bytes.NewReader(content))
	if err != nil {
		return nil, err
	}
	dst := image.NewRGBA(image.Rect(0, 0, ModelInputSize, ModelInputSize))
	draw.BiLinear.Scale(dst, dst.Bounds(), src, src.Bounds(), draw.Src, nil)
	return dst, nil
}

// EncodeJPEGBase64 encodes img as JPEG and returns it base64 encoded.
func EncodeJPEGBase64(img image.Image) (string, error) {
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: 90}); err != nil {
		return "", err
	}
	return base64.StdEncoding.EncodeToString(buf.Bytes()), nil
}
