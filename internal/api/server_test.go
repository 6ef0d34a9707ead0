package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"image"
	"image/color"
	"image/png"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/textproto"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/badal-health/risk-server/internal/archive"
	"github.com/badal-health/risk-server/internal/domain"
	"github.com/badal-health/risk-server/internal/metrics"
	"github.com/badal-health/risk-server/internal/service"
)

func init() {
	gin.SetMode(gin.TestMode)
}

// memoryPatients is an in-process PatientRepository.
type memoryPatients struct {
	mu         sync.Mutex
	patients   map[int64]*domain.Patient
	vitals     map[int64]domain.VitalSigns
	genetic    map[int64]domain.GeneticData
	screenings map[int64][]*domain.SkinScreening
}

func newMemoryPatients(patients ...*domain.Patient) *memoryPatients {
	m := &memoryPatients{
		patients:   map[int64]*domain.Patient{},
		vitals:     map[int64]domain.VitalSigns{},
		genetic:    map[int64]domain.GeneticData{},
		screenings: map[int64][]*domain.SkinScreening{},
	}
	for _, p := range patients {
		m.patients[p.ID] = p
	}
	return m
}

func (m *memoryPatients) CreatePatient(_ context.Context, p *domain.Patient) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	p.ID = int64(len(m.patients) + 1)
	m.patients[p.ID] = p
	return nil
}

func (m *memoryPatients) GetPatient(_ context.Context, id int64) (*domain.Patient, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.patients[id]
	if !ok {
		return nil, domain.NewNotFoundError("patient", id)
	}
	cp := *p
	return &cp, nil
}

func (m *memoryPatients) UpdateCondition(_ context.Context, id int64, condition domain.Condition) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.patients[id]
	if !ok {
		return domain.NewNotFoundError("patient", id)
	}
	p.Condition = string(condition)
	return nil
}

func (m *memoryPatients) UpsertVitals(_ context.Context, v *domain.VitalSigns) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.vitals[v.PatientID] = *v
	return nil
}

func (m *memoryPatients) GetVitals(_ context.Context, patientID int64) (*domain.VitalSigns, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.vitals[patientID]
	if !ok {
		return nil, domain.NewNotFoundError("vital signs", patientID)
	}
	return &v, nil
}

func (m *memoryPatients) UpsertGeneticData(_ context.Context, g *domain.GeneticData) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.genetic[g.PatientID] = *g
	return nil
}

func (m *memoryPatients) GetGeneticData(_ context.Context, patientID int64) (*domain.GeneticData, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	g, ok := m.genetic[patientID]
	if !ok {
		return nil, domain.NewNotFoundError("genetic data", patientID)
	}
	return &g, nil
}

func (m *memoryPatients) SaveScreening(_ context.Context, s *domain.SkinScreening) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s.ID = int64(len(m.screenings[s.PatientID]) + 1)
	m.screenings[s.PatientID] = append([]*domain.SkinScreening{s}, m.screenings[s.PatientID]...)
	return nil
}

func (m *memoryPatients) ListScreenings(_ context.Context, patientID int64) ([]*domain.SkinScreening, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]*domain.SkinScreening{}, m.screenings[patientID]...), nil
}

type stubPinger struct{ err error }

func (p stubPinger) Ping(context.Context) error { return p.err }

type testEnv struct {
	server   *Server
	patients *memoryPatients
	archive  domain.AnalysisArchive
}

func testConfig() *domain.Config {
	return &domain.Config{
		Server: domain.ServerConfig{
			RequestTimeout: 5 * time.Second,
			MaxUploadBytes: 1 << 20,
			AllowedOrigins: []string{"*"},
		},
		Classifier: domain.DefaultClassifierConfig(),
	}
}

func newTestEnv(t *testing.T, cfg *domain.Config, withPatients bool, db HealthChecker) *testEnv {
	t.Helper()
	logger := logrus.New()
	logger.SetLevel(logrus.FatalLevel)

	store, err := archive.NewSQLiteStore(filepath.Join(t.TempDir(), "archive.db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	engine, err := service.NewRuleEngine(cfg.Classifier)
	require.NoError(t, err)

	env := &testEnv{archive: store}
	deps := service.AnalysisDeps{Classifier: engine, Archive: store, Logger: logger}
	if withPatients {
		age := 61
		env.patients = newMemoryPatients(&domain.Patient{ID: 1, Name: "Meera Iyer", Age: &age})
		deps.Patients = env.patients
	}
	analysis, err := service.NewAnalysisService(deps)
	require.NoError(t, err)

	env.server, err = NewServer(cfg, Deps{Analysis: analysis, Database: db, Metrics: metrics.NewRecorder(), Logger: logger})
	require.NoError(t, err)
	return env
}

func (e *testEnv) do(req *http.Request) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	e.server.Handler().ServeHTTP(w, req)
	return w
}

func multipartRequest(t *testing.T, method, url, filename, contentType string, content []byte) *http.Request {
	t.Helper()
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)

	h := make(textproto.MIMEHeader)
	h.Set("Content-Disposition", `form-data; name="file"; filename="`+filename+`"`)
	h.Set("Content-Type", contentType)
	part, err := mw.CreatePart(h)
	require.NoError(t, err)
	_, err = part.Write(content)
	require.NoError(t, err)
	require.NoError(t, mw.Close())

	req := httptest.NewRequest(method, url, &body)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	return req
}

func jsonRequest(method, url, body string) *http.Request {
	req := httptest.NewRequest(method, url, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	return req
}

func samplePNG(t *testing.T) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, 40, 30))
	for x := 0; x < 40; x++ {
		for y := 0; y < 30; y++ {
			img.Set(x, y, color.RGBA{R: 180, G: uint8(4 * y), B: uint8(3 * x), A: 255})
		}
	}
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

func decodeAPIError(t *testing.T, w *httptest.ResponseRecorder) domain.APIError {
	t.Helper()
	var apiErr domain.APIError
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &apiErr))
	return apiErr
}

const panelCSV = "sample,BRCA1,BRCA2,TP53_exon5,PTEN\nS1,1,0,1,0\n"

func TestHealthAndReady(t *testing.T) {
	env := newTestEnv(t, testConfig(), false, nil)

	w := env.do(httptest.NewRequest(http.MethodGet, "/health", nil))
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"status":"healthy"`)
	assert.NotEmpty(t, w.Header().Get("X-Correlation-ID"))
	assert.Equal(t, "nosniff", w.Header().Get("X-Content-Type-Options"))

	w = env.do(httptest.NewRequest(http.MethodGet, "/ready", nil))
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"db":"disabled"`)

	degraded := newTestEnv(t, testConfig(), false, stubPinger{err: errors.New("connection refused")})
	w = degraded.do(httptest.NewRequest(http.MethodGet, "/ready", nil))
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.Contains(t, w.Body.String(), `"status":"degraded"`)

	healthy := newTestEnv(t, testConfig(), false, stubPinger{})
	w = healthy.do(httptest.NewRequest(http.MethodGet, "/ready", nil))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"db":"ok"`)
}

func TestPredictGenetic(t *testing.T) {
	env := newTestEnv(t, testConfig(), false, nil)

	w := env.do(multipartRequest(t, http.MethodPost, "/api/v1/predict/genetic", "panel.csv", "text/csv", []byte(panelCSV)))
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var got domain.GeneticAssessment
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &got))
	// BRCA1 + BRCA2 + TP53 + PTEN = 0.3 + 0.3 + 0.2 + 0.2
	assert.Equal(t, 100.0, got.RiskScore)
	assert.Equal(t, domain.HIGH, got.RiskLevel)
	assert.Equal(t, 5, got.MarkersAnalyzed)
	assert.Equal(t, []string{"High genetic predisposition to cancer", "Multiple high-risk genetic markers detected"}, got.Findings)

	count, err := env.archive.Count(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(1), count)
}

func TestPredictGenetic_Errors(t *testing.T) {
	env := newTestEnv(t, testConfig(), false, nil)

	t.Run("missing file", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/api/v1/predict/genetic", nil)
		req.Header.Set("X-Correlation-ID", "corr-1")
		w := env.do(req)
		require.Equal(t, http.StatusBadRequest, w.Code)
		apiErr := decodeAPIError(t, w)
		assert.Equal(t, domain.CodeValidation, apiErr.Code)
		assert.Equal(t, "corr-1", apiErr.RequestID)
	})

	t.Run("legacy xls", func(t *testing.T) {
		w := env.do(multipartRequest(t, http.MethodPost, "/api/v1/predict/genetic", "panel.xls", "application/vnd.ms-excel", []byte("legacy")))
		require.Equal(t, http.StatusBadRequest, w.Code)
		assert.Equal(t, domain.CodeValidation, decodeAPIError(t, w).Code)
	})
}

func TestPredictSkin(t *testing.T) {
	env := newTestEnv(t, testConfig(), false, nil)

	w := env.do(multipartRequest(t, http.MethodPost, "/api/v1/predict/skin", "lesion.png", "image/png", samplePNG(t)))
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var got domain.ScreeningResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &got))
	assert.Equal(t, domain.NV, got.Prediction.ClassCode)
	assert.Equal(t, 55.0, got.Prediction.Confidence)
	assert.Equal(t, domain.LOW, got.Prediction.RiskLevel)
	assert.Equal(t, []string{}, got.Prediction.Recommendations)
	assert.NotEmpty(t, got.ProcessedImage)

	w = env.do(multipartRequest(t, http.MethodPost, "/api/v1/predict/skin", "notes.txt", "text/plain", []byte("hello")))
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestPredictCondition(t *testing.T) {
	env := newTestEnv(t, testConfig(), false, nil)

	w := env.do(jsonRequest(http.MethodPost, "/api/v1/predict/condition",
		`{"age":30,"vitals":{"blood_pressure":"120/70","temperature":98.6,"heart_rate":98}}`))
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var got domain.ConditionPrediction
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &got))
	assert.Equal(t, domain.STABLE, got.Condition)
	assert.Equal(t, 0.0, got.Distance)

	w = env.do(jsonRequest(http.MethodPost, "/api/v1/predict/condition", `{"age":30,"vitals":{"blood_pressure":"abc"}}`))
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = env.do(jsonRequest(http.MethodPost, "/api/v1/predict/condition", `{"age":`))
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestPatientRoutes(t *testing.T) {
	env := newTestEnv(t, testConfig(), true, nil)

	t.Run("genetic upload and fetch", func(t *testing.T) {
		w := env.do(multipartRequest(t, http.MethodPost, "/api/v1/patients/1/genetic", "panel.csv", "text/csv", []byte(panelCSV)))
		require.Equal(t, http.StatusOK, w.Code, w.Body.String())

		var resp domain.GeneticUploadResponse
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
		assert.Equal(t, "File uploaded and analyzed successfully", resp.Message)
		assert.Equal(t, domain.HIGH, resp.Analysis.RiskLevel)

		w = env.do(httptest.NewRequest(http.MethodGet, "/api/v1/patients/1/genetic", nil))
		require.Equal(t, http.StatusOK, w.Code)
		var data domain.GeneticData
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &data))
		assert.Equal(t, "panel.csv", data.SourceFile)
		assert.Len(t, data.ContentHash, 64)
	})

	t.Run("skin upload and list", func(t *testing.T) {
		w := env.do(multipartRequest(t, http.MethodPost, "/api/v1/patients/1/skin", "arm.png", "image/png", samplePNG(t)))
		require.Equal(t, http.StatusOK, w.Code, w.Body.String())

		w = env.do(httptest.NewRequest(http.MethodGet, "/api/v1/patients/1/skin", nil))
		require.Equal(t, http.StatusOK, w.Code)
		var resp struct {
			Screenings []domain.SkinScreening `json:"screenings"`
		}
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
		require.Len(t, resp.Screenings, 1)
		assert.Equal(t, "Melanocytic Nevi", resp.Screenings[0].LesionType)
	})

	t.Run("vitals update predicts condition", func(t *testing.T) {
		w := env.do(jsonRequest(http.MethodPut, "/api/v1/patients/1/vitals",
			`{"vitals":{"blood_pressure":"182/91","temperature":101.5,"heart_rate":93}}`))
		require.Equal(t, http.StatusOK, w.Code, w.Body.String())

		var resp service.VitalsUpdateResponse
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
		assert.Equal(t, domain.CRITICAL, resp.Condition.Condition)

		p, err := env.patients.GetPatient(context.Background(), 1)
		require.NoError(t, err)
		assert.Equal(t, "critical", p.Condition)
	})

	t.Run("unknown patient", func(t *testing.T) {
		w := env.do(httptest.NewRequest(http.MethodGet, "/api/v1/patients/42/skin", nil))
		require.Equal(t, http.StatusNotFound, w.Code)
		assert.Equal(t, domain.CodeNotFound, decodeAPIError(t, w).Code)
	})

	t.Run("invalid id", func(t *testing.T) {
		w := env.do(httptest.NewRequest(http.MethodGet, "/api/v1/patients/abc/genetic", nil))
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})
}

func TestPatientRoutes_StorageDisabled(t *testing.T) {
	env := newTestEnv(t, testConfig(), false, nil)

	w := env.do(httptest.NewRequest(http.MethodGet, "/api/v1/patients/1/genetic", nil))
	require.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.Equal(t, domain.CodeServiceUnavailable, decodeAPIError(t, w).Code)
}

func TestListAnalyses(t *testing.T) {
	env := newTestEnv(t, testConfig(), false, nil)

	for i := 0; i < 3; i++ {
		w := env.do(jsonRequest(http.MethodPost, "/api/v1/predict/condition", `{"age":25,"vitals":{}}`))
		require.Equal(t, http.StatusOK, w.Code)
	}
	w := env.do(multipartRequest(t, http.MethodPost, "/api/v1/predict/genetic", "panel.csv", "text/csv", []byte(panelCSV)))
	require.Equal(t, http.StatusOK, w.Code)

	w = env.do(httptest.NewRequest(http.MethodGet, "/api/v1/analyses?limit=2", nil))
	require.Equal(t, http.StatusOK, w.Code)
	var resp struct {
		Analyses []domain.AnalysisRecord `json:"analyses"`
		Count    int                     `json:"count"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, 2, resp.Count)

	w = env.do(httptest.NewRequest(http.MethodGet, "/api/v1/analyses?kind=condition", nil))
	require.Equal(t, http.StatusOK, w.Code)
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, 3, resp.Count)
	for _, rec := range resp.Analyses {
		assert.Equal(t, domain.KindCondition, rec.Kind)
	}

	w = env.do(httptest.NewRequest(http.MethodGet, "/api/v1/analyses?kind=weather", nil))
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = env.do(httptest.NewRequest(http.MethodGet, "/api/v1/analyses?limit=-1", nil))
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestBodyTooLarge(t *testing.T) {
	cfg := testConfig()
	cfg.Server.MaxUploadBytes = 512
	env := newTestEnv(t, cfg, false, nil)

	big := bytes.Repeat([]byte("BRCA1,"), 400)
	w := env.do(multipartRequest(t, http.MethodPost, "/api/v1/predict/genetic", "panel.csv", "text/csv", big))
	require.Equal(t, http.StatusRequestEntityTooLarge, w.Code)
	assert.Equal(t, domain.CodePayloadTooLarge, decodeAPIError(t, w).Code)
}

func TestRateLimitedServer(t *testing.T) {
	cfg := testConfig()
	cfg.RateLimit = domain.RateLimitConfig{Enabled: true, RequestsPerSecond: 0.01, Burst: 1, MaxClients: 10}
	env := newTestEnv(t, cfg, false, nil)

	assert.Equal(t, http.StatusOK, env.do(httptest.NewRequest(http.MethodGet, "/health", nil)).Code)
	w := env.do(httptest.NewRequest(http.MethodGet, "/health", nil))
	require.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.Equal(t, domain.CodeRateLimit, decodeAPIError(t, w).Code)
}

func TestMetricsEndpoint(t *testing.T) {
	env := newTestEnv(t, testConfig(), false, nil)

	w := env.do(jsonRequest(http.MethodPost, "/api/v1/predict/condition", `{"age":70,"vitals":{"blood_pressure":"180/90"}}`))
	require.Equal(t, http.StatusOK, w.Code)

	w = env.do(httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `badal_http_requests_total{method="POST",route="/api/v1/predict/condition",status="200"} 1`)
}

func TestNewServer_RequiresAnalysis(t *testing.T) {
	_, err := NewServer(testConfig(), Deps{})
	assert.Error(t, err)
}
