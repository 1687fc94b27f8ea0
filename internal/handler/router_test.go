package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/textproto"
	"strings"
	"testing"
	"time"

	"github.com/dmehra2102/prod-golang-projects/medvision/internal/config"
	"github.com/dmehra2102/prod-golang-projects/medvision/internal/domain"
	"github.com/dmehra2102/prod-golang-projects/medvision/internal/domain/diagnosis"
	"github.com/dmehra2102/prod-golang-projects/medvision/internal/domain/patient"
	"github.com/dmehra2102/prod-golang-projects/medvision/internal/inference"
	"github.com/dmehra2102/prod-golang-projects/medvision/internal/inference/mocks"
	"github.com/dmehra2102/prod-golang-projects/medvision/internal/repository/memory"
	"github.com/dmehra2102/prod-golang-projects/medvision/internal/service"
	"github.com/dmehra2102/prod-golang-projects/medvision/pkg/auth"
	"github.com/dmehra2102/prod-golang-projects/medvision/pkg/imagestore"
	"github.com/dmehra2102/prod-golang-projects/medvision/pkg/metrics"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/mock/gomock"
	"go.uber.org/zap"
)

var pngBytes = []byte("\x89PNG\r\n\x1a\n synthetic chest radiograph")

type testServer struct {
	router    *gin.Engine
	scorer    *mocks.MockScorer
	diagnoses *memory.DiagnosisRepository
	writes    *switchableDiagnoses
	patient   *patient.Patient
	tokens    *auth.JWTManager
	authSvc   *service.AuthService
}

// switchableDiagnoses fails Create while down is set.
type switchableDiagnoses struct {
	diagnosis.Repository
	down bool
}

func (r *switchableDiagnoses) Create(ctx context.Context, d *diagnosis.Diagnosis) error {
	if r.down {
		return errors.New("connection reset by peer")
	}
	return r.Repository.Create(ctx, d)
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	gin.SetMode(gin.TestMode)

	cfg := &config.Config{
		App:    config.AppConfig{Name: "medvision-test", Environment: "test"},
		Server: config.ServerConfig{MaxUploadBytes: 1 << 20},
		JWT: config.JWTConfig{
			Secret:         "router-test-secret-long-enough-123",
			AccessTokenTTL: time.Hour,
			Issuer:         "medvision-test",
		},
		CORS: config.CORSConfig{
			AllowedOrigins: []string{"http://localhost:3000"},
			AllowedMethods: []string{"GET", "POST", "PUT"},
			AllowedHeaders: []string{"Authorization", "Content-Type"},
			MaxAge:         time.Hour,
		},
		Storage: config.StorageConfig{Backend: config.StoreMemory, PublicPrefix: "/uploads"},
	}

	log := zap.NewNop()
	m := metrics.NewCollector(cfg.App.Name, prometheus.NewRegistry())
	diagnoses := memory.NewDiagnosisRepository()
	patients := memory.NewPatientRepository()
	users := memory.NewUserRepository()
	images := imagestore.NewMemoryStore(cfg.Storage.PublicPrefix)
	scorer := mocks.NewMockScorer(gomock.NewController(t))
	tokens := auth.NewJWTManager(cfg.JWT)

	audit := service.NewAuditService(memory.NewAuditRepository(), m, log)
	t.Cleanup(audit.Shutdown)

	p := &patient.Patient{ID: uuid.New(), Name: "Asha Verma"}
	if err := patients.Create(context.Background(), p); err != nil {
		t.Fatalf("creating patient: %v", err)
	}

	writes := &switchableDiagnoses{Repository: diagnoses}
	authSvc := service.NewAuthService(users, tokens, audit, log)
	router := NewRouter(Dependencies{
		Config:    cfg,
		Diagnoses: service.NewDiagnosisService(writes, patients, scorer, images, audit, m, log),
		Reviews:   service.NewReviewService(diagnoses, audit, m, log),
		Queries:   service.NewQueryService(diagnoses, patients, users, audit, log),
		Auth:      authSvc,
		Images:    images,
		Tokens:    tokens,
		Metrics:   m,
		Log:       log,
	})

	return &testServer{
		router:    router,
		scorer:    scorer,
		diagnoses: diagnoses,
		writes:    writes,
		patient:   p,
		tokens:    tokens,
		authSvc:   authSvc,
	}
}

func (s *testServer) do(req *http.Request) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)
	return rec
}

func (s *testServer) doctorToken(t *testing.T) (uuid.UUID, string) {
	t.Helper()
	id := uuid.New()
	pair, err := s.tokens.GenerateAccessToken(&domain.Claims{UserID: id, Email: "dr@hospital.test", Role: domain.RoleDoctor})
	if err != nil {
		t.Fatalf("GenerateAccessToken: %v", err)
	}
	return id, pair.AccessToken
}

func uploadRequest(t *testing.T, path, patientID string, image []byte) *http.Request {
	t.Helper()
	var body bytes.Buffer
	w := multipart.NewWriter(&body)
	if patientID != "" {
		if err := w.WriteField("patientId", patientID); err != nil {
			t.Fatal(err)
		}
	}
	if image != nil {
		h := make(textproto.MIMEHeader)
		h.Set("Content-Disposition", `form-data; name="image"; filename="chest.png"`)
		h.Set("Content-Type", "image/png")
		part, err := w.CreatePart(h)
		if err != nil {
			t.Fatal(err)
		}
		if _, err := part.Write(image); err != nil {
			t.Fatal(err)
		}
	}
	if err := w.Close(); err != nil {
		t.Fatal(err)
	}

	req := httptest.NewRequest(http.MethodPost, path, &body)
	req.Header.Set("Content-Type", w.FormDataContentType())
	return req
}

func jsonRequest(t *testing.T, method, path string, payload any) *http.Request {
	t.Helper()
	raw, err := json.Marshal(payload)
	if err != nil {
		t.Fatal(err)
	}
	req := httptest.NewRequest(method, path, bytes.NewReader(raw))
	req.Header.Set("Content-Type", "application/json")
	return req
}

type envelope struct {
	Data    json.RawMessage   `json:"data"`
	Error   string            `json:"error"`
	Code    string            `json:"code"`
	Fields  []string          `json:"fields"`
	Details map[string]string `json:"details"`
}

func decode(t *testing.T, rec *httptest.ResponseRecorder, wantStatus int) envelope {
	t.Helper()
	if rec.Code != wantStatus {
		t.Fatalf("status = %d, want %d; body: %s", rec.Code, wantStatus, rec.Body.String())
	}
	var env envelope
	if err := json.Unmarshal(rec.Body.Bytes(), &env); err != nil {
		t.Fatalf("decoding body %q: %v", rec.Body.String(), err)
	}
	return env
}

type diagnosisBody struct {
	ID         uuid.UUID      `json:"id"`
	PatientID  uuid.UUID      `json:"patientId"`
	DoctorID   *uuid.UUID     `json:"doctorId"`
	ImageURL   *string        `json:"imageUrl"`
	AIAnalysis map[string]any `json:"aiAnalysis"`
	Review     struct {
		Status     string     `json:"status"`
		Summary    string     `json:"summary"`
		UpdatedAt  *time.Time `json:"updatedAt"`
		ReviewedBy *uuid.UUID `json:"reviewedBy"`
	} `json:"review"`
	Patient *struct {
		Name string `json:"name"`
	} `json:"patient"`
	Doctor *struct {
		ID    uuid.UUID `json:"id"`
		Name  string    `json:"name"`
		Email string    `json:"email"`
	} `json:"doctor"`
}

func scorerReply() *inference.Result {
	return &inference.Result{Payload: inference.Payload{
		"confidence":      0.87,
		"findings":        []any{map[string]any{"condition": "COVID-19", "probability": 0.87}},
		"recommendations": []any{"RT-PCR confirmation"},
		"predictedClass":  "COVID-19",
	}}
}

func TestAnalyzeRoute_ReturnsAnalysisWithoutPersisting(t *testing.T) {
	s := newTestServer(t)
	s.scorer.EXPECT().Infer(gomock.Any(), gomock.Any()).Return(scorerReply(), nil)

	env := decode(t, s.do(uploadRequest(t, "/diagnoses/analyze", s.patient.ID.String(), pngBytes)), http.StatusOK)

	var got struct {
		Confidence float64 `json:"confidence"`
		ImageURL   string  `json:"imageUrl"`
		AINotes    string  `json:"aiNotes"`
		Findings   []struct {
			Condition string `json:"condition"`
		} `json:"findings"`
	}
	if err := json.Unmarshal(env.Data, &got); err != nil {
		t.Fatal(err)
	}
	if got.Confidence != 0.87 || len(got.Findings) != 1 || got.AINotes != inference.DefaultNotes {
		t.Errorf("analysis = %+v", got)
	}
	if s.diagnoses.Count() != 0 {
		t.Fatalf("analyze wrote %d diagnoses", s.diagnoses.Count())
	}

	img := s.do(httptest.NewRequest(http.MethodGet, got.ImageURL, nil))
	if img.Code != http.StatusOK || !bytes.Equal(img.Body.Bytes(), pngBytes) {
		t.Errorf("GET %s = %d, %d bytes", got.ImageURL, img.Code, img.Body.Len())
	}
	if ct := img.Header().Get("Content-Type"); ct != "image/png" {
		t.Errorf("content type = %q", ct)
	}
}

func TestCreateRoute_AttributesBearerIdentity(t *testing.T) {
	s := newTestServer(t)
	doctor, err := s.authSvc.Register(context.Background(), &service.RegisterUserCommand{
		Name: "Dr. Meera Shah", Email: "meera@hospital.test", Password: "correct-horse-battery",
	})
	if err != nil {
		t.Fatalf("Register: %v", err)
	}
	doctorID := doctor.ID
	pair, err := s.tokens.GenerateAccessToken(&domain.Claims{UserID: doctorID, Email: doctor.Email, Role: domain.RoleDoctor})
	if err != nil {
		t.Fatalf("GenerateAccessToken: %v", err)
	}
	token := pair.AccessToken
	s.scorer.EXPECT().Infer(gomock.Any(), gomock.Any()).Return(scorerReply(), nil)

	req := uploadRequest(t, "/diagnoses", s.patient.ID.String(), pngBytes)
	req.Header.Set("Authorization", "Bearer "+token)
	env := decode(t, s.do(req), http.StatusCreated)

	var got diagnosisBody
	if err := json.Unmarshal(env.Data, &got); err != nil {
		t.Fatal(err)
	}
	if got.DoctorID == nil || *got.DoctorID != doctorID {
		t.Errorf("doctorId = %v, want %s", got.DoctorID, doctorID)
	}
	if got.Review.Status != "pending" || got.ImageURL == nil {
		t.Errorf("diagnosis = %+v", got)
	}
	if s.diagnoses.Count() != 1 {
		t.Errorf("diagnoses = %d, want 1", s.diagnoses.Count())
	}

	read := decode(t, s.do(httptest.NewRequest(http.MethodGet, "/diagnoses/"+got.ID.String(), nil)), http.StatusOK)
	var populated diagnosisBody
	if err := json.Unmarshal(read.Data, &populated); err != nil {
		t.Fatal(err)
	}
	if populated.Doctor == nil || populated.Doctor.ID != doctorID || populated.Doctor.Name != "Dr. Meera Shah" || populated.Doctor.Email != "meera@hospital.test" {
		t.Errorf("doctor = %+v, want the registered clinician", populated.Doctor)
	}
}

func TestCreateRoute_FailedWriteReturnsResubmittableAnalysis(t *testing.T) {
	s := newTestServer(t)
	s.scorer.EXPECT().Infer(gomock.Any(), gomock.Any()).Return(scorerReply(), nil).Times(1)

	s.writes.down = true
	rec := s.do(uploadRequest(t, "/diagnoses", s.patient.ID.String(), pngBytes))
	env := decode(t, rec, http.StatusInternalServerError)
	if env.Code != "PERSISTENCE_FAILED" {
		t.Fatalf("code = %q", env.Code)
	}

	var unsaved struct {
		PatientID  string         `json:"patientId"`
		ImageURL   string         `json:"imageUrl"`
		AIAnalysis map[string]any `json:"aiAnalysis"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &unsaved); err != nil {
		t.Fatal(err)
	}
	if unsaved.PatientID != s.patient.ID.String() || unsaved.ImageURL == "" || unsaved.AIAnalysis["confidence"] != 0.87 {
		t.Fatalf("error body = %s, want the computed analysis", rec.Body.String())
	}

	s.writes.down = false
	req := httptest.NewRequest(http.MethodPost, "/diagnoses/save", bytes.NewReader(rec.Body.Bytes()))
	req.Header.Set("Content-Type", "application/json")
	saved := decode(t, s.do(req), http.StatusCreated)

	var got diagnosisBody
	if err := json.Unmarshal(saved.Data, &got); err != nil {
		t.Fatal(err)
	}
	if got.ImageURL == nil || *got.ImageURL != unsaved.ImageURL || got.AIAnalysis["confidence"] != 0.87 {
		t.Errorf("saved = %+v", got)
	}
	if s.diagnoses.Count() != 1 {
		t.Errorf("diagnoses = %d, want 1", s.diagnoses.Count())
	}
}

func TestCreateRoute_AnonymousCallerIsNotRejected(t *testing.T) {
	s := newTestServer(t)
	s.scorer.EXPECT().Infer(gomock.Any(), gomock.Any()).Return(scorerReply(), nil)

	req := uploadRequest(t, "/diagnoses", s.patient.ID.String(), pngBytes)
	req.Header.Set("Authorization", "Bearer not-a-jwt")
	env := decode(t, s.do(req), http.StatusCreated)

	var got diagnosisBody
	if err := json.Unmarshal(env.Data, &got); err != nil {
		t.Fatal(err)
	}
	if got.DoctorID != nil {
		t.Errorf("doctorId = %s, want null", got.DoctorID)
	}
}

func TestUploadRoutes_ErrorMapping(t *testing.T) {
	tests := []struct {
		name       string
		req        func(t *testing.T, s *testServer) *http.Request
		scorer     func(s *testServer)
		wantStatus int
		wantCode   string
	}{
		{
			name:       "missing image",
			req:        func(t *testing.T, s *testServer) *http.Request { return uploadRequest(t, "/diagnoses", s.patient.ID.String(), nil) },
			wantStatus: http.StatusBadRequest,
			wantCode:   "UPLOAD_REQUIRED",
		},
		{
			name:       "missing patient",
			req:        func(t *testing.T, s *testServer) *http.Request { return uploadRequest(t, "/diagnoses", "", pngBytes) },
			wantStatus: http.StatusBadRequest,
			wantCode:   "VALIDATION_FAILED",
		},
		{
			name:       "unknown patient",
			req:        func(t *testing.T, s *testServer) *http.Request { return uploadRequest(t, "/diagnoses", uuid.NewString(), pngBytes) },
			wantStatus: http.StatusNotFound,
			wantCode:   "NOT_FOUND",
		},
		{
			name: "scorer unreachable",
			req: func(t *testing.T, s *testServer) *http.Request {
				return uploadRequest(t, "/diagnoses/analyze", s.patient.ID.String(), pngBytes)
			},
			scorer: func(s *testServer) {
				s.scorer.EXPECT().Infer(gomock.Any(), gomock.Any()).
					Return(nil, &inference.Failure{Reason: inference.ReasonUnreachable, Message: "connection refused"})
			},
			wantStatus: http.StatusServiceUnavailable,
			wantCode:   "INFERENCE_UNAVAILABLE",
		},
		{
			name: "oversized upload",
			req: func(t *testing.T, s *testServer) *http.Request {
				return uploadRequest(t, "/diagnoses", s.patient.ID.String(), bytes.Repeat([]byte{1}, 2<<20))
			},
			wantStatus: http.StatusRequestEntityTooLarge,
			wantCode:   "UPLOAD_TOO_LARGE",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := newTestServer(t)
			if tt.scorer != nil {
				tt.scorer(s)
			}
			env := decode(t, s.do(tt.req(t, s)), tt.wantStatus)
			if env.Code != tt.wantCode {
				t.Errorf("code = %q, want %q", env.Code, tt.wantCode)
			}
			if s.diagnoses.Count() != 0 {
				t.Errorf("failed request wrote %d diagnoses", s.diagnoses.Count())
			}
		})
	}
}

func TestSaveRoute_PersistsWithoutRescoring(t *testing.T) {
	s := newTestServer(t)
	s.scorer.EXPECT().Infer(gomock.Any(), gomock.Any()).Times(0)

	req := jsonRequest(t, http.MethodPost, "/diagnoses/save", map[string]any{
		"patientId": s.patient.ID.String(),
		"imageUrl":  "/uploads/1700000000000-abc123def456.png",
		"aiAnalysis": map[string]any{
			"confidence":      0.91,
			"findings":        []any{map[string]any{"condition": "Normal", "probability": 0.91}},
			"recommendations": []any{},
			"aiNotes":         "reviewed on the ward",
		},
	})
	env := decode(t, s.do(req), http.StatusCreated)

	var got diagnosisBody
	if err := json.Unmarshal(env.Data, &got); err != nil {
		t.Fatal(err)
	}
	if got.AIAnalysis["confidence"] != 0.91 || got.AIAnalysis["aiNotes"] != "reviewed on the ward" {
		t.Errorf("aiAnalysis = %v", got.AIAnalysis)
	}

	missing := jsonRequest(t, http.MethodPost, "/diagnoses/save", map[string]any{"patientId": s.patient.ID.String()})
	if env := decode(t, s.do(missing), http.StatusBadRequest); env.Code != "VALIDATION_FAILED" {
		t.Errorf("missing analysis code = %q", env.Code)
	}
}

func TestReviewListAndGetRoutes(t *testing.T) {
	s := newTestServer(t)
	doctorID, token := s.doctorToken(t)
	s.scorer.EXPECT().Infer(gomock.Any(), gomock.Any()).Return(scorerReply(), nil)

	created := decode(t, s.do(uploadRequest(t, "/diagnoses", s.patient.ID.String(), pngBytes)), http.StatusCreated)
	var d diagnosisBody
	if err := json.Unmarshal(created.Data, &d); err != nil {
		t.Fatal(err)
	}

	review := jsonRequest(t, http.MethodPut, "/diagnoses/"+d.ID.String()+"/review", map[string]any{
		"status":  "approved",
		"summary": "Findings confirmed",
	})
	review.Header.Set("Authorization", "Bearer "+token)
	env := decode(t, s.do(review), http.StatusOK)

	var reviewed diagnosisBody
	if err := json.Unmarshal(env.Data, &reviewed); err != nil {
		t.Fatal(err)
	}
	if reviewed.Review.Status != "approved" || reviewed.Review.Summary != "Findings confirmed" || reviewed.Review.UpdatedAt == nil {
		t.Errorf("review = %+v", reviewed.Review)
	}
	if reviewed.Review.ReviewedBy == nil || *reviewed.Review.ReviewedBy != doctorID {
		t.Errorf("reviewedBy = %v, want %s", reviewed.Review.ReviewedBy, doctorID)
	}

	list := decode(t, s.do(httptest.NewRequest(http.MethodGet, "/diagnoses?status=approved&minConfidence=80&patientName=asha", nil)), http.StatusOK)
	var items []diagnosisBody
	if err := json.Unmarshal(list.Data, &items); err != nil {
		t.Fatal(err)
	}
	if len(items) != 1 || items[0].ID != d.ID || items[0].Patient == nil || items[0].Patient.Name != "Asha Verma" {
		t.Errorf("list = %+v", items)
	}

	empty := decode(t, s.do(httptest.NewRequest(http.MethodGet, "/diagnoses?status=pending", nil)), http.StatusOK)
	if strings.TrimSpace(string(empty.Data)) != "[]" {
		t.Errorf("pending list = %s, want []", empty.Data)
	}

	get := decode(t, s.do(httptest.NewRequest(http.MethodGet, "/diagnoses/"+d.ID.String(), nil)), http.StatusOK)
	var one diagnosisBody
	if err := json.Unmarshal(get.Data, &one); err != nil {
		t.Fatal(err)
	}
	if one.Review.Status != "approved" {
		t.Errorf("get status = %q", one.Review.Status)
	}

	checks := []struct {
		name       string
		req        *http.Request
		wantStatus int
		wantCode   string
	}{
		{"invalid status", jsonRequest(t, http.MethodPut, "/diagnoses/"+d.ID.String()+"/review", map[string]any{"status": "maybe"}), http.StatusBadRequest, "VALIDATION_FAILED"},
		{"unknown diagnosis", jsonRequest(t, http.MethodPut, "/diagnoses/"+uuid.NewString()+"/review", map[string]any{"status": "rejected"}), http.StatusNotFound, "NOT_FOUND"},
		{"malformed id", httptest.NewRequest(http.MethodGet, "/diagnoses/42", nil), http.StatusBadRequest, "VALIDATION_FAILED"},
		{"bad list filter", httptest.NewRequest(http.MethodGet, "/diagnoses?maxConfidence=abc", nil), http.StatusBadRequest, "VALIDATION_FAILED"},
		{"missing image", httptest.NewRequest(http.MethodGet, "/uploads/1700000000000-000000000000.png", nil), http.StatusNotFound, "NOT_FOUND"},
	}
	for _, c := range checks {
		t.Run(c.name, func(t *testing.T) {
			env := decode(t, s.do(c.req), c.wantStatus)
			if env.Code != c.wantCode {
				t.Errorf("code = %q, want %q", env.Code, c.wantCode)
			}
		})
	}
}

func TestLoginRoute(t *testing.T) {
	s := newTestServer(t)
	u, err := s.authSvc.Register(context.Background(), &service.RegisterUserCommand{
		Name: "Dr. Meera Shah", Email: "meera@hospital.test", Password: "correct-horse-battery",
	})
	if err != nil {
		t.Fatalf("Register: %v", err)
	}

	env := decode(t, s.do(jsonRequest(t, http.MethodPost, "/auth/login", map[string]string{
		"email": "meera@hospital.test", "password": "correct-horse-battery",
	})), http.StatusOK)

	var pair domain.TokenPair
	if err := json.Unmarshal(env.Data, &pair); err != nil {
		t.Fatal(err)
	}
	id, err := s.tokens.ParseIdentity(pair.AccessToken)
	if err != nil || id != u.ID {
		t.Errorf("token identity = %s, %v; want %s", id, err, u.ID)
	}

	bad := decode(t, s.do(jsonRequest(t, http.MethodPost, "/auth/login", map[string]string{
		"email": "meera@hospital.test", "password": "wrong-password-123",
	})), http.StatusUnauthorized)
	if bad.Code != "INVALID_CREDENTIALS" {
		t.Errorf("code = %q", bad.Code)
	}
}

func TestOperationalRoutes(t *testing.T) {
	s := newTestServer(t)

	health := s.do(httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if health.Code != http.StatusOK {
		t.Errorf("healthz = %d", health.Code)
	}
	if health.Header().Get("X-Request-ID") == "" {
		t.Error("missing X-Request-ID on response")
	}

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	req.Header.Set("X-Request-ID", "trace-me-123")
	if got := s.do(req).Header().Get("X-Request-ID"); got != "trace-me-123" {
		t.Errorf("request id = %q, want the caller's", got)
	}

	ready := s.do(httptest.NewRequest(http.MethodGet, "/readyz", nil))
	if ready.Code != http.StatusOK {
		t.Errorf("readyz = %d", ready.Code)
	}

	m := s.do(httptest.NewRequest(http.MethodGet, "/metrics", nil))
	body, _ := io.ReadAll(m.Body)
	if m.Code != http.StatusOK || !strings.Contains(string(body), "medvision_test_http_requests_total") {
		t.Errorf("metrics = %d, missing request counter", m.Code)
	}
}
