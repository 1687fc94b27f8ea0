package v1

import (
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/dmehra2102/prod-golang-projects/medvision/internal/domain/diagnosis"
	"github.com/dmehra2102/prod-golang-projects/medvision/internal/inference"
	"github.com/dmehra2102/prod-golang-projects/medvision/internal/service"
	"github.com/dmehra2102/prod-golang-projects/medvision/pkg/auth"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

const imageField = "image"

type DiagnosisHandler struct {
	diagnoses *service.DiagnosisService
	reviews   *service.ReviewService
	queries   *service.QueryService
	resolver  *auth.DoctorResolver
	log       *zap.Logger
}

func NewDiagnosisHandler(
	diagnoses *service.DiagnosisService,
	reviews *service.ReviewService,
	queries *service.QueryService,
	resolver *auth.DoctorResolver,
	log *zap.Logger,
) *DiagnosisHandler {
	return &DiagnosisHandler{
		diagnoses: diagnoses,
		reviews:   reviews,
		queries:   queries,
		resolver:  resolver,
		log:       log,
	}
}

// Analyze handles POST /diagnoses/analyze. The result is returned but never persisted.
func (h *DiagnosisHandler) Analyze(c *gin.Context) {
	cmd, ok := h.analyzeCommand(c)
	if !ok {
		return
	}

	result, err := h.diagnoses.AnalyzeOnly(c.Request.Context(), actorFrom(c, h.resolver), cmd)
	if err != nil {
		respondServiceError(c, h.log, err)
		return
	}
	respondOK(c, toAnalyzeResponse(result))
}

// Create handles POST /diagnoses: analyze and persist in one call.
func (h *DiagnosisHandler) Create(c *gin.Context) {
	cmd, ok := h.analyzeCommand(c)
	if !ok {
		return
	}

	d, err := h.diagnoses.CreateDiagnosis(c.Request.Context(), actorFrom(c, h.resolver), cmd)
	if err != nil {
		respondServiceError(c, h.log, err)
		return
	}
	respondCreated(c, toDiagnosisResponse(d, nil, nil))
}

// Save handles POST /diagnoses/save with an analysis from an earlier analyze-only call.
func (h *DiagnosisHandler) Save(c *gin.Context) {
	var req saveDiagnosisRequest
	if !bindJSON(c, &req) {
		return
	}

	cmd := &diagnosis.SaveDiagnosisCommand{
		PatientID: req.PatientID,
		ImageURL:  req.ImageURL,
	}
	if req.AIAnalysis != nil {
		analysis := inference.Normalize(req.AIAnalysis)
		cmd.Analysis = &analysis
	}

	d, err := h.diagnoses.SaveDiagnosis(c.Request.Context(), actorFrom(c, h.resolver), cmd)
	if err != nil {
		respondServiceError(c, h.log, err)
		return
	}
	respondCreated(c, toDiagnosisResponse(d, nil, nil))
}

// List handles GET /diagnoses.
func (h *DiagnosisHandler) List(c *gin.Context) {
	var filter service.ListFilter
	if err := c.ShouldBindQuery(&filter); err != nil {
		respondError(c, http.StatusBadRequest, CodeValidationFailed, "invalid query: "+err.Error())
		return
	}

	list, err := h.queries.List(c.Request.Context(), filter)
	if err != nil {
		respondServiceError(c, h.log, err)
		return
	}
	respondOK(c, toDiagnosisList(list))
}

// Get handles GET /diagnoses/:id.
func (h *DiagnosisHandler) Get(c *gin.Context) {
	id, ok := parseUUID(c, "id")
	if !ok {
		return
	}

	detail, err := h.queries.Get(c.Request.Context(), actorFrom(c, h.resolver), id)
	if err != nil {
		respondServiceError(c, h.log, err)
		return
	}
	respondOK(c, toDiagnosisResponse(detail.Diagnosis, detail.Patient, detail.Doctor))
}

// Review handles PUT /diagnoses/:id/review.
func (h *DiagnosisHandler) Review(c *gin.Context) {
	id, ok := parseUUID(c, "id")
	if !ok {
		return
	}

	var req reviewRequest
	if !bindJSON(c, &req) {
		return
	}

	d, err := h.reviews.Review(c.Request.Context(), actorFrom(c, h.resolver), &diagnosis.ReviewCommand{
		DiagnosisID: id,
		Status:      diagnosis.ReviewStatus(strings.ToLower(strings.TrimSpace(req.Status))),
		Summary:     req.Summary,
		Notes:       req.Notes,
	})
	if err != nil {
		respondServiceError(c, h.log, err)
		return
	}
	respondOK(c, toDiagnosisResponse(d, nil, nil))
}

// analyzeCommand reads the multipart form shared by Analyze and Create. A missing image
// is passed through as nil so the service reports it in the error taxonomy.
func (h *DiagnosisHandler) analyzeCommand(c *gin.Context) (*diagnosis.AnalyzeCommand, bool) {
	cmd := &diagnosis.AnalyzeCommand{}

	fh, err := c.FormFile(imageField)
	switch {
	case err == nil:
		cmd.Image = &diagnosis.ImageUpload{
			FileName:    fh.Filename,
			ContentType: fh.Header.Get("Content-Type"),
			Size:        fh.Size,
			Open: func() (io.ReadCloser, error) {
				return fh.Open()
			},
		}
	case errors.Is(err, http.ErrMissingFile), errors.Is(err, http.ErrNotMultipart):
	default:
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			respondError(c, http.StatusRequestEntityTooLarge, CodeUploadTooLarge, "image upload exceeds the size limit")
			return nil, false
		}
		respondError(c, http.StatusBadRequest, CodeValidationFailed, "invalid multipart form: "+err.Error())
		return nil, false
	}

	cmd.PatientID = firstForm(c, "patientId", "patient_id")
	cmd.Notes = strings.TrimSpace(c.PostForm("notes"))
	return cmd, true
}

func firstForm(c *gin.Context, keys ...string) string {
	for _, k := range keys {
		if v := strings.TrimSpace(c.PostForm(k)); v != "" {
			return v
		}
	}
	return ""
}
