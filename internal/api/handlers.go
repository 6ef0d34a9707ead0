package api

import (
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/badal-health/risk-server/internal/domain"
	"github.com/badal-health/risk-server/internal/service"
)

const uploadField = "file"

type upload struct {
	name        string
	contentType string
	content     []byte
}

func readUpload(c *gin.Context) (*upload, error) {
	header, err := c.FormFile(uploadField)
	if err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			return nil, err
		}
		return nil, domain.NewValidationError(uploadField, "no file uploaded", nil)
	}
	if header.Filename == "" {
		return nil, domain.NewValidationError(uploadField, "no file selected", nil)
	}

	f, err := header.Open()
	if err != nil {
		return nil, domain.NewInternalError("opening upload", err)
	}
	defer f.Close()

	content, err := io.ReadAll(f)
	if err != nil {
		return nil, domain.NewInternalError("reading upload", err)
	}

	return &upload{
		name:        header.Filename,
		contentType: header.Header.Get("Content-Type"),
		content:     content,
	}, nil
}

func patientIDParam(c *gin.Context) (int64, error) {
	raw := c.Param("id")
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		return 0, domain.NewValidationError("id", "patient id must be a positive integer", raw)
	}
	return id, nil
}

func (s *Server) handlePredictGenetic(c *gin.Context) {
	up, err := readUpload(c)
	if err != nil {
		s.respondError(c, err)
		return
	}

	assessment, err := s.analysis.AnalyzeGeneticFile(c.Request.Context(), nil, up.name, up.content)
	if err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, assessment)
}

func (s *Server) handlePredictSkin(c *gin.Context) {
	up, err := readUpload(c)
	if err != nil {
		s.respondError(c, err)
		return
	}

	resp, err := s.analysis.ScreenLesionImage(c.Request.Context(), nil, up.name, up.contentType, up.content)
	if err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, resp)
}

func (s *Server) handlePredictCondition(c *gin.Context) {
	var req service.ConditionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		s.respondError(c, bindError(err))
		return
	}

	resp, err := s.analysis.PredictCondition(c.Request.Context(), nil, req)
	if err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, resp.Condition)
}

func (s *Server) handleUploadGenetic(c *gin.Context) {
	id, err := patientIDParam(c)
	if err != nil {
		s.respondError(c, err)
		return
	}
	up, err := readUpload(c)
	if err != nil {
		s.respondError(c, err)
		return
	}

	assessment, err := s.analysis.AnalyzeGeneticFile(c.Request.Context(), &id, up.name, up.content)
	if err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, domain.GeneticUploadResponse{
		Message:  "File uploaded and analyzed successfully",
		Analysis: *assessment,
	})
}

func (s *Server) handleGetGenetic(c *gin.Context) {
	id, err := patientIDParam(c)
	if err != nil {
		s.respondError(c, err)
		return
	}

	data, err := s.analysis.GeneticData(c.Request.Context(), id)
	if err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, data)
}

func (s *Server) handleUploadSkin(c *gin.Context) {
	id, err := patientIDParam(c)
	if err != nil {
		s.respondError(c, err)
		return
	}
	up, err := readUpload(c)
	if err != nil {
		s.respondError(c, err)
		return
	}

	resp, err := s.analysis.ScreenLesionImage(c.Request.Context(), &id, up.name, up.contentType, up.content)
	if err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, resp)
}

func (s *Server) handleListSkin(c *gin.Context) {
	id, err := patientIDParam(c)
	if err != nil {
		s.respondError(c, err)
		return
	}

	screenings, err := s.analysis.Screenings(c.Request.Context(), id)
	if err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"screenings": screenings})
}

func (s *Server) handleUpdateVitals(c *gin.Context) {
	id, err := patientIDParam(c)
	if err != nil {
		s.respondError(c, err)
		return
	}

	var req service.ConditionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		s.respondError(c, bindError(err))
		return
	}

	resp, err := s.analysis.PredictCondition(c.Request.Context(), &id, req)
	if err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, resp)
}

func (s *Server) handleListAnalyses(c *gin.Context) {
	opts := domain.ListOptions{}

	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			s.respondError(c, domain.NewValidationError("limit", "limit must be a non-negative integer", raw))
			return
		}
		opts.Limit = n
	}
	if raw := c.Query("offset"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			s.respondError(c, domain.NewValidationError("offset", "offset must be a non-negative integer", raw))
			return
		}
		opts.Offset = n
	}
	if raw := c.Query("kind"); raw != "" {
		kind := domain.AnalysisKind(raw)
		if !kind.IsValid() {
			s.respondError(c, domain.NewValidationError("kind", "unknown analysis kind", raw))
			return
		}
		opts.Kind = kind
	}

	records, err := s.analysis.Analyses(c.Request.Context(), opts)
	if err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"analyses": records, "count": len(records)})
}

func bindError(err error) error {
	var maxErr *http.MaxBytesError
	if errors.As(err, &maxErr) {
		return err
	}
	return domain.NewValidationError("body", "invalid JSON body: "+err.Error(), nil)
}
