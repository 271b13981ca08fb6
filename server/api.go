package server

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/xhad/deptbot/internal/models"
	"github.com/xhad/deptbot/pkg/ingest"
	"github.com/xhad/deptbot/pkg/llm"
	"github.com/xhad/deptbot/pkg/partition"
	"github.com/xhad/deptbot/pkg/rag"
	"github.com/xhad/deptbot/pkg/retriever"
	"github.com/xhad/deptbot/pkg/store"
)

// ErrorResponse is the body of every failed API call.
type ErrorResponse struct {
	ErrorCode string `json:"error_code"`
	Message   string `json:"message"`
	Details   string `json:"details,omitempty"`
}

func apiError(c *gin.Context, status int, code, message string, err error) {
	resp := ErrorResponse{ErrorCode: code, Message: message}
	if err != nil {
		resp.Details = err.Error()
	}
	c.AbortWithStatusJSON(status, resp)
}

type updateRequest struct {
	Content string `json:"content"`
	DocID   string `json:"doc_id"`
}

type askRequest struct {
	Question string `json:"question"`
}

type askResponse struct {
	rag.ProbeResult
	Found bool `json:"found"`
}

func (s *Server) handleUpload(c *gin.Context) {
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, s.config.MaxUploadBytes)

	header, err := c.FormFile("file")
	if err != nil {
		apiError(c, http.StatusBadRequest, "missing_file", "Multipart field 'file' is required", err)
		return
	}

	if s.pipeline.Exists(header.Filename) {
		apiError(c, http.StatusConflict, "already_ingested", "File already exists", nil)
		return
	}

	f, err := header.Open()
	if err != nil {
		apiError(c, http.StatusBadRequest, "invalid_file", "Failed to read upload", err)
		return
	}
	defer f.Close()

	report, err := s.pipeline.IngestFile(c.Request.Context(), header.Filename, f)
	switch {
	case err == nil:
		c.JSON(http.StatusCreated, report)
	case errors.Is(err, ingest.ErrNotPDF):
		apiError(c, http.StatusBadRequest, "invalid_file_type", "Only PDF files are supported", nil)
	case errors.Is(err, ingest.ErrAlreadyIngested):
		apiError(c, http.StatusConflict, "already_ingested", "File already exists", nil)
	case errors.Is(err, partition.ErrNoElements):
		apiError(c, http.StatusUnprocessableEntity, "no_elements", "No tables or text found in document", err)
	case errors.Is(err, llm.ErrUnavailable):
		apiError(c, http.StatusServiceUnavailable, "llm_unavailable", "LLM service is unavailable", err)
	default:
		s.logger.Error("ingest failed", "file", header.Filename, "error", err)
		apiError(c, http.StatusInternalServerError, "ingest_failed", "Failed to ingest document", err)
	}
}

func (s *Server) handleListDocuments(c *gin.Context) {
	docs, err := s.vectors.List(c.Request.Context())
	if err != nil {
		apiError(c, http.StatusInternalServerError, "list_failed", "Failed to list documents", err)
		return
	}
	if docs == nil {
		docs = []models.StoredDocument{}
	}
	c.JSON(http.StatusOK, gin.H{"documents": docs, "count": len(docs)})
}

func (s *Server) handleUpdateDocument(c *gin.Context) {
	id := c.Param("id")

	var req updateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		apiError(c, http.StatusBadRequest, "invalid_request", "Invalid request body", err)
		return
	}
	if strings.TrimSpace(req.Content) == "" {
		apiError(c, http.StatusBadRequest, "invalid_request", "content is required", nil)
		return
	}

	doc := models.Document{Content: req.Content}
	if req.DocID != "" {
		doc.Metadata = map[string]interface{}{models.IDKey: req.DocID}
	}

	err := s.vectors.UpdateDocument(c.Request.Context(), id, doc)
	switch {
	case err == nil:
		c.JSON(http.StatusOK, gin.H{"id": id, "updated": true})
	case errors.Is(err, store.ErrNotFound):
		apiError(c, http.StatusNotFound, "not_found", "Document not found", nil)
	default:
		apiError(c, http.StatusInternalServerError, "update_failed", "Failed to update document", err)
	}
}

func (s *Server) handleDeleteDocument(c *gin.Context) {
	id := c.Param("id")
	if err := s.vectors.Delete(c.Request.Context(), []string{id}); err != nil {
		apiError(c, http.StatusInternalServerError, "delete_failed", "Failed to delete document", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"id": id, "deleted": true})
}

func (s *Server) handleAsk(c *gin.Context) {
	var req askRequest
	if err := c.ShouldBindJSON(&req); err != nil || strings.TrimSpace(req.Question) == "" {
		apiError(c, http.StatusBadRequest, "invalid_request", "question is required", err)
		return
	}

	res, err := s.prober.Probe(c.Request.Context(), req.Question)
	switch {
	case err == nil:
		c.JSON(http.StatusOK, askResponse{ProbeResult: *res, Found: true})
	case errors.Is(err, retriever.ErrNoContext):
		c.JSON(http.StatusOK, askResponse{ProbeResult: *res, Found: false})
	case errors.Is(err, llm.ErrUnavailable):
		apiError(c, http.StatusServiceUnavailable, "llm_unavailable", "LLM service is unavailable", err)
	default:
		apiError(c, http.StatusInternalServerError, "ask_failed", "Failed to answer question", err)
	}
}
