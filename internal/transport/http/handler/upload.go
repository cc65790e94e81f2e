package handler

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"bizfin-insight/internal/app"
	"bizfin-insight/internal/transport/http/response"
)

// multipartOverhead leaves room for boundaries and headers around the file.
const multipartOverhead = 1 << 20

type UploadHandler struct {
	uploads *app.UploadService
}

func NewUploadHandler(uploads *app.UploadService) *UploadHandler {
	return &UploadHandler{uploads: uploads}
}

func (h *UploadHandler) FinancialData(c *gin.Context) {
	tu, ok := currentUser(c)
	if !ok {
		response.Error(c, http.StatusUnauthorized, response.CodeUnauthorized, "invalid token payload")
		return
	}

	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, h.uploads.MaxBytes()+multipartOverhead)
	fh, err := c.FormFile("file")
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			response.Error(c, http.StatusRequestEntityTooLarge, response.CodeFileTooLarge, app.ErrFileTooLarge.Error())
			return
		}
		response.Error(c, http.StatusBadRequest, response.CodeBadRequest, "no file uploaded")
		return
	}
	f, err := fh.Open()
	if err != nil {
		response.Error(c, http.StatusBadRequest, response.CodeBadRequest, "read uploaded file failed")
		return
	}
	defer f.Close()

	result, err := h.uploads.Upload(c.Request.Context(), app.UploadInput{
		UserID:   tu.ID,
		Filename: fh.Filename,
		Body:     f,
	})
	if err != nil {
		writeServiceError(c, err, "error processing file")
		return
	}
	response.OK(c, result)
}
