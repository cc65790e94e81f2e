package response

import "github.com/gin-gonic/gin"

const (
	CodeOK                  = 0
	CodeBadRequest          = 40000
	CodeUsernameExists      = 40001
	CodeUnsupportedFile     = 40002
	CodeUnauthorized        = 40100
	CodeInvalidCredentials  = 40101
	CodeForbidden           = 40300
	CodeNotFound            = 40400
	CodeDocumentNotFound    = 40401
	CodeFileTooLarge        = 41300
	CodeRateLimited         = 42900
	CodeInternalServer      = 50000
	CodeAnalysisFailed      = 50001
	CodeReportFailed        = 50002
	CodeProviderConfig      = 50003
	CodeProviderAuth        = 50200
	CodeProviderUnavailable = 50300
)

type APIResponse struct {
	Success bool        `json:"success"`
	Code    int         `json:"code"`
	Error   string      `json:"error,omitempty"`
	Data    interface{} `json:"data,omitempty"`
}

func OK(c *gin.Context, data interface{}) {
	c.JSON(200, APIResponse{
		Success: true,
		Code:    CodeOK,
		Data:    data,
	})
}

func Error(c *gin.Context, httpStatus, code int, message string) {
	c.JSON(httpStatus, APIResponse{
		Code:  code,
		Error: message,
	})
}

// Abort writes the error and stops the handler chain.
func Abort(c *gin.Context, httpStatus, code int, message string) {
	Error(c, httpStatus, code, message)
	c.Abort()
}
