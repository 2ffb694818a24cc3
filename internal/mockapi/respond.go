package mockapi

import (
	"crypto/rand"
	"encoding/base32"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// Error codes
const (
	CodeValidation         = "VALIDATION_ERROR"
	CodeInvalidCredentials = "INVALID_CREDENTIALS"
	CodeTokenExpired       = "TOKEN_EXPIRED"
	CodeInvalidRefresh     = "INVALID_REFRESH_TOKEN"
	CodeMFARequired        = "MFA_REQUIRED"
	CodeInvalidMFA         = "INVALID_MFA_CODE"
	CodeNotFound           = "NOT_FOUND"
	CodeConflict           = "CONFLICT"
	CodeInvalidToken       = "INVALID_TOKEN"
	CodeUnbalanced         = "UNBALANCED_ENTRY"
)

func timestamp() string {
	return time.Now().UTC().Format(time.RFC3339)
}

// success writes {success:true, data}
func success(c *gin.Context, status int, data any) {
	c.JSON(status, gin.H{
		"success":   true,
		"data":      data,
		"timestamp": timestamp(),
	})
}

// successMessage writes {success:true, data:null, message}
func successMessage(c *gin.Context, message string) {
	c.JSON(http.StatusOK, gin.H{
		"success":   true,
		"data":      nil,
		"message":   message,
		"timestamp": timestamp(),
	})
}

// fail writes the backend's error shape {success:false, error:{code, message}}
func fail(c *gin.Context, status int, code, message string) {
	c.AbortWithStatusJSON(status, gin.H{
		"success":   false,
		"error":     gin.H{"code": code, "message": message},
		"timestamp": timestamp(),
	})
}

// refuse writes a 200 envelope reporting a logical failure
func refuse(c *gin.Context, code, message string) {
	c.JSON(http.StatusOK, gin.H{
		"success":   false,
		"code":      code,
		"message":   message,
		"timestamp": timestamp(),
	})
}

func newID() string {
	return uuid.NewString()
}

func newSecret() string {
	buf := make([]byte, 10)
	_, _ = rand.Read(buf)
	return base32.StdEncoding.WithPadding(base32.NoPadding).EncodeToString(buf)
}

func newRecoveryCodes(n int) []string {
	codes := make([]string, n)
	for i := range codes {
		raw := strings.ReplaceAll(uuid.NewString(), "-", "")
		codes[i] = raw[:4] + "-" + raw[4:8]
	}
	return codes
}
