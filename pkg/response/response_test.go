package response

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	appErrors "github.com/noah-isme/docvault-api/pkg/errors"
	"github.com/noah-isme/docvault-api/pkg/middleware/requestid"
)

func newContext() (*gin.Context, *httptest.ResponseRecorder) {
	gin.SetMode(gin.TestMode)
	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	c.Request = httptest.NewRequest(http.MethodGet, "/", nil)
	return c, w
}

func decode(t *testing.T, w *httptest.ResponseRecorder) map[string]map[string]interface{} {
	t.Helper()
	var body map[string]map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	return body
}

func TestErrorRendersDetailsAsMeta(t *testing.T) {
	c, w := newContext()

	Error(c, appErrors.WithDetails(appErrors.ErrIncompleteUpload, "", map[string]interface{}{"uploaded": 1, "expected": 3}))

	require.Equal(t, http.StatusConflict, w.Code)
	body := decode(t, w)
	assert.Equal(t, "INCOMPLETE_UPLOAD", body["error"]["code"])
	assert.EqualValues(t, 1, body["meta"]["uploaded"])
	assert.EqualValues(t, 3, body["meta"]["expected"])
	assert.NotContains(t, body["meta"], "request_id")
}

func TestErrorCarriesRequestID(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(requestid.Middleware())
	r.GET("/", func(c *gin.Context) { Error(c, appErrors.ErrSessionNotFound) })
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("X-Request-ID", "req-42")
	r.ServeHTTP(w, req)

	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, "req-42", decode(t, w)["meta"]["request_id"])
}

func TestStorageOutageAdvertisesRetry(t *testing.T) {
	c, w := newContext()

	Error(c, appErrors.WrapAs(appErrors.ErrStorageUnavailable, assert.AnError, "failed to write chunk"))

	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.Equal(t, "5", w.Header().Get("Retry-After"))
	assert.Nil(t, decode(t, w)["meta"])
}

func TestErrorDefaultsToInternal(t *testing.T) {
	c, w := newContext()

	Error(c, assert.AnError)
	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.Equal(t, "no-store", w.Header().Get("Cache-Control"))
	assert.Empty(t, w.Header().Get("Retry-After"))
}

func TestAttachmentStreamsWithDerivedType(t *testing.T) {
	c, w := newContext()

	Attachment(c, "reports/q1 summary.txt", "", 5, strings.NewReader("hello"))

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, `attachment; filename="q1 summary.txt"`, w.Header().Get("Content-Disposition"))
	assert.True(t, strings.HasPrefix(w.Header().Get("Content-Type"), "text/plain"))
	assert.Equal(t, "5", w.Header().Get("Content-Length"))
	assert.Equal(t, "hello", w.Body.String())
}

func TestAttachmentBytesEncodesUnicodeNames(t *testing.T) {
	c, w := newContext()

	AttachmentBytes(c, "résumé.csv", "text/csv", []byte("a,b\n"))

	assert.Equal(t, "text/csv", w.Header().Get("Content-Type"))
	assert.Equal(t, "attachment; filename*=utf-8''r%C3%A9sum%C3%A9.csv", w.Header().Get("Content-Disposition"))
	assert.Equal(t, "a,b\n", w.Body.String())
}

func TestAttachmentFallsBackToOctetStream(t *testing.T) {
	c, w := newContext()

	AttachmentBytes(c, "", "", []byte{0x1})

	assert.Equal(t, "application/octet-stream", w.Header().Get("Content-Type"))
	assert.Equal(t, "attachment; filename=download", w.Header().Get("Content-Disposition"))
}
