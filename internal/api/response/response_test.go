package response

import (
	"net/http/httptest"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"

	"github.com/ponyhq/pony/internal/model"
)

func TestWriteOpStatus(t *testing.T) {
	id := uuid.New()

	w := httptest.NewRecorder()
	WriteOpStatus(w, model.Ok(id))
	assert.Equal(t, 200, w.Code)
	assert.Contains(t, w.Body.String(), `"status":"ok"`)
	assert.Contains(t, w.Body.String(), id.String())

	w = httptest.NewRecorder()
	WriteOpStatus(w, model.NotFound(id, "connection not found"))
	assert.Equal(t, 404, w.Code)
	assert.Contains(t, w.Body.String(), "connection not found")

	w = httptest.NewRecorder()
	WriteOpStatus(w, model.NotModified(id))
	assert.Equal(t, 304, w.Code)
	assert.Empty(t, w.Body.String())

	w = httptest.NewRecorder()
	WriteOpStatus(w, model.AlreadyExist(id))
	assert.Equal(t, 409, w.Code)
}
