package sl_test

import (
	"bytes"
	"errors"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/magabrotheeeer/media-relay/internal/lib/sl"
)

func TestErr_ReturnsCorrectAttr(t *testing.T) {
	attr := sl.Err(errors.New("something went wrong"))

	assert.Equal(t, "error", attr.Key)
	assert.Equal(t, slog.StringValue("something went wrong"), attr.Value)
}

func TestErr_NilError(t *testing.T) {
	assert.NotPanics(t, func() {
		attr := sl.Err(nil)
		assert.Equal(t, "", attr.Value.String())
	})
}

func TestOp(t *testing.T) {
	attr := sl.Op("pipeline.Run")
	assert.Equal(t, "op", attr.Key)
	assert.Equal(t, "pipeline.Run", attr.Value.String())
}

func TestNew(t *testing.T) {
	var buf bytes.Buffer
	sl.New(sl.EnvLocal, &buf).Debug("hello")
	assert.Contains(t, buf.String(), "msg=hello")

	buf.Reset()
	sl.New(sl.EnvProd, &buf).Debug("hidden")
	assert.Empty(t, buf.String())

	sl.New(sl.EnvProd, &buf).Info("shown")
	assert.Contains(t, buf.String(), `"msg":"shown"`)
}
