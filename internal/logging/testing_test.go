package logging

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

func TestTestLogger_Assertions(t *testing.T) {
	tl := NewTestLogger()
	ctx := context.Background()

	tl.Info(ctx, "project created", zap.String("name", "Field survey"), zap.Int("points", 3))

	tl.AssertLogged(t, zapcore.InfoLevel, "project created")
	tl.AssertNotLogged(t, zapcore.ErrorLevel, "project created")
	tl.AssertField(t, "project created", "name", "Field survey")
	tl.AssertField(t, "project created", "points", int64(3))
	assert.Equal(t, 1, tl.FilterMessage("created").Len())
}

func TestTestLogger_Reset(t *testing.T) {
	tl := NewTestLogger()
	tl.Warn(context.Background(), "first")

	tl.Reset()
	assert.Empty(t, tl.All())
}
