package errors

import (
	stderrors "errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSchemaErrorListsMissingAndFound(t *testing.T) {
	err := Schema([]string{"customerid"}, []string{"invoiceno", "stockcode"})

	assert.Equal(t, CodeSchema, err.Code)
	msg := err.Error()
	assert.Contains(t, msg, "missing required columns: [customerid]")
	assert.Contains(t, msg, "found columns: [invoiceno, stockcode]")
}

func TestCodeOf(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want ErrorCode
	}{
		{"direct", FileNotFound("x.csv"), CodeFileNotFound},
		{"wrapped", fmt.Errorf("load: %w", EmptyData("x.csv")), CodeEmptyData},
		{"foreign", stderrors.New("boom"), CodeInternal},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, CodeOf(tt.err))
		})
	}
}

func TestIs(t *testing.T) {
	assert.True(t, Is(UnsupportedFormat(".txt"), CodeUnsupportedFormat))
	assert.False(t, Is(UnsupportedFormat(".txt"), CodeSchema))
	assert.False(t, Is(nil, CodeInternal))
}

func TestExitCode(t *testing.T) {
	assert.Equal(t, 0, ExitCode(nil))
	assert.Equal(t, 2, ExitCode(InvalidConfig(stderrors.New("bad"))))
	assert.Equal(t, 3, ExitCode(NoInputFiles("data", ".csv")))
	assert.Equal(t, 1, ExitCode(IOWrap(stderrors.New("disk full"), "write report")))
}

func TestWrapUnwrap(t *testing.T) {
	cause := stderrors.New("permission denied")
	err := IOWrap(cause, "write clean.csv")

	assert.ErrorIs(t, err, cause)
	assert.Contains(t, err.Error(), "caused by: permission denied")
}
