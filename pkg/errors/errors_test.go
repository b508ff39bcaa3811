package errors

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCloneMatchesTemplate(t *testing.T) {
	err := Clone(ErrPlanExceeded, "homeworks already complete")
	assert.True(t, errors.Is(err, ErrPlanExceeded))
	assert.False(t, errors.Is(err, ErrAlreadyFinalized))
	assert.Equal(t, "homeworks already complete", err.Message)
	assert.Equal(t, http.StatusConflict, err.Status)
}

func TestFromErrorWrapsUnknown(t *testing.T) {
	appErr := FromError(fmt.Errorf("boom"))
	require.NotNil(t, appErr)
	assert.Equal(t, ErrInternal.Code, appErr.Code)
	assert.Equal(t, "internal server error: boom", appErr.Error())

	wrapped := fmt.Errorf("context: %w", Clone(ErrNotFinalized, ""))
	assert.Equal(t, ErrNotFinalized.Code, FromError(wrapped).Code)
	assert.Nil(t, FromError(nil))
}
