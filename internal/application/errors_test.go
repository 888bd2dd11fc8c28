package application

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestValidationError_Error(t *testing.T) {
	t.Parallel()

	var err *ValidationError
	assert.Equal(t, "validation failed", err.Error())

	empty := &ValidationError{}
	assert.Equal(t, "validation failed", empty.Error())

	withFields := &ValidationError{FieldErrors: map[string]string{"timeLabel": "is required", "dateLabel": "is required"}}
	assert.Equal(t, "validation failed: dateLabel, timeLabel", withFields.Error())
}

func TestValidationError_HasErrors(t *testing.T) {
	t.Parallel()

	assert.False(t, (&ValidationError{}).HasErrors())
	assert.True(t, (&ValidationError{FieldErrors: map[string]string{"field": "bad"}}).HasErrors())
}

func TestValidationError_AddAndMerge(t *testing.T) {
	t.Parallel()

	base := &ValidationError{}
	base.add("first", "value")
	assert.Equal(t, "value", base.FieldErrors["first"])

	base.merge(&ValidationError{FieldErrors: map[string]string{"second": "another"}})
	assert.Equal(t, "another", base.FieldErrors["second"])

	base.merge(nil)
	assert.Len(t, base.FieldErrors, 2)
}

func TestAmbiguousMatchError(t *testing.T) {
	t.Parallel()

	err := fmt.Errorf("resolve: %w", &AmbiguousMatchError{
		Code:       "123456",
		Candidates: []Booking{{ID: "a"}, {ID: "b"}},
	})

	assert.True(t, errors.Is(err, ErrAmbiguousMatch))

	var ambiguous *AmbiguousMatchError
	if assert.True(t, errors.As(err, &ambiguous)) {
		assert.Len(t, ambiguous.Candidates, 2)
	}
	assert.Contains(t, err.Error(), "matches 2 bookings")
}
