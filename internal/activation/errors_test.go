package activation

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestErrorMatching(t *testing.T) {
	err := fmt.Errorf("wrapped: %w", missingField(FieldUUID))

	assert.ErrorIs(t, err, ErrMissingField)
	assert.ErrorIs(t, err, &Error{Kind: KindMissingField, Field: FieldUUID})
	assert.NotErrorIs(t, err, &Error{Kind: KindMissingField, Field: FieldDeviceID})
	assert.NotErrorIs(t, err, ErrExpired)
	assert.Equal(t, KindMissingField, KindOf(err))
	assert.Equal(t, "missing_field: uuid", missingField(FieldUUID).Error())
}

func TestKindOfForeignError(t *testing.T) {
	err := errors.New("boom")
	assert.Equal(t, KindUnknown, KindOf(err))
	assert.False(t, IsInfrastructure(err))
	assert.False(t, IsValidation(err))
	assert.False(t, IsValidation(nil))
}

func TestStoreErrorClassification(t *testing.T) {
	cause := errors.New("disk full")
	err := storeError("write", cause)

	assert.True(t, IsInfrastructure(err))
	assert.False(t, IsValidation(err))
	assert.ErrorIs(t, err, cause)
	assert.Equal(t, "store_io: write: disk full", err.Error())
}

func TestKindNames(t *testing.T) {
	for kind := KindUnknown; kind <= KindStoreIO; kind++ {
		assert.NotContains(t, kind.String(), "kind(")
	}
	assert.Equal(t, "kind(99)", Kind(99).String())
}
