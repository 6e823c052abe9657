package domain

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCategoryOf(t *testing.T) {
	assert.Equal(t, Category(""), CategoryOf(nil))
	assert.Equal(t, Category(""), CategoryOf(errors.New("boom")))
	assert.Equal(t, CatEncoder, CategoryOf(Fail(CatEncoder, errors.New("exit 1"))))
	assert.Equal(t, CatAVDrift, CategoryOf(fmt.Errorf("stage 7: %w", ErrAVDriftExceeded)))

	// explicit category wins over the wrapped sentinel
	err := fmt.Errorf("publish: %w", Fail(CatUploadPermanent, ErrQuotaExhausted))
	assert.Equal(t, CatUploadPermanent, CategoryOf(err))
	assert.ErrorIs(t, err, ErrQuotaExhausted)
}

func TestFail_Nil(t *testing.T) {
	assert.NoError(t, Fail(CatStore, nil))
}

func TestErrorClass(t *testing.T) {
	assert.True(t, ClassTransient.Retryable())
	assert.True(t, ClassRateLimited.Retryable())
	assert.False(t, ClassQuota.Retryable())
	assert.False(t, ClassAuth.Retryable())
	assert.False(t, ClassPermanent.Retryable())
	assert.Equal(t, CatQuota, ClassQuota.Category())
	assert.True(t, CatAVDrift.IsFailure())
	assert.False(t, CatPublish.IsFailure())
}
