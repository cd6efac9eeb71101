package apperr

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestFromWrapped(t *testing.T) {
	err := fmt.Errorf("failed to request refund: %w", DuplicateRefund("o-1"))

	e := From(err)
	assert.Equal(t, CodeDuplicateRefund, e.Code)
	assert.Equal(t, http.StatusConflict, e.Kind.HTTPStatus())
	assert.False(t, errors.Is(err, ErrNotFound))
}

func TestSentinelsMatchByCode(t *testing.T) {
	err := fmt.Errorf("failed to complete refund: %w", NotFound("refund for payment %s not found", "pay_1"))
	assert.True(t, errors.Is(err, ErrNotFound))
	assert.False(t, errors.Is(err, ErrSignatureMismatch))
	assert.True(t, errors.Is(SignatureMismatch(), ErrSignatureMismatch))
}

func TestFromUnclassified(t *testing.T) {
	e := From(errors.New("boom"))
	assert.Equal(t, KindInternal, e.Kind)
	assert.Equal(t, http.StatusInternalServerError, e.Kind.HTTPStatus())
}

func TestHTTPStatus(t *testing.T) {
	assert.Equal(t, http.StatusBadRequest, OutOfStock("Tea", 2).Kind.HTTPStatus())
	assert.Equal(t, http.StatusBadRequest, SignatureMismatch().Kind.HTTPStatus())
	assert.Equal(t, http.StatusNotFound, NotFound("order %s not found", "x").Kind.HTTPStatus())
	assert.Equal(t, http.StatusForbidden, Forbidden("no").Kind.HTTPStatus())
	assert.Equal(t, http.StatusBadGateway, Dependency(errors.New("timeout"), "gateway down").Kind.HTTPStatus())
	assert.Equal(t, http.StatusInternalServerError, PaymentProcessingFailed(errors.New("x")).Kind.HTTPStatus())
}

func TestOutOfStockMessage(t *testing.T) {
	assert.Equal(t, "insufficient stock for Tea, available: 2", OutOfStock("Tea", 2).Message)
}
