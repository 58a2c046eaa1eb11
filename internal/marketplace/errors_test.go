package marketplace

import (
	"fmt"
	"testing"

	"github.com/Aidin1998/lotmarket/internal/auth"
	"github.com/stretchr/testify/assert"
)

func TestCodes(t *testing.T) {
	cases := []struct {
		err      error
		code     int
		category Category
	}{
		{ErrAlreadyInitialized, 1, CategoryInitialization},
		{ErrInvalidPrice, 2, CategoryValidation},
		{ErrInsufficientBalance, 3, CategoryFunds},
		{ErrNotListed, 4, CategoryState},
		{ErrListingNotFound, 5, CategoryNotFound},
		{ErrNotInitialized, 6, CategoryInitialization},
		{ErrInvalidQuantity, 7, CategoryValidation},
		{ErrAmountOverflow, 8, CategoryValidation},
		{ErrBalanceOverflow, 8, CategoryValidation},
	}
	for _, tc := range cases {
		wrapped := fmt.Errorf("op: %w", tc.err)
		assert.Equal(t, tc.code, CodeOf(wrapped), tc.err.Error())
		assert.Equal(t, tc.category, CategoryOf(wrapped), tc.err.Error())
	}
	assert.Zero(t, CodeOf(auth.ErrUnauthorized))
	assert.Empty(t, CategoryOf(nil))
}
