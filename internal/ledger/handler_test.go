package ledger

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestRespondErrorStatusMapping(t *testing.T) {
	cases := []struct {
		name string
		err  error
		code int
	}{
		{"reservation not found", ErrReservationNotFound, http.StatusNotFound},
		{"balance not found", ErrBalanceNotFound, http.StatusNotFound},
		{"invalid quantity", ErrInvalidQuantity, http.StatusBadRequest},
		{"invalid status", ErrInvalidStatus, http.StatusBadRequest},
		{"insufficient stock", ErrInsufficientStock, http.StatusConflict},
		{"negative stock", ErrNegativeStock, http.StatusConflict},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			respondError(rec, tc.err)
			require.Equal(t, tc.code, rec.Code)
		})
	}
}
