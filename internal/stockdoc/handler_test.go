package stockdoc

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/elpiji-erp/elpiji/internal/ledger"
	"github.com/elpiji-erp/elpiji/internal/shared"
)

func TestRespondErrorStatusMapping(t *testing.T) {
	cases := []struct {
		name string
		err  error
		code int
	}{
		{"document not found", ErrDocumentNotFound, http.StatusNotFound},
		{"invalid document", ErrInvalidDocument, http.StatusBadRequest},
		{"empty document", ErrEmptyDocument, http.StatusBadRequest},
		{"insufficient stock", ledger.ErrInsufficientStock, http.StatusConflict},
		{"invalid transition", ErrInvalidTransition, http.StatusConflict},
		{"idempotency conflict", shared.ErrIdempotencyConflict, http.StatusConflict},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			respondError(rec, tc.err)
			require.Equal(t, tc.code, rec.Code)
		})
	}
}
