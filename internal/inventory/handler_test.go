package inventory

import (
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"regexp"
	"strings"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
)

func TestHandleRestock(t *testing.T) {
	columns := []string{"id", "name", "price", "discount", "quantity"}

	tests := []struct {
		name       string
		path       string
		body       string
		setup      func(sqlmock.Sqlmock)
		wantStatus int
	}{
		{
			name:       "invalid product id",
			path:       "/products/x/restock",
			body:       `{"quantity": 1}`,
			setup:      func(sqlmock.Sqlmock) {},
			wantStatus: http.StatusBadRequest,
		},
		{
			name:       "non-positive quantity",
			path:       "/products/1/restock",
			body:       `{"quantity": 0}`,
			setup:      func(sqlmock.Sqlmock) {},
			wantStatus: http.StatusBadRequest,
		},
		{
			name: "unknown product",
			path: "/products/9/restock",
			body: `{"quantity": 2}`,
			setup: func(mock sqlmock.Sqlmock) {
				mock.ExpectExec(regexp.QuoteMeta("UPDATE products")).WithArgs(2, int64(9)).
					WillReturnResult(sqlmock.NewResult(0, 0))
			},
			wantStatus: http.StatusNotFound,
		},
		{
			name: "restocked",
			path: "/products/1/restock",
			body: `{"quantity": 5}`,
			setup: func(mock sqlmock.Sqlmock) {
				mock.ExpectExec(regexp.QuoteMeta("UPDATE products")).WithArgs(5, int64(1)).
					WillReturnResult(sqlmock.NewResult(0, 1))
				mock.ExpectQuery(regexp.QuoteMeta("FROM products")).WithArgs(int64(1)).
					WillReturnRows(sqlmock.NewRows(columns).AddRow(1, "Chanel No. 5", "10.00", "0.00", 45))
			},
			wantStatus: http.StatusOK,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			repo, mock := newMock(t)
			tt.setup(mock)

			handler := NewHandler(repo, slog.New(slog.NewTextHandler(io.Discard, nil)))
			mux := http.NewServeMux()
			mux.HandleFunc("POST /products/{id}/restock", handler.HandleRestock)

			rec := httptest.NewRecorder()
			mux.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, tt.path, strings.NewReader(tt.body)))

			if rec.Code != tt.wantStatus {
				t.Fatalf("expected status %d, got %d: %s", tt.wantStatus, rec.Code, rec.Body.String())
			}
			if err := mock.ExpectationsWereMet(); err != nil {
				t.Errorf("unmet expectations: %v", err)
			}
		})
	}
}
