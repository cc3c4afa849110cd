// Copyright (c) 2025 Jeremy Hahn
// Copyright (c) 2025 Automate The Things, LLC
//
// This file is part of go-webauthn-rp.
//
// go-webauthn-rp is dual-licensed:
//
// 1. GNU Affero General Public License v3.0 (AGPL-3.0)
//    See LICENSE file or visit https://www.gnu.org/licenses/agpl-3.0.html
//
// 2. Commercial License
//    Contact licensing@automatethethings.com for commercial licensing options.

package metrics

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestHTTPMiddleware(t *testing.T) {
	Enable()

	HTTPRequestsTotal.Reset()
	HTTPRequestDuration.Reset()
	ActiveConnections.Reset()

	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("OK"))
	})

	wrappedHandler := HTTPMiddleware(handler)

	req := httptest.NewRequest("GET", "/webauthn/login", nil)
	rec := httptest.NewRecorder()

	wrappedHandler.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Errorf("Expected status 200, got %d", rec.Code)
	}

	value := testutil.ToFloat64(HTTPRequestsTotal.WithLabelValues("GET", "200"))
	if value != 1 {
		t.Errorf("Expected 1 request recorded, got %f", value)
	}

	// Active connections should be back at zero after the request
	active := testutil.ToFloat64(ActiveConnections.WithLabelValues(ProtocolHTTP))
	if active != 0 {
		t.Errorf("Expected 0 active connections, got %f", active)
	}
}

func TestHTTPMiddlewareStatusCodes(t *testing.T) {
	Enable()

	testCases := []struct {
		name       string
		statusCode int
	}{
		{"200 OK", http.StatusOK},
		{"401 Unauthorized", http.StatusUnauthorized},
		{"404 Not Found", http.StatusNotFound},
		{"500 Internal Server Error", http.StatusInternalServerError},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			HTTPRequestsTotal.Reset()

			handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tc.statusCode)
			})

			wrappedHandler := HTTPMiddleware(handler)

			req := httptest.NewRequest("POST", "/webauthn/login", nil)
			rec := httptest.NewRecorder()

			wrappedHandler.ServeHTTP(rec, req)

			if rec.Code != tc.statusCode {
				t.Errorf("Expected status %d, got %d", tc.statusCode, rec.Code)
			}
		})
	}
}

func TestHTTPMiddlewareWhenDisabled(t *testing.T) {
	Disable()
	defer Enable()

	HTTPRequestsTotal.Reset()

	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	wrappedHandler := HTTPMiddleware(handler)

	req := httptest.NewRequest("GET", "/webauthn/credentials", nil)
	rec := httptest.NewRecorder()

	wrappedHandler.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Errorf("Expected status 200, got %d", rec.Code)
	}

	count := testutil.CollectAndCount(HTTPRequestsTotal)
	if count != 0 {
		t.Errorf("Expected 0 requests recorded when disabled, got %d", count)
	}
}

func TestResponseWriter(t *testing.T) {
	rec := httptest.NewRecorder()
	wrapper := &responseWriter{
		ResponseWriter: rec,
		statusCode:     http.StatusOK,
	}

	wrapper.WriteHeader(http.StatusCreated)
	if wrapper.statusCode != http.StatusCreated {
		t.Errorf("Expected status code %d, got %d", http.StatusCreated, wrapper.statusCode)
	}

	// A second WriteHeader must not change the captured code
	wrapper.WriteHeader(http.StatusBadRequest)
	if wrapper.statusCode != http.StatusCreated {
		t.Error("Status code should not change after first WriteHeader call")
	}

	data := []byte("test data")
	n, err := wrapper.Write(data)
	if err != nil {
		t.Errorf("Unexpected error: %v", err)
	}
	if n != len(data) {
		t.Errorf("Expected %d bytes written, got %d", len(data), n)
	}
}

func TestResponseWriterDefaultStatus(t *testing.T) {
	rec := httptest.NewRecorder()
	wrapper := &responseWriter{
		ResponseWriter: rec,
		statusCode:     http.StatusOK,
	}

	_, _ = wrapper.Write([]byte("test"))

	if wrapper.statusCode != http.StatusOK {
		t.Errorf("Expected default status code %d, got %d", http.StatusOK, wrapper.statusCode)
	}
}
