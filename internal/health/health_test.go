package health

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestEvaluate(t *testing.T) {
	tests := []struct {
		name     string
		input    Input
		expected Status
	}{
		{
			name: "all healthy",
			input: Input{
				StoreHealthy:     true,
				SchedulerHealthy: true,
				NotifierHealthy:  true,
				GitHubHealthy:    true,
			},
			expected: Status{Mode: ModeHealthy, Ready: true},
		},
		{
			name: "github outage degrades but stays ready",
			input: Input{
				StoreHealthy:     true,
				SchedulerHealthy: true,
				NotifierHealthy:  true,
				GitHubHealthy:    false,
			},
			expected: Status{Mode: ModeDegraded, Ready: true},
		},
		{
			name: "notifier outage degrades but stays ready",
			input: Input{
				StoreHealthy:     true,
				SchedulerHealthy: true,
				NotifierHealthy:  false,
				GitHubHealthy:    true,
			},
			expected: Status{Mode: ModeDegraded, Ready: true},
		},
		{
			name: "store outage is unhealthy and not ready",
			input: Input{
				StoreHealthy:     false,
				SchedulerHealthy: true,
				NotifierHealthy:  true,
				GitHubHealthy:    true,
			},
			expected: Status{Mode: ModeUnhealthy, Ready: false},
		},
		{
			name: "scheduler stopped is unhealthy and not ready",
			input: Input{
				StoreHealthy:     true,
				SchedulerHealthy: false,
				NotifierHealthy:  true,
				GitHubHealthy:    true,
			},
			expected: Status{Mode: ModeUnhealthy, Ready: false},
		},
	}

	evaluator := NewStatusEvaluator()
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := evaluator.Evaluate(tt.input)
			if got.Mode != tt.expected.Mode {
				t.Errorf("mode = %q, want %q", got.Mode, tt.expected.Mode)
			}
			if got.Ready != tt.expected.Ready {
				t.Errorf("ready = %v, want %v", got.Ready, tt.expected.Ready)
			}
			if got.Components["store"] != tt.input.StoreHealthy {
				t.Errorf("components[store] = %v, want %v", got.Components["store"], tt.input.StoreHealthy)
			}
			if got.Components["github"] != tt.input.GitHubHealthy {
				t.Errorf("components[github] = %v, want %v", got.Components["github"], tt.input.GitHubHealthy)
			}
		})
	}
}

type staticProvider struct {
	status Status
}

func (p staticProvider) CurrentStatus(_ context.Context) Status {
	return p.status
}

func TestHandlerLivez(t *testing.T) {
	handler := NewHandler(staticProvider{})
	req := httptest.NewRequest(http.MethodGet, "/livez", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusOK)
	}
	if rec.Body.String() != "ok" {
		t.Errorf("body = %q, want %q", rec.Body.String(), "ok")
	}
}

func TestHandlerReadyz(t *testing.T) {
	tests := []struct {
		name         string
		ready        bool
		expectedCode int
		expectedBody string
	}{
		{name: "ready", ready: true, expectedCode: http.StatusOK, expectedBody: "ready"},
		{name: "not ready", ready: false, expectedCode: http.StatusServiceUnavailable, expectedBody: "not ready"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			handler := NewHandler(staticProvider{status: Status{Ready: tt.ready}})
			req := httptest.NewRequest(http.MethodGet, "/readyz", nil)
			rec := httptest.NewRecorder()
			handler.ServeHTTP(rec, req)

			if rec.Code != tt.expectedCode {
				t.Fatalf("status = %d, want %d", rec.Code, tt.expectedCode)
			}
			if rec.Body.String() != tt.expectedBody {
				t.Errorf("body = %q, want %q", rec.Body.String(), tt.expectedBody)
			}
		})
	}
}

func TestHandlerHealthz(t *testing.T) {
	status := Status{
		Mode:  ModeDegraded,
		Ready: true,
		Components: map[string]bool{
			"store":     true,
			"scheduler": true,
			"notifier":  true,
			"github":    false,
		},
	}
	handler := NewHandler(staticProvider{status: status})
	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusOK)
	}
	if got := rec.Header().Get("Content-Type"); got != "application/json" {
		t.Errorf("content type = %q, want application/json", got)
	}

	var decoded Status
	if err := json.Unmarshal(rec.Body.Bytes(), &decoded); err != nil {
		t.Fatalf("unmarshal response: %v", err)
	}
	if decoded.Mode != ModeDegraded {
		t.Errorf("mode = %q, want %q", decoded.Mode, ModeDegraded)
	}
	if !decoded.Ready {
		t.Error("ready = false, want true")
	}
	if decoded.Components["github"] {
		t.Error("components[github] = true, want false")
	}
}
