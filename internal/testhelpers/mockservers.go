package testhelpers

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
)

// Request is what the mock orchestrator saw of one request.
type Request struct {
	Method string
	Path   string
	Query  string
	Tenant string
	Auth   string
	Body   []byte
}

// MockOrchestratorServer is a configurable stand-in for the orchestrator
// API. Fixture fields may be changed between requests; every field is read
// under the server's lock.
type MockOrchestratorServer struct {
	Server *httptest.Server

	TenantHeader string // header carrying the environment id

	mu            sync.Mutex
	Status        map[string]any              // served by GET /api/v1/serverstatus
	Environments  []map[string]any            // served by GET /api/v2/environment
	Resources     map[string][]map[string]any // per environment
	Details       map[string]map[string]any   // per resource id
	DeploySummary map[string]any
	StatusCode    int                         // forced status for every request (200 if not set)
	requests      []Request
}

// SetupMockOrchestratorServer starts a mock API with a small default
// fixture: one environment holding two resources.
func SetupMockOrchestratorServer(t *testing.T) *MockOrchestratorServer {
	t.Helper()

	mock := &MockOrchestratorServer{
		TenantHeader: "X-Inmanta-tid",
		Status: map[string]any{
			"product": "Orchestrator",
			"edition": "Open Source Edition",
			"version": "8.0.0",
		},
		Environments: []map[string]any{
			{"id": "env-1", "name": "dev", "project_id": "proj-1", "halted": false},
		},
		Resources: map[string][]map[string]any{
			"env-1": {
				{"resource_id": "std::File[agent1,path=/tmp/a]", "status": "deployed", "requires_length": 0},
				{"resource_id": "std::File[agent1,path=/tmp/b]", "status": "failed", "requires_length": 1},
			},
		},
		Details: map[string]map[string]any{
			"std::File[agent1,path=/tmp/a]": {
				"resource_id":   "std::File[agent1,path=/tmp/a]",
				"resource_type": "std::File",
				"agent":         "agent1",
				"status":        "deployed",
			},
		},
		DeploySummary: map[string]any{
			"total":    2,
			"by_state": map[string]int{"deployed": 1, "failed": 1},
		},
		StatusCode: http.StatusOK,
	}

	router := http.NewServeMux()

	router.HandleFunc("GET /api/v1/serverstatus", mock.handle(false, func(w http.ResponseWriter, r *http.Request, _ string) {
		WriteJSON(w, map[string]any{"data": mock.Status})
	}))

	router.HandleFunc("GET /api/v2/environment", mock.handle(false, func(w http.ResponseWriter, r *http.Request, _ string) {
		WriteJSON(w, map[string]any{"data": mock.Environments})
	}))

	router.HandleFunc("DELETE /api/v2/environment/{id}", mock.handle(false, func(w http.ResponseWriter, r *http.Request, _ string) {
		w.WriteHeader(http.StatusOK)
	}))

	router.HandleFunc("GET /api/v2/resource", mock.handle(true, func(w http.ResponseWriter, r *http.Request, env string) {
		resources := mock.Resources[env]
		WriteJSON(w, map[string]any{
			"data":  resources,
			"links": map[string]any{"self": r.URL.String()},
			"metadata": map[string]any{
				"total":          len(resources),
				"before":         0,
				"after":          0,
				"page_size":      len(resources),
				"deploy_summary": mock.DeploySummary,
			},
		})
	}))

	router.HandleFunc("GET /api/v2/resource/{id}", mock.handle(true, func(w http.ResponseWriter, r *http.Request, _ string) {
		details, ok := mock.Details[r.PathValue("id")]
		if !ok {
			writeError(w, http.StatusNotFound, "resource not found")
			return
		}
		WriteJSON(w, map[string]any{"data": details})
	}))

	router.HandleFunc("POST /api/v1/deploy", mock.handle(true, func(w http.ResponseWriter, r *http.Request, _ string) {
		w.WriteHeader(http.StatusOK)
	}))

	mock.Server = httptest.NewServer(router)
	return mock
}

// handle records the request, applies the forced status code and, for
// environment-scoped endpoints, insists on the tenant header.
func (m *MockOrchestratorServer) handle(scoped bool, next func(w http.ResponseWriter, r *http.Request, env string)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var body []byte
		if r.Body != nil {
			var raw json.RawMessage
			if err := json.NewDecoder(r.Body).Decode(&raw); err == nil {
				body = raw
			}
		}

		m.mu.Lock()
		defer m.mu.Unlock()

		env := r.Header.Get(m.TenantHeader)
		m.requests = append(m.requests, Request{
			Method: r.Method,
			Path:   r.URL.Path,
			Query:  r.URL.RawQuery,
			Tenant: env,
			Auth:   r.Header.Get("Authorization"),
			Body:   body,
		})

		if m.StatusCode != http.StatusOK && m.StatusCode != 0 {
			writeError(w, m.StatusCode, http.StatusText(m.StatusCode))
			return
		}
		if scoped && env == "" {
			writeError(w, http.StatusBadRequest, "environment header is required")
			return
		}

		next(w, r, env)
	}
}

// Update changes fixture fields under the server's lock.
func (m *MockOrchestratorServer) Update(f func(m *MockOrchestratorServer)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	f(m)
}

// Requests returns every request received so far.
func (m *MockOrchestratorServer) Requests() []Request {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Request(nil), m.requests...)
}

// RequestCount is the number of requests received.
func (m *MockOrchestratorServer) RequestCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.requests)
}

func (m *MockOrchestratorServer) URL() string {
	return m.Server.URL
}

// Close shuts down the mock server.
func (m *MockOrchestratorServer) Close() {
	m.Server.Close()
}

func writeError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	data, _ := json.Marshal(map[string]string{"message": message})
	_, _ = w.Write(data)
}

// WriteJSON is a helper function that writes a JSON response.
// It sets the Content-Type header and marshals the payload to JSON.
func WriteJSON(w http.ResponseWriter, payload any) {
	w.Header().Set("Content-Type", "application/json")
	data, err := json.Marshal(payload)
	if err != nil {
		// In test context, this should never happen with valid test data
		http.Error(w, fmt.Sprintf("failed to marshal JSON: %v", err), http.StatusInternalServerError)
		return
	}
	_, _ = w.Write(data)
}
