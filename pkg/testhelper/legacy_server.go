package testhelper

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
)

// LegacyServer fakes the legacy data API: PUT /obj/{table}/{id} merges the
// body into the stored record and DELETE removes it.
type LegacyServer struct {
	server *httptest.Server

	mu         sync.Mutex
	records    map[string]map[string]any
	requests   int
	failStatus int
}

func NewLegacyServer(t *testing.T) *LegacyServer {
	mock := &LegacyServer{records: map[string]map[string]any{}}

	mux := http.NewServeMux()
	mux.HandleFunc("/obj/", func(w http.ResponseWriter, r *http.Request) {
		mock.mu.Lock()
		defer mock.mu.Unlock()
		mock.requests++

		if mock.failStatus != 0 {
			w.WriteHeader(mock.failStatus)
			return
		}

		parts := strings.Split(strings.TrimPrefix(r.URL.Path, "/obj/"), "/")
		if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		key := parts[0] + "/" + parts[1]

		switch r.Method {
		case http.MethodPut:
			var fields map[string]any
			if err := json.NewDecoder(r.Body).Decode(&fields); err != nil {
				w.WriteHeader(http.StatusBadRequest)
				return
			}
			record := mock.records[key]
			if record == nil {
				record = map[string]any{}
				mock.records[key] = record
			}
			for k, v := range fields {
				record[k] = v
			}
			w.WriteHeader(http.StatusOK)
		case http.MethodDelete:
			if _, ok := mock.records[key]; !ok {
				w.WriteHeader(http.StatusNotFound)
				return
			}
			delete(mock.records, key)
			w.WriteHeader(http.StatusNoContent)
		default:
			w.WriteHeader(http.StatusMethodNotAllowed)
		}
	})

	mock.server = httptest.NewServer(mux)
	t.Cleanup(mock.server.Close)
	return mock
}

func (m *LegacyServer) URL() string {
	return m.server.URL
}

// Record returns a copy of the stored record or nil.
func (m *LegacyServer) Record(table, id string) map[string]any {
	m.mu.Lock()
	defer m.mu.Unlock()
	record, ok := m.records[table+"/"+id]
	if !ok {
		return nil
	}
	out := make(map[string]any, len(record))
	for k, v := range record {
		out[k] = v
	}
	return out
}

func (m *LegacyServer) Requests() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.requests
}

func (m *LegacyServer) SetFailStatus(status int) {
	m.mu.Lock()
	m.failStatus = status
	m.mu.Unlock()
}
