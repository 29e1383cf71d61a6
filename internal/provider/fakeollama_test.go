package provider

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
)

// fakeOllama is a minimal in-process Ollama server.
type fakeOllama struct {
	mu        sync.Mutex
	models    map[string]int64 // name -> size
	running   map[string]bool
	pullable  map[string]int64
	genErr    string
	genStatus int
	response  string
	requests  []map[string]any
	unloads   int
}

func newFakeOllama(t *testing.T) (*fakeOllama, *httptest.Server) {
	t.Helper()
	f := &fakeOllama{
		models:   map[string]int64{},
		running:  map[string]bool{},
		pullable: map[string]int64{},
		response: "a cat on a sofa",
	}
	mux := http.NewServeMux()
	mux.HandleFunc("/api/tags", func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		defer f.mu.Unlock()
		var models []map[string]any
		for name, size := range f.models {
			models = append(models, map[string]any{"name": name, "model": name, "size": size, "details": map[string]any{"family": "llama", "parameter_size": "7B"}})
		}
		_ = json.NewEncoder(w).Encode(map[string]any{"models": models})
	})
	mux.HandleFunc("/api/pull", func(w http.ResponseWriter, r *http.Request) {
		var body map[string]any
		_ = json.NewDecoder(r.Body).Decode(&body)
		name, _ := body["name"].(string)
		f.mu.Lock()
		size, ok := f.pullable[name]
		f.mu.Unlock()
		if !ok {
			fmt.Fprintln(w, `{"status":"pulling manifest"}`)
			fmt.Fprintln(w, `{"error":"pull model manifest: file does not exist"}`)
			return
		}
		fmt.Fprintln(w, `{"status":"pulling manifest"}`)
		fmt.Fprintf(w, "{\"status\":\"downloading\",\"completed\":%d,\"total\":%d}\n", size/2, size)
		fmt.Fprintf(w, "{\"status\":\"downloading\",\"completed\":%d,\"total\":%d}\n", size, size)
		fmt.Fprintln(w, `{"status":"success"}`)
		f.mu.Lock()
		f.models[name] = size
		f.mu.Unlock()
	})
	mux.HandleFunc("/api/generate", func(w http.ResponseWriter, r *http.Request) {
		var body map[string]any
		_ = json.NewDecoder(r.Body).Decode(&body)
		name, _ := body["model"].(string)
		f.mu.Lock()
		defer f.mu.Unlock()
		f.requests = append(f.requests, body)
		if ka, ok := body["keep_alive"].(float64); ok && ka == 0 {
			f.unloads++
			delete(f.running, name)
			_ = json.NewEncoder(w).Encode(map[string]any{"model": name, "response": "", "done": true, "done_reason": "unload"})
			return
		}
		if f.genErr != "" {
			w.WriteHeader(f.genStatus)
			_ = json.NewEncoder(w).Encode(map[string]any{"error": f.genErr})
			return
		}
		if _, ok := f.models[name]; !ok {
			w.WriteHeader(http.StatusNotFound)
			_ = json.NewEncoder(w).Encode(map[string]any{"error": "model '" + name + "' not found"})
			return
		}
		f.running[name] = true
		resp := f.response
		if body["prompt"] == nil {
			resp = ""
		}
		_ = json.NewEncoder(w).Encode(map[string]any{"model": name, "response": resp, "done": true, "prompt_eval_count": 12, "eval_count": 7})
	})
	mux.HandleFunc("/api/ps", func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		defer f.mu.Unlock()
		var models []map[string]any
		for name := range f.running {
			models = append(models, map[string]any{"name": name, "model": name, "size": f.models[name] * 2})
		}
		_ = json.NewEncoder(w).Encode(map[string]any{"models": models})
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return f, srv
}

func (f *fakeOllama) lastRequest() map[string]any {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.requests) == 0 {
		return nil
	}
	return f.requests[len(f.requests)-1]
}
