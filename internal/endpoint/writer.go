package endpoint

import (
	"io"
	"net/http"

	"github.com/goccy/go-json"
)

var (
	responseChunkSize = 1024
)

type flushWriter struct {
	w http.ResponseWriter
	f http.Flusher

	count int
}

func newFlushWriter(w http.ResponseWriter) io.Writer {
	f, ok := w.(http.Flusher)
	if !ok {
		return w
	}
	return &flushWriter{
		w: w,
		f: f,
	}
}

func (w *flushWriter) Write(b []byte) (int, error) {
	n, err := w.w.Write(b)

	w.count += n
	if w.count >= responseChunkSize {
		w.f.Flush()
		w.count = 0
	}

	return n, err
}

type errorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v any) error {
	w.Header().Set("Content-Type", "application/json; charset=UTF-8")
	w.WriteHeader(status)
	return json.NewEncoder(newFlushWriter(w)).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	_ = writeJSON(w, status, errorResponse{Error: code, Message: message})
}
