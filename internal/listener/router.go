package listener

import (
	"mime"
	"net/http"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

// NewRouter serves files below webRoot with permissive CORS headers.
// "/" maps to index.html; unknown extensions are sent as text/html.
func NewRouter(webRoot string) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(corsHeaders)

	r.Options("/*", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})
	r.Get("/*", staticHandler(webRoot))

	return r
}

func corsHeaders(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		h := w.Header()
		h.Set("Access-Control-Allow-Origin", "*")
		h.Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		h.Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
		next.ServeHTTP(w, r)
	})
}

func staticHandler(webRoot string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		reqPath := path.Clean("/" + r.URL.Path)
		if reqPath == "/" {
			reqPath = "/index.html"
		}

		local := filepath.Join(webRoot, filepath.FromSlash(reqPath))
		data, err := os.ReadFile(local)
		if err != nil {
			w.Header().Set("Content-Type", "text/html")
			w.WriteHeader(http.StatusNotFound)
			_, _ = w.Write([]byte("Path not found " + r.URL.RequestURI()))
			return
		}

		w.Header().Set("Content-Type", contentType(reqPath))
		_, _ = w.Write(data)
	}
}

func contentType(name string) string {
	ext := strings.ToLower(filepath.Ext(name))
	if ext == "" {
		return "text/html"
	}
	if ct := mime.TypeByExtension(ext); ct != "" {
		return ct
	}
	return "text/html"
}
