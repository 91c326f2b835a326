package handler

import (
	"net/http"

	"github.com/gorilla/mux"

	"gradebook/internal/docstore"
)

type RouterOptions struct {
	// JWTSecret enables bearer token authentication.
	JWTSecret      []byte
	AllowedOrigins []string
}

// NewRouter serves backend under /v1.
func NewRouter(backend docstore.Backend, opts RouterOptions) *mux.Router {
	documentHandler := NewDocumentHandler(backend)
	listenHandler := NewListenHandler(backend, opts.AllowedOrigins)

	r := mux.NewRouter()
	r.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	}).Methods("GET")

	v1 := r.PathPrefix("/v1").Subrouter()
	v1.Use(Authenticate(opts.JWTSecret))
	v1.HandleFunc("/collections/{collection}/documents", documentHandler.AddDocument).Methods("POST")
	v1.HandleFunc("/collections/{collection}/documents/{id}", documentHandler.GetDocument).Methods("GET")
	v1.HandleFunc("/query", documentHandler.Query).Methods("POST")
	v1.HandleFunc("/commit", documentHandler.Commit).Methods("POST")
	v1.HandleFunc("/listen", listenHandler.Listen).Methods("GET")
	return r
}
