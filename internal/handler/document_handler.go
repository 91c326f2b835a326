package handler

import (
	"net/http"

	"github.com/gorilla/mux"

	"gradebook/internal/docstore"
	"gradebook/internal/query"
)

type AddRequest struct {
	Fields map[string]any `json:"fields"`
}

type AddResponse struct {
	ID string `json:"id"`
}

type QueryResponse struct {
	Documents []docstore.Document `json:"documents"`
}

type CommitRequest struct {
	Writes []docstore.Write `json:"writes"`
}

type DocumentHandler struct {
	backend docstore.Backend
}

func NewDocumentHandler(backend docstore.Backend) *DocumentHandler {
	return &DocumentHandler{backend: backend}
}

func (h *DocumentHandler) AddDocument(w http.ResponseWriter, r *http.Request) {
	var req AddRequest
	if err := decode(w, r, &req); err != nil {
		writeError(w, err)
		return
	}
	if req.Fields == nil {
		writeError(w, docstore.Errorf(docstore.KindInvalidArgument, "add", "fields are required"))
		return
	}

	id, err := h.backend.Add(r.Context(), mux.Vars(r)["collection"], req.Fields)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, AddResponse{ID: id})
}

func (h *DocumentHandler) GetDocument(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	doc, ok, err := h.backend.Get(r.Context(), vars["collection"], vars["id"])
	if err != nil {
		writeError(w, err)
		return
	}
	if !ok {
		writeError(w, docstore.Errorf(docstore.KindNotFound, "get", "%s/%s does not exist", vars["collection"], vars["id"]))
		return
	}
	writeJSON(w, http.StatusOK, doc)
}

func (h *DocumentHandler) Query(w http.ResponseWriter, r *http.Request) {
	var q query.Query
	if err := decode(w, r, &q); err != nil {
		writeError(w, err)
		return
	}

	docs, err := h.backend.List(r.Context(), q)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, QueryResponse{Documents: docs})
}

func (h *DocumentHandler) Commit(w http.ResponseWriter, r *http.Request) {
	var req CommitRequest
	if err := decode(w, r, &req); err != nil {
		writeError(w, err)
		return
	}

	result, err := h.backend.Commit(r.Context(), req.Writes)
	if err != nil {
		writeError(w, err)
		return
	}
	if result.IDs == nil {
		result.IDs = []string{}
	}
	writeJSON(w, http.StatusOK, result)
}
