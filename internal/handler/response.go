package handler

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/golang/glog"

	"gradebook/internal/docstore"
)

// ErrorBody is the JSON shape of every failed request and of error frames
// on the listen stream.
type ErrorBody struct {
	Error string        `json:"error"`
	Kind  docstore.Kind `json:"kind"`
}

func NewErrorBody(err error) *ErrorBody {
	body := &ErrorBody{Error: err.Error(), Kind: docstore.KindOf(err)}
	var derr *docstore.Error
	if errors.As(err, &derr) && derr.Err != nil {
		body.Error = derr.Err.Error()
	}
	return body
}

// StatusFor maps an error kind to its HTTP status.
func StatusFor(kind docstore.Kind) int {
	switch kind {
	case docstore.KindValidation, docstore.KindInvalidArgument, docstore.KindDecode:
		return http.StatusBadRequest
	case docstore.KindPermissionDenied, docstore.KindPolicyRejected:
		return http.StatusForbidden
	case docstore.KindNotFound:
		return http.StatusNotFound
	case docstore.KindBatchTooLarge:
		return http.StatusRequestEntityTooLarge
	case docstore.KindTimeout:
		return http.StatusGatewayTimeout
	}
	return http.StatusInternalServerError
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		glog.V(1).Infof("[h]write response = %s\n", err)
	}
}

func writeError(w http.ResponseWriter, err error) {
	writeErrorStatus(w, StatusFor(docstore.KindOf(err)), err)
}

func writeErrorStatus(w http.ResponseWriter, status int, err error) {
	if status >= http.StatusInternalServerError {
		glog.Warningf("[h]request failed = %s\n", err)
	}
	writeJSON(w, status, NewErrorBody(err))
}

// decode reads a JSON request body of at most maxBodyBytes.
func decode(w http.ResponseWriter, r *http.Request, v any) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		return docstore.Errorf(docstore.KindDecode, "decode request", "%v", err)
	}
	return nil
}

const maxBodyBytes = 4 << 20
