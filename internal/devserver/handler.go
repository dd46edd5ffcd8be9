package devserver

import (
	"encoding/json"
	"net/http"

	"github.com/roach88/offsync/internal/ir"
	"github.com/roach88/offsync/internal/rpc"
)

const maxRequestBytes = 1 << 20

type request struct {
	Query     string      `json:"query"`
	Variables ir.IRObject `json:"variables"`
}

type gqlError struct {
	Message string `json:"message"`
}

type response struct {
	Data   ir.IRObject `json:"data,omitempty"`
	Errors []gqlError  `json:"errors,omitempty"`
}

// Handler serves the resolvers as a GraphQL-over-HTTP endpoint. Resolver
// failures are reported in the "errors" array with status 200.
func (s *Server) Handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "POST")
		w.Header().Set("Access-Control-Allow-Headers", "*")

		switch r.Method {
		case http.MethodOptions:
			w.WriteHeader(http.StatusNoContent)
			return
		case http.MethodPost:
		default:
			w.Header().Set("Allow", "POST, OPTIONS")
			writeJSON(w, http.StatusMethodNotAllowed, response{Errors: []gqlError{{Message: "method not allowed"}}})
			return
		}

		var req request
		if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRequestBytes)).Decode(&req); err != nil {
			writeJSON(w, http.StatusBadRequest, response{Errors: []gqlError{{Message: "invalid request: " + err.Error()}}})
			return
		}

		data, err := s.Execute(r.Header.Get(rpc.IdempotencyHeader), req.Query, req.Variables)
		if err != nil {
			writeJSON(w, http.StatusOK, response{Errors: []gqlError{{Message: err.Error()}}})
			return
		}
		writeJSON(w, http.StatusOK, response{Data: data})
	})
}

func writeJSON(w http.ResponseWriter, status int, body response) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
