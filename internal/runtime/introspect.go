package runtime

import (
	"fmt"
	"net/http"

	"github.com/drblury/protorelay/internal/runtime/jsoncodec"
)

// healthHandler answers 200 while listening and 503 otherwise, with the
// state name as the body.
func (s *Service) healthHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		state := s.State()
		if state != StateListening {
			w.WriteHeader(http.StatusServiceUnavailable)
		}
		_, _ = fmt.Fprintln(w, state.String())
	})
}

// infoHandler serves the same NodeInfo the CLUSTER_<id> endpoint replies with.
func (s *Service) infoHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet && r.Method != http.MethodHead {
			w.Header().Set("Allow", "GET, HEAD")
			http.Error(w, "Method Not Allowed", http.StatusMethodNotAllowed)
			return
		}

		body, err := jsoncodec.Marshal(s.Info())
		if err != nil {
			s.Logger.Error("Failed to encode node info", err, nil)
			http.Error(w, "Internal Server Error", http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write(body)
	})
}
