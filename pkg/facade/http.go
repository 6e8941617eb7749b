package facade

import (
	"encoding/json"
	"io"
	"net/http"
	"time"

	"github.com/cuemby/teeplane/pkg/apierrors"
)

// Server is a thin net/http reference adapter that exercises a
// VerbSurfacePort over the wire. A real deployment's HTTP gateway is an
// external collaborator and is free to implement its own transport,
// auth, and encoding; this adapter exists so the port contract can be
// driven end to end in tests and local development.
type Server struct {
	Port   VerbSurfacePort
	Client *http.Client
}

// NewServer constructs a Server bound to port.
func NewServer(port VerbSurfacePort) *Server {
	return &Server{Port: port, Client: &http.Client{Timeout: 10 * time.Second}}
}

// ServeHTTP implements http.Handler, mapping the method to a Verb and the
// request path straight through to the bound port.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	verb, err := verbForMethod(r.Method, r.URL.Query().Has("watch"))
	if err != nil {
		writeError(w, err)
		return
	}

	var body []byte
	if r.Body != nil {
		body, err = io.ReadAll(r.Body)
		if err != nil {
			writeError(w, apierrors.New(apierrors.KindInternal, "reading request body"))
			return
		}
	}

	auth := Identity{Subject: r.Header.Get("X-Auth-Subject")}
	if groups := r.Header.Get("X-Auth-Groups"); groups != "" {
		auth.Groups = []string{groups}
	}

	result, err := s.Port.Translate(verb, r.URL.Path, r.URL.Query(), body, auth)
	if err != nil {
		writeError(w, err)
		return
	}

	writeResult(w, verb, result)
}

func verbForMethod(method string, watch bool) (Verb, error) {
	switch method {
	case http.MethodGet:
		if watch {
			return VerbWatch, nil
		}
		return VerbGet, nil
	case http.MethodPost:
		return VerbCreate, nil
	case http.MethodPut:
		return VerbUpdate, nil
	case http.MethodDelete:
		return VerbDelete, nil
	default:
		return "", apierrors.New(apierrors.KindInternal, "unsupported HTTP method: "+method)
	}
}

func writeResult(w http.ResponseWriter, verb Verb, result Result) {
	w.Header().Set("Content-Type", "application/json")

	switch {
	case result.Deleted:
		w.WriteHeader(http.StatusOK)
		_ = json.NewEncoder(w).Encode(map[string]bool{"deleted": true})
	case result.List != nil:
		w.WriteHeader(http.StatusOK)
		_ = json.NewEncoder(w).Encode(result.List)
	case result.Resource != nil:
		status := http.StatusOK
		if verb == VerbCreate {
			status = http.StatusCreated
		}
		w.WriteHeader(status)
		_ = json.NewEncoder(w).Encode(result.Resource)
	default:
		w.WriteHeader(http.StatusNoContent)
	}
}

func writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch apierrors.KindOf(err) {
	case apierrors.KindNotFound:
		status = http.StatusNotFound
	case apierrors.KindConflict, apierrors.KindVersionMismatch:
		status = http.StatusConflict
	case apierrors.KindExpired:
		status = http.StatusGone
	case apierrors.KindTooLarge:
		status = http.StatusRequestEntityTooLarge
	case apierrors.KindUnschedulable:
		status = http.StatusUnprocessableEntity
	case apierrors.KindOverloaded:
		status = http.StatusServiceUnavailable
	case apierrors.KindIntegrityError, apierrors.KindInternal:
		status = http.StatusInternalServerError
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{
		"kind":  string(apierrors.KindOf(err)),
		"error": err.Error(),
	})
}
