package main

import (
	"bytes"
	"crypto/sha256"
	"fmt"
	"io/ioutil"
	"mime"
	"net/http"
	"path/filepath"
	"strconv"
	"time"

	"github.com/google/go-github/v41/github"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
)

const timeout = 10 * time.Second

const Gitorious = "Gitorious"

const hookPath = "/gitorious"

// Receiver holds what the hook handlers deliver pushes to.
type Receiver struct {
	Notifier Notifier
	Scanner  *scanner
}

type HookHandler func(recv *Receiver, w http.ResponseWriter, r *http.Request, payload string, l *logrus.Entry)

// Strategies maps each endpoint strategy to its handler.
var Strategies = map[Strategy]HookHandler{}

func HandlerFromEndpoint(baseDir string, recv *Receiver, ep Endpoint) (string, http.Handler, error) {
	// 1. find the handler for the endpoint's strategy
	strategy := ep.Strategy
	if strategy == "" {
		strategy = ScanStrategy
	}
	hookHandler, ok := Strategies[strategy]
	if !ok {
		return "", nil, fmt.Errorf("unknown strategy %q, check config.go for possible values", ep.Strategy)
	}

	// 2. load the key so it can be used in the handler, and get the
	// digest so it can be used to route to this handler
	route := hookPath
	var key []byte
	if ep.KeyPath != "" {
		var err error
		key, err = ioutil.ReadFile(filepath.Join(baseDir, ep.KeyPath))
		if err != nil {
			return "", nil, fmt.Errorf("cannot load key from %q: %s", ep.KeyPath, err.Error())
		}
		sha := sha256.New()
		sha.Write(key)
		route = fmt.Sprintf("%s/%x", hookPath, sha.Sum(nil))
	}

	// 3. construct a handler from the above
	return route, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hookCounter.WithLabelValues(string(strategy)).Inc()
		rec := &statusRecorder{ResponseWriter: w}
		defer func() {
			responseCounter.WithLabelValues(strconv.Itoa(rec.status())).Inc()
		}()

		l := logrus.WithFields(logrus.Fields{"source": Gitorious, "strategy": strategy})
		payload, code, err := extractPayload(rec, r, key, ep.Signed)
		if err != nil {
			http.Error(rec, err.Error(), code)
			l.WithError(err).Warn("rejected delivery")
			return
		}
		l.WithField("payload", payload).Trace("received payload")
		hookHandler(recv, rec, r, payload, l)
	}), nil
}

// maxPayloadBytes bounds the request body of a delivery.
const maxPayloadBytes = 5 << 20

// extractPayload returns the payload parameter, from the query or a
// form body, or the whole body when it is posted as JSON. Signed
// endpoints only take the payload from the signed body.
func extractPayload(w http.ResponseWriter, r *http.Request, key []byte, signed bool) (string, int, error) {
	var body []byte
	if r.Body != nil {
		var err error
		body, err = ioutil.ReadAll(http.MaxBytesReader(w, r.Body, maxPayloadBytes))
		if err != nil {
			return "", http.StatusRequestEntityTooLarge, fmt.Errorf("Cannot read request body")
		}
		r.Body.Close()
	}
	if signed {
		if err := github.ValidateSignature(r.Header.Get("X-Hub-Signature"), body, key); err != nil {
			return "", http.StatusUnauthorized, fmt.Errorf("The signature header is invalid")
		}
		if r.URL.Query().Get("payload") != "" {
			return "", http.StatusBadRequest, fmt.Errorf("Payload must be in the signed body")
		}
	}
	r.Body = ioutil.NopCloser(bytes.NewReader(body))

	payload := r.PostFormValue("payload")
	if payload == "" && !signed {
		payload = r.FormValue("payload")
	}
	if payload != "" {
		return payload, 0, nil
	}
	contentType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if contentType == "application/json" && len(body) > 0 {
		return string(body), 0, nil
	}
	return "", http.StatusBadRequest, fmt.Errorf("Missing payload parameter")
}

// NewRouter routes every endpoint plus health and metrics.
func NewRouter(baseDir string, recv *Receiver, endpoints []Endpoint) (*mux.Router, error) {
	router := mux.NewRouter()
	for _, ep := range endpoints {
		route, handler, err := HandlerFromEndpoint(baseDir, recv, ep)
		if err != nil {
			return nil, err
		}
		router.Handle(route, handler).Methods(http.MethodGet, http.MethodPost)
		l := logrus.WithFields(logrus.Fields{"source": ep.Source, "strategy": ep.Strategy, "route": route})
		if ep.KeyPath != "" {
			l = l.WithField("key", filepath.Join(baseDir, ep.KeyPath))
		}
		l.Info("endpoint")
	}
	router.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	})
	router.Handle("/metrics", promhttp.Handler())
	return router, nil
}

type statusRecorder struct {
	http.ResponseWriter
	code int
}

func (s *statusRecorder) WriteHeader(code int) {
	if s.code == 0 {
		s.code = code
	}
	s.ResponseWriter.WriteHeader(code)
}

func (s *statusRecorder) Write(b []byte) (int, error) {
	if s.code == 0 {
		s.code = http.StatusOK
	}
	return s.ResponseWriter.Write(b)
}

func (s *statusRecorder) status() int {
	if s.code == 0 {
		return http.StatusOK
	}
	return s.code
}
