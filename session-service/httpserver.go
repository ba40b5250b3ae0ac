package main

import (
	"net/http"
	"time"

	"golang.org/x/time/rate"

	"github.com/hackrange/hackrange/backend/services/httputils"
	rangelogger "github.com/hackrange/hackrange/backend/services/rangelogger"
	"github.com/hackrange/hackrange/backend/services/types"
)

// SessionLaunchHandler handles requests to the `session/launch` endpoint. It
// authenticates the caller, fills in the actor fields from the access token
// and sends the request to the event loop for processing.
func SessionLaunchHandler(w http.ResponseWriter, r *http.Request, events chan<- httputils.ServerRequest) {
	if err := httputils.VerifyRequestType(w, r, http.MethodPost); err != nil {
		rangelogger.Errorf("Error verifying request type: %s", err)
		return
	}

	var reqdata httputils.SessionLaunchRequest
	claims, err := httputils.AuthenticateRequest(w, r, &reqdata)
	if err != nil {
		rangelogger.Errorf("Failed while authenticating request: %s", err)
		return
	}

	if claims != nil {
		reqdata.UserID = claims.UserID()
		reqdata.OrgID = claims.OrgID
		reqdata.Role = claims.Role
	}

	events <- &reqdata
	res := <-reqdata.ResultChan

	res.Send(w)
}

// SessionLifecycleHandler returns a handler for one of the `session/start`,
// `session/stop`, `session/restart` and `session/teardown` endpoints. The
// endpoints share a request shape and only differ in the action they carry.
func SessionLifecycleHandler(action string, events chan<- httputils.ServerRequest) func(http.ResponseWriter, *http.Request) {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := httputils.VerifyRequestType(w, r, http.MethodPost); err != nil {
			rangelogger.Errorf("Error verifying request type: %s", err)
			return
		}

		var reqdata httputils.SessionLifecycleRequest
		claims, err := httputils.AuthenticateRequest(w, r, &reqdata)
		if err != nil {
			rangelogger.Errorf("Failed while authenticating request: %s", err)
			return
		}

		reqdata.Action = action
		if claims != nil {
			reqdata.UserID = claims.UserID()
			reqdata.OrgID = claims.OrgID
			reqdata.Role = claims.Role
		}

		events <- &reqdata
		res := <-reqdata.ResultChan

		res.Send(w)
	}
}

// SessionStatusHandler handles requests to the `session/status` endpoint. The
// lab is identified by the `lab_id` query parameter. It reconciles the
// instance against its provider before answering.
func SessionStatusHandler(w http.ResponseWriter, r *http.Request, events chan<- httputils.ServerRequest) {
	if err := httputils.VerifyRequestType(w, r, http.MethodGet); err != nil {
		rangelogger.Errorf("Error verifying request type: %s", err)
		return
	}

	var reqdata httputils.SessionStatusRequest
	claims, err := httputils.AuthenticateRequest(w, r, &reqdata)
	if err != nil {
		rangelogger.Errorf("Failed while authenticating request: %s", err)
		return
	}

	if labID := r.URL.Query().Get("lab_id"); labID != "" {
		reqdata.LabID = types.LabID(labID)
	}

	if claims != nil {
		reqdata.UserID = claims.UserID()
		reqdata.OrgID = claims.OrgID
		reqdata.Role = claims.Role
	}

	events <- &reqdata
	res := <-reqdata.ResultChan

	res.Send(w)
}

// SessionPodsHandler handles requests to the `session/pods` endpoint, used by
// the dashboard to render the per-user list of pods under a shared instance.
// The lab is identified by the `lab_id` query parameter.
func SessionPodsHandler(w http.ResponseWriter, r *http.Request, events chan<- httputils.ServerRequest) {
	if err := httputils.VerifyRequestType(w, r, http.MethodGet); err != nil {
		rangelogger.Errorf("Error verifying request type: %s", err)
		return
	}

	var reqdata httputils.SessionPodsRequest
	claims, err := httputils.AuthenticateRequest(w, r, &reqdata)
	if err != nil {
		rangelogger.Errorf("Failed while authenticating request: %s", err)
		return
	}

	if labID := r.URL.Query().Get("lab_id"); labID != "" {
		reqdata.LabID = types.LabID(labID)
	}

	if claims != nil {
		reqdata.UserID = claims.UserID()
		reqdata.OrgID = claims.OrgID
		reqdata.Role = claims.Role
	}

	events <- &reqdata
	res := <-reqdata.ResultChan

	res.Send(w)
}

// throttleMiddleware will limit requests on the endpoint using the provided
// rate limiter. It uses a token bucket algorithm, so that every interval of
// time the "bucket" will refill and continue to serve tokens up to a maximum
// defined by the burst capacity. In case the limit is exceeded, return a http
// 429 error (too many requests).
func throttleMiddleware(limiter *rate.Limiter, f func(http.ResponseWriter, *http.Request)) func(http.ResponseWriter, *http.Request) {
	return func(rw http.ResponseWriter, r *http.Request) {
		if !limiter.Allow() {
			http.Error(rw, http.StatusText(http.StatusTooManyRequests), http.StatusTooManyRequests)
			return
		}
		f(rw, r)
	}
}

// newHTTPServer builds the router and the server without binding the port.
func newHTTPServer(events chan httputils.ServerRequest) *http.Server {
	createHandler := func(f func(http.ResponseWriter, *http.Request, chan<- httputils.ServerRequest)) func(http.ResponseWriter, *http.Request) {
		return func(w http.ResponseWriter, r *http.Request) {
			f(w, r, events)
		}
	}

	// Start a new rate limiter. This will limit requests on an endpoint
	// to every `interval` with a burst of up to `burst` requests. This
	// will help mitigate Denial of Service attacks, or a client app
	// spamming too many requests.
	interval := 1 * time.Second
	burst := 10
	limiter := rate.NewLimiter(rate.Every(interval), burst)

	wrap := func(f func(http.ResponseWriter, *http.Request)) http.Handler {
		return http.HandlerFunc(httputils.EnableCORS(throttleMiddleware(limiter, f)))
	}

	// Create a custom HTTP Request Multiplexer
	mux := http.NewServeMux()
	mux.Handle("/", http.NotFoundHandler())
	mux.Handle("/session/launch", wrap(createHandler(SessionLaunchHandler)))
	mux.Handle("/session/start", wrap(SessionLifecycleHandler("start", events)))
	mux.Handle("/session/stop", wrap(SessionLifecycleHandler("stop", events)))
	mux.Handle("/session/restart", wrap(SessionLifecycleHandler("restart", events)))
	mux.Handle("/session/teardown", wrap(SessionLifecycleHandler("teardown", events)))
	mux.Handle("/session/status", wrap(createHandler(SessionStatusHandler)))
	mux.Handle("/session/pods", wrap(createHandler(SessionPodsHandler)))

	// Add timeouts to help mitigate potential rogue clients
	// or DDOS attacks. The write timeout has to outlast a full provider
	// call, lifecycle transitions hold the connection until it completes.
	return &http.Server{
		Addr:         "0.0.0.0:8080",
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 90 * time.Second,
		IdleTimeout:  120 * time.Second,
		Handler:      mux,
	}
}

// StartHTTPServer starts the HTTP server that receives the session requests
// from the dashboard.
func StartHTTPServer(events chan httputils.ServerRequest) {
	rangelogger.Infof("Starting HTTP server...")

	srv := newHTTPServer(events)

	go func() {
		rangelogger.Error(srv.ListenAndServe())
	}()
}
