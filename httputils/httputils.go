package httputils

import (
	"encoding/json"
	"io"
	"net/http"
	"strings"

	"github.com/hackrange/hackrange/backend/services/metadata"
	rangelogger "github.com/hackrange/hackrange/backend/services/rangelogger"
	"github.com/hackrange/hackrange/backend/services/session-service/auth"
	"github.com/hackrange/hackrange/backend/services/utils"
)

// A ServerRequest represents a request from the server --- it is exported so
// that we can implement the top-level event handlers in parent packages. They
// simply return the result and any error message via ReturnResult.
type ServerRequest interface {
	ReturnResult(result interface{}, err error)
	CreateResultChan()
}

// A RequestResult represents the result of a request that was successfully
// authenticated, parsed, and processed by the consumer.
type RequestResult struct {
	Result interface{} `json:"-"`
	Err    error       `json:"error"`
}

// Send is called to send an HTTP response
func (r RequestResult) Send(w http.ResponseWriter) {
	var buf []byte
	var err error
	var status int

	if r.Err != nil {
		// Send a 406
		status = http.StatusNotAcceptable
		buf, err = json.Marshal(
			struct {
				Result interface{} `json:"result"`
				Error  string      `json:"error"`
			}{r.Result, r.Err.Error()},
		)
	} else {
		// Send a 200 code
		status = http.StatusOK
		buf, err = json.Marshal(
			struct {
				Result interface{} `json:"result"`
			}{r.Result},
		)
	}

	w.WriteHeader(status)
	if err != nil {
		rangelogger.Errorf("error marshalling a %v HTTP Response body: %s", status, err)
	}
	_, _ = w.Write(buf)
}

// Helper functions

// GetAccessToken is a helper function that extracts the access token
// from the request "Authorization" header.
func GetAccessToken(r *http.Request) (string, error) {
	authorization := r.Header.Get("Authorization")
	bearer := strings.Split(authorization, "Bearer ")

	if len(bearer) <= 1 || bearer[1] == "" || bearer[1] == "undefined" {
		return "", utils.MakeError("did not find a bearer token in the request Authorization header")
	}

	return bearer[1], nil
}

// AuthenticateRequest will verify that the access token is valid
// and will parse the request body and try to unmarshal into a
// `ServerRequest` type.
func AuthenticateRequest(w http.ResponseWriter, r *http.Request, s ServerRequest) (*auth.Claims, error) {
	var claims *auth.Claims

	// Skip token validation if running on local environment
	if !metadata.IsLocalEnv() {
		accessToken, err := GetAccessToken(r)
		if err != nil {
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return nil, err
		}

		claims, err = auth.ParseToken(accessToken)
		if err != nil {
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return nil, utils.MakeError("received an unpermissioned backend request on %s to URL %s: %s", r.Host, r.URL, err)
		}

		if err := auth.Verify(claims); err != nil {
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return nil, utils.MakeError("received an unpermissioned backend request on %s to URL %s: %s", r.Host, r.URL, err)
		}
	}

	_, err := ParseRequest(w, r, s)
	if err != nil {
		return nil, utils.MakeError("error while parsing request: %s", err)
	}

	return claims, nil
}

// ParseRequest will read the request body, unmarshal into a raw JSON map, and
// then unmarshal the remaining fields into the struct `s`. The raw JSON map is
// returned so handlers can inspect fields without re-reading the body.
func ParseRequest(w http.ResponseWriter, r *http.Request, s ServerRequest) (map[string]*json.RawMessage, error) {
	// Get body of request
	body, err := io.ReadAll(r.Body)
	if err != nil {
		http.Error(w, "Malformed body", http.StatusBadRequest)
		return nil, utils.MakeError("error getting body from request on %s to URL %s: %s", r.Host, r.URL, err)
	}

	// Bodyless requests are valid, GET endpoints carry their parameters on
	// the query string instead.
	if len(body) == 0 {
		s.CreateResultChan()
		return nil, nil
	}

	// Delay as much decoding as possible with a raw JSON unmarshalling
	var rawmap map[string]*json.RawMessage
	err = json.Unmarshal(body, &rawmap)
	if err != nil {
		http.Error(w, "Malformed body", http.StatusBadRequest)
		return nil, utils.MakeError("error raw-unmarshalling JSON body sent on %s to URL %s: %s", r.Host, r.URL, err)
	}

	// Now, actually do the unmarshalling into the right object type
	err = json.Unmarshal(body, s)
	if err != nil {
		http.Error(w, "Malformed body", http.StatusBadRequest)
		return nil, utils.MakeError("could not fully unmarshal the body of a request sent on %s to URL %s: %s", r.Host, r.URL, err)
	}

	// Set up the result channel
	s.CreateResultChan()

	return rawmap, nil
}

// Function to verify the type (method) of a request
func VerifyRequestType(w http.ResponseWriter, r *http.Request, method string) error {
	if r == nil {
		err := utils.MakeError("received a nil request expecting to be type %s", method)
		rangelogger.Error(err)

		http.Error(w, utils.Sprintf("Bad request. Expected %s, got nil", method), http.StatusBadRequest)

		return err
	}

	if r.Method != method {
		err := utils.MakeError("received a request on %s to URL %s of type %s, but it should have been type %s", r.Host, r.URL, r.Method, method)
		rangelogger.Error(err)

		http.Error(w, utils.Sprintf("Bad request type. Expected %s, got %s", method, r.Method), http.StatusBadRequest)

		return err
	}
	return nil
}

// EnableCORS is a middleware that sets the Access control header to accept requests from all origins.
func EnableCORS(f func(http.ResponseWriter, *http.Request)) func(http.ResponseWriter, *http.Request) {
	return http.HandlerFunc(func(rw http.ResponseWriter, r *http.Request) {
		rw.Header().Set("Access-Control-Allow-Origin", "*")
		rw.Header().Set("Access-Control-Allow-Headers", "Origin Accept Content-Type X-Requested-With")
		rw.Header().Set("Access-Control-Allow-Methods", "POST PUT OPTIONS")

		if r.Method == http.MethodOptions {
			http.Error(rw, "No Content", http.StatusNoContent)
			return
		}

		f(rw, r)
	})
}
