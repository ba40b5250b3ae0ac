package httputils

import (
	"github.com/hackrange/hackrange/backend/services/types"
)

// Request types

// SessionLaunchRequest defines the `session/launch` endpoint. The actor
// fields are not part of the JSON body, they are filled in from the verified
// access token.
type SessionLaunchRequest struct {
	LabID      types.LabID            `json:"lab_id"`              // The lab definition to launch an environment for
	Region     types.PlacementRegion  `json:"region,omitempty"`    // Optional region override for providers that support placement
	UserID     types.UserID           `json:"-"`                   // The user ID is obtained from the access token
	OrgID      types.OrgID            `json:"-"`                   // The organization ID is obtained from the access token
	Role       types.Role             `json:"-"`                   // The role is obtained from the access token
	ResultChan chan RequestResult     `json:"-"`                   // Channel to pass the request result between goroutines
}

// SessionLaunchRequestResult defines the data returned by the
// `session/launch` endpoint.
type SessionLaunchRequestResult struct {
	InstanceID types.InstanceID `json:"instance_id"`
	Status     string           `json:"status"`
	WsURL      string           `json:"ws_url,omitempty"`
}

// ReturnResult is called to pass the result of a request back to the HTTP
// request handler.
func (s *SessionLaunchRequest) ReturnResult(result interface{}, err error) {
	s.ResultChan <- RequestResult{
		Result: result,
		Err:    err,
	}
}

// CreateResultChan is called to create the Go channel to pass the request
// result back to the HTTP request handler via ReturnResult.
func (s *SessionLaunchRequest) CreateResultChan() {
	if s.ResultChan == nil {
		s.ResultChan = make(chan RequestResult)
	}
}

// SessionLifecycleRequest defines the `session/start`, `session/stop`,
// `session/restart` and `session/teardown` endpoints. The action is set by
// the handler of the endpoint the request arrived on.
type SessionLifecycleRequest struct {
	LabID      types.LabID        `json:"lab_id"`
	Action     string             `json:"-"`
	UserID     types.UserID       `json:"-"`
	OrgID      types.OrgID        `json:"-"`
	Role       types.Role         `json:"-"`
	ResultChan chan RequestResult `json:"-"`
}

// SessionLifecycleRequestResult defines the data returned by the lifecycle
// endpoints. WsURL is only populated by actions that hand out a session.
type SessionLifecycleRequestResult struct {
	InstanceID types.InstanceID `json:"instance_id"`
	Status     string           `json:"status"`
	WsURL      string           `json:"ws_url,omitempty"`
}

// ReturnResult is called to pass the result of a request back to the HTTP
// request handler.
func (s *SessionLifecycleRequest) ReturnResult(result interface{}, err error) {
	s.ResultChan <- RequestResult{
		Result: result,
		Err:    err,
	}
}

// CreateResultChan is called to create the Go channel to pass the request
// result back to the HTTP request handler via ReturnResult.
func (s *SessionLifecycleRequest) CreateResultChan() {
	if s.ResultChan == nil {
		s.ResultChan = make(chan RequestResult)
	}
}

// SessionStatusRequest defines the `session/status` endpoint.
type SessionStatusRequest struct {
	LabID      types.LabID        `json:"lab_id"`
	UserID     types.UserID       `json:"-"`
	OrgID      types.OrgID        `json:"-"`
	Role       types.Role         `json:"-"`
	ResultChan chan RequestResult `json:"-"`
}

// SessionStatusRequestResult defines the data returned by the
// `session/status` endpoint.
type SessionStatusRequestResult struct {
	InstanceID types.InstanceID `json:"instance_id"`
	Status     string           `json:"status"`
	Running    bool             `json:"running"`
	EndsAt     string           `json:"ends_at,omitempty"`
}

// ReturnResult is called to pass the result of a request back to the HTTP
// request handler.
func (s *SessionStatusRequest) ReturnResult(result interface{}, err error) {
	s.ResultChan <- RequestResult{
		Result: result,
		Err:    err,
	}
}

// CreateResultChan is called to create the Go channel to pass the request
// result back to the HTTP request handler via ReturnResult.
func (s *SessionStatusRequest) CreateResultChan() {
	if s.ResultChan == nil {
		s.ResultChan = make(chan RequestResult)
	}
}

// SessionPodsRequest defines the `session/pods` endpoint.
type SessionPodsRequest struct {
	LabID      types.LabID        `json:"lab_id"`
	UserID     types.UserID       `json:"-"`
	OrgID      types.OrgID        `json:"-"`
	Role       types.Role         `json:"-"`
	ResultChan chan RequestResult `json:"-"`
}

// PodInfo is the per-pod entry returned by the `session/pods` endpoint.
type PodInfo struct {
	ID      types.PodID  `json:"id"`
	UserID  types.UserID `json:"user_id"`
	Role    types.Role   `json:"role"`
	Running bool         `json:"running"`
	Status  string       `json:"status"`
}

// SessionPodsRequestResult defines the data returned by the `session/pods`
// endpoint.
type SessionPodsRequestResult struct {
	InstanceID types.InstanceID `json:"instance_id"`
	Pods       []PodInfo        `json:"pods"`
}

// ReturnResult is called to pass the result of a request back to the HTTP
// request handler.
func (s *SessionPodsRequest) ReturnResult(result interface{}, err error) {
	s.ResultChan <- RequestResult{
		Result: result,
		Err:    err,
	}
}

// CreateResultChan is called to create the Go channel to pass the request
// result back to the HTTP request handler via ReturnResult.
func (s *SessionPodsRequest) CreateResultChan() {
	if s.ResultChan == nil {
		s.ResultChan = make(chan RequestResult)
	}
}
