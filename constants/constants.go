// Package constants contains shared constants between the various
// backend services.
package constants

import "time"

// MaxPodsPerOrgInstance is the maximum number of end-user pods that can be
// bound concurrently to a shared organization-owned instance. The 16th bind
// attempt fails with a quota error.
const MaxPodsPerOrgInstance = 15

// DefaultProviderTimeout bounds every individual provider adapter call
// (provision, credential issuance, power verbs, teardown). Provider APIs can
// block for the duration of a VM boot, so this is generous but finite.
const DefaultProviderTimeout = 45 * time.Second

// DefaultBrokerTimeout bounds the remote desktop gateway handshake.
const DefaultBrokerTimeout = 30 * time.Second

// ExpirySweepInterval is how often the scheduled sweep marks overdue
// instances as expired and requests their teardown.
const ExpirySweepInterval = 10 * time.Minute
