/*
Package subscriptions is responsible for implementing a pubsub architecture
on the backend services. This is achieved using Hasura live subscriptions, so
that the session-service can be notified instantly of any change in the
database.
*/
package subscriptions // import "github.com/hackrange/hackrange/backend/services/subscriptions"

import (
	"context"
	"sync"

	graphql "github.com/hasura/go-graphql-client" // We use Hasura's own GraphQL client for Go

	"github.com/hackrange/hackrange/backend/services/metadata"
	rangelogger "github.com/hackrange/hackrange/backend/services/rangelogger"
)

// InstancesStatusHandler handles events from the Hasura subscription which
// detects changes on all instances to the given status in the database.
func InstancesStatusHandler(event SubscriptionEvent, variables map[string]interface{}) bool {
	result := event.(InstanceEvent)

	var instance Instance
	if len(result.Instances) > 0 {
		instance = result.Instances[0]
	}

	if variables["status"] == nil {
		return false
	}

	status := string(variables["status"].(graphql.String))

	return instance.Status == status
}

// PodsForInstanceHandler handles events from the Hasura subscription which
// detects pod changes under a specific instance.
func PodsForInstanceHandler(event SubscriptionEvent, variables map[string]interface{}) bool {
	result := event.(PodEvent)

	var pod Pod
	if len(result.Pods) > 0 {
		pod = result.Pods[0]
	}

	if variables["instance_id"] == nil {
		return false
	}

	instanceID := string(variables["instance_id"].(graphql.String))

	return string(pod.InstanceID) == instanceID
}

// GatewayVersionHandler handles events from the Hasura subscription which
// detects changes on the config database gateway version entry.
func GatewayVersionHandler(event SubscriptionEvent, variables map[string]interface{}) bool {
	result := event.(ConfigEvent)

	var version ServiceVersion
	if len(result.Versions) > 0 {
		version = result.Versions[0]
	}

	return version != (ServiceVersion{})
}

// SetupSessionSubscriptions creates a slice of HasuraSubscriptions to start
// the client. This function is specific for the subscriptions used on the
// session-service: it watches for instances flipping to EXPIRED so the event
// loop can request their teardown, and for gateway version changes.
func SetupSessionSubscriptions(labClient LabSubscriptionClient) {
	sessionSubscriptions := []HasuraSubscription{
		{
			Query: QueryInstancesByStatus,
			Variables: map[string]interface{}{
				"status": graphql.String("EXPIRED"),
			},
			Result:  InstanceEvent{[]Instance{}},
			Handler: InstancesStatusHandler,
		},
		{
			Query:     QueryServiceVersion,
			Variables: map[string]interface{}{},
			Result:    ConfigEvent{Versions: []ServiceVersion{}},
			Handler:   GatewayVersionHandler,
		},
	}
	labClient.SetSubscriptions(sessionSubscriptions)
}

// Start is the main function in the subscriptions package. It initializes a
// client, sets up the received subscriptions, and starts a goroutine for the
// client. It also has a goroutine to close the client and subscriptions when
// the global context gets cancelled.
func Start(labClient LabSubscriptionClient, globalCtx context.Context, goroutineTracker *sync.WaitGroup, subscriptionEvents chan SubscriptionEvent) error {
	if !enabled {
		rangelogger.Infof("Running in app environment %s so not enabling Subscription client code.", metadata.GetAppEnvironment())
		return nil
	}

	// Slice to hold subscription IDs, necessary to properly unsubscribe when we are done.
	var subscriptionIDs []string

	// Initialize subscription client
	err := labClient.Initialize()
	if err != nil {
		return err
	}

	// Start goroutine that shuts down the client if the global context gets
	// cancelled.
	goroutineTracker.Add(1)
	go func() {
		defer goroutineTracker.Done()

		// Listen for global context cancellation
		<-globalCtx.Done()
		labClient.Close(labClient.GetSubscriptionIDs())
	}()

	// Send subscriptions to the client
	for _, subscriptionParams := range labClient.GetSubscriptions() {
		query := subscriptionParams.Query
		variables := subscriptionParams.Variables
		result := subscriptionParams.Result
		handler := subscriptionParams.Handler

		id, err := labClient.Subscribe(query, variables, result, handler, subscriptionEvents)
		if err != nil {
			return err
		}
		subscriptionIDs = append(subscriptionIDs, id)
	}

	// Run the client
	labClient.SetSubscriptionsIDs(subscriptionIDs)
	labClient.Run(goroutineTracker)

	return nil
}
