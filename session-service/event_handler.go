package main

import (
	"context"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/go-co-op/gocron"

	"github.com/hackrange/hackrange/backend/services/constants"
	"github.com/hackrange/hackrange/backend/services/httputils"
	rangelogger "github.com/hackrange/hackrange/backend/services/rangelogger"
	"github.com/hackrange/hackrange/backend/services/session-service/broker"
	"github.com/hackrange/hackrange/backend/services/session-service/config"
	"github.com/hackrange/hackrange/backend/services/session-service/lifecycle"
	"github.com/hackrange/hackrange/backend/services/session-service/providers"
	"github.com/hackrange/hackrange/backend/services/session-service/providers/awsec2"
	"github.com/hackrange/hackrange/backend/services/session-service/providers/awsiam"
	"github.com/hackrange/hackrange/backend/services/session-service/providers/cluster"
	"github.com/hackrange/hackrange/backend/services/session-service/providers/datacenter"
	"github.com/hackrange/hackrange/backend/services/session-service/providers/proxmox"
	"github.com/hackrange/hackrange/backend/services/session-service/registry"
	"github.com/hackrange/hackrange/backend/services/subscriptions"
	"github.com/hackrange/hackrange/backend/services/types"
)

func main() {
	globalCtx, globalCancel := context.WithCancel(context.Background())
	goroutineTracker := &sync.WaitGroup{}

	defer rangelogger.Close()

	// Start GraphQL client for queries/mutations
	graphqlClient := &subscriptions.GraphQLClient{}
	if err := graphqlClient.Initialize(); err != nil {
		rangelogger.Errorf("Failed to start GraphQL client: %s", err)
	}

	// Fetch service-global configuration before anything consumes it.
	if err := config.Initialize(globalCtx, graphqlClient); err != nil {
		rangelogger.Panicf(globalCancel, "Failed to initialize service configuration: %s", err)
	}

	handlers := initializeProviderHandlers()

	brokerClient := broker.NewClient()
	if err := brokerClient.Initialize(globalCtx); err != nil {
		rangelogger.Warningf("Failed to verify the gateway on startup: %s", err)
	}

	engine := lifecycle.NewEngine(&registry.DBClient{}, graphqlClient, handlers, brokerClient)

	// Start database subscriptions
	subscriptionEvents := make(chan subscriptions.SubscriptionEvent, 100)
	StartDatabaseSubscriptions(globalCtx, goroutineTracker, subscriptionEvents)

	// Start scheduler and setup scheduler event chan
	scheduledEvents := make(chan struct{}, 100)
	StartSchedulerEvents(scheduledEvents, constants.ExpirySweepInterval)

	// Start the HTTP server and its event chan
	serverEvents := make(chan httputils.ServerRequest, 100)
	StartHTTPServer(serverEvents)

	// Start main event loop
	go eventLoop(globalCtx, goroutineTracker, subscriptionEvents, scheduledEvents, serverEvents, engine)

	// Register a signal handler for Ctrl-C so that we cleanup if Ctrl-C is pressed.
	sigChan := make(chan os.Signal, 2)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM, syscall.SIGINT)

	// Wait for either the global context to get cancelled by a worker goroutine,
	// or for us to receive an interrupt. This needs to be the end of main().
	select {
	case <-sigChan:
		rangelogger.Infof("Got an interrupt or SIGTERM")
	case <-globalCtx.Done():
		rangelogger.Infof("Global context cancelled!")
	}

	globalCancel()
	rangelogger.FlushSentry()
}

// initializeProviderHandlers builds the adapter map the lifecycle engine
// dispatches provider calls on. Adapters that fail to initialize (missing
// credentials or endpoint configuration) are left out of the map, labs on
// those providers will fail their transitions with a clear error.
func initializeProviderHandlers() map[types.ProviderKind]providers.Handler {
	defaultRegion := "us-east-1"
	if regions := config.GetEnabledRegions(); len(regions) > 0 {
		defaultRegion = regions[0]
	}

	available := map[types.ProviderKind]providers.Handler{
		types.ProviderAWSEC2:     &awsec2.Handler{},
		types.ProviderAWSIAM:     &awsiam.Handler{},
		types.ProviderProxmox:    &proxmox.Handler{},
		types.ProviderDatacenter: &datacenter.Handler{},
		types.ProviderCluster:    &cluster.Handler{},
	}

	handlers := map[types.ProviderKind]providers.Handler{}
	for kind, handler := range available {
		if err := handler.Initialize(defaultRegion); err != nil {
			rangelogger.Warningf("Provider %s is not available: %s", kind, err)
			continue
		}

		rangelogger.Infof("Initialized provider %s on %s", kind, defaultRegion)
		handlers[kind] = handler
	}

	return handlers
}

func StartDatabaseSubscriptions(globalCtx context.Context, goroutineTracker *sync.WaitGroup, subscriptionEvents chan subscriptions.SubscriptionEvent) {
	subscriptionClient := &subscriptions.SubscriptionClient{}
	subscriptions.SetupSessionSubscriptions(subscriptionClient)

	err := subscriptions.Start(subscriptionClient, globalCtx, goroutineTracker, subscriptionEvents)
	if err != nil {
		rangelogger.Errorf("Failed to start database subscription client: %s", err)
	}
}

func StartSchedulerEvents(scheduledEvents chan struct{}, interval time.Duration) {
	s := gocron.NewScheduler(time.UTC)

	// Schedule the expiry sweep so overdue instances get torn down even when
	// the database subscription misses their flip.
	if _, err := s.Every(interval).Do(func() {
		scheduledEvents <- struct{}{}
	}); err != nil {
		rangelogger.Errorf("Failed to schedule the expiry sweep: %s", err)
	}

	s.StartAsync()
}

func eventLoop(globalCtx context.Context, goroutineTracker *sync.WaitGroup,
	subscriptionEvents <-chan subscriptions.SubscriptionEvent, scheduledEvents <-chan struct{},
	serverEvents <-chan httputils.ServerRequest, engine *lifecycle.Engine) {

	sweep := func() {
		goroutineTracker.Add(1)
		go func() {
			defer goroutineTracker.Done()

			if err := engine.SweepExpired(globalCtx); err != nil {
				rangelogger.Errorf("Expiry sweep failed: %s", err)
			}
		}()
	}

	for {
		select {
		case subscriptionEvent := <-subscriptionEvents:
			// Since we are dealing with a database event, figure out what type
			// it has and handle it accordingly.
			switch subscriptionEvent := subscriptionEvent.(type) {

			case *subscriptions.InstanceEvent:
				// An instance flipped to EXPIRED on the database, run the
				// sweep to tear it down.
				rangelogger.Infof("Received an instance database event.")
				sweep()

			case *subscriptions.ConfigEvent:
				if len(subscriptionEvent.Versions) > 0 {
					rangelogger.Infof("Received a config database event.")
					config.SetGatewayVersion(subscriptionEvent.Versions[0])
				}
			}

		case <-scheduledEvents:
			rangelogger.Infof("Received a scheduled event.")
			sweep()

		case serverEvent := <-serverEvents:
			goroutineTracker.Add(1)
			go func() {
				defer goroutineTracker.Done()
				handleServerRequest(globalCtx, engine, serverEvent)
			}()

		case <-globalCtx.Done():
			return
		}
	}
}

// handleServerRequest dispatches an authenticated HTTP request to the
// lifecycle engine and passes the result back to the waiting handler.
func handleServerRequest(ctx context.Context, engine *lifecycle.Engine, event httputils.ServerRequest) {
	switch request := event.(type) {

	case *httputils.SessionLaunchRequest:
		actor := lifecycle.Actor{UserID: request.UserID, OrgID: request.OrgID, Role: request.Role}

		handle, err := engine.Launch(ctx, request.LabID, request.Region, actor)
		if err != nil {
			request.ReturnResult(nil, err)
			return
		}

		result := httputils.SessionLaunchRequestResult{Status: "ACTIVE", WsURL: handle.WSURL}
		if snapshot, serr := engine.GetStatus(ctx, request.LabID, actor); serr == nil {
			result.InstanceID = snapshot.InstanceID
			result.Status = snapshot.Status
		}

		request.ReturnResult(result, nil)

	case *httputils.SessionLifecycleRequest:
		actor := lifecycle.Actor{UserID: request.UserID, OrgID: request.OrgID, Role: request.Role}
		result := httputils.SessionLifecycleRequestResult{}

		var err error
		switch request.Action {
		case "start":
			var handle broker.SessionHandle
			handle, err = engine.Start(ctx, request.LabID, actor)
			result.WsURL = handle.WSURL
		case "restart":
			var handle broker.SessionHandle
			handle, err = engine.Restart(ctx, request.LabID, actor)
			result.WsURL = handle.WSURL
		case "stop":
			err = engine.Stop(ctx, request.LabID, actor)
		case "teardown":
			err = engine.Teardown(ctx, request.LabID, actor)
			result.Status = "DELETED"
		}

		if err != nil {
			request.ReturnResult(nil, err)
			return
		}

		if request.Action != "teardown" {
			if snapshot, serr := engine.GetStatus(ctx, request.LabID, actor); serr == nil {
				result.InstanceID = snapshot.InstanceID
				result.Status = snapshot.Status
			}
		}

		request.ReturnResult(result, nil)

	case *httputils.SessionStatusRequest:
		actor := lifecycle.Actor{UserID: request.UserID, OrgID: request.OrgID, Role: request.Role}

		snapshot, err := engine.GetStatus(ctx, request.LabID, actor)
		if err != nil {
			request.ReturnResult(nil, err)
			return
		}

		result := httputils.SessionStatusRequestResult{
			InstanceID: snapshot.InstanceID,
			Status:     snapshot.Status,
			Running:    snapshot.Running,
		}
		if !snapshot.EndsAt.IsZero() {
			result.EndsAt = snapshot.EndsAt.Format(time.RFC3339)
		}

		request.ReturnResult(result, nil)

	case *httputils.SessionPodsRequest:
		actor := lifecycle.Actor{UserID: request.UserID, OrgID: request.OrgID, Role: request.Role}

		grouped, err := engine.ListPods(ctx, request.LabID, actor)
		if err != nil {
			request.ReturnResult(nil, err)
			return
		}

		result := httputils.SessionPodsRequestResult{}
		for role, pods := range grouped {
			for _, pod := range pods {
				status := "INACTIVE"
				if pod.Running {
					status = "ACTIVE"
				}

				result.InstanceID = pod.InstanceID
				result.Pods = append(result.Pods, httputils.PodInfo{
					ID:      pod.ID,
					UserID:  pod.UserID,
					Role:    role,
					Running: pod.Running,
					Status:  status,
				})
			}
		}

		request.ReturnResult(result, nil)
	}
}
