package lifecycle

import (
	"context"
	"errors"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/hackrange/hackrange/backend/services/session-service/broker"
	"github.com/hackrange/hackrange/backend/services/session-service/config"
	"github.com/hackrange/hackrange/backend/services/session-service/providers"
	"github.com/hackrange/hackrange/backend/services/subscriptions"
	"github.com/hackrange/hackrange/backend/services/types"
	"github.com/hackrange/hackrange/backend/services/utils"
)

func TestMain(m *testing.M) {
	// Local environment, seeds static configuration (enabled regions,
	// pod cap, session duration).
	if err := config.Initialize(context.Background(), nil); err != nil {
		os.Exit(1)
	}

	os.Exit(m.Run())
}

// fakeRegistry is an in-memory RegistryClient. It records the order of its
// destructive operations so tests can assert on teardown ordering.
type fakeRegistry struct {
	mu          sync.Mutex
	labs        map[types.LabID]subscriptions.LabDefinition
	instances   map[types.InstanceID]subscriptions.Instance
	pods        map[types.PodID]subscriptions.Pod
	credentials map[string]subscriptions.Credential
	ops         []string

	// queryInstanceHook runs before QueryInstance reads the row, so tests
	// can interleave a concurrent write with a transition's locked re-read.
	queryInstanceHook func()
}

func newFakeRegistry() *fakeRegistry {
	return &fakeRegistry{
		labs:        map[types.LabID]subscriptions.LabDefinition{},
		instances:   map[types.InstanceID]subscriptions.Instance{},
		pods:        map[types.PodID]subscriptions.Pod{},
		credentials: map[string]subscriptions.Credential{},
	}
}

func credentialKey(ownerKind string, ownerID string) string {
	return ownerKind + "/" + ownerID
}

func (f *fakeRegistry) record(op string) {
	f.ops = append(f.ops, op)
}

func (f *fakeRegistry) QueryLabDefinition(_ context.Context, _ subscriptions.LabGraphQLClient, labID types.LabID) ([]subscriptions.LabDefinition, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	lab, ok := f.labs[labID]
	if !ok {
		return nil, nil
	}

	return []subscriptions.LabDefinition{lab}, nil
}

func (f *fakeRegistry) QueryInstance(_ context.Context, _ subscriptions.LabGraphQLClient, id types.InstanceID) ([]subscriptions.Instance, error) {
	if f.queryInstanceHook != nil {
		f.queryInstanceHook()
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	instance, ok := f.instances[id]
	if !ok {
		return nil, nil
	}

	return []subscriptions.Instance{instance}, nil
}

func (f *fakeRegistry) QueryInstanceByLabAndOwner(_ context.Context, _ subscriptions.LabGraphQLClient, labID types.LabID, ownerKind types.OwnerKind, ownerID string) ([]subscriptions.Instance, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	var result []subscriptions.Instance
	for _, instance := range f.instances {
		if instance.LabID == labID && instance.OwnerKind == ownerKind && instance.OwnerID == ownerID {
			result = append(result, instance)
		}
	}

	return result, nil
}

func (f *fakeRegistry) QueryInstancesByStatus(_ context.Context, _ subscriptions.LabGraphQLClient, status string) ([]subscriptions.Instance, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	var result []subscriptions.Instance
	for _, instance := range f.instances {
		if instance.Status == status {
			result = append(result, instance)
		}
	}

	return result, nil
}

func (f *fakeRegistry) QueryExpiredInstances(_ context.Context, _ subscriptions.LabGraphQLClient, deadline time.Time) ([]subscriptions.Instance, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	var result []subscriptions.Instance
	for _, instance := range f.instances {
		if instance.Status != "EXPIRED" && !instance.EndsAt.IsZero() && instance.EndsAt.Before(deadline) {
			result = append(result, instance)
		}
	}

	return result, nil
}

func (f *fakeRegistry) InsertInstances(_ context.Context, _ subscriptions.LabGraphQLClient, instances []subscriptions.Instance) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	for _, instance := range instances {
		f.instances[instance.ID] = instance
	}

	return len(instances), nil
}

func (f *fakeRegistry) UpdateInstance(_ context.Context, _ subscriptions.LabGraphQLClient, instance subscriptions.Instance) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if _, ok := f.instances[instance.ID]; !ok {
		return 0, nil
	}

	f.instances[instance.ID] = instance
	f.record("instance.update " + string(instance.ID))

	return 1, nil
}

func (f *fakeRegistry) UpdateInstanceStatus(_ context.Context, _ subscriptions.LabGraphQLClient, id types.InstanceID, status string) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	instance, ok := f.instances[id]
	if !ok {
		return 0, nil
	}

	instance.Status = status
	f.instances[id] = instance

	return 1, nil
}

func (f *fakeRegistry) DeleteInstance(_ context.Context, _ subscriptions.LabGraphQLClient, id types.InstanceID) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if _, ok := f.instances[id]; !ok {
		return 0, nil
	}

	delete(f.instances, id)
	f.record("instance.delete " + string(id))

	return 1, nil
}

func (f *fakeRegistry) QueryPod(_ context.Context, _ subscriptions.LabGraphQLClient, id types.PodID) ([]subscriptions.Pod, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	pod, ok := f.pods[id]
	if !ok {
		return nil, nil
	}

	return []subscriptions.Pod{pod}, nil
}

func (f *fakeRegistry) QueryPodByLabAndUser(_ context.Context, _ subscriptions.LabGraphQLClient, labID types.LabID, userID types.UserID) ([]subscriptions.Pod, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	var result []subscriptions.Pod
	for _, pod := range f.pods {
		if pod.LabID == labID && pod.UserID == userID {
			result = append(result, pod)
		}
	}

	return result, nil
}

func (f *fakeRegistry) QueryPodsByLabAndOrg(_ context.Context, _ subscriptions.LabGraphQLClient, labID types.LabID, orgID types.OrgID) ([]subscriptions.Pod, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	var result []subscriptions.Pod
	for _, pod := range f.pods {
		if pod.LabID == labID && pod.OrgID == orgID {
			result = append(result, pod)
		}
	}

	return result, nil
}

func (f *fakeRegistry) QueryPodsByInstance(_ context.Context, _ subscriptions.LabGraphQLClient, instanceID types.InstanceID) ([]subscriptions.Pod, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	var result []subscriptions.Pod
	for _, pod := range f.pods {
		if pod.InstanceID == instanceID {
			result = append(result, pod)
		}
	}

	return result, nil
}

func (f *fakeRegistry) InsertPods(_ context.Context, _ subscriptions.LabGraphQLClient, pods []subscriptions.Pod) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	for _, pod := range pods {
		f.pods[pod.ID] = pod
	}

	return len(pods), nil
}

func (f *fakeRegistry) UpdatePod(_ context.Context, _ subscriptions.LabGraphQLClient, pod subscriptions.Pod) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if _, ok := f.pods[pod.ID]; !ok {
		return 0, nil
	}

	f.pods[pod.ID] = pod

	return 1, nil
}

func (f *fakeRegistry) DeletePod(_ context.Context, _ subscriptions.LabGraphQLClient, id types.PodID) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if _, ok := f.pods[id]; !ok {
		return 0, nil
	}

	delete(f.pods, id)

	return 1, nil
}

func (f *fakeRegistry) DeletePodsByInstance(_ context.Context, _ subscriptions.LabGraphQLClient, instanceID types.InstanceID) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	deleted := 0
	for id, pod := range f.pods {
		if pod.InstanceID == instanceID {
			delete(f.pods, id)
			deleted++
		}
	}

	f.record("pods.delete " + string(instanceID))

	return deleted, nil
}

func (f *fakeRegistry) QueryCredentialByOwner(_ context.Context, _ subscriptions.LabGraphQLClient, ownerKind string, ownerID string) ([]subscriptions.Credential, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	credential, ok := f.credentials[credentialKey(ownerKind, ownerID)]
	if !ok {
		return nil, nil
	}

	return []subscriptions.Credential{credential}, nil
}

func (f *fakeRegistry) InsertCredentials(_ context.Context, _ subscriptions.LabGraphQLClient, credentials []subscriptions.Credential) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	for _, credential := range credentials {
		f.credentials[credentialKey(credential.OwnerKind, credential.OwnerID)] = credential
	}

	return len(credentials), nil
}

func (f *fakeRegistry) DeleteCredentialByOwner(_ context.Context, _ subscriptions.LabGraphQLClient, ownerKind string, ownerID string) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	key := credentialKey(ownerKind, ownerID)
	if _, ok := f.credentials[key]; !ok {
		return 0, nil
	}

	delete(f.credentials, key)
	f.record("credential.delete " + key)

	return 1, nil
}

// spyAdapter counts provider calls and can be primed to fail.
type spyAdapter struct {
	mu            sync.Mutex
	provisions    int
	credentials   int
	starts        int
	restarts      int
	stops         int
	teardowns     int
	credentialErr error
	stopErr       error
	registry      *fakeRegistry
}

func (s *spyAdapter) Initialize(string) error { return nil }

func (s *spyAdapter) Provision(_ context.Context, spec providers.ProvisionSpec) (providers.Handle, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.provisions++

	return providers.Handle{
		ProviderID: "i-" + string(spec.InstanceID),
		LabID:      spec.Lab.ID,
		Region:     spec.Region,
		Hostname:   "10.0.0.5",
		Port:       3389,
		Protocol:   "rdp",
	}, nil
}

func (s *spyAdapter) IssueCredential(context.Context, providers.Handle) (providers.Credential, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.credentials++
	if s.credentialErr != nil {
		return providers.Credential{}, s.credentialErr
	}

	return providers.Credential{
		Username: "student",
		Password: "hunter2",
		Protocol: "rdp",
		Hostname: "10.0.0.5",
		Port:     3389,
	}, nil
}

func (s *spyAdapter) Start(context.Context, providers.Handle) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.starts++
	return nil
}

func (s *spyAdapter) Stop(context.Context, providers.Handle) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stops++
	return s.stopErr
}

func (s *spyAdapter) Restart(context.Context, providers.Handle) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.restarts++
	return nil
}

func (s *spyAdapter) GetStatus(context.Context, providers.Handle) (providers.Status, error) {
	return providers.Status{Launched: true, Running: true}, nil
}

func (s *spyAdapter) Teardown(context.Context, providers.Handle) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.teardowns++
	if s.registry != nil {
		s.registry.mu.Lock()
		s.registry.record("provider.teardown")
		s.registry.mu.Unlock()
	}

	return nil
}

func (s *spyAdapter) calls() (provisions, credentials, teardowns int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.provisions, s.credentials, s.teardowns
}

// fakeBroker mints a deterministic session and records how often it was
// asked.
type fakeBroker struct {
	mu       sync.Mutex
	connects int
}

func (b *fakeBroker) Connect(_ context.Context, lab subscriptions.LabDefinition, _ subscriptions.Credential) (broker.SessionHandle, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.connects++

	return broker.SessionHandle{
		SessionID: "abc",
		WSURL:     "wss://gw/session/abc",
		Title:     "Lab " + string(lab.ID),
	}, nil
}

const (
	testLabID      = types.LabID("lab-cloud-breach")
	testInstanceID = types.InstanceID("instance-one")
)

func testLab() subscriptions.LabDefinition {
	return subscriptions.LabDefinition{
		ID:         testLabID,
		Provider:   types.ProviderAWSEC2,
		Region:     "us-east-1",
		TemplateID: "ami-0123456789abcdef0",
		CPU:        2,
		RAMMb:      4096,
	}
}

func newTestEngine(t *testing.T) (*Engine, *fakeRegistry, *spyAdapter, *fakeBroker) {
	t.Helper()

	registryClient := newFakeRegistry()
	registryClient.labs[testLabID] = testLab()

	adapter := &spyAdapter{registry: registryClient}
	sessionBroker := &fakeBroker{}

	engine := NewEngine(registryClient, nil, map[types.ProviderKind]providers.Handler{
		types.ProviderAWSEC2: adapter,
	}, sessionBroker)

	return engine, registryClient, adapter, sessionBroker
}

func userActor() Actor {
	return Actor{UserID: "alice", OrgID: "org-acme", Role: types.RoleUser}
}

func adminActor() Actor {
	return Actor{UserID: "admin-bob", OrgID: "org-acme", Role: types.RoleLabAdmin}
}

func seedUserInstance(registryClient *fakeRegistry, launched bool) {
	instance := subscriptions.Instance{
		ID:        testInstanceID,
		LabID:     testLabID,
		OwnerKind: types.OwnerUser,
		OwnerID:   "alice",
		CreatedBy: "alice",
		Provider:  string(types.ProviderAWSEC2),
		Region:    "us-east-1",
		Status:    "PENDING",
		CreatedAt: time.Now(),
	}

	if launched {
		instance.ProviderID = "i-instance-one"
		instance.Status = "ACTIVE"
		instance.Launched = true
		instance.EverStarted = true
		instance.Running = true
		instance.EndsAt = time.Now().Add(time.Hour)

		registryClient.credentials[credentialKey("instance", string(testInstanceID))] = subscriptions.Credential{
			ID:        uuid.NewString(),
			OwnerKind: "instance",
			OwnerID:   string(testInstanceID),
			Username:  "student",
			Password:  "hunter2",
			Protocol:  "rdp",
			Hostname:  "10.0.0.5",
			Port:      3389,
		}
	}

	registryClient.instances[testInstanceID] = instance
}

func seedOrgInstance(registryClient *fakeRegistry, launched bool) {
	seedUserInstance(registryClient, launched)

	instance := registryClient.instances[testInstanceID]
	instance.OwnerKind = types.OwnerOrganization
	instance.OwnerID = "org-acme"
	instance.CreatedBy = "admin-bob"
	registryClient.instances[testInstanceID] = instance
}

func TestLaunchProvisionsOnce(t *testing.T) {
	engine, registryClient, adapter, sessionBroker := newTestEngine(t)
	seedUserInstance(registryClient, false)

	handle, err := engine.Launch(context.Background(), testLabID, "", userActor())
	if err != nil {
		t.Fatalf("first launch failed: %s", err)
	}

	if handle.WSURL != "wss://gw/session/abc" {
		t.Errorf("got session url %s", handle.WSURL)
	}

	// Second launch of an already launched instance brokers a session on the
	// stored credential with zero provider calls.
	if _, err := engine.Launch(context.Background(), testLabID, "", userActor()); err != nil {
		t.Fatalf("second launch failed: %s", err)
	}

	provisions, credentials, _ := adapter.calls()
	if provisions != 1 {
		t.Errorf("expected 1 provision, got %d", provisions)
	}
	if credentials != 1 {
		t.Errorf("expected 1 credential issuance, got %d", credentials)
	}
	if sessionBroker.connects != 2 {
		t.Errorf("expected 2 brokered sessions, got %d", sessionBroker.connects)
	}

	instance := registryClient.instances[testInstanceID]
	if !instance.Launched || !instance.Running || instance.Status != "ACTIVE" {
		t.Errorf("instance not recorded as launched and running: %+v", instance)
	}
	if instance.EndsAt.IsZero() {
		t.Error("expected an expiry deadline on the launched instance")
	}
}

func TestLaunchRollsBackOnCredentialFailure(t *testing.T) {
	engine, registryClient, adapter, _ := newTestEngine(t)
	seedUserInstance(registryClient, false)
	adapter.credentialErr = providers.ErrCredentialFailed

	_, err := engine.Launch(context.Background(), testLabID, "", userActor())
	if !errors.Is(err, ErrCredentialFailed) {
		t.Fatalf("expected ErrCredentialFailed, got %v", err)
	}

	_, _, teardowns := adapter.calls()
	if teardowns != 1 {
		t.Errorf("expected the provision to be torn back down, got %d teardowns", teardowns)
	}

	instance := registryClient.instances[testInstanceID]
	if instance.Launched {
		t.Error("instance must stay unlaunched after a failed launch")
	}
	if len(registryClient.credentials) != 0 {
		t.Errorf("no credential rows may survive a failed launch, got %d", len(registryClient.credentials))
	}
}

func TestLaunchRegionNotEnabled(t *testing.T) {
	engine, registryClient, adapter, _ := newTestEngine(t)
	seedUserInstance(registryClient, false)

	_, err := engine.Launch(context.Background(), testLabID, "mars-central-1", userActor())
	if !errors.Is(err, ErrRegionNotEnabled) {
		t.Fatalf("expected ErrRegionNotEnabled, got %v", err)
	}

	provisions, _, _ := adapter.calls()
	if provisions != 0 {
		t.Errorf("expected no provider calls, got %d provisions", provisions)
	}
}

func TestLaunchExpiredInstance(t *testing.T) {
	engine, registryClient, adapter, _ := newTestEngine(t)
	seedUserInstance(registryClient, true)

	instance := registryClient.instances[testInstanceID]
	instance.EndsAt = time.Now().Add(-time.Minute)
	registryClient.instances[testInstanceID] = instance

	_, err := engine.Launch(context.Background(), testLabID, "", userActor())
	if !errors.Is(err, ErrExpired) {
		t.Fatalf("expected ErrExpired, got %v", err)
	}

	provisions, credentials, _ := adapter.calls()
	if provisions != 0 || credentials != 0 {
		t.Error("expired instances must short-circuit before any provider call")
	}
}

func TestLaunchExpiredUnderLock(t *testing.T) {
	engine, registryClient, adapter, _ := newTestEngine(t)
	seedUserInstance(registryClient, false)

	// Mark the instance expired between the pre-lock resolve and the locked
	// re-read, the way the expiry sweep can.
	registryClient.queryInstanceHook = func() {
		registryClient.mu.Lock()
		defer registryClient.mu.Unlock()

		instance := registryClient.instances[testInstanceID]
		instance.Status = "EXPIRED"
		registryClient.instances[testInstanceID] = instance
	}

	_, err := engine.Launch(context.Background(), testLabID, "", userActor())
	if !errors.Is(err, ErrExpired) {
		t.Fatalf("expected ErrExpired, got %v", err)
	}

	provisions, credentials, _ := adapter.calls()
	if provisions != 0 || credentials != 0 {
		t.Error("a launch losing against the expiry sweep must make no provider calls")
	}
}

func TestTeardownDeniedForUser(t *testing.T) {
	engine, registryClient, adapter, _ := newTestEngine(t)
	seedUserInstance(registryClient, true)

	err := engine.Teardown(context.Background(), testLabID, userActor())
	if !errors.Is(err, ErrAuthorizationDenied) {
		t.Fatalf("expected ErrAuthorizationDenied, got %v", err)
	}

	_, _, teardowns := adapter.calls()
	if teardowns != 0 {
		t.Errorf("denied transitions must make no provider calls, got %d teardowns", teardowns)
	}
}

func TestLaunchOrgInstanceBeforeAdmin(t *testing.T) {
	engine, registryClient, adapter, _ := newTestEngine(t)
	seedOrgInstance(registryClient, false)

	_, err := engine.Launch(context.Background(), testLabID, "", userActor())
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}

	provisions, _, _ := adapter.calls()
	if provisions != 0 {
		t.Errorf("a plain user must not trigger provisioning, got %d provisions", provisions)
	}
}

func TestLaunchBindsPodUnderOrgInstance(t *testing.T) {
	engine, registryClient, adapter, _ := newTestEngine(t)
	seedOrgInstance(registryClient, true)

	handle, err := engine.Launch(context.Background(), testLabID, "", userActor())
	if err != nil {
		t.Fatalf("pod launch failed: %s", err)
	}
	if handle.WSURL == "" {
		t.Error("expected a brokered session for the pod")
	}

	provisions, credentials, _ := adapter.calls()
	if provisions != 0 {
		t.Errorf("pod launches never provision, got %d provisions", provisions)
	}
	if credentials != 1 {
		t.Errorf("expected 1 pod credential issuance, got %d", credentials)
	}

	pods, _ := registryClient.QueryPodByLabAndUser(context.Background(), nil, testLabID, "alice")
	if len(pods) != 1 {
		t.Fatalf("expected 1 pod bound for alice, got %d", len(pods))
	}
	if !pods[0].Launched || !pods[0].Running {
		t.Errorf("pod not recorded as launched and running: %+v", pods[0])
	}

	// Launching again reuses the stored pod credential.
	if _, err := engine.Launch(context.Background(), testLabID, "", userActor()); err != nil {
		t.Fatalf("second pod launch failed: %s", err)
	}

	_, credentialsAfter, _ := adapter.calls()
	if credentialsAfter != 1 {
		t.Errorf("pod credential must be issued exactly once, got %d", credentialsAfter)
	}
}

func TestLaunchPodQuota(t *testing.T) {
	engine, registryClient, _, _ := newTestEngine(t)
	seedOrgInstance(registryClient, true)

	podCap := config.GetMaxPodsPerOrgInstance()
	for i := int32(0); i < podCap-1; i++ {
		pod := subscriptions.Pod{
			ID:         types.PodID(uuid.New()),
			LabID:      testLabID,
			InstanceID: testInstanceID,
			OrgID:      "org-acme",
			UserID:     types.UserID(utils.Sprintf("user-%d", i)),
			Role:       string(types.RoleUser),
			Launched:   true,
		}
		registryClient.pods[pod.ID] = pod
	}

	// The pod sitting exactly at the cap still binds.
	if _, err := engine.Launch(context.Background(), testLabID, "", userActor()); err != nil {
		t.Fatalf("launch of pod %d failed: %s", podCap, err)
	}

	over := Actor{UserID: "zed", OrgID: "org-acme", Role: types.RoleUser}
	_, err := engine.Launch(context.Background(), testLabID, "", over)
	if !errors.Is(err, ErrQuotaExceeded) {
		t.Fatalf("expected ErrQuotaExceeded for pod %d, got %v", podCap+1, err)
	}
}

func TestConcurrentLaunchesProvisionOnce(t *testing.T) {
	engine, registryClient, adapter, _ := newTestEngine(t)
	seedUserInstance(registryClient, false)

	var wg sync.WaitGroup
	errs := make([]error, 4)

	for i := range errs {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = engine.Launch(context.Background(), testLabID, "", userActor())
		}(i)
	}
	wg.Wait()

	for i, err := range errs {
		if err != nil {
			t.Errorf("concurrent launch %d failed: %s", i, err)
		}
	}

	provisions, credentials, _ := adapter.calls()
	if provisions != 1 || credentials != 1 {
		t.Errorf("expected exactly one provision and credential issuance, got %d and %d", provisions, credentials)
	}
}

func TestStartResolvesColdStart(t *testing.T) {
	engine, registryClient, adapter, _ := newTestEngine(t)
	seedUserInstance(registryClient, true)

	instance := registryClient.instances[testInstanceID]
	instance.EverStarted = false
	instance.Running = false
	instance.Status = "INACTIVE"
	registryClient.instances[testInstanceID] = instance

	if _, err := engine.Start(context.Background(), testLabID, userActor()); err != nil {
		t.Fatalf("cold start failed: %s", err)
	}

	if adapter.starts != 1 || adapter.restarts != 0 {
		t.Errorf("expected a cold start, got %d starts and %d restarts", adapter.starts, adapter.restarts)
	}

	if got := registryClient.instances[testInstanceID]; !got.Running || !got.EverStarted {
		t.Errorf("instance not recorded as running: %+v", got)
	}
}

func TestRestartResolvesWarmRestart(t *testing.T) {
	engine, registryClient, adapter, _ := newTestEngine(t)
	seedUserInstance(registryClient, true)

	if _, err := engine.Restart(context.Background(), testLabID, userActor()); err != nil {
		t.Fatalf("warm restart failed: %s", err)
	}

	if adapter.restarts != 1 || adapter.starts != 0 {
		t.Errorf("expected a warm restart, got %d restarts and %d starts", adapter.restarts, adapter.starts)
	}
}

func TestStopAlreadyStoppedIsSuccess(t *testing.T) {
	engine, registryClient, adapter, _ := newTestEngine(t)
	seedUserInstance(registryClient, true)
	adapter.stopErr = providers.ErrAlreadyInState

	if err := engine.Stop(context.Background(), testLabID, userActor()); err != nil {
		t.Fatalf("stop of an already stopped instance must succeed, got %s", err)
	}

	instance := registryClient.instances[testInstanceID]
	if instance.Running || instance.Status != "INACTIVE" {
		t.Errorf("instance not converged to stopped: %+v", instance)
	}
}

func TestPodStopLeavesInstanceRunning(t *testing.T) {
	engine, registryClient, adapter, _ := newTestEngine(t)
	seedOrgInstance(registryClient, true)

	if _, err := engine.Launch(context.Background(), testLabID, "", userActor()); err != nil {
		t.Fatalf("pod launch failed: %s", err)
	}

	if err := engine.Stop(context.Background(), testLabID, userActor()); err != nil {
		t.Fatalf("pod stop failed: %s", err)
	}

	if adapter.stops != 0 {
		t.Errorf("pod stop must not touch the provider, got %d stops", adapter.stops)
	}

	instance := registryClient.instances[testInstanceID]
	if !instance.Running {
		t.Error("shared instance must keep running when a pod stops")
	}

	pods, _ := registryClient.QueryPodByLabAndUser(context.Background(), nil, testLabID, "alice")
	if len(pods) != 1 || pods[0].Running {
		t.Errorf("pod session not marked ended: %+v", pods)
	}
}

func TestTeardownOrder(t *testing.T) {
	engine, registryClient, _, _ := newTestEngine(t)
	seedOrgInstance(registryClient, true)

	if _, err := engine.Launch(context.Background(), testLabID, "", userActor()); err != nil {
		t.Fatalf("pod launch failed: %s", err)
	}

	registryClient.mu.Lock()
	registryClient.ops = nil
	registryClient.mu.Unlock()

	if err := engine.Teardown(context.Background(), testLabID, adminActor()); err != nil {
		t.Fatalf("teardown failed: %s", err)
	}

	registryClient.mu.Lock()
	ops := append([]string(nil), registryClient.ops...)
	registryClient.mu.Unlock()

	if len(ops) < 4 {
		t.Fatalf("expected provider teardown, credential, pod and instance deletes, got %v", ops)
	}
	if ops[0] != "provider.teardown" {
		t.Errorf("provider must be torn down before any registry delete, got %v", ops)
	}
	if ops[len(ops)-1] != "instance.delete "+string(testInstanceID) {
		t.Errorf("instance row must be deleted last, got %v", ops)
	}

	if len(registryClient.instances) != 0 || len(registryClient.pods) != 0 || len(registryClient.credentials) != 0 {
		t.Error("teardown must delete all rows of the instance")
	}
}

func TestSweepExpired(t *testing.T) {
	engine, registryClient, adapter, _ := newTestEngine(t)
	seedUserInstance(registryClient, true)

	instance := registryClient.instances[testInstanceID]
	instance.EndsAt = time.Now().Add(-time.Minute)
	registryClient.instances[testInstanceID] = instance

	if err := engine.SweepExpired(context.Background()); err != nil {
		t.Fatalf("sweep failed: %s", err)
	}

	_, _, teardowns := adapter.calls()
	if teardowns != 1 {
		t.Errorf("expected the expired instance to be torn down, got %d teardowns", teardowns)
	}
	if len(registryClient.instances) != 0 {
		t.Errorf("expected the expired instance row to be deleted, got %+v", registryClient.instances)
	}
}

func TestGetStatusReflectsPod(t *testing.T) {
	engine, registryClient, _, _ := newTestEngine(t)
	seedOrgInstance(registryClient, true)

	if _, err := engine.Launch(context.Background(), testLabID, "", userActor()); err != nil {
		t.Fatalf("pod launch failed: %s", err)
	}
	if err := engine.Stop(context.Background(), testLabID, userActor()); err != nil {
		t.Fatalf("pod stop failed: %s", err)
	}

	snapshot, err := engine.GetStatus(context.Background(), testLabID, userActor())
	if err != nil {
		t.Fatalf("status query failed: %s", err)
	}

	if snapshot.Running {
		t.Error("a user whose pod session ended must see running=false")
	}

	adminSnapshot, err := engine.GetStatus(context.Background(), testLabID, adminActor())
	if err != nil {
		t.Fatalf("admin status query failed: %s", err)
	}

	if !adminSnapshot.Running {
		t.Error("the admin must still see the shared instance running")
	}
}

func TestListPodsScopedByRole(t *testing.T) {
	engine, registryClient, _, _ := newTestEngine(t)
	seedOrgInstance(registryClient, true)

	bob := Actor{UserID: "bob", OrgID: "org-acme", Role: types.RoleUser}

	if _, err := engine.Launch(context.Background(), testLabID, "", userActor()); err != nil {
		t.Fatalf("alice's launch failed: %s", err)
	}
	if _, err := engine.Launch(context.Background(), testLabID, "", bob); err != nil {
		t.Fatalf("bob's launch failed: %s", err)
	}

	mine, err := engine.ListPods(context.Background(), testLabID, userActor())
	if err != nil {
		t.Fatalf("user pod listing failed: %s", err)
	}
	if len(mine[types.RoleUser]) != 1 {
		t.Errorf("a plain user must only see their own pod, got %+v", mine)
	}

	all, err := engine.ListPods(context.Background(), testLabID, adminActor())
	if err != nil {
		t.Fatalf("admin pod listing failed: %s", err)
	}
	if len(all[types.RoleUser]) != 2 {
		t.Errorf("the admin must see every pod in the org, got %+v", all)
	}
}
