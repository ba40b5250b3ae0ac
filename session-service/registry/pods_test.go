package registry

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/hasura/go-graphql-client"

	"github.com/hackrange/hackrange/backend/services/subscriptions"
	"github.com/hackrange/hackrange/backend/services/types"
	"github.com/hackrange/hackrange/backend/services/utils"
)

func TestQueryPodByLabAndUser(t *testing.T) {
	var tests = []struct {
		name   string
		labID  string
		userID string
		found  bool
	}{
		{"Existing pod", "lab-cloud-breach", "user-alice", true},
		{"User not bound", "lab-cloud-breach", "user-carol", false},
		{"Unknown lab", "lab-unknown", "user-alice", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res, err := testDBClient.QueryPodByLabAndUser(context.Background(), mockPodsClient,
				types.LabID(tt.labID), types.UserID(tt.userID))
			if err != nil {
				t.Fatalf("did not expect an error, got %s", err)
			}

			if tt.found && len(res) != 1 {
				t.Fatalf("expected exactly one pod, got %d", len(res))
			}

			if !tt.found && len(res) != 0 {
				t.Fatalf("expected no pods, got %d", len(res))
			}
		})
	}
}

func TestQueryPodsByInstance(t *testing.T) {
	res, err := testDBClient.QueryPodsByInstance(context.Background(), mockPodsClient, "instance-one")
	if err != nil {
		t.Fatalf("did not expect an error, got %s", err)
	}

	if len(res) != 2 {
		t.Fatalf("expected two pods under instance-one, got %d", len(res))
	}
}

func TestInsertAndDeletePod(t *testing.T) {
	podID := types.PodID(uuid.New())

	rows, err := testDBClient.InsertPods(context.Background(), mockPodsClient, []subscriptions.Pod{
		{
			ID:         podID,
			LabID:      "lab-cloud-breach",
			InstanceID: "instance-one",
			OrgID:      "org-acme",
			UserID:     "user-dave",
			Role:       "user",
		},
	})
	if err != nil {
		t.Fatalf("did not expect an error, got %s", err)
	}

	if rows != 1 {
		t.Fatalf("expected 1 affected row, got %d", rows)
	}

	res, err := testDBClient.QueryPod(context.Background(), mockPodsClient, podID)
	if err != nil {
		t.Fatalf("did not expect an error, got %s", err)
	}

	if len(res) != 1 || res[0].UserID != "user-dave" {
		t.Fatalf("inserted pod not found on query, got %v", res)
	}

	rows, err = testDBClient.DeletePod(context.Background(), mockPodsClient, podID)
	if err != nil {
		t.Fatalf("did not expect an error, got %s", err)
	}

	if rows != 1 {
		t.Fatalf("expected 1 affected row on delete, got %d", rows)
	}
}

func TestUpdatePod(t *testing.T) {
	defer func() {
		testPods[0].Running = graphql.Boolean(true)
		testPods[0].EverStarted = graphql.Boolean(false)
	}()

	rows, err := testDBClient.UpdatePod(context.Background(), mockPodsClient, subscriptions.Pod{
		ID:          types.PodID(utils.PlaceholderTestUUID()),
		LabID:       "lab-cloud-breach",
		InstanceID:  "instance-one",
		OrgID:       "org-acme",
		UserID:      "user-alice",
		Role:        "user",
		Launched:    true,
		EverStarted: true,
		Running:     false,
	})
	if err != nil {
		t.Fatalf("did not expect an error, got %s", err)
	}

	if rows != 1 {
		t.Fatalf("expected 1 affected row, got %d", rows)
	}

	if bool(testPods[0].Running) || !bool(testPods[0].EverStarted) {
		t.Errorf("expected pod to be updated, got %v", testPods[0])
	}
}

func TestDeletePodsByInstance(t *testing.T) {
	// Restore the shared fixtures once the bulk delete has run.
	defer setup()

	rows, err := testDBClient.DeletePodsByInstance(context.Background(), mockPodsClient, "instance-one")
	if err != nil {
		t.Fatalf("did not expect an error, got %s", err)
	}

	if rows != 2 {
		t.Fatalf("expected 2 affected rows, got %d", rows)
	}

	res, err := testDBClient.QueryPodsByInstance(context.Background(), mockPodsClient, "instance-one")
	if err != nil {
		t.Fatalf("did not expect an error, got %s", err)
	}

	if len(res) != 0 {
		t.Fatalf("expected no pods after delete, got %d", len(res))
	}
}

func TestCredentialLifecycle(t *testing.T) {
	// Restore the shared fixtures once the delete has run.
	defer setup()

	res, err := testDBClient.QueryCredentialByOwner(context.Background(), mockPodsClient, "instance", "instance-one")
	if err != nil {
		t.Fatalf("did not expect an error, got %s", err)
	}

	if len(res) != 1 || res[0].Username != "student" {
		t.Fatalf("expected the issued credential, got %v", res)
	}

	rows, err := testDBClient.InsertCredentials(context.Background(), mockPodsClient, []subscriptions.Credential{
		{
			ID:        uuid.NewString(),
			OwnerKind: "pod",
			OwnerID:   utils.PlaceholderTestUUID().String(),
			Username:  "student-alice",
			Password:  "test_password",
			Protocol:  "rdp",
			Hostname:  "10.0.0.4",
			Port:      3389,
			CreatedAt: time.Now(),
		},
	})
	if err != nil {
		t.Fatalf("did not expect an error, got %s", err)
	}

	if rows != 1 {
		t.Fatalf("expected 1 affected row, got %d", rows)
	}

	rows, err = testDBClient.DeleteCredentialByOwner(context.Background(), mockPodsClient, "pod", utils.PlaceholderTestUUID().String())
	if err != nil {
		t.Fatalf("did not expect an error, got %s", err)
	}

	if rows != 1 {
		t.Fatalf("expected 1 affected row on delete, got %d", rows)
	}
}

func TestGroupPodsByRole(t *testing.T) {
	pods := []subscriptions.Pod{
		{UserID: "user-alice", Role: "user"},
		{UserID: "user-bob", Role: "labadmin"},
		{UserID: "user-carol", Role: "user"},
	}

	grouped := GroupPodsByRole(pods)

	if len(grouped[types.Role("user")]) != 2 {
		t.Errorf("expected 2 pods with the user role, got %d", len(grouped[types.Role("user")]))
	}

	if len(grouped[types.Role("labadmin")]) != 1 {
		t.Errorf("expected 1 pod with the labadmin role, got %d", len(grouped[types.Role("labadmin")]))
	}
}

func TestCountActivePods(t *testing.T) {
	pods := []subscriptions.Pod{
		{UserID: "user-alice", Running: true},
		{UserID: "user-bob", Running: false},
	}

	// Pods count against the cap whether their session is live or not.
	if got := CountActivePods(pods); got != 2 {
		t.Errorf("expected 2 counted pods, got %d", got)
	}
}
