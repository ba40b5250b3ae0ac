package subscriptions

import "github.com/hasura/go-graphql-client"

// InsertInstances inserts multiple instances to the database.
var InsertInstances struct {
	MutationResponse struct {
		AffectedRows graphql.Int `graphql:"affected_rows"`
	} `graphql:"insert_lab_instances(objects: $objects)"`
}

// UpdateInstance updates the row of an instance to the given values.
var UpdateInstance struct {
	MutationResponse struct {
		AffectedRows graphql.Int `graphql:"affected_rows"`
	} `graphql:"update_lab_instances(where: {id: {_eq: $id}}, _set: $changes)"`
}

// UpdateInstanceStatus updates the status of an instance to the given status.
var UpdateInstanceStatus struct {
	MutationResponse struct {
		AffectedRows graphql.Int `graphql:"affected_rows"`
	} `graphql:"update_lab_instances(where: {id: {_eq: $id}}, _set: {status: $status})"`
}

// DeleteInstanceById deletes the instance that matches the given id.
var DeleteInstanceById struct {
	MutationResponse struct {
		AffectedRows graphql.Int `graphql:"affected_rows"`
	} `graphql:"delete_lab_instances(where: {id: {_eq: $id}})"`
}

// InsertPods inserts multiple pods to the database.
var InsertPods struct {
	MutationResponse struct {
		AffectedRows graphql.Int `graphql:"affected_rows"`
	} `graphql:"insert_lab_pods(objects: $objects)"`
}

// UpdatePod updates the row of a pod to the given values.
var UpdatePod struct {
	MutationResponse struct {
		AffectedRows graphql.Int `graphql:"affected_rows"`
	} `graphql:"update_lab_pods(where: {id: {_eq: $id}}, _set: $changes)"`
}

// DeletePodById deletes the pod that matches the given id.
var DeletePodById struct {
	MutationResponse struct {
		AffectedRows graphql.Int `graphql:"affected_rows"`
	} `graphql:"delete_lab_pods(where: {id: {_eq: $id}})"`
}

// DeletePodsByInstance deletes every pod bound under the given instance.
var DeletePodsByInstance struct {
	MutationResponse struct {
		AffectedRows graphql.Int `graphql:"affected_rows"`
	} `graphql:"delete_lab_pods(where: {instance_id: {_eq: $instance_id}})"`
}

// InsertCredentials inserts credential rows to the database.
var InsertCredentials struct {
	MutationResponse struct {
		AffectedRows graphql.Int `graphql:"affected_rows"`
	} `graphql:"insert_lab_credentials(objects: $objects)"`
}

// DeleteCredentialByOwner deletes the credential issued for the given
// instance or pod.
var DeleteCredentialByOwner struct {
	MutationResponse struct {
		AffectedRows graphql.Int `graphql:"affected_rows"`
	} `graphql:"delete_lab_credentials(where: {owner_kind: {_eq: $owner_kind}, _and: {owner_id: {_eq: $owner_id}}})"`
}
