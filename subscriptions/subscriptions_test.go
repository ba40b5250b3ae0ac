package subscriptions

import (
	"testing"

	graphql "github.com/hasura/go-graphql-client"
)

func TestInstancesStatusHandler(t *testing.T) {
	var tests = []struct {
		name      string
		variables map[string]interface{}
		event     InstanceEvent
		want      bool
	}{
		{"Matching status", map[string]interface{}{"status": graphql.String("EXPIRED")},
			InstanceEvent{[]Instance{{ID: "i-test", Status: "EXPIRED"}}}, true},
		{"Different status", map[string]interface{}{"status": graphql.String("EXPIRED")},
			InstanceEvent{[]Instance{{ID: "i-test", Status: "ACTIVE"}}}, false},
		{"Nil status variable", map[string]interface{}{}, InstanceEvent{[]Instance{{ID: "i-test", Status: "EXPIRED"}}}, false},
		{"Empty event", map[string]interface{}{"status": graphql.String("EXPIRED")}, InstanceEvent{}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := InstancesStatusHandler(tt.event, tt.variables); got != tt.want {
				t.Errorf("expected handler to return %v, got %v", tt.want, got)
			}
		})
	}
}

func TestPodsForInstanceHandler(t *testing.T) {
	var tests = []struct {
		name      string
		variables map[string]interface{}
		event     PodEvent
		want      bool
	}{
		{"Matching instance", map[string]interface{}{"instance_id": graphql.String("i-test")},
			PodEvent{[]Pod{{InstanceID: "i-test"}}}, true},
		{"Different instance", map[string]interface{}{"instance_id": graphql.String("i-test")},
			PodEvent{[]Pod{{InstanceID: "i-other"}}}, false},
		{"Nil instance variable", map[string]interface{}{}, PodEvent{[]Pod{{InstanceID: "i-test"}}}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := PodsForInstanceHandler(tt.event, tt.variables); got != tt.want {
				t.Errorf("expected handler to return %v, got %v", tt.want, got)
			}
		})
	}
}

func TestGatewayVersionHandler(t *testing.T) {
	populated := ConfigEvent{Versions: []ServiceVersion{{ProdGatewayVersion: "1.4.0"}}}
	if !GatewayVersionHandler(populated, nil) {
		t.Errorf("expected handler to accept a populated version event")
	}

	if GatewayVersionHandler(ConfigEvent{}, nil) {
		t.Errorf("expected handler to reject an empty version event")
	}
}
