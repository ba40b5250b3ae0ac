package registry

import (
	"context"
	"testing"
)

func TestGetDevConfigs(t *testing.T) {
	configs, err := GetDevConfigs(context.Background(), mockConfigClient)
	if err != nil {
		t.Fatalf("did not expect an error, got %s", err)
	}

	if configs["ENABLED_REGIONS"] != `["us-east-1"]` {
		t.Errorf("expected ENABLED_REGIONS to be set, got %s", configs["ENABLED_REGIONS"])
	}

	if configs["MAX_PODS_PER_ORG_INSTANCE"] != "15" {
		t.Errorf("expected MAX_PODS_PER_ORG_INSTANCE to be 15, got %s", configs["MAX_PODS_PER_ORG_INSTANCE"])
	}
}

func TestGetGatewayVersion(t *testing.T) {
	version, err := GetGatewayVersion(context.Background(), mockConfigClient)
	if err != nil {
		t.Fatalf("did not expect an error, got %s", err)
	}

	if version.ProdGatewayVersion != "1.4.0" {
		t.Errorf("expected prod gateway version 1.4.0, got %s", version.ProdGatewayVersion)
	}

	if version.DevGatewayVersion != "1.2.0" {
		t.Errorf("expected dev gateway version 1.2.0, got %s", version.DevGatewayVersion)
	}
}
