package engine

import (
	"context"
	"testing"

	"github.com/fenwicklabs/discoveryd/internal/apperr"
)

func TestStartDiscoveryValidatesRequiredFields(t *testing.T) {
	eng := New(nil, nil)

	tests := []struct {
		name string
		req  StartRequest
	}{
		{"missing target range", StartRequest{CredentialProfileID: "cp", CreatorID: "u"}},
		{"missing credential profile", StartRequest{TargetRange: "10.0.0.0/24", CreatorID: "u"}},
		{"missing creator", StartRequest{TargetRange: "10.0.0.0/24", CredentialProfileID: "cp"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := eng.StartDiscovery(context.Background(), tt.req)
			if apperr.KindOf(err) != apperr.InvalidArgument {
				t.Fatalf("expected InvalidArgument, got %v", err)
			}
		})
	}
}

func TestStartDiscoveryRejectsMalformedCIDR(t *testing.T) {
	eng := New(nil, nil)

	_, err := eng.StartDiscovery(context.Background(), StartRequest{
		TargetRange:         "not-a-cidr",
		CredentialProfileID: "cp",
		CreatorID:           "u",
	})
	if apperr.KindOf(err) != apperr.InvalidArgument {
		t.Fatalf("expected InvalidArgument for malformed CIDR, got %v", err)
	}
}

func TestStartDiscoveryRejectsOverlongPrefix(t *testing.T) {
	_, err := New(nil, nil).StartDiscovery(context.Background(), StartRequest{
		TargetRange:         "10.0.0.0/33",
		CredentialProfileID: "cp",
		CreatorID:           "u",
	})
	if apperr.KindOf(err) != apperr.InvalidArgument {
		t.Fatalf("expected InvalidArgument, got %v", err)
	}
}

func TestStartDiscoveryRejectsWideRangeWithoutOverride(t *testing.T) {
	_, err := New(nil, nil).StartDiscovery(context.Background(), StartRequest{
		TargetRange:         "10.0.0.0/8",
		CredentialProfileID: "cp",
		CreatorID:           "u",
	})
	if apperr.KindOf(err) != apperr.InvalidArgument {
		t.Fatalf("expected InvalidArgument for a /8 scan without an override, got %v", err)
	}
}
