package model

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestStatus_Rank(t *testing.T) {
	// The observed sequence of a successful reservation is non-decreasing.
	sequence := []Status{StatusPending, StatusQueued, StatusInitializing, StatusReady, StatusFinishing, StatusFinished}
	for i := 1; i < len(sequence); i++ {
		assert.GreaterOrEqual(t, sequence[i].Rank(), sequence[i-1].Rank(), "%v -> %v", sequence[i-1], sequence[i])
	}
	assert.True(t, StatusFinished.IsTerminal())
	assert.True(t, StatusBroken.IsTerminal())
	assert.True(t, StatusUnavailable.IsTerminal())
	assert.False(t, StatusReady.IsTerminal())
	assert.True(t, StatusQueued.IsClaimable())
	assert.False(t, StatusInitializing.IsClaimable())
	assert.False(t, StatusFinishing.IsCancellable())
}

func TestParseAPIVariant(t *testing.T) {
	testCases := []struct {
		name      string
		api       string
		expect    APIVariant
		expectErr bool
	}{
		{name: "empty defaults to labdiscovery", api: "", expect: APIVariantLabDiscovery},
		{name: "labdiscoverylib", api: "labdiscoverylib", expect: APIVariantLabDiscovery},
		{name: "versioned weblablib", api: "weblablib-6.0", expect: APIVariantWebLab},
		{name: "unknown", api: "soap", expectErr: true},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			variant, err := ParseAPIVariant(tc.api)
			if tc.expectErr {
				assert.Error(t, err)
				return
			}
			assert.NoError(t, err)
			assert.Equal(t, tc.expect, variant)
		})
	}
}

func TestReservationRequest_Metadata(t *testing.T) {
	request := &ReservationRequest{
		Identifier:     "res-1",
		Laboratory:     "dummy",
		Resources:      []string{"dummy-1", "dummy-2"},
		UserIdentifier: "john",
		UserRole:       "student",
		Priority:       3,
		MaxTime:        300,
	}
	assert.NoError(t, request.Validate())

	encoded, err := request.EncodeMetadata()
	assert.NoError(t, err)

	decoded, err := DecodeMetadata(encoded)
	assert.NoError(t, err)
	assert.Equal(t, request, decoded)
}

func TestReservationRequest_UniqueUsername(t *testing.T) {
	local := &ReservationRequest{UserIdentifier: "john"}
	assert.Equal(t, "john", local.UniqueUsername())

	federated := &ReservationRequest{UserIdentifier: "labsland", ExternalUserIdentifier: "anonymous-123"}
	assert.Equal(t, "anonymous-123@labsland", federated.UniqueUsername())
}

func TestReservationRequest_Validate(t *testing.T) {
	assert.Error(t, (&ReservationRequest{Laboratory: "dummy", UserIdentifier: "john", Priority: 5}).Validate())
	assert.Error(t, (&ReservationRequest{Identifier: "r", UserIdentifier: "john", Priority: 5}).Validate())
	assert.Error(t, (&ReservationRequest{Identifier: "r", Laboratory: "dummy", Priority: 5}).Validate())
	assert.Error(t, (&ReservationRequest{Identifier: "r", Laboratory: "dummy", UserIdentifier: "john", Priority: 0}).Validate())
	assert.Error(t, (&ReservationRequest{Identifier: "r", Laboratory: "dummy", UserIdentifier: "john", Priority: 11}).Validate())
}

func TestReservationStatus_HasChangedFrom(t *testing.T) {
	current := &ReservationStatus{ReservationID: "r", Status: StatusQueued, Position: 1}
	assert.True(t, current.HasChangedFrom(nil))
	assert.False(t, current.HasChangedFrom(&ReservationStatus{ReservationID: "r", Status: StatusQueued, Position: 1}))
	assert.True(t, current.HasChangedFrom(&ReservationStatus{ReservationID: "r", Status: StatusQueued, Position: 2}))
	assert.True(t, current.HasChangedFrom(&ReservationStatus{ReservationID: "r", Status: StatusPending}))
}
