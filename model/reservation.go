package model

import (
	"encoding/json"
	"fmt"
)

// DefaultPriority is used when a reservation request does not specify one.
// Priority 1 is the highest, 10 the lowest.
const DefaultPriority = 5

// ReservationRequest represents a request to reserve a laboratory. It is
// created once by the request layer and immutable afterwards; the serialized
// form is the metadata blob stored alongside the scheduling state.
type ReservationRequest struct {
	Identifier string `json:"identifier"`
	Laboratory string `json:"laboratory"`

	// Features restricts the candidate resources to those advertising every
	// listed feature.
	Features []string `json:"features"`

	// Resources is the ordered list of candidate resource identifiers fixed
	// at submission time.
	Resources []string `json:"resources"`

	UserIdentifier string `json:"user_identifier"`
	UserRole       string `json:"user_role"`

	// ExternalUserIdentifier is set when the request comes through a
	// federated system rather than a local user.
	ExternalUserIdentifier string `json:"external_user_identifier,omitempty"`

	UserFullName string  `json:"user_full_name,omitempty"`
	Locale       string  `json:"locale,omitempty"`
	MaxTime      float64 `json:"max_time,omitempty"`
	BackURL      string  `json:"back_url,omitempty"`

	Priority int `json:"priority"`
}

// UniqueUsername derives a globally unique username for the remote
// laboratory: federated users are qualified with the external identifier.
func (r *ReservationRequest) UniqueUsername() string {
	if r.ExternalUserIdentifier != "" {
		return r.ExternalUserIdentifier + "@" + r.UserIdentifier
	}
	return r.UserIdentifier
}

// Validate rejects malformed requests before they reach the store.
func (r *ReservationRequest) Validate() error {
	if r.Identifier == "" {
		return fmt.Errorf("reservation identifier is required")
	}
	if r.Laboratory == "" {
		return fmt.Errorf("laboratory is required")
	}
	if r.UserIdentifier == "" {
		return fmt.Errorf("user identifier is required")
	}
	if r.Priority < 1 || r.Priority > 10 {
		return fmt.Errorf("priority must be between 1 and 10, got %d", r.Priority)
	}
	return nil
}

// EncodeMetadata serializes the request into the stored metadata blob.
func (r *ReservationRequest) EncodeMetadata() (string, error) {
	data, err := json.Marshal(r)
	if err != nil {
		return "", fmt.Errorf("failed to encode reservation metadata: %w", err)
	}
	return string(data), nil
}

// DecodeMetadata deserializes a stored metadata blob.
func DecodeMetadata(data string) (*ReservationRequest, error) {
	ret := &ReservationRequest{}
	if err := json.Unmarshal([]byte(data), ret); err != nil {
		return nil, fmt.Errorf("failed to decode reservation metadata: %w", err)
	}
	if ret.Priority == 0 {
		ret.Priority = DefaultPriority
	}
	return ret, nil
}
