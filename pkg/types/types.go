package types

import (
	"time"
)

// Fix is a raw reading from the platform location source
type Fix struct {
	Latitude  float64   `json:"latitude"`
	Longitude float64   `json:"longitude"`
	Accuracy  float64   `json:"accuracy"` // meters, 68% confidence radius
	Speed     *float64  `json:"speed,omitempty"`
	Heading   *float64  `json:"heading,omitempty"`
	Altitude  *float64  `json:"altitude,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// LocationSample is a fix that passed sampling and is owned by a user
type LocationSample struct {
	OwnerUserID         string    `cbor:"1,keyasint" json:"user_id"`
	Latitude            float64   `cbor:"2,keyasint" json:"latitude"`
	Longitude           float64   `cbor:"3,keyasint" json:"longitude"`
	Accuracy            float64   `cbor:"4,keyasint" json:"accuracy"`
	Speed               *float64  `cbor:"5,keyasint,omitempty" json:"speed"`
	Heading             *float64  `cbor:"6,keyasint,omitempty" json:"heading"`
	Altitude            *float64  `cbor:"7,keyasint,omitempty" json:"altitude"`
	DistanceDeltaMeters float64   `cbor:"8,keyasint" json:"distance_delta_meters"`
	RecordedAt          time.Time `cbor:"9,keyasint" json:"recorded_at"`
}

// BufferedEntry is a sample waiting in the durable queue
type BufferedEntry struct {
	LocationSample `cbor:"1,keyasint"`

	ID            uint64     `cbor:"-"` // assigned by the queue, stored as the key
	EnqueuedAt    time.Time  `cbor:"2,keyasint"`
	LastAttemptAt *time.Time `cbor:"3,keyasint,omitempty"`
	LastError     string     `cbor:"4,keyasint,omitempty"`
}

// Record is the server's echo of a delivered sample
type Record struct {
	ID                  string    `json:"id"`
	UserID              string    `json:"user_id"`
	Latitude            float64   `json:"latitude"`
	Longitude           float64   `json:"longitude"`
	Accuracy            float64   `json:"accuracy"`
	Speed               *float64  `json:"speed"`
	Heading             *float64  `json:"heading"`
	Altitude            *float64  `json:"altitude"`
	DistanceDeltaMeters float64   `json:"distance_delta_meters"`
	RecordedAt          time.Time `json:"recorded_at"`
}

// SessionCredential holds the tokens of the signed-in user
type SessionCredential struct {
	AccessToken  string
	RefreshToken string
	APIKey       string
	UserID       string
	ExpiresAt    time.Time
}

// Valid reports whether the credential carries enough to authenticate
func (c *SessionCredential) Valid() bool {
	return c != nil && c.AccessToken != "" && c.UserID != ""
}

// AuthState is the position of the session in the refresh state machine
type AuthState string

const (
	AuthStateAuthenticated  AuthState = "authenticated"
	AuthStateRefreshPending AuthState = "refresh_pending"
	AuthStatePinRequired    AuthState = "pin_required"
	AuthStateLoggedOut      AuthState = "logged_out"
)

// Outcome tags the result of one delivery attempt or one flush
type Outcome string

const (
	OutcomeSuccess          Outcome = "success"
	OutcomeTransientFailure Outcome = "transient_failure"
	OutcomeAuthFailure      Outcome = "auth_failure"
	OutcomeFatal            Outcome = "fatal"
)
