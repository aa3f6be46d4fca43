package models

import "github.com/adamscao/pkiserver/internal/apperr"

// RequestStatus is the lifecycle state of a CSR request
type RequestStatus string

const (
	StatusPending  RequestStatus = "pending"
	StatusApproved RequestStatus = "approved"
	StatusRejected RequestStatus = "rejected"
	// StatusExpired is part of the stored schema but no transition leads to it.
	StatusExpired RequestStatus = "expired"
)

// transitions lists every legal move. Anything missing is rejected.
var transitions = map[RequestStatus][]RequestStatus{
	StatusPending:  {StatusApproved, StatusRejected},
	StatusApproved: nil,
	StatusRejected: nil,
	StatusExpired:  nil,
}

// Valid reports whether s is a known status
func (s RequestStatus) Valid() bool {
	_, ok := transitions[s]
	return ok
}

// Terminal reports whether no transition leaves s
func (s RequestStatus) Terminal() bool {
	return len(transitions[s]) == 0
}

// CanTransition reports whether from -> to is allowed
func CanTransition(from, to RequestStatus) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// Transition validates from -> to and returns a conflict error when illegal
func Transition(from, to RequestStatus) error {
	if !from.Valid() {
		return apperr.Validation("models.Transition", "unknown request status %q", from)
	}
	if !CanTransition(from, to) {
		return apperr.Conflict("models.Transition", "request already processed (status %s, cannot become %s)", from, to)
	}
	return nil
}

// CertType selects the key usage profile of an issued certificate
type CertType string

const (
	CertTypeServer CertType = "server"
	CertTypeClient CertType = "client"
	CertTypeBoth   CertType = "both"
)

// ParseCertType parses s, defaulting to server when empty
func ParseCertType(s string) (CertType, error) {
	switch CertType(s) {
	case "":
		return CertTypeServer, nil
	case CertTypeServer, CertTypeClient, CertTypeBoth:
		return CertType(s), nil
	default:
		return "", apperr.Validation("models.ParseCertType", "invalid cert type %q (want server, client or both)", s)
	}
}
