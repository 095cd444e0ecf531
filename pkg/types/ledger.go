package types

import (
	"strconv"
	"strings"
	"time"
)

// Account is the opaque external identity of a caller.
type Account string

// ParseAccount normalizes an account received from a client. Hex addresses
// are case-insensitive and are stored in lower case.
func ParseAccount(field, raw string) (Account, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", NewInvalidArgumentError(field, field+" is required")
	}
	if strings.HasPrefix(raw, "0x") || strings.HasPrefix(raw, "0X") {
		raw = strings.ToLower(raw)
	}
	return Account(raw), nil
}

// Role represents the single role an account holds
type Role string

const (
	RoleUnregistered Role = "Unregistered"
	RolePatient      Role = "Patient"
	RoleDoctor       Role = "Doctor"
	RoleAdmin        Role = "Admin"
)

// Passcode is the numeric shared secret associated with a patient.
type Passcode uint64

// ParsePasscode parses a caller-supplied passcode. Only decimal digits are accepted.
func ParsePasscode(raw string) (Passcode, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return 0, NewInvalidArgumentError("passcode", "passcode is required")
	}
	for _, r := range raw {
		if r < '0' || r > '9' {
			return 0, NewInvalidArgumentError("passcode", "passcode must be numeric")
		}
	}
	v, err := strconv.ParseUint(raw, 10, 64)
	if err != nil {
		return 0, NewInvalidArgumentError("passcode", "passcode is out of range")
	}
	return Passcode(v), nil
}

// PatientRegistration carries the fields of a registerPatient call
type PatientRegistration struct {
	FullName       string `json:"fullName"`
	DateOfBirth    string `json:"dob"`
	AddressDetails string `json:"addressDetails"`
	ContactNumber  string `json:"contactNumber"`
	Allergies      string `json:"allergies"`
	Weight         uint32 `json:"weight"`
	Height         uint32 `json:"height"`
	Passcode       string `json:"passcode"`
}

// PatientProfile is the public view of a registered account. The passcode is never exposed.
type PatientProfile struct {
	Account        Account   `json:"account"`
	FullName       string    `json:"fullName"`
	DateOfBirth    string    `json:"dob"`
	AddressDetails string    `json:"addressDetails"`
	ContactNumber  string    `json:"contactNumber"`
	Allergies      string    `json:"allergies"`
	Weight         uint32    `json:"weight"`
	Height         uint32    `json:"height"`
	Role           Role      `json:"role"`
	RegisteredAt   time.Time `json:"registeredAt"`
}

// Case is a patient-scoped container of records and reports
type Case struct {
	CaseID     uint64     `json:"caseId"`
	Patient    Account    `json:"patient"`
	Title      string     `json:"caseTitle"`
	IsOngoing  bool       `json:"isOngoing"`
	RecordIDs  []uint64   `json:"recordIds"`
	ReportCIDs []string   `json:"reportCIDs"`
	CreatedAt  time.Time  `json:"createdAt"`
	ClosedAt   *time.Time `json:"closedAt,omitempty"`
}

// Record is an immutable clinical entry authored against a case
type Record struct {
	RecordID     uint64    `json:"recordId"`
	CaseID       uint64    `json:"caseId"`
	Doctor       Account   `json:"doctor"`
	Symptoms     string    `json:"symptoms"`
	Cause        string    `json:"cause"`
	Inference    string    `json:"inference"`
	Prescription string    `json:"prescription"`
	Advices      string    `json:"advices"`
	Medications  string    `json:"medications"`
	CreatedAt    time.Time `json:"createdAt"`
}

// RecordEntry carries the clinical fields of an addRecord call
type RecordEntry struct {
	Symptoms     string `json:"symptoms"`
	Cause        string `json:"cause"`
	Inference    string `json:"inference"`
	Prescription string `json:"prescription"`
	Advices      string `json:"advices"`
	Medications  string `json:"medications"`
}

// CaseRecord is a record resolved for display, with the author's profile name when known
type CaseRecord struct {
	Record
	DoctorName string `json:"doctorName,omitempty"`
}

// MyCases is the result of getMyCases: parallel id and title sequences
type MyCases struct {
	CaseIDs []uint64 `json:"caseIds"`
	Titles  []string `json:"titles"`
}
