package caseledger

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/hyperledger/fabric-contract-api-go/contractapi"

	"github.com/medrex/caseledger/internal/ledger"
	"github.com/medrex/caseledger/pkg/logger"
	"github.com/medrex/caseledger/pkg/types"
)

// Options configures the contract
type Options struct {
	RequireDoctorGrant bool
	Logger             *logger.Logger
}

// SmartContract exposes the case ledger as chaincode. Structured query results are
// returned as JSON strings.
type SmartContract struct {
	contractapi.Contract
	opts Options
}

// NewSmartContract creates the contract
func NewSmartContract(opts Options) *SmartContract {
	if opts.Logger == nil {
		opts.Logger = logger.NewNop()
	}
	return &SmartContract{opts: opts}
}

// bind returns a ledger over the transaction's world state and the invoking identity
func (s *SmartContract) bind(ctx contractapi.TransactionContextInterface) (*ledger.Ledger, types.Account, error) {
	stub := ctx.GetStub()
	l := ledger.New(worldState{stub: stub}, ledger.Options{
		RequireDoctorGrant: s.opts.RequireDoctorGrant,
		Clock:              txClock(stub),
		Events:             stubEvents{stub: stub},
		Logger:             s.opts.Logger,
	})

	id, err := ctx.GetClientIdentity().GetID()
	if err != nil {
		return nil, "", types.NewUnauthenticatedError("failed to read client identity", err)
	}
	caller, err := types.ParseAccount("caller", id)
	if err != nil {
		return nil, "", types.NewUnauthenticatedError("client identity is empty", err)
	}
	return l, caller, nil
}

func txContext(ctx contractapi.TransactionContextInterface) context.Context {
	return logger.ContextWithRequestID(context.Background(), ctx.GetStub().GetTxID())
}

func toJSON(v interface{}, err error) (string, error) {
	if err != nil {
		return "", err
	}
	out, err := json.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("failed to encode result: %w", err)
	}
	return string(out), nil
}

// InitLedger makes the deploying identity the ledger admin. Only the first call succeeds.
func (s *SmartContract) InitLedger(ctx contractapi.TransactionContextInterface) error {
	l, caller, err := s.bind(ctx)
	if err != nil {
		return err
	}
	return l.ClaimAdmin(txContext(ctx), caller)
}

// RegisterPatient creates the invoking identity's patient profile
func (s *SmartContract) RegisterPatient(ctx contractapi.TransactionContextInterface, fullName, dob, addressDetails, contactNumber, allergies string, weight, height uint32, passcode string) error {
	l, caller, err := s.bind(ctx)
	if err != nil {
		return err
	}
	return l.RegisterPatient(txContext(ctx), caller, types.PatientRegistration{
		FullName:       fullName,
		DateOfBirth:    dob,
		AddressDetails: addressDetails,
		ContactNumber:  contactNumber,
		Allergies:      allergies,
		Weight:         weight,
		Height:         height,
		Passcode:       passcode,
	})
}

// AssignDoctor grants doctor access to the invoker's cases
func (s *SmartContract) AssignDoctor(ctx contractapi.TransactionContextInterface, doctor string) error {
	l, caller, err := s.bind(ctx)
	if err != nil {
		return err
	}
	account, err := types.ParseAccount("doctor", doctor)
	if err != nil {
		return err
	}
	return l.AssignDoctor(txContext(ctx), caller, account)
}

// GetRole returns the role of account
func (s *SmartContract) GetRole(ctx contractapi.TransactionContextInterface, account string) (string, error) {
	l, _, err := s.bind(ctx)
	if err != nil {
		return "", err
	}
	parsed, err := types.ParseAccount("account", account)
	if err != nil {
		return "", err
	}
	role, err := l.GetRole(txContext(ctx), parsed)
	return string(role), err
}

// Patients returns the profile of account as JSON
func (s *SmartContract) Patients(ctx contractapi.TransactionContextInterface, account string) (string, error) {
	l, _, err := s.bind(ctx)
	if err != nil {
		return "", err
	}
	parsed, err := types.ParseAccount("account", account)
	if err != nil {
		return "", err
	}
	return toJSON(l.Patients(txContext(ctx), parsed))
}

// GetAllDoctors lists every account granted doctor access
func (s *SmartContract) GetAllDoctors(ctx contractapi.TransactionContextInterface) ([]string, error) {
	l, _, err := s.bind(ctx)
	if err != nil {
		return nil, err
	}
	doctors, err := l.GetAllDoctors(txContext(ctx))
	if err != nil {
		return nil, err
	}
	return accountStrings(doctors), nil
}

// GetMyPatients lists the patients that granted the invoker access
func (s *SmartContract) GetMyPatients(ctx contractapi.TransactionContextInterface) ([]string, error) {
	l, caller, err := s.bind(ctx)
	if err != nil {
		return nil, err
	}
	patients, err := l.GetMyPatients(txContext(ctx), caller)
	if err != nil {
		return nil, err
	}
	return accountStrings(patients), nil
}

// CreateCase opens a case for patient and returns its id
func (s *SmartContract) CreateCase(ctx contractapi.TransactionContextInterface, patient, passcode, title string) (uint64, error) {
	l, caller, err := s.bind(ctx)
	if err != nil {
		return 0, err
	}
	account, err := types.ParseAccount("patient", patient)
	if err != nil {
		return 0, err
	}
	return l.CreateCase(txContext(ctx), caller, account, passcode, title)
}

// CloseCase closes an ongoing case
func (s *SmartContract) CloseCase(ctx contractapi.TransactionContextInterface, caseID uint64, passcode string) error {
	l, caller, err := s.bind(ctx)
	if err != nil {
		return err
	}
	return l.CloseCase(txContext(ctx), caller, caseID, passcode)
}

// GetCaseDetails returns a case as JSON
func (s *SmartContract) GetCaseDetails(ctx contractapi.TransactionContextInterface, caseID uint64) (string, error) {
	l, _, err := s.bind(ctx)
	if err != nil {
		return "", err
	}
	return toJSON(l.GetCaseDetails(txContext(ctx), caseID))
}

// GetMyCaseDetails returns a case the invoker may read, as JSON
func (s *SmartContract) GetMyCaseDetails(ctx contractapi.TransactionContextInterface, caseID uint64) (string, error) {
	l, caller, err := s.bind(ctx)
	if err != nil {
		return "", err
	}
	return toJSON(l.GetMyCaseDetails(txContext(ctx), caller, caseID))
}

// GetCaseIdsForPatient returns the case ids of account
func (s *SmartContract) GetCaseIdsForPatient(ctx contractapi.TransactionContextInterface, account string) ([]uint64, error) {
	l, _, err := s.bind(ctx)
	if err != nil {
		return nil, err
	}
	parsed, err := types.ParseAccount("account", account)
	if err != nil {
		return nil, err
	}
	return l.GetCaseIDsForPatient(txContext(ctx), parsed)
}

// GetMyCases returns the invoker's case ids and titles as JSON
func (s *SmartContract) GetMyCases(ctx contractapi.TransactionContextInterface) (string, error) {
	l, caller, err := s.bind(ctx)
	if err != nil {
		return "", err
	}
	return toJSON(l.GetMyCases(txContext(ctx), caller))
}

// CaseCounter returns the highest case id issued
func (s *SmartContract) CaseCounter(ctx contractapi.TransactionContextInterface) (uint64, error) {
	l, _, err := s.bind(ctx)
	if err != nil {
		return 0, err
	}
	return l.CaseCounter(txContext(ctx))
}

// AddRecord appends a clinical record and returns its id
func (s *SmartContract) AddRecord(ctx contractapi.TransactionContextInterface, caseID uint64, passcode, symptoms, cause, inference, prescription, advices, medications string) (uint64, error) {
	l, caller, err := s.bind(ctx)
	if err != nil {
		return 0, err
	}
	return l.AddRecord(txContext(ctx), caller, caseID, passcode, types.RecordEntry{
		Symptoms:     symptoms,
		Cause:        cause,
		Inference:    inference,
		Prescription: prescription,
		Advices:      advices,
		Medications:  medications,
	})
}

// AddReport appends a file store content id to a case
func (s *SmartContract) AddReport(ctx contractapi.TransactionContextInterface, caseID uint64, passcode, contentID string) error {
	l, caller, err := s.bind(ctx)
	if err != nil {
		return err
	}
	return l.AddReport(txContext(ctx), caller, caseID, passcode, contentID)
}

// Records returns a record as JSON
func (s *SmartContract) Records(ctx contractapi.TransactionContextInterface, recordID uint64) (string, error) {
	l, _, err := s.bind(ctx)
	if err != nil {
		return "", err
	}
	return toJSON(l.Records(txContext(ctx), recordID))
}

// GetMyCaseRecords returns every record of a case the invoker may read, as JSON
func (s *SmartContract) GetMyCaseRecords(ctx contractapi.TransactionContextInterface, caseID uint64) (string, error) {
	l, caller, err := s.bind(ctx)
	if err != nil {
		return "", err
	}
	return toJSON(l.GetMyCaseRecords(txContext(ctx), caller, caseID))
}

func accountStrings(accounts []types.Account) []string {
	out := make([]string, len(accounts))
	for i, a := range accounts {
		out[i] = string(a)
	}
	return out
}
