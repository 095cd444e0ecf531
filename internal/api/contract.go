package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/gorilla/mux"

	"github.com/medrex/caseledger/pkg/types"
)

// contractRequest carries positional arguments, like a chaincode invocation
type contractRequest struct {
	Args []json.RawMessage `json:"args"`
}

type contractMethod struct {
	arity int
	call  func(ctx context.Context, caller types.Account, args []string) (interface{}, error)
}

// InvokeContract calls a ledger operation by its contract name, e.g. POST /api/v1/contract/addRecord
func (s *Server) InvokeContract(w http.ResponseWriter, r *http.Request) {
	name := mux.Vars(r)["method"]
	method, ok := s.contractMethods()[name]
	if !ok {
		s.writeError(w, r, types.NewNotFoundError("unknown contract method", map[string]interface{}{"method": name}))
		return
	}

	var req contractRequest
	if r.ContentLength != 0 {
		if err := decodeJSON(r, &req); err != nil {
			s.writeError(w, r, err)
			return
		}
	}
	args, err := contractArgs(req.Args)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if len(args) != method.arity {
		s.writeError(w, r, types.NewInvalidArgumentError("args",
			fmt.Sprintf("%s expects %d arguments, got %d", name, method.arity, len(args))))
		return
	}

	result, err := method.call(r.Context(), callerFrom(r), args)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"result": result})
}

// contractArgs flattens JSON strings and numbers into their textual form
func contractArgs(raw []json.RawMessage) ([]string, error) {
	args := make([]string, 0, len(raw))
	for i, v := range raw {
		var n numericString
		if err := json.Unmarshal(v, &n); err != nil {
			return nil, types.NewInvalidArgumentError("args", fmt.Sprintf("argument %d must be a string or number", i))
		}
		args = append(args, string(n))
	}
	return args, nil
}

func parseID(field, raw string) (uint64, error) {
	id, err := strconv.ParseUint(strings.TrimSpace(raw), 10, 64)
	if err != nil {
		return 0, types.NewInvalidArgumentError(field, field+" must be a non-negative integer")
	}
	return id, nil
}

func parseMeasure(field, raw string) (uint32, error) {
	if strings.TrimSpace(raw) == "" {
		return 0, nil
	}
	v, err := strconv.ParseUint(strings.TrimSpace(raw), 10, 32)
	if err != nil {
		return 0, types.NewInvalidArgumentError(field, field+" must be a non-negative integer")
	}
	return uint32(v), nil
}

func (s *Server) contractMethods() map[string]contractMethod {
	l := s.ledger
	return map[string]contractMethod{
		"registerPatient": {8, func(ctx context.Context, caller types.Account, a []string) (interface{}, error) {
			weight, err := parseMeasure("weight", a[5])
			if err != nil {
				return nil, err
			}
			height, err := parseMeasure("height", a[6])
			if err != nil {
				return nil, err
			}
			return nil, l.RegisterPatient(ctx, caller, types.PatientRegistration{
				FullName:       a[0],
				DateOfBirth:    a[1],
				AddressDetails: a[2],
				ContactNumber:  a[3],
				Allergies:      a[4],
				Weight:         weight,
				Height:         height,
				Passcode:       a[7],
			})
		}},
		"assignDoctor": {1, func(ctx context.Context, caller types.Account, a []string) (interface{}, error) {
			doctor, err := types.ParseAccount("doctor", a[0])
			if err != nil {
				return nil, err
			}
			return nil, l.AssignDoctor(ctx, caller, doctor)
		}},
		"getRole": {1, func(ctx context.Context, _ types.Account, a []string) (interface{}, error) {
			account, err := types.ParseAccount("account", a[0])
			if err != nil {
				return nil, err
			}
			return l.GetRole(ctx, account)
		}},
		"patients": {1, func(ctx context.Context, _ types.Account, a []string) (interface{}, error) {
			account, err := types.ParseAccount("account", a[0])
			if err != nil {
				return nil, err
			}
			return l.Patients(ctx, account)
		}},
		"getAllDoctors": {0, func(ctx context.Context, _ types.Account, _ []string) (interface{}, error) {
			return l.GetAllDoctors(ctx)
		}},
		"getMyPatients": {0, func(ctx context.Context, caller types.Account, _ []string) (interface{}, error) {
			return l.GetMyPatients(ctx, caller)
		}},
		"createCase": {3, func(ctx context.Context, caller types.Account, a []string) (interface{}, error) {
			patient, err := types.ParseAccount("patient", a[0])
			if err != nil {
				return nil, err
			}
			return l.CreateCase(ctx, caller, patient, a[1], a[2])
		}},
		"closeCase": {2, func(ctx context.Context, caller types.Account, a []string) (interface{}, error) {
			caseID, err := parseID("caseId", a[0])
			if err != nil {
				return nil, err
			}
			return nil, l.CloseCase(ctx, caller, caseID, a[1])
		}},
		"getCaseDetails": {1, func(ctx context.Context, _ types.Account, a []string) (interface{}, error) {
			caseID, err := parseID("caseId", a[0])
			if err != nil {
				return nil, err
			}
			return l.GetCaseDetails(ctx, caseID)
		}},
		"getMyCaseDetails": {1, func(ctx context.Context, caller types.Account, a []string) (interface{}, error) {
			caseID, err := parseID("caseId", a[0])
			if err != nil {
				return nil, err
			}
			return l.GetMyCaseDetails(ctx, caller, caseID)
		}},
		"getCaseIdsForPatient": {1, func(ctx context.Context, _ types.Account, a []string) (interface{}, error) {
			account, err := types.ParseAccount("account", a[0])
			if err != nil {
				return nil, err
			}
			return l.GetCaseIDsForPatient(ctx, account)
		}},
		"getMyCases": {0, func(ctx context.Context, caller types.Account, _ []string) (interface{}, error) {
			return l.GetMyCases(ctx, caller)
		}},
		"caseCounter": {0, func(ctx context.Context, _ types.Account, _ []string) (interface{}, error) {
			return l.CaseCounter(ctx)
		}},
		"addRecord": {8, func(ctx context.Context, caller types.Account, a []string) (interface{}, error) {
			caseID, err := parseID("caseId", a[0])
			if err != nil {
				return nil, err
			}
			return l.AddRecord(ctx, caller, caseID, a[1], types.RecordEntry{
				Symptoms:     a[2],
				Cause:        a[3],
				Inference:    a[4],
				Prescription: a[5],
				Advices:      a[6],
				Medications:  a[7],
			})
		}},
		"addReport": {3, func(ctx context.Context, caller types.Account, a []string) (interface{}, error) {
			caseID, err := parseID("caseId", a[0])
			if err != nil {
				return nil, err
			}
			return nil, l.AddReport(ctx, caller, caseID, a[1], a[2])
		}},
		"records": {1, func(ctx context.Context, _ types.Account, a []string) (interface{}, error) {
			recordID, err := parseID("recordId", a[0])
			if err != nil {
				return nil, err
			}
			return l.Records(ctx, recordID)
		}},
		"getMyCaseRecords": {1, func(ctx context.Context, caller types.Account, a []string) (interface{}, error) {
			caseID, err := parseID("caseId", a[0])
			if err != nil {
				return nil, err
			}
			return l.GetMyCaseRecords(ctx, caller, caseID)
		}},
	}
}
