package api

import (
	"encoding/json"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/gorilla/mux"

	"github.com/medrex/caseledger/pkg/types"
)

// numericString accepts a JSON string or number, so passcodes may be sent either way
type numericString string

func (n *numericString) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err == nil {
		*n = numericString(s)
		return nil
	}
	var num json.Number
	if err := json.Unmarshal(b, &num); err != nil {
		return err
	}
	*n = numericString(num.String())
	return nil
}

type registerPatientRequest struct {
	FullName       string        `json:"fullName"`
	DateOfBirth    string        `json:"dob"`
	AddressDetails string        `json:"addressDetails"`
	ContactNumber  string        `json:"contactNumber"`
	Allergies      string        `json:"allergies"`
	Weight         uint32        `json:"weight"`
	Height         uint32        `json:"height"`
	Passcode       numericString `json:"passcode"`
}

type assignDoctorRequest struct {
	Doctor string `json:"doctor"`
}

type createCaseRequest struct {
	Patient  string        `json:"patient"`
	Passcode numericString `json:"passcode"`
	Title    string        `json:"title"`
}

type passcodeRequest struct {
	Passcode numericString `json:"passcode"`
}

type addRecordRequest struct {
	Passcode numericString `json:"passcode"`
	types.RecordEntry
}

type addReportRequest struct {
	Passcode numericString `json:"passcode"`
	CID      string        `json:"cid"`
}

func decodeJSON(r *http.Request, v interface{}) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		if err == io.EOF {
			return types.NewInvalidArgumentError("body", "request body is required")
		}
		return types.NewInvalidArgumentError("body", "invalid JSON payload: "+err.Error())
	}
	return nil
}

func pathID(r *http.Request, name string) (uint64, error) {
	id, err := strconv.ParseUint(mux.Vars(r)[name], 10, 64)
	if err != nil {
		return 0, types.NewInvalidArgumentError(name, name+" must be a non-negative integer")
	}
	return id, nil
}

func pathAccount(r *http.Request) (types.Account, error) {
	return types.ParseAccount("account", mux.Vars(r)["account"])
}

// RegisterPatient handles registerPatient for the caller
func (s *Server) RegisterPatient(w http.ResponseWriter, r *http.Request) {
	var req registerPatientRequest
	if err := decodeJSON(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}

	caller := callerFrom(r)
	err := s.ledger.RegisterPatient(r.Context(), caller, types.PatientRegistration{
		FullName:       req.FullName,
		DateOfBirth:    req.DateOfBirth,
		AddressDetails: req.AddressDetails,
		ContactNumber:  req.ContactNumber,
		Allergies:      req.Allergies,
		Weight:         req.Weight,
		Height:         req.Height,
		Passcode:       string(req.Passcode),
	})
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	profile, err := s.ledger.Patients(r.Context(), caller)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, profile)
}

// GetPatient handles patients(account)
func (s *Server) GetPatient(w http.ResponseWriter, r *http.Request) {
	account, err := pathAccount(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	profile, err := s.ledger.Patients(r.Context(), account)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, profile)
}

// GetRole handles getRole(account)
func (s *Server) GetRole(w http.ResponseWriter, r *http.Request) {
	account, err := pathAccount(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeRole(w, r, account)
}

// GetMyRole returns the caller's role
func (s *Server) GetMyRole(w http.ResponseWriter, r *http.Request) {
	s.writeRole(w, r, callerFrom(r))
}

func (s *Server) writeRole(w http.ResponseWriter, r *http.Request, account types.Account) {
	role, err := s.ledger.GetRole(r.Context(), account)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"account": account, "role": role})
}

// AssignDoctor handles assignDoctor(account)
func (s *Server) AssignDoctor(w http.ResponseWriter, r *http.Request) {
	var req assignDoctorRequest
	if err := decodeJSON(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	doctor, err := types.ParseAccount("doctor", req.Doctor)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if err := s.ledger.AssignDoctor(r.Context(), callerFrom(r), doctor); err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"patient": callerFrom(r), "doctor": doctor})
}

// GetAllDoctors handles getAllDoctors
func (s *Server) GetAllDoctors(w http.ResponseWriter, r *http.Request) {
	doctors, err := s.ledger.GetAllDoctors(r.Context())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"doctors": doctors})
}

// GetMyPatients lists the patients that granted the caller access
func (s *Server) GetMyPatients(w http.ResponseWriter, r *http.Request) {
	patients, err := s.ledger.GetMyPatients(r.Context(), callerFrom(r))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"patients": patients})
}

// CreateCase handles createCase(patient, passcode, title)
func (s *Server) CreateCase(w http.ResponseWriter, r *http.Request) {
	var req createCaseRequest
	if err := decodeJSON(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	patient, err := types.ParseAccount("patient", req.Patient)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	caseID, err := s.ledger.CreateCase(r.Context(), callerFrom(r), patient, string(req.Passcode), req.Title)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]interface{}{"caseId": caseID})
}

// CloseCase handles closeCase(caseId, passcode)
func (s *Server) CloseCase(w http.ResponseWriter, r *http.Request) {
	caseID, err := pathID(r, "caseId")
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	var req passcodeRequest
	if err := decodeJSON(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}

	if err := s.ledger.CloseCase(r.Context(), callerFrom(r), caseID, string(req.Passcode)); err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"caseId": caseID, "isOngoing": false})
}

// GetCaseDetails handles getCaseDetails(caseId)
func (s *Server) GetCaseDetails(w http.ResponseWriter, r *http.Request) {
	caseID, err := pathID(r, "caseId")
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	c, err := s.ledger.GetCaseDetails(r.Context(), caseID)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, c)
}

// GetMyCaseDetails returns a case the caller may read
func (s *Server) GetMyCaseDetails(w http.ResponseWriter, r *http.Request) {
	caseID, err := pathID(r, "caseId")
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	c, err := s.ledger.GetMyCaseDetails(r.Context(), callerFrom(r), caseID)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, c)
}

// GetCaseIDsForPatient handles getCaseIdsForPatient(account)
func (s *Server) GetCaseIDsForPatient(w http.ResponseWriter, r *http.Request) {
	account, err := pathAccount(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	ids, err := s.ledger.GetCaseIDsForPatient(r.Context(), account)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"caseIds": ids})
}

// GetMyCases handles getMyCases
func (s *Server) GetMyCases(w http.ResponseWriter, r *http.Request) {
	cases, err := s.ledger.GetMyCases(r.Context(), callerFrom(r))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, cases)
}

// CaseCounter handles caseCounter
func (s *Server) CaseCounter(w http.ResponseWriter, r *http.Request) {
	n, err := s.ledger.CaseCounter(r.Context())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"caseCounter": n})
}

// AddRecord handles addRecord(caseId, passcode, ...)
func (s *Server) AddRecord(w http.ResponseWriter, r *http.Request) {
	caseID, err := pathID(r, "caseId")
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	var req addRecordRequest
	if err := decodeJSON(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}

	recordID, err := s.ledger.AddRecord(r.Context(), callerFrom(r), caseID, string(req.Passcode), req.RecordEntry)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]interface{}{"caseId": caseID, "recordId": recordID})
}

// GetCaseRecords handles getMyCaseRecords(caseId)
func (s *Server) GetCaseRecords(w http.ResponseWriter, r *http.Request) {
	caseID, err := pathID(r, "caseId")
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	records, err := s.ledger.GetMyCaseRecords(r.Context(), callerFrom(r), caseID)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"records": records})
}

// GetRecord handles records(recordId)
func (s *Server) GetRecord(w http.ResponseWriter, r *http.Request) {
	recordID, err := pathID(r, "recordId")
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	record, err := s.ledger.Records(r.Context(), recordID)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, record)
}

// AddReport handles addReport(caseId, passcode, cid) for content already in the file store
func (s *Server) AddReport(w http.ResponseWriter, r *http.Request) {
	caseID, err := pathID(r, "caseId")
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	var req addReportRequest
	if err := decodeJSON(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}

	if err := s.ledger.AddReport(r.Context(), callerFrom(r), caseID, string(req.Passcode), req.CID); err != nil {
		s.writeError(w, r, err)
		return
	}
	s.pinReport(r, strings.TrimSpace(req.CID))
	writeJSON(w, http.StatusCreated, map[string]interface{}{"caseId": caseID, "cid": req.CID})
}
