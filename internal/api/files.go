package api

import (
	"net/http"

	"github.com/google/uuid"
	"github.com/gorilla/mux"

	"github.com/medrex/caseledger/pkg/types"
)

// UploadReport stores a multipart "file" and appends its CID to the case.
// The caller must pass the addReport gate before anything reaches the file store.
func (s *Server) UploadReport(w http.ResponseWriter, r *http.Request) {
	caseID, err := pathID(r, "caseId")
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, s.maxUploadBytes)
	if err := r.ParseMultipartForm(s.maxUploadBytes); err != nil {
		s.writeError(w, r, types.NewInvalidArgumentError("file", "invalid multipart upload: "+err.Error()))
		return
	}
	defer r.MultipartForm.RemoveAll()

	file, header, err := r.FormFile("file")
	if err != nil {
		s.writeError(w, r, types.NewInvalidArgumentError("file", "file is required"))
		return
	}
	defer file.Close()

	caller := callerFrom(r)
	passcode := r.FormValue("passcode")
	if err := s.ledger.VerifyCaseWrite(r.Context(), caller, caseID, passcode); err != nil {
		s.writeError(w, r, err)
		return
	}

	name := header.Filename
	if name == "" {
		name = uuid.New().String()
	}
	stored, err := s.files.Add(r.Context(), name, file)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	if err := s.ledger.AddReport(r.Context(), caller, caseID, passcode, stored.CID); err != nil {
		// the case changed between the check and the append; the blob stays unreferenced
		s.logger.WithContext(r.Context()).WithField("cid", stored.CID).Warn("Uploaded file was not attached to case")
		s.writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusCreated, map[string]interface{}{"caseId": caseID, "file": stored})
}

// pinReport keeps a client-supplied CID in the file store. The report is
// already committed, so a failure is only logged.
func (s *Server) pinReport(r *http.Request, cid string) {
	if err := s.files.Pin(r.Context(), cid); err != nil {
		s.logger.WithContext(r.Context()).WithError(err).WithField("cid", cid).Warn("Failed to pin report content")
	}
}

// GetFile streams stored content by CID
func (s *Server) GetFile(w http.ResponseWriter, r *http.Request) {
	cid := mux.Vars(r)["cid"]
	data, err := s.files.Cat(r.Context(), cid)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	w.Header().Set("Content-Type", http.DetectContentType(data))
	w.Header().Set("X-Content-CID", cid)
	w.WriteHeader(http.StatusOK)
	w.Write(data)
}
