package ledger

import (
	"context"
	"strings"

	"github.com/medrex/caseledger/pkg/types"
)

func loadCase(tx *txn, caseID uint64) (*types.Case, error) {
	var c types.Case
	found, err := tx.getJSON(caseKey(caseID), &c)
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, types.NewNotFoundError("case does not exist", map[string]interface{}{"case_id": caseID})
	}
	if c.RecordIDs == nil {
		c.RecordIDs = []uint64{}
	}
	if c.ReportCIDs == nil {
		c.ReportCIDs = []string{}
	}
	return &c, nil
}

func patientCaseIDs(tx *txn, patient types.Account) ([]uint64, error) {
	var ids []uint64
	if _, err := tx.getJSON(patientCasesKey(patient), &ids); err != nil {
		return nil, err
	}
	if ids == nil {
		ids = []uint64{}
	}
	return ids, nil
}

// authorizeCaseMutation applies the gate shared by addRecord, addReport and closeCase:
// the case must exist and be ongoing, and the passcode must match the patient of record.
func (l *Ledger) authorizeCaseMutation(tx *txn, caseID uint64, passcode types.Passcode) (*types.Case, error) {
	c, err := loadCase(tx, caseID)
	if err != nil {
		return nil, err
	}
	if !c.IsOngoing {
		return nil, types.NewCaseClosedError(caseID)
	}
	patient, err := requirePatient(tx, c.Patient)
	if err != nil {
		return nil, err
	}
	if patient.Passcode != passcode {
		return nil, types.NewUnauthorizedError("passcode does not match the patient of record")
	}
	return c, nil
}

// CreateCase opens a case for patient after verifying the patient's passcode
func (l *Ledger) CreateCase(ctx context.Context, caller, patient types.Account, passcode, title string) (uint64, error) {
	var caseID uint64
	err := l.mutate(ctx, "createCase", caller, func(tx *txn) (map[string]interface{}, error) {
		if err := requireCaller(caller); err != nil {
			return nil, err
		}
		if err := requireAccount("patient", patient); err != nil {
			return nil, err
		}
		title = strings.TrimSpace(title)
		if title == "" {
			return nil, types.NewInvalidArgumentError("title", "case title is required")
		}
		code, err := types.ParsePasscode(passcode)
		if err != nil {
			return nil, err
		}

		profile, err := requirePatient(tx, patient)
		if err != nil {
			return nil, err
		}
		if profile.Passcode != code {
			return nil, types.NewUnauthorizedError("passcode does not match the patient")
		}

		id, err := tx.nextID(keyCaseCounter)
		if err != nil {
			return nil, err
		}
		c := types.Case{
			CaseID:     id,
			Patient:    patient,
			Title:      title,
			IsOngoing:  true,
			RecordIDs:  []uint64{},
			ReportCIDs: []string{},
			CreatedAt:  l.now(),
		}
		if err := tx.putJSON(caseKey(id), c); err != nil {
			return nil, err
		}

		ids, err := patientCaseIDs(tx, patient)
		if err != nil {
			return nil, err
		}
		if err := tx.putJSON(patientCasesKey(patient), append(ids, id)); err != nil {
			return nil, err
		}

		caseID = id
		tx.emit("CaseCreated", map[string]interface{}{"caseId": id, "patient": string(patient)})
		return map[string]interface{}{"case_id": id, "patient": string(patient)}, nil
	})
	if err != nil {
		return 0, err
	}
	return caseID, nil
}

// CloseCase moves an ongoing case to its terminal closed state
func (l *Ledger) CloseCase(ctx context.Context, caller types.Account, caseID uint64, passcode string) error {
	return l.mutate(ctx, "closeCase", caller, func(tx *txn) (map[string]interface{}, error) {
		if err := requireCaller(caller); err != nil {
			return nil, err
		}
		code, err := types.ParsePasscode(passcode)
		if err != nil {
			return nil, err
		}

		c, err := loadCase(tx, caseID)
		if err != nil {
			return nil, err
		}
		if !c.IsOngoing {
			return nil, types.NewAlreadyClosedError(caseID)
		}
		if _, err := l.authorizeCaseMutation(tx, caseID, code); err != nil {
			return nil, err
		}

		closedAt := l.now()
		c.IsOngoing = false
		c.ClosedAt = &closedAt
		if err := tx.putJSON(caseKey(caseID), c); err != nil {
			return nil, err
		}

		tx.emit("CaseClosed", map[string]interface{}{"caseId": caseID, "patient": string(c.Patient)})
		return map[string]interface{}{"case_id": caseID}, nil
	})
}

// GetCaseDetails returns a case by id
func (l *Ledger) GetCaseDetails(ctx context.Context, caseID uint64) (*types.Case, error) {
	var out *types.Case
	err := l.read(ctx, "getCaseDetails", func(tx *txn) error {
		var err error
		out, err = loadCase(tx, caseID)
		return err
	})
	return out, err
}

// GetMyCaseDetails returns a case the caller may read
func (l *Ledger) GetMyCaseDetails(ctx context.Context, caller types.Account, caseID uint64) (*types.Case, error) {
	var out *types.Case
	err := l.read(ctx, "getMyCaseDetails", func(tx *txn) error {
		if err := requireCaller(caller); err != nil {
			return err
		}
		c, err := loadCase(tx, caseID)
		if err != nil {
			return err
		}
		ok, err := canRead(tx, caller, c.Patient)
		if err != nil {
			return err
		}
		if !ok {
			return types.NewUnauthorizedError("caller has no access to this case")
		}
		out = c
		return nil
	})
	return out, err
}

// GetCaseIDsForPatient returns the case ids of account in creation order
func (l *Ledger) GetCaseIDsForPatient(ctx context.Context, account types.Account) ([]uint64, error) {
	var ids []uint64
	err := l.read(ctx, "getCaseIdsForPatient", func(tx *txn) error {
		var err error
		ids, err = patientCaseIDs(tx, account)
		return err
	})
	return ids, err
}

// GetMyCases returns the caller's case ids with their titles
func (l *Ledger) GetMyCases(ctx context.Context, caller types.Account) (*types.MyCases, error) {
	out := &types.MyCases{CaseIDs: []uint64{}, Titles: []string{}}
	err := l.read(ctx, "getMyCases", func(tx *txn) error {
		if err := requireCaller(caller); err != nil {
			return err
		}
		ids, err := patientCaseIDs(tx, caller)
		if err != nil {
			return err
		}
		for _, id := range ids {
			c, err := loadCase(tx, id)
			if err != nil {
				return err
			}
			out.CaseIDs = append(out.CaseIDs, id)
			out.Titles = append(out.Titles, c.Title)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// CaseCounter returns the highest case id handed out so far
func (l *Ledger) CaseCounter(ctx context.Context) (uint64, error) {
	var n uint64
	err := l.read(ctx, "caseCounter", func(tx *txn) error {
		var err error
		n, err = tx.counter(keyCaseCounter)
		return err
	})
	return n, err
}
