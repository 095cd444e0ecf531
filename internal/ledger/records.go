package ledger

import (
	"context"
	"strings"

	"github.com/medrex/caseledger/pkg/types"
)

func loadRecord(tx *txn, recordID uint64) (*types.Record, error) {
	var r types.Record
	found, err := tx.getJSON(recordKey(recordID), &r)
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, types.NewNotFoundError("record does not exist", map[string]interface{}{"record_id": recordID})
	}
	return &r, nil
}

// authorizeAuthor enforces the optional doctor-grant rule for record and report authors
func (l *Ledger) authorizeAuthor(tx *txn, caller types.Account, c *types.Case) error {
	if !l.opts.RequireDoctorGrant {
		return nil
	}
	ok, err := canRead(tx, caller, c.Patient)
	if err != nil {
		return err
	}
	if !ok {
		return types.NewUnauthorizedError("caller is not a doctor assigned by this patient")
	}
	return nil
}

// AddRecord appends a clinical record to an ongoing case
func (l *Ledger) AddRecord(ctx context.Context, caller types.Account, caseID uint64, passcode string, entry types.RecordEntry) (uint64, error) {
	var recordID uint64
	err := l.mutate(ctx, "addRecord", caller, func(tx *txn) (map[string]interface{}, error) {
		if err := requireCaller(caller); err != nil {
			return nil, err
		}
		if strings.TrimSpace(entry.Symptoms) == "" {
			return nil, types.NewInvalidArgumentError("symptoms", "symptoms are required")
		}
		code, err := types.ParsePasscode(passcode)
		if err != nil {
			return nil, err
		}

		c, err := l.authorizeCaseMutation(tx, caseID, code)
		if err != nil {
			return nil, err
		}
		if err := l.authorizeAuthor(tx, caller, c); err != nil {
			return nil, err
		}

		id, err := tx.nextID(keyRecordCounter)
		if err != nil {
			return nil, err
		}
		record := types.Record{
			RecordID:     id,
			CaseID:       caseID,
			Doctor:       caller,
			Symptoms:     entry.Symptoms,
			Cause:        entry.Cause,
			Inference:    entry.Inference,
			Prescription: entry.Prescription,
			Advices:      entry.Advices,
			Medications:  entry.Medications,
			CreatedAt:    l.now(),
		}
		if err := tx.putJSON(recordKey(id), record); err != nil {
			return nil, err
		}

		c.RecordIDs = append(c.RecordIDs, id)
		if err := tx.putJSON(caseKey(caseID), c); err != nil {
			return nil, err
		}

		recordID = id
		tx.emit("RecordAdded", map[string]interface{}{"caseId": caseID, "recordId": id, "doctor": string(caller)})
		return map[string]interface{}{"case_id": caseID, "record_id": id}, nil
	})
	if err != nil {
		return 0, err
	}
	return recordID, nil
}

// AddReport appends a file-store content id to an ongoing case
func (l *Ledger) AddReport(ctx context.Context, caller types.Account, caseID uint64, passcode, contentID string) error {
	return l.mutate(ctx, "addReport", caller, func(tx *txn) (map[string]interface{}, error) {
		if err := requireCaller(caller); err != nil {
			return nil, err
		}
		contentID = strings.TrimSpace(contentID)
		if contentID == "" {
			return nil, types.NewInvalidArgumentError("contentId", "content id is required")
		}
		code, err := types.ParsePasscode(passcode)
		if err != nil {
			return nil, err
		}

		c, err := l.authorizeCaseMutation(tx, caseID, code)
		if err != nil {
			return nil, err
		}
		if err := l.authorizeAuthor(tx, caller, c); err != nil {
			return nil, err
		}

		c.ReportCIDs = append(c.ReportCIDs, contentID)
		if err := tx.putJSON(caseKey(caseID), c); err != nil {
			return nil, err
		}

		tx.emit("ReportAdded", map[string]interface{}{"caseId": caseID, "cid": contentID})
		return map[string]interface{}{"case_id": caseID, "cid": contentID}, nil
	})
}

// VerifyCaseWrite runs the addRecord/addReport gate for caller without writing
// anything, so side effects outside the ledger can wait for a passing check.
func (l *Ledger) VerifyCaseWrite(ctx context.Context, caller types.Account, caseID uint64, passcode string) error {
	return l.read(ctx, "verifyCaseWrite", func(tx *txn) error {
		if err := requireCaller(caller); err != nil {
			return err
		}
		code, err := types.ParsePasscode(passcode)
		if err != nil {
			return err
		}
		c, err := l.authorizeCaseMutation(tx, caseID, code)
		if err != nil {
			return err
		}
		return l.authorizeAuthor(tx, caller, c)
	})
}

// Records returns a record by id
func (l *Ledger) Records(ctx context.Context, recordID uint64) (*types.Record, error) {
	var out *types.Record
	err := l.read(ctx, "records", func(tx *txn) error {
		var err error
		out, err = loadRecord(tx, recordID)
		return err
	})
	return out, err
}

// GetMyCaseRecords resolves every record of a case the caller may read, with author names
func (l *Ledger) GetMyCaseRecords(ctx context.Context, caller types.Account, caseID uint64) ([]types.CaseRecord, error) {
	out := []types.CaseRecord{}
	err := l.read(ctx, "getMyCaseRecords", func(tx *txn) error {
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

		names := make(map[types.Account]string)
		for _, id := range c.RecordIDs {
			record, err := loadRecord(tx, id)
			if err != nil {
				return err
			}
			name, seen := names[record.Doctor]
			if !seen {
				profile, err := loadProfile(tx, record.Doctor)
				if err != nil {
					return err
				}
				if profile != nil {
					name = profile.FullName
				}
				names[record.Doctor] = name
			}
			out = append(out, types.CaseRecord{Record: *record, DoctorName: name})
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}
