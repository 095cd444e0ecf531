package ledger

import (
	"context"
	"strings"
	"time"

	"github.com/medrex/caseledger/pkg/types"
)

// profileState is the stored form of a profile; unlike types.PatientProfile it carries the passcode
type profileState struct {
	FullName       string         `json:"fullName"`
	DateOfBirth    string         `json:"dob"`
	AddressDetails string         `json:"addressDetails"`
	ContactNumber  string         `json:"contactNumber"`
	Allergies      string         `json:"allergies"`
	Weight         uint32         `json:"weight"`
	Height         uint32         `json:"height"`
	Passcode       types.Passcode `json:"passcode"`
	RegisteredAt   time.Time      `json:"registeredAt"`
}

func loadProfile(tx *txn, account types.Account) (*profileState, error) {
	var p profileState
	found, err := tx.getJSON(profileKey(account), &p)
	if err != nil || !found {
		return nil, err
	}
	return &p, nil
}

func loadRole(tx *txn, account types.Account) (types.Role, error) {
	var role types.Role
	found, err := tx.getJSON(roleKey(account), &role)
	if err != nil {
		return "", err
	}
	if !found || role == "" {
		return types.RoleUnregistered, nil
	}
	return role, nil
}

func hasGrant(tx *txn, patient, doctor types.Account) (bool, error) {
	granted, err := tx.accountList(grantsKey(patient))
	if err != nil {
		return false, err
	}
	return containsAccount(granted, doctor), nil
}

// requirePatient loads the profile of patient or fails with NotFound
func requirePatient(tx *txn, patient types.Account) (*profileState, error) {
	profile, err := loadProfile(tx, patient)
	if err != nil {
		return nil, err
	}
	if profile == nil {
		return nil, types.NewNotFoundError("patient is not registered", map[string]interface{}{"account": string(patient)})
	}
	return profile, nil
}

func promoteAdmins(tx *txn, admins []types.Account) (int, error) {
	promoted := 0
	for _, admin := range admins {
		if err := requireAccount("admin", admin); err != nil {
			return 0, err
		}
		if _, err := tx.appendUnique(keyAdmins, admin); err != nil {
			return 0, err
		}
		role, err := loadRole(tx, admin)
		if err != nil {
			return 0, err
		}
		if role == types.RoleAdmin {
			continue
		}
		if err := tx.putJSON(roleKey(admin), types.RoleAdmin); err != nil {
			return 0, err
		}
		promoted++
	}
	return promoted, nil
}

// Bootstrap designates admins. It is idempotent and runs at deployment.
func (l *Ledger) Bootstrap(ctx context.Context, admins []types.Account) error {
	return l.mutate(ctx, "bootstrap", "", func(tx *txn) (map[string]interface{}, error) {
		promoted, err := promoteAdmins(tx, admins)
		if err != nil {
			return nil, err
		}
		return map[string]interface{}{"admins": len(admins), "promoted": promoted}, nil
	})
}

// ClaimAdmin makes caller the first admin. It fails once any admin exists.
func (l *Ledger) ClaimAdmin(ctx context.Context, caller types.Account) error {
	return l.mutate(ctx, "claimAdmin", caller, func(tx *txn) (map[string]interface{}, error) {
		if err := requireCaller(caller); err != nil {
			return nil, err
		}
		admins, err := tx.accountList(keyAdmins)
		if err != nil {
			return nil, err
		}
		if len(admins) > 0 {
			return nil, types.NewUnauthorizedError("ledger already has an admin")
		}
		if _, err := promoteAdmins(tx, []types.Account{caller}); err != nil {
			return nil, err
		}
		tx.emit("AdminDesignated", map[string]interface{}{"account": string(caller)})
		return map[string]interface{}{"admin": string(caller)}, nil
	})
}

// RegisterPatient creates the caller's profile
func (l *Ledger) RegisterPatient(ctx context.Context, caller types.Account, reg types.PatientRegistration) error {
	return l.mutate(ctx, "registerPatient", caller, func(tx *txn) (map[string]interface{}, error) {
		if err := requireCaller(caller); err != nil {
			return nil, err
		}
		if strings.TrimSpace(reg.FullName) == "" {
			return nil, types.NewInvalidArgumentError("fullName", "full name is required")
		}
		passcode, err := types.ParsePasscode(reg.Passcode)
		if err != nil {
			return nil, err
		}

		existing, err := loadProfile(tx, caller)
		if err != nil {
			return nil, err
		}
		if existing != nil {
			return nil, types.NewAlreadyRegisteredError(caller)
		}

		profile := profileState{
			FullName:       strings.TrimSpace(reg.FullName),
			DateOfBirth:    reg.DateOfBirth,
			AddressDetails: reg.AddressDetails,
			ContactNumber:  reg.ContactNumber,
			Allergies:      reg.Allergies,
			Weight:         reg.Weight,
			Height:         reg.Height,
			Passcode:       passcode,
			RegisteredAt:   l.now(),
		}
		if err := tx.putJSON(profileKey(caller), profile); err != nil {
			return nil, err
		}

		role, err := loadRole(tx, caller)
		if err != nil {
			return nil, err
		}
		// Doctors and admins keep their role when they register a profile.
		if role == types.RoleUnregistered {
			role = types.RolePatient
			if err := tx.putJSON(roleKey(caller), role); err != nil {
				return nil, err
			}
		}

		tx.emit("PatientRegistered", map[string]interface{}{"account": string(caller), "role": string(role)})
		return map[string]interface{}{"role": string(role)}, nil
	})
}

// AssignDoctor grants doctor access to the caller's cases and lists doctor in the directory
func (l *Ledger) AssignDoctor(ctx context.Context, caller, doctor types.Account) error {
	return l.mutate(ctx, "assignDoctor", caller, func(tx *txn) (map[string]interface{}, error) {
		if err := requireCaller(caller); err != nil {
			return nil, err
		}
		if err := requireAccount("doctor", doctor); err != nil {
			return nil, err
		}
		if doctor == caller {
			return nil, types.NewInvalidArgumentError("doctor", "an account cannot grant access to itself")
		}

		callerRole, err := loadRole(tx, caller)
		if err != nil {
			return nil, err
		}
		profile, err := loadProfile(tx, caller)
		if err != nil {
			return nil, err
		}
		if profile == nil && callerRole != types.RoleAdmin {
			return nil, types.NewUnauthorizedError("only registered patients or admins can assign doctors")
		}

		granted, err := tx.appendUnique(grantsKey(caller), doctor)
		if err != nil {
			return nil, err
		}
		if _, err := tx.appendUnique(grantedKey(doctor), caller); err != nil {
			return nil, err
		}
		if _, err := tx.appendUnique(keyDoctors, doctor); err != nil {
			return nil, err
		}

		doctorRole, err := loadRole(tx, doctor)
		if err != nil {
			return nil, err
		}
		if doctorRole == types.RoleUnregistered {
			doctorRole = types.RoleDoctor
			if err := tx.putJSON(roleKey(doctor), doctorRole); err != nil {
				return nil, err
			}
		}

		if granted {
			tx.emit("DoctorAssigned", map[string]interface{}{"patient": string(caller), "doctor": string(doctor)})
		}
		return map[string]interface{}{"doctor": string(doctor), "new_grant": granted, "doctor_role": string(doctorRole)}, nil
	})
}

// GetRole returns the role of account; Unregistered when nothing is stored
func (l *Ledger) GetRole(ctx context.Context, account types.Account) (types.Role, error) {
	var role types.Role
	err := l.read(ctx, "getRole", func(tx *txn) error {
		var err error
		role, err = loadRole(tx, account)
		return err
	})
	return role, err
}

// Patients returns the profile registered for account
func (l *Ledger) Patients(ctx context.Context, account types.Account) (*types.PatientProfile, error) {
	var out *types.PatientProfile
	err := l.read(ctx, "patients", func(tx *txn) error {
		profile, err := requirePatient(tx, account)
		if err != nil {
			return err
		}
		role, err := loadRole(tx, account)
		if err != nil {
			return err
		}
		out = &types.PatientProfile{
			Account:        account,
			FullName:       profile.FullName,
			DateOfBirth:    profile.DateOfBirth,
			AddressDetails: profile.AddressDetails,
			ContactNumber:  profile.ContactNumber,
			Allergies:      profile.Allergies,
			Weight:         profile.Weight,
			Height:         profile.Height,
			Role:           role,
			RegisteredAt:   profile.RegisteredAt,
		}
		return nil
	})
	return out, err
}

// GetAllDoctors returns every account ever granted doctor access, in grant order
func (l *Ledger) GetAllDoctors(ctx context.Context) ([]types.Account, error) {
	var doctors []types.Account
	err := l.read(ctx, "getAllDoctors", func(tx *txn) error {
		var err error
		doctors, err = tx.accountList(keyDoctors)
		return err
	})
	if err != nil {
		return nil, err
	}
	if doctors == nil {
		doctors = []types.Account{}
	}
	return doctors, nil
}

// GetMyPatients returns the patients that granted caller doctor access
func (l *Ledger) GetMyPatients(ctx context.Context, caller types.Account) ([]types.Account, error) {
	var patients []types.Account
	err := l.read(ctx, "getMyPatients", func(tx *txn) error {
		if err := requireCaller(caller); err != nil {
			return err
		}
		var err error
		patients, err = tx.accountList(grantedKey(caller))
		return err
	})
	if err != nil {
		return nil, err
	}
	if patients == nil {
		patients = []types.Account{}
	}
	return patients, nil
}
