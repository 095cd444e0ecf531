package api

import (
	"bytes"
	"context"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/medrex/caseledger/internal/filestore"
	"github.com/medrex/caseledger/internal/ledger"
	"github.com/medrex/caseledger/internal/signer"
	"github.com/medrex/caseledger/internal/store"
	"github.com/medrex/caseledger/internal/store/memory"
	"github.com/medrex/caseledger/pkg/encryption"
	"github.com/medrex/caseledger/pkg/logger"
	"github.com/medrex/caseledger/pkg/monitoring"
	"github.com/medrex/caseledger/pkg/types"
)

const (
	patientAcct = "0xpatient"
	doctorAcct  = "0xdoctor"
	otherAcct   = "0xstranger"
)

type testEnv struct {
	router  http.Handler
	ledger  *ledger.Ledger
	files   *filestore.Local
	metrics *monitoring.MetricsCollector
}

func newTestEnv(t *testing.T, mutate ...func(*Options)) *testEnv {
	t.Helper()

	metrics := monitoring.NewMetricsCollector("caseledger-test")
	state := memory.New()
	l := ledger.New(state, ledger.Options{Observer: metrics, Logger: logger.NewNop()})

	files, err := filestore.OpenLocalInMemory("http://localhost/api/v1/files")
	require.NoError(t, err)
	t.Cleanup(func() { files.Close() })

	health := monitoring.NewHealthManager("caseledger-test", "test")
	health.RegisterChecker("state", store.HealthChecker("memory", state))
	health.RegisterChecker("files", filestore.HealthChecker(files))

	opts := Options{
		Ledger:  l,
		Files:   filestore.NewInstrumented(files, metrics, nil),
		Auth:    signer.HeaderAuthenticator{},
		Metrics: metrics,
		Health:  health,
		Logger:  logger.NewNop(),
	}
	for _, m := range mutate {
		m(&opts)
	}

	return &testEnv{router: NewServer(opts).Router(), ledger: l, files: files, metrics: metrics}
}

func (e *testEnv) do(t *testing.T, method, path, account string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if account != "" {
		req.Header.Set(signer.AccountHeader, account)
	}
	rec := httptest.NewRecorder()
	e.router.ServeHTTP(rec, req)
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder, v interface{}) {
	t.Helper()
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), v))
}

func errorCode(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()
	var body errorResponse
	decode(t, rec, &body)
	return body.Error.Code
}

func registerPatient(t *testing.T, e *testEnv, account, passcode string) {
	t.Helper()
	rec := e.do(t, http.MethodPost, "/api/v1/patients", account, map[string]interface{}{
		"fullName": "Jane Roe",
		"dob":      "1990-01-01",
		"weight":   60,
		"height":   170,
		"passcode": passcode,
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
}

func TestRegisterPatient(t *testing.T) {
	e := newTestEnv(t)

	rec := e.do(t, http.MethodPost, "/api/v1/patients", patientAcct, map[string]interface{}{
		"fullName": "Jane Roe",
		"passcode": 123456,
	})
	require.Equal(t, http.StatusCreated, rec.Code)

	var profile types.PatientProfile
	decode(t, rec, &profile)
	assert.Equal(t, types.Account(patientAcct), profile.Account)
	assert.Equal(t, types.RolePatient, profile.Role)
	assert.NotContains(t, rec.Body.String(), "passcode")

	rec = e.do(t, http.MethodPost, "/api/v1/patients", patientAcct, map[string]interface{}{
		"fullName": "Jane Roe",
		"passcode": "123456",
	})
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, types.ErrCodeAlreadyRegistered, errorCode(t, rec))
}

func TestRegisterPatient_Validation(t *testing.T) {
	e := newTestEnv(t)

	tests := []struct {
		name string
		body interface{}
	}{
		{name: "non numeric passcode", body: map[string]interface{}{"fullName": "A", "passcode": "12ab"}},
		{name: "missing name", body: map[string]interface{}{"passcode": "1"}},
		{name: "unknown field", body: map[string]interface{}{"fullName": "A", "passcode": "1", "role": "Admin"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := e.do(t, http.MethodPost, "/api/v1/patients", patientAcct, tt.body)
			assert.Equal(t, http.StatusBadRequest, rec.Code)
			assert.Equal(t, types.ErrCodeInvalidArgument, errorCode(t, rec))
		})
	}
}

func TestMissingSigner(t *testing.T) {
	e := newTestEnv(t)

	rec := e.do(t, http.MethodGet, "/api/v1/doctors", "", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, types.ErrCodeUnauthenticated, errorCode(t, rec))
}

func TestCaseLifecycle(t *testing.T) {
	e := newTestEnv(t)
	registerPatient(t, e, patientAcct, "123456")

	rec := e.do(t, http.MethodPost, "/api/v1/cases", doctorAcct, map[string]interface{}{
		"patient": patientAcct, "passcode": 123456, "title": "Flu checkup",
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var created struct {
		CaseID uint64 `json:"caseId"`
	}
	decode(t, rec, &created)
	assert.Equal(t, uint64(1), created.CaseID)

	rec = e.do(t, http.MethodPost, "/api/v1/cases/1/records", doctorAcct, map[string]interface{}{
		"passcode": "123456", "symptoms": "fever", "medications": "paracetamol",
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var added struct {
		RecordID uint64 `json:"recordId"`
	}
	decode(t, rec, &added)
	assert.Equal(t, uint64(1), added.RecordID)

	rec = e.do(t, http.MethodPost, "/api/v1/cases/1/records", doctorAcct, map[string]interface{}{
		"passcode": "654321", "symptoms": "cough",
	})
	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Equal(t, types.ErrCodeUnauthorized, errorCode(t, rec))

	rec = e.do(t, http.MethodGet, "/api/v1/cases/1", doctorAcct, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var c types.Case
	decode(t, rec, &c)
	assert.Equal(t, []uint64{1}, c.RecordIDs)
	assert.True(t, c.IsOngoing)
	assert.Equal(t, "Flu checkup", c.Title)

	rec = e.do(t, http.MethodPost, "/api/v1/cases/1/close", doctorAcct, map[string]interface{}{"passcode": "123456"})
	require.Equal(t, http.StatusOK, rec.Code)

	rec = e.do(t, http.MethodPost, "/api/v1/cases/1/close", doctorAcct, map[string]interface{}{"passcode": "123456"})
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, types.ErrCodeAlreadyClosed, errorCode(t, rec))

	rec = e.do(t, http.MethodPost, "/api/v1/cases/1/reports", doctorAcct, map[string]interface{}{
		"passcode": "123456", "cid": "QmReport",
	})
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, types.ErrCodeCaseClosed, errorCode(t, rec))

	rec = e.do(t, http.MethodGet, "/api/v1/cases/1", doctorAcct, nil)
	decode(t, rec, &c)
	assert.False(t, c.IsOngoing)
	assert.Empty(t, c.ReportCIDs)

	rec = e.do(t, http.MethodGet, "/api/v1/cases/counter", doctorAcct, nil)
	assert.JSONEq(t, `{"caseCounter":1}`, rec.Body.String())
}

func TestCaseNotFound(t *testing.T) {
	e := newTestEnv(t)

	rec := e.do(t, http.MethodGet, "/api/v1/cases/42", doctorAcct, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = e.do(t, http.MethodGet, "/api/v1/records/7", doctorAcct, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = e.do(t, http.MethodGet, "/api/v1/patients/0xnobody", doctorAcct, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestMyViewsAndDoctorAccess(t *testing.T) {
	e := newTestEnv(t)
	registerPatient(t, e, patientAcct, "111")
	registerPatient(t, e, doctorAcct, "222")

	rec := e.do(t, http.MethodPost, "/api/v1/cases", patientAcct, map[string]interface{}{
		"patient": patientAcct, "passcode": "111", "title": "Knee pain",
	})
	require.Equal(t, http.StatusCreated, rec.Code)
	rec = e.do(t, http.MethodPost, "/api/v1/cases/1/records", doctorAcct, map[string]interface{}{
		"passcode": "111", "symptoms": "swelling",
	})
	require.Equal(t, http.StatusCreated, rec.Code)

	rec = e.do(t, http.MethodGet, "/api/v1/cases/1/records", doctorAcct, nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = e.do(t, http.MethodPost, "/api/v1/doctors", patientAcct, map[string]interface{}{"doctor": "0xDOCTOR"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = e.do(t, http.MethodGet, "/api/v1/cases/1/records", doctorAcct, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var records struct {
		Records []types.CaseRecord `json:"records"`
	}
	decode(t, rec, &records)
	require.Len(t, records.Records, 1)
	assert.Equal(t, "Jane Roe", records.Records[0].DoctorName)
	assert.Equal(t, "swelling", records.Records[0].Symptoms)

	rec = e.do(t, http.MethodGet, "/api/v1/me/cases/1", doctorAcct, nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	rec = e.do(t, http.MethodGet, "/api/v1/me/cases/1", otherAcct, nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = e.do(t, http.MethodGet, "/api/v1/me/cases", patientAcct, nil)
	assert.JSONEq(t, `{"caseIds":[1],"titles":["Knee pain"]}`, rec.Body.String())

	rec = e.do(t, http.MethodGet, "/api/v1/me/patients", doctorAcct, nil)
	assert.JSONEq(t, `{"patients":["0xpatient"]}`, rec.Body.String())

	rec = e.do(t, http.MethodGet, "/api/v1/doctors", otherAcct, nil)
	assert.JSONEq(t, `{"doctors":["0xdoctor"]}`, rec.Body.String())

	rec = e.do(t, http.MethodGet, "/api/v1/patients/0xpatient/cases", otherAcct, nil)
	assert.JSONEq(t, `{"caseIds":[1]}`, rec.Body.String())

	rec = e.do(t, http.MethodGet, "/api/v1/accounts/0xdoctor/role", otherAcct, nil)
	assert.JSONEq(t, `{"account":"0xdoctor","role":"Patient"}`, rec.Body.String())

	rec = e.do(t, http.MethodGet, "/api/v1/me/role", otherAcct, nil)
	assert.JSONEq(t, `{"account":"0xstranger","role":"Unregistered"}`, rec.Body.String())
}

func uploadRequest(t *testing.T, path, account, passcode, filename string, content []byte) *http.Request {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	require.NoError(t, mw.WriteField("passcode", passcode))
	part, err := mw.CreateFormFile("file", filename)
	require.NoError(t, err)
	_, err = part.Write(content)
	require.NoError(t, err)
	require.NoError(t, mw.Close())

	req := httptest.NewRequest(http.MethodPost, path, &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	req.Header.Set(signer.AccountHeader, account)
	return req
}

func TestUploadReport_RoundTrip(t *testing.T) {
	e := newTestEnv(t)
	registerPatient(t, e, patientAcct, "123456")
	rec := e.do(t, http.MethodPost, "/api/v1/cases", doctorAcct, map[string]interface{}{
		"patient": patientAcct, "passcode": "123456", "title": "Scan",
	})
	require.Equal(t, http.StatusCreated, rec.Code)

	content := []byte("%PDF-1.4 lab results")
	rec = httptest.NewRecorder()
	e.router.ServeHTTP(rec, uploadRequest(t, "/api/v1/cases/1/reports/upload", doctorAcct, "123456", "labs.pdf", content))
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	var uploaded struct {
		CaseID uint64         `json:"caseId"`
		File   filestore.File `json:"file"`
	}
	decode(t, rec, &uploaded)
	assert.Equal(t, "labs.pdf", uploaded.File.Name)
	assert.Equal(t, "http://localhost/api/v1/files/"+uploaded.File.CID, uploaded.File.URL)

	rec = e.do(t, http.MethodGet, "/api/v1/cases/1", doctorAcct, nil)
	var c types.Case
	decode(t, rec, &c)
	require.NotEmpty(t, c.ReportCIDs)
	assert.Equal(t, uploaded.File.CID, c.ReportCIDs[len(c.ReportCIDs)-1])

	rec = e.do(t, http.MethodGet, "/api/v1/files/"+uploaded.File.CID, doctorAcct, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, content, rec.Body.Bytes())
}

func TestUploadReport_Rejections(t *testing.T) {
	e := newTestEnv(t)
	registerPatient(t, e, patientAcct, "123456")
	for _, title := range []string{"Scan", "Closed"} {
		rec := e.do(t, http.MethodPost, "/api/v1/cases", doctorAcct, map[string]interface{}{
			"patient": patientAcct, "passcode": "123456", "title": title,
		})
		require.Equal(t, http.StatusCreated, rec.Code)
	}
	rec := e.do(t, http.MethodPost, "/api/v1/cases/2/close", patientAcct, map[string]interface{}{"passcode": "123456"})
	require.Equal(t, http.StatusOK, rec.Code)

	tests := []struct {
		name       string
		path       string
		account    string
		passcode   string
		payload    string
		wantStatus int
		wantCode   string
	}{
		{"unknown case", "/api/v1/cases/9/reports/upload", doctorAcct, "123456", "unknown case payload", http.StatusNotFound, types.ErrCodeNotFound},
		{"malformed passcode", "/api/v1/cases/1/reports/upload", doctorAcct, "abc", "malformed passcode payload", http.StatusBadRequest, types.ErrCodeInvalidArgument},
		{"wrong passcode", "/api/v1/cases/1/reports/upload", otherAcct, "999", "never authorized payload", http.StatusForbidden, types.ErrCodeUnauthorized},
		{"closed case", "/api/v1/cases/2/reports/upload", doctorAcct, "123456", "closed case payload", http.StatusConflict, types.ErrCodeCaseClosed},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			e.router.ServeHTTP(rec, uploadRequest(t, tt.path, tt.account, tt.passcode, "a.txt", []byte(tt.payload)))
			assert.Equal(t, tt.wantStatus, rec.Code)
			assert.Equal(t, tt.wantCode, errorCode(t, rec))

			// nothing reached the file store
			_, err := e.files.Cat(context.Background(), encryption.HashData([]byte(tt.payload)))
			assert.ErrorIs(t, err, types.ErrNotFound)
			rec = e.do(t, http.MethodGet, "/api/v1/files/"+encryption.HashData([]byte(tt.payload)), doctorAcct, nil)
			assert.Equal(t, http.StatusNotFound, rec.Code)
		})
	}

	c, err := e.ledger.GetCaseDetails(context.Background(), 1)
	require.NoError(t, err)
	assert.Empty(t, c.ReportCIDs)
}

// pinningStore remembers which CIDs were pinned
type pinningStore struct {
	filestore.Store
	mu     sync.Mutex
	pinned []string
}

func (p *pinningStore) Pin(ctx context.Context, cid string) error {
	p.mu.Lock()
	p.pinned = append(p.pinned, cid)
	p.mu.Unlock()
	return p.Store.Pin(ctx, cid)
}

func TestAddReport_PinsContent(t *testing.T) {
	var files *pinningStore
	e := newTestEnv(t, func(o *Options) {
		files = &pinningStore{Store: o.Files}
		o.Files = files
	})
	registerPatient(t, e, patientAcct, "123456")
	rec := e.do(t, http.MethodPost, "/api/v1/cases", doctorAcct, map[string]interface{}{
		"patient": patientAcct, "passcode": "123456", "title": "Scan",
	})
	require.Equal(t, http.StatusCreated, rec.Code)

	rec = e.do(t, http.MethodPost, "/api/v1/cases/1/reports", doctorAcct, map[string]interface{}{
		"passcode": "111111", "cid": "QmRejected",
	})
	require.Equal(t, http.StatusForbidden, rec.Code)

	// the content is not held locally; the report is still recorded
	rec = e.do(t, http.MethodPost, "/api/v1/cases/1/reports", doctorAcct, map[string]interface{}{
		"passcode": "123456", "cid": " QmExternal ",
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	assert.Equal(t, []string{"QmExternal"}, files.pinned)

	c, err := e.ledger.GetCaseDetails(context.Background(), 1)
	require.NoError(t, err)
	assert.Equal(t, []string{"QmExternal"}, c.ReportCIDs)
}

func TestInvokeContract(t *testing.T) {
	e := newTestEnv(t)

	invoke := func(account, method string, args ...interface{}) *httptest.ResponseRecorder {
		return e.do(t, http.MethodPost, "/api/v1/contract/"+method, account, map[string]interface{}{"args": args})
	}

	rec := invoke(patientAcct, "registerPatient", "Jane Roe", "1990-01-01", "1 Main St", "555", "none", 60, "170", 123456)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = invoke(doctorAcct, "createCase", patientAcct, "123456", "Flu checkup")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.JSONEq(t, `{"result":1}`, rec.Body.String())

	rec = invoke(doctorAcct, "addRecord", 1, 123456, "fever", "", "", "", "", "paracetamol")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.JSONEq(t, `{"result":1}`, rec.Body.String())

	rec = invoke(doctorAcct, "addRecord", 1, 654321, "fever", "", "", "", "", "")
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = invoke(otherAcct, "caseCounter")
	assert.JSONEq(t, `{"result":1}`, rec.Body.String())

	rec = invoke(otherAcct, "getRole", patientAcct)
	assert.JSONEq(t, `{"result":"Patient"}`, rec.Body.String())

	rec = invoke(otherAcct, "getCaseIdsForPatient", patientAcct)
	assert.JSONEq(t, `{"result":[1]}`, rec.Body.String())

	rec = invoke(doctorAcct, "closeCase", "1", "123456")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"result":null}`, rec.Body.String())

	rec = invoke(doctorAcct, "addReport", "1", "123456", "QmX")
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = invoke(doctorAcct, "records", "1")
	require.Equal(t, http.StatusOK, rec.Code)
	var record struct {
		Result types.Record `json:"result"`
	}
	decode(t, rec, &record)
	assert.Equal(t, "paracetamol", record.Result.Medications)
	assert.Equal(t, types.Account(doctorAcct), record.Result.Doctor)

	rec = invoke(doctorAcct, "dropTables")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = invoke(doctorAcct, "getCaseDetails")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = invoke(doctorAcct, "getCaseDetails", true)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestRateLimit(t *testing.T) {
	e := newTestEnv(t, func(o *Options) { o.RateLimit = 2 })

	for i := 0; i < 2; i++ {
		rec := e.do(t, http.MethodGet, "/api/v1/doctors", doctorAcct, nil)
		require.Equal(t, http.StatusOK, rec.Code)
	}
	rec := e.do(t, http.MethodGet, "/api/v1/doctors", doctorAcct, nil)
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "60", rec.Header().Get("Retry-After"))

	rec = e.do(t, http.MethodGet, "/api/v1/doctors", otherAcct, nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestJWTAuthentication(t *testing.T) {
	tokens := signer.NewTokenValidator("secret", "caseledger", time.Hour)
	e := newTestEnv(t, func(o *Options) { o.Auth = tokens })

	token, err := tokens.IssueToken(patientAcct)
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/me/role", nil)
	req.Header.Set("Authorization", "Bearer "+token.AccessToken)
	rec := httptest.NewRecorder()
	e.router.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"account":"0xpatient","role":"Unregistered"}`, rec.Body.String())

	// the header scheme is not honoured in jwt mode
	rec = e.do(t, http.MethodGet, "/api/v1/me/role", patientAcct, nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestHealthAndMetrics(t *testing.T) {
	e := newTestEnv(t)
	registerPatient(t, e, patientAcct, "1")

	rec := e.do(t, http.MethodGet, "/health", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var report monitoring.HealthReport
	decode(t, rec, &report)
	assert.Equal(t, monitoring.HealthStatusHealthy, report.Status)
	require.Len(t, report.Checks, 2)
	assert.Equal(t, "files", report.Checks[0].Name)
	assert.Equal(t, "state", report.Checks[1].Name)

	rec = e.do(t, http.MethodGet, "/metrics", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	body := rec.Body.String()
	assert.Contains(t, body, "ledger_operations_total")
	assert.True(t, strings.Contains(body, `operation="registerPatient"`))
	assert.Contains(t, body, `endpoint="/api/v1/patients"`)
}

func TestRequestIDHeader(t *testing.T) {
	e := newTestEnv(t)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/doctors", nil)
	req.Header.Set(signer.AccountHeader, doctorAcct)
	req.Header.Set(monitoring.RequestIDHeader, "req-123")
	rec := httptest.NewRecorder()
	e.router.ServeHTTP(rec, req)
	assert.Equal(t, "req-123", rec.Header().Get(monitoring.RequestIDHeader))

	rec = e.do(t, http.MethodGet, "/api/v1/doctors", doctorAcct, nil)
	assert.NotEmpty(t, rec.Header().Get(monitoring.RequestIDHeader))
	assert.Equal(t, "nosniff", rec.Header().Get("X-Content-Type-Options"))
}
