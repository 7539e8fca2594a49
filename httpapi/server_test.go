package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"go.uber.org/zap"

	"signflow/agreement"
	"signflow/auth"
	"signflow/blob"
	"signflow/fault"
	"signflow/lifecycle"
)

type fakeStore struct {
	created []agreement.CreateParams
	rec     agreement.Agreement
	err     error
}

func (f *fakeStore) Create(_ context.Context, p agreement.CreateParams) (agreement.Agreement, error) {
	f.created = append(f.created, p)
	if f.err != nil {
		return agreement.Agreement{}, f.err
	}
	rec := f.rec
	rec.VendorName = p.VendorName
	rec.VendorEmail = p.VendorEmail
	return rec, nil
}

func (f *fakeStore) Get(context.Context, string) (agreement.Agreement, error) {
	return f.rec, f.err
}

func (f *fakeStore) Update(_ context.Context, next agreement.Agreement) (agreement.Agreement, agreement.Agreement, error) {
	return f.rec, next, f.err
}

type fakeEngine struct {
	artifactReq lifecycle.ArtifactRequest
	artifactRes lifecycle.ArtifactResult
	artifactErr error

	submitReq lifecycle.SubmitRequest
	submitRes agreement.Agreement
	submitErr error
}

func (f *fakeEngine) GenerateArtifact(_ context.Context, req lifecycle.ArtifactRequest) (lifecycle.ArtifactResult, error) {
	f.artifactReq = req
	return f.artifactRes, f.artifactErr
}

func (f *fakeEngine) Submit(_ context.Context, req lifecycle.SubmitRequest) (agreement.Agreement, error) {
	f.submitReq = req
	return f.submitRes, f.submitErr
}

type fakeBlobs struct {
	objects map[string]blob.Object
}

func (f *fakeBlobs) Put(_ context.Context, obj blob.Object) error {
	if f.objects == nil {
		f.objects = map[string]blob.Object{}
	}
	f.objects[obj.Path] = obj
	return nil
}

func (f *fakeBlobs) Get(_ context.Context, path string) (blob.Object, error) {
	obj, ok := f.objects[path]
	if !ok {
		return blob.Object{}, blob.ErrNotFound
	}
	return obj, nil
}

func (f *fakeBlobs) URL(path string) string { return "https://files.example.com/" + path }

func newTestServer(t *testing.T, secret string) (*Server, *fakeStore, *fakeEngine, *fakeBlobs) {
	t.Helper()
	store := &fakeStore{rec: agreement.Agreement{ID: "A1", Status: agreement.StatusPending}}
	engine := &fakeEngine{}
	blobs := &fakeBlobs{}
	srv := NewServer(store, engine, blobs, zap.NewNop(), Options{
		JWTSecret:       secret,
		GenerateTimeout: time.Minute,
	})
	return srv, store, engine, blobs
}

func signToken(t *testing.T, secret string) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"user_id": "admin-1",
		"exp":     time.Now().Add(time.Hour).Unix(),
	})
	signed, err := token.SignedString([]byte(secret))
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	return signed
}

func doJSON(t *testing.T, srv *Server, method, path, token string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	srv.Router().ServeHTTP(w, req)
	return w
}

func TestCreateRequiresToken(t *testing.T) {
	srv, store, _, _ := newTestServer(t, "topsecret")

	w := doJSON(t, srv, http.MethodPost, "/api/agreements", "", createRequest{VendorName: "Acme"})
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", w.Code)
	}
	if len(store.created) != 0 {
		t.Fatalf("store was reached despite missing token")
	}

	w = doJSON(t, srv, http.MethodPost, "/api/agreements", "garbage.token.here", nil)
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401 for bad token", w.Code)
	}
}

func TestCreateAgreement(t *testing.T) {
	srv, store, _, _ := newTestServer(t, "topsecret")
	token := signToken(t, "topsecret")

	w := doJSON(t, srv, http.MethodPost, "/api/agreements", token, createRequest{
		VendorName:  "Acme Corp",
		VendorEmail: "v@example.com",
		SenderName:  "Northwind",
		PDFURL:      "https://files.example.com/doc.pdf",
	})
	if w.Code != http.StatusCreated {
		t.Fatalf("status = %d, want 201, body %s", w.Code, w.Body.String())
	}
	if len(store.created) != 1 || store.created[0].VendorEmail != "v@example.com" {
		t.Fatalf("unexpected create params: %+v", store.created)
	}

	var rec agreement.Agreement
	if err := json.Unmarshal(w.Body.Bytes(), &rec); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if rec.VendorName != "Acme Corp" {
		t.Fatalf("vendorName = %q", rec.VendorName)
	}
}

func TestGenerateArtifact(t *testing.T) {
	srv, _, engine, _ := newTestServer(t, "topsecret")
	token := signToken(t, "topsecret")
	engine.artifactRes = lifecycle.ArtifactResult{SignedPDFURL: "https://files.example.com/signed_agreements/A1_signed.pdf"}

	w := doJSON(t, srv, http.MethodPost, "/api/agreements/generate", token, lifecycle.ArtifactRequest{
		SourceURL:   "https://files.example.com/doc.pdf",
		AgreementID: "A1",
		VendorData:  map[string]string{"vendorName": "Acme"},
	})
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", w.Code, w.Body.String())
	}
	if engine.artifactReq.AgreementID != "A1" {
		t.Fatalf("engine got request %+v", engine.artifactReq)
	}

	var res lifecycle.ArtifactResult
	if err := json.Unmarshal(w.Body.Bytes(), &res); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if !strings.HasSuffix(res.SignedPDFURL, "A1_signed.pdf") {
		t.Fatalf("signedPdfUrl = %q", res.SignedPDFURL)
	}
}

func TestGenerateArtifactErrorMapping(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want int
	}{
		{"validation", fault.New(fault.Validation, "missing source url"), http.StatusBadRequest},
		{"fetch", fault.New(fault.Fetch, "source fetch: 404 Not Found"), http.StatusBadGateway},
		{"render", fault.New(fault.Render, "decode signature"), http.StatusInternalServerError},
		{"not found", fault.New(fault.NotFound, "agreement A9 not found"), http.StatusNotFound},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			srv, _, engine, _ := newTestServer(t, "")
			engine.artifactErr = tc.err

			w := doJSON(t, srv, http.MethodPost, "/api/agreements/generate", "", lifecycle.ArtifactRequest{AgreementID: "A1"})
			if w.Code != tc.want {
				t.Fatalf("status = %d, want %d", w.Code, tc.want)
			}

			var body map[string]string
			if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
				t.Fatalf("decode error body: %v", err)
			}
			if body["error"] == "" {
				t.Fatal("error body missing message")
			}
		})
	}
}

func TestSubmitAgreement(t *testing.T) {
	srv, _, engine, _ := newTestServer(t, "")
	engine.submitRes = agreement.Agreement{ID: "A1", Status: agreement.StatusSigned, Signed: true}

	w := doJSON(t, srv, http.MethodPost, "/api/sign/A1", "", submitRequest{
		FormData:         map[string]string{"taxId": "12-345"},
		SignatureDataURL: "data:image/png;base64,AAAA",
		Platform:         "web",
	})
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", w.Code, w.Body.String())
	}
	if engine.submitReq.AgreementID != "A1" || engine.submitReq.Platform != "web" {
		t.Fatalf("engine got request %+v", engine.submitReq)
	}
}

func TestSubmitPlatformFallsBackToUserAgent(t *testing.T) {
	srv, _, engine, _ := newTestServer(t, "")

	var buf bytes.Buffer
	_ = json.NewEncoder(&buf).Encode(submitRequest{FormData: map[string]string{"k": "v"}})
	req := httptest.NewRequest(http.MethodPost, "/api/sign/A1", &buf)
	req.Header.Set("User-Agent", "Mozilla/5.0")
	w := httptest.NewRecorder()
	srv.Router().ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	if engine.submitReq.Platform != "Mozilla/5.0" {
		t.Fatalf("platform = %q, want user agent", engine.submitReq.Platform)
	}
}

func TestServeFile(t *testing.T) {
	srv, _, _, blobs := newTestServer(t, "")
	_ = blobs.Put(context.Background(), blob.Object{
		Path:        "signed_agreements/A1_signed.pdf",
		ContentType: "application/pdf",
		Data:        []byte("%PDF-1.7 stub"),
		Public:      true,
	})
	_ = blobs.Put(context.Background(), blob.Object{
		Path:   "private/internal.bin",
		Data:   []byte{0x01},
		Public: false,
	})

	w := doJSON(t, srv, http.MethodGet, "/files/signed_agreements/A1_signed.pdf", "", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	if got := w.Header().Get("Content-Type"); got != "application/pdf" {
		t.Fatalf("content type = %q", got)
	}
	if !bytes.Contains(w.Body.Bytes(), []byte("%PDF")) {
		t.Fatal("body does not carry the stored object")
	}

	w = doJSON(t, srv, http.MethodGet, "/files/private/internal.bin", "", nil)
	if w.Code != http.StatusNotFound {
		t.Fatalf("private object served, status = %d", w.Code)
	}

	w = doJSON(t, srv, http.MethodGet, "/files/missing.pdf", "", nil)
	if w.Code != http.StatusNotFound {
		t.Fatalf("missing object status = %d", w.Code)
	}
}

type fakeAuth struct {
	res auth.LoginResult
	err error
}

func (f *fakeAuth) Login(context.Context, auth.LoginRequest) (auth.LoginResult, error) {
	return f.res, f.err
}

func TestLogin(t *testing.T) {
	a := &fakeAuth{res: auth.LoginResult{
		Token:   "signed.jwt.token",
		Account: auth.Account{Email: "ops@example.com", FullName: "Olive Operator", Role: auth.RoleOperator},
	}}
	srv := NewServer(&fakeStore{}, &fakeEngine{}, &fakeBlobs{}, zap.NewNop(), Options{Auth: a})

	w := doJSON(t, srv, http.MethodPost, "/api/auth/login", "", auth.LoginRequest{
		Email:    "ops@example.com",
		Password: "supersafe",
	})
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", w.Code, w.Body.String())
	}

	var res loginResponse
	if err := json.Unmarshal(w.Body.Bytes(), &res); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if res.Token != "signed.jwt.token" || res.Role != "operator" {
		t.Fatalf("unexpected login response: %+v", res)
	}

	a.err = auth.ErrInvalidCredentials
	w = doJSON(t, srv, http.MethodPost, "/api/auth/login", "", auth.LoginRequest{Email: "ops@example.com", Password: "wrong"})
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", w.Code)
	}
}

func TestLoginRouteAbsentWithoutAuthenticator(t *testing.T) {
	srv, _, _, _ := newTestServer(t, "")
	w := doJSON(t, srv, http.MethodPost, "/api/auth/login", "", auth.LoginRequest{Email: "a@b.c", Password: "x"})
	if w.Code != http.StatusNotFound && w.Code != http.StatusMethodNotAllowed {
		t.Fatalf("status = %d, want 404/405", w.Code)
	}
}

func TestHealth(t *testing.T) {
	srv, _, _, _ := newTestServer(t, "")
	w := doJSON(t, srv, http.MethodGet, "/health", "", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
}
