package auth

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/Mr-kumar/pdf-toolkit/pkg/errdefs"
	"github.com/Mr-kumar/pdf-toolkit/pkg/store"
	"github.com/Mr-kumar/pdf-toolkit/pkg/types"
)

const testSecret = "0123456789abcdef0123456789abcdef"

type fakeStore struct {
	store.Store
	tenants map[int64]*types.Tenant
	byEmail map[string]*types.Tenant
	keys    map[string]*types.APIKey
	touched int64
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		tenants: make(map[int64]*types.Tenant),
		byEmail: make(map[string]*types.Tenant),
		keys:    make(map[string]*types.APIKey),
	}
}

func (f *fakeStore) GetTenant(ctx context.Context, id int64) (*types.Tenant, error) {
	t, ok := f.tenants[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return t, nil
}

func (f *fakeStore) GetTenantByEmail(ctx context.Context, email string) (*types.Tenant, error) {
	t, ok := f.byEmail[email]
	if !ok {
		return nil, store.ErrNotFound
	}
	return t, nil
}

func (f *fakeStore) CreateAPIKey(ctx context.Context, k *types.APIKey) error {
	k.ID = int64(len(f.keys) + 1)
	f.keys[k.KeyHash] = k
	return nil
}

func (f *fakeStore) GetAPIKeyByHash(ctx context.Context, hash string) (*types.APIKey, error) {
	k, ok := f.keys[hash]
	if !ok {
		return nil, store.ErrNotFound
	}
	return k, nil
}

func (f *fakeStore) TouchAPIKey(ctx context.Context, id int64, when time.Time) error {
	f.touched = id
	return nil
}

func newTestService(st store.Store) *Service {
	return NewService(st, testSecret, 30*time.Minute, 7*24*time.Hour)
}

func TestPasswordHashing(t *testing.T) {
	svc := newTestService(newFakeStore())

	hash, err := svc.HashPassword("hunter22")
	if err != nil {
		t.Fatalf("HashPassword: %v", err)
	}
	if hash == "hunter22" {
		t.Fatal("hash must not equal the plaintext")
	}
	if !svc.VerifyPassword("hunter22", hash) {
		t.Error("correct password rejected")
	}
	if svc.VerifyPassword("hunter23", hash) {
		t.Error("wrong password accepted")
	}
}

func TestAccessTokenRoundtrip(t *testing.T) {
	svc := newTestService(newFakeStore())
	tenant := &types.Tenant{ID: 42, Email: "a@example.com"}

	token, err := svc.CreateAccessToken(tenant)
	if err != nil {
		t.Fatalf("CreateAccessToken: %v", err)
	}

	id, err := svc.VerifyToken(token, TokenTypeAccess)
	if err != nil {
		t.Fatalf("VerifyToken: %v", err)
	}
	if id != 42 {
		t.Errorf("tenant id = %d, want 42", id)
	}
}

func TestRefreshTokenIsNotAnAccessToken(t *testing.T) {
	svc := newTestService(newFakeStore())
	tenant := &types.Tenant{ID: 42, Email: "a@example.com"}

	refresh, err := svc.CreateRefreshToken(tenant)
	if err != nil {
		t.Fatal(err)
	}

	if _, err := svc.VerifyToken(refresh, TokenTypeAccess); err == nil {
		t.Fatal("refresh token accepted as access token")
	}
	if _, err := svc.VerifyToken(refresh, TokenTypeRefresh); err != nil {
		t.Fatalf("refresh token rejected as refresh token: %v", err)
	}
}

func TestVerifyTokenRejectsTampering(t *testing.T) {
	svc := newTestService(newFakeStore())
	token, err := svc.CreateAccessToken(&types.Tenant{ID: 42})
	if err != nil {
		t.Fatal(err)
	}

	tampered := token[:len(token)-4] + "XXXX"
	if _, err := svc.VerifyToken(tampered, TokenTypeAccess); err == nil {
		t.Fatal("tampered token accepted")
	}

	other := NewService(newFakeStore(), "another-secret-key-of-enough-len!", time.Minute, time.Hour)
	foreign, err := other.CreateAccessToken(&types.Tenant{ID: 42})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := svc.VerifyToken(foreign, TokenTypeAccess); err == nil {
		t.Fatal("token signed with a different key accepted")
	}
}

func TestVerifyTokenExpired(t *testing.T) {
	st := newFakeStore()
	svc := NewService(st, testSecret, -time.Minute, time.Hour)

	token, err := svc.CreateAccessToken(&types.Tenant{ID: 42})
	if err != nil {
		t.Fatal(err)
	}

	_, err = svc.VerifyToken(token, TokenTypeAccess)
	if err == nil {
		t.Fatal("expired token accepted")
	}
	if !errdefs.Is(err, errdefs.KindUnauthenticated) {
		t.Errorf("kind = %v, want Unauthenticated", errdefs.KindOf(err))
	}
	if !strings.Contains(errdefs.Message(err), "expired") {
		t.Errorf("message = %q, want expiry hint", errdefs.Message(err))
	}
}

func TestAuthenticateTenant(t *testing.T) {
	st := newFakeStore()
	svc := newTestService(st)

	hash, _ := svc.HashPassword("hunter22")
	st.byEmail["a@example.com"] = &types.Tenant{
		ID: 1, Email: "a@example.com", PasswordHash: hash, Active: true,
	}

	if _, err := svc.AuthenticateTenant(context.Background(), "a@example.com", "hunter22"); err != nil {
		t.Fatalf("AuthenticateTenant: %v", err)
	}
	if _, err := svc.AuthenticateTenant(context.Background(), "a@example.com", "wrong"); err == nil {
		t.Fatal("wrong password accepted")
	}
	if _, err := svc.AuthenticateTenant(context.Background(), "missing@example.com", "hunter22"); err == nil {
		t.Fatal("unknown email accepted")
	}

	st.byEmail["a@example.com"].Active = false
	if _, err := svc.AuthenticateTenant(context.Background(), "a@example.com", "hunter22"); err == nil {
		t.Fatal("inactive account accepted")
	}
}

func TestAPIKeyLifecycle(t *testing.T) {
	st := newFakeStore()
	st.tenants[7] = &types.Tenant{ID: 7, Active: true}
	svc := newTestService(st)

	raw, err := svc.GenerateAPIKey(context.Background(), 7, "ci")
	if err != nil {
		t.Fatalf("GenerateAPIKey: %v", err)
	}
	if !strings.HasPrefix(raw, "pk_") {
		t.Errorf("raw key %q missing pk_ prefix", raw)
	}

	// Only the hash is stored
	if _, ok := st.keys[raw]; ok {
		t.Error("raw key stored verbatim")
	}
	if _, ok := st.keys[HashAPIKey(raw)]; !ok {
		t.Error("key hash not stored")
	}

	tenant, err := svc.VerifyAPIKey(context.Background(), raw)
	if err != nil {
		t.Fatalf("VerifyAPIKey: %v", err)
	}
	if tenant.ID != 7 {
		t.Errorf("tenant id = %d, want 7", tenant.ID)
	}
	if st.touched == 0 {
		t.Error("last-used timestamp not recorded")
	}

	if _, err := svc.VerifyAPIKey(context.Background(), "pk_bogus"); err == nil {
		t.Fatal("bogus key accepted")
	}

	st.tenants[7].Active = false
	if _, err := svc.VerifyAPIKey(context.Background(), raw); err == nil {
		t.Fatal("key of inactive tenant accepted")
	}
}
