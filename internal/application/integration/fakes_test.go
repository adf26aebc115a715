package integration

import (
	"context"
	"errors"
	"maps"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/mock"

	"github.com/erp/ledgersync/internal/domain/integration"
)

// ---------------------------------------------------------------------------
// Mocks
// ---------------------------------------------------------------------------

// MockOAuthProvider is a mock implementation of integration.OAuthProvider
type MockOAuthProvider struct {
	mock.Mock
}

func (m *MockOAuthProvider) AuthCodeURL(state string) string {
	args := m.Called(state)
	return args.String(0)
}

func (m *MockOAuthProvider) Exchange(ctx context.Context, code string) (*integration.OAuthToken, error) {
	args := m.Called(ctx, code)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*integration.OAuthToken), args.Error(1)
}

func (m *MockOAuthProvider) Refresh(ctx context.Context, refreshToken string) (*integration.OAuthToken, error) {
	args := m.Called(ctx, refreshToken)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*integration.OAuthToken), args.Error(1)
}

// MockProviderClient is a mock implementation of integration.ProviderClient
type MockProviderClient struct {
	mock.Mock
}

func (m *MockProviderClient) FetchPage(ctx context.Context, req integration.PageRequest) (*integration.Page, error) {
	args := m.Called(ctx, req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*integration.Page), args.Error(1)
}

// MockPageArchive is a mock implementation of integration.PageArchive
type MockPageArchive struct {
	mock.Mock
}

func (m *MockPageArchive) ArchivePage(ctx context.Context, tenantID, runID uuid.UUID, module integration.ModuleID, page int64, body []byte) error {
	args := m.Called(ctx, tenantID, runID, module, page, body)
	return args.Error(0)
}

// ---------------------------------------------------------------------------
// In-memory fakes
// ---------------------------------------------------------------------------

// fakeCipher prefixes plaintext so tests can see what was encrypted
type fakeCipher struct{}

func (fakeCipher) Encrypt(plaintext string) (string, error) { return "enc:" + plaintext, nil }

func (fakeCipher) Decrypt(ciphertext string) (string, error) {
	plain, ok := strings.CutPrefix(ciphertext, "enc:")
	if !ok {
		return "", errors.New("fake cipher: not encrypted")
	}
	return plain, nil
}

type fakeTenants struct {
	known map[uuid.UUID]bool
}

func newFakeTenants(ids ...uuid.UUID) *fakeTenants {
	t := &fakeTenants{known: map[uuid.UUID]bool{}}
	for _, id := range ids {
		t.known[id] = true
	}
	return t
}

func (t *fakeTenants) Exists(_ context.Context, id uuid.UUID) (bool, error) {
	return t.known[id], nil
}

type fakeConnections struct {
	mu      sync.Mutex
	byID   map[uuid.UUID]integration.TenantConnection
	writes int
}

func newFakeConnections() *fakeConnections {
	return &fakeConnections{byID: map[uuid.UUID]integration.TenantConnection{}}
}

func (f *fakeConnections) FindByTenant(_ context.Context, tenantID uuid.UUID) (*integration.TenantConnection, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	c, ok := f.byID[tenantID]
	if !ok {
		return nil, integration.ErrNotConnected
	}
	return &c, nil
}

func (f *fakeConnections) Upsert(_ context.Context, conn *integration.TenantConnection) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.byID[conn.TenantID] = *conn
	f.writes++
	return nil
}

func (f *fakeConnections) UpdateTokens(_ context.Context, conn *integration.TenantConnection) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.byID[conn.TenantID]; !ok {
		return integration.ErrNotConnected
	}
	f.byID[conn.TenantID] = *conn
	f.writes++
	return nil
}

func (f *fakeConnections) DeleteByTenant(_ context.Context, tenantID uuid.UUID) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.byID, tenantID)
	return nil
}

func (f *fakeConnections) ListConnectedTenants(context.Context) ([]uuid.UUID, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return slices.Collect(maps.Keys(f.byID)), nil
}

// fakeCheckpoints records page commits and serves cross-run cursors
type fakeCheckpoints struct {
	mu      sync.Mutex
	commits []integration.PageCommit
	cursors map[integration.ModuleID]string
	failAt  int
	err     error
}

func newFakeCheckpoints() *fakeCheckpoints {
	return &fakeCheckpoints{cursors: map[integration.ModuleID]string{}, failAt: -1}
}

func (f *fakeCheckpoints) CommitPage(_ context.Context, c integration.PageCommit) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failAt == len(f.commits) {
		return errors.Join(integration.ErrCheckpointCommit, f.err)
	}
	f.commits = append(f.commits, c)
	if c.PersistCursor {
		f.cursors[c.Module] = c.Cursor
	}
	return nil
}

func (f *fakeCheckpoints) FindCursor(_ context.Context, tenantID uuid.UUID, module integration.ModuleID) (*integration.SyncCursor, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	pos, ok := f.cursors[module]
	if !ok {
		return nil, integration.ErrCursorNotFound
	}
	return &integration.SyncCursor{TenantID: tenantID, Module: module, Position: pos}, nil
}

func (f *fakeCheckpoints) committed() []integration.PageCommit {
	f.mu.Lock()
	defer f.mu.Unlock()
	return slices.Clone(f.commits)
}

// fakeRuns is an in-memory SyncRunRepository with the same conditional
// transitions as the database implementation
type fakeRuns struct {
	mu   sync.Mutex
	runs map[uuid.UUID]*integration.SyncRun
	// onIsCancel runs before IsCancelRequested reads the marker
	onIsCancel func(id uuid.UUID)
}

func newFakeRuns() *fakeRuns {
	return &fakeRuns{runs: map[uuid.UUID]*integration.SyncRun{}}
}

func cloneRun(r *integration.SyncRun) *integration.SyncRun {
	c := *r
	c.Modules = slices.Clone(r.Modules)
	c.Cursor = r.Cursor.Clone()
	c.Progress = r.Progress.Clone()
	return &c
}

func (f *fakeRuns) Create(_ context.Context, run *integration.SyncRun) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.runs[run.ID] = cloneRun(run)
	return nil
}

func (f *fakeRuns) FindByID(_ context.Context, id uuid.UUID) (*integration.SyncRun, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	r, ok := f.runs[id]
	if !ok {
		return nil, integration.ErrRunNotFound
	}
	return cloneRun(r), nil
}

func (f *fakeRuns) FindLatestFailed(_ context.Context, tenantID uuid.UUID, mode integration.RunMode, window *integration.DateRange) (*integration.SyncRun, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var latest *integration.SyncRun
	for _, r := range f.runs {
		if r.TenantID != tenantID || r.Mode != mode || r.Status != integration.RunStatusFailed || !r.Window.Equal(window) {
			continue
		}
		if latest == nil || r.CreatedAt.After(latest.CreatedAt) {
			latest = r
		}
	}
	if latest == nil {
		return nil, integration.ErrRunNotFound
	}
	return cloneRun(latest), nil
}

func (f *fakeRuns) List(_ context.Context, tenantID uuid.UUID, filter integration.RunFilter) ([]integration.SyncRun, int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []integration.SyncRun
	for _, r := range f.runs {
		if r.TenantID != tenantID {
			continue
		}
		if filter.Status != "" && r.Status != filter.Status {
			continue
		}
		out = append(out, *cloneRun(r))
	}
	slices.SortFunc(out, func(a, b integration.SyncRun) int { return b.CreatedAt.Compare(a.CreatedAt) })
	total := int64(len(out))
	if filter.PageSize > 0 {
		start := min((max(filter.Page, 1)-1)*filter.PageSize, len(out))
		out = out[start:min(start+filter.PageSize, len(out))]
	}
	return out, total, nil
}

func (f *fakeRuns) Claim(_ context.Context, id uuid.UUID, now time.Time) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	r, ok := f.runs[id]
	if !ok || r.Status != integration.RunStatusQueued {
		return false, nil
	}
	for _, other := range f.runs {
		if other.TenantID == r.TenantID && other.Status == integration.RunStatusRunning {
			return false, nil
		}
	}
	return true, r.Start(now)
}

func (f *fakeRuns) AdvanceModule(_ context.Context, id uuid.UUID, moduleIndex int, now time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	r, ok := f.runs[id]
	if !ok || r.Status != integration.RunStatusRunning || r.ModuleIndex > moduleIndex {
		return integration.ErrInvalidTransition
	}
	r.ModuleIndex = moduleIndex
	r.LastCheckpointAt = &now
	return nil
}

func (f *fakeRuns) Finish(_ context.Context, id uuid.UUID, status integration.RunStatus, msg string, now time.Time) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	r, ok := f.runs[id]
	if !ok || r.Status != integration.RunStatusRunning {
		return false, nil
	}
	switch status {
	case integration.RunStatusDone:
		return true, r.Complete(now)
	case integration.RunStatusFailed:
		return true, r.Fail(msg, now)
	case integration.RunStatusCanceled:
		return true, r.Cancel(now)
	}
	return false, integration.ErrInvalidTransition
}

func (f *fakeRuns) CancelQueued(_ context.Context, id uuid.UUID, now time.Time) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	r, ok := f.runs[id]
	if !ok || r.Status != integration.RunStatusQueued {
		return false, nil
	}
	r.CancelRequested = true
	return true, r.Cancel(now)
}

func (f *fakeRuns) RequestCancel(_ context.Context, id uuid.UUID) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	r, ok := f.runs[id]
	if !ok || r.Status != integration.RunStatusRunning {
		return false, nil
	}
	r.CancelRequested = true
	return true, nil
}

func (f *fakeRuns) IsCancelRequested(_ context.Context, id uuid.UUID) (bool, error) {
	if f.onIsCancel != nil {
		f.onIsCancel(id)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	r, ok := f.runs[id]
	if !ok {
		return false, integration.ErrRunNotFound
	}
	return r.CancelRequested, nil
}

func (f *fakeRuns) FindStale(_ context.Context, cutoff time.Time, limit int) ([]integration.SyncRun, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []integration.SyncRun
	for _, r := range f.runs {
		if r.Status == integration.RunStatusRunning && r.LastActivity().Before(cutoff) {
			out = append(out, *cloneRun(r))
		}
	}
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (f *fakeRuns) FailStale(_ context.Context, id uuid.UUID, cutoff time.Time, msg string, now time.Time) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	r, ok := f.runs[id]
	if !ok || r.Status != integration.RunStatusRunning || !r.LastActivity().Before(cutoff) {
		return false, nil
	}
	return true, r.Fail(msg, now)
}

func (f *fakeRuns) CountRunning(context.Context) (map[uuid.UUID]int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := map[uuid.UUID]int64{}
	for _, r := range f.runs {
		if r.Status == integration.RunStatusRunning {
			out[r.TenantID]++
		}
	}
	return out, nil
}

// recordCheckpoint mirrors CommitPage into the stored run, the way the
// database checkpoint store updates sync_runs in the page transaction
func (f *fakeRuns) recordCheckpoint(c integration.PageCommit) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if r, ok := f.runs[c.RunID]; ok {
		r.Cursor = c.RunCursor.Clone()
		r.Progress = c.RunProgress.Clone()
		at := c.CommittedAt
		r.LastCheckpointAt = &at
	}
}

// linkedCheckpoints writes commits to both the checkpoint fake and the run fake
type linkedCheckpoints struct {
	*fakeCheckpoints
	runs *fakeRuns
}

func (l linkedCheckpoints) CommitPage(ctx context.Context, c integration.PageCommit) error {
	if err := l.fakeCheckpoints.CommitPage(ctx, c); err != nil {
		return err
	}
	l.runs.recordCheckpoint(c)
	return nil
}
