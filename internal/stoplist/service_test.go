package stoplist_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/gofrs/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"github.com/vasiliy-maslov/food-delivery/internal/iiko"
	"github.com/vasiliy-maslov/food-delivery/internal/organization"
	"github.com/vasiliy-maslov/food-delivery/internal/stoplist"
)

type MockRepository struct {
	mock.Mock
}

func (m *MockRepository) Apply(ctx context.Context, organizationID, terminalID uuid.UUID, items []stoplist.Item) (*stoplist.Result, error) {
	args := m.Called(ctx, organizationID, terminalID, items)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*stoplist.Result), args.Error(1)
}

func (m *MockRepository) ListByTerminal(ctx context.Context, terminalID uuid.UUID) ([]stoplist.Entry, error) {
	args := m.Called(ctx, terminalID)
	return args.Get(0).([]stoplist.Entry), args.Error(1)
}

func (m *MockRepository) IsStopped(ctx context.Context, productID, terminalID uuid.UUID) (bool, error) {
	args := m.Called(ctx, productID, terminalID)
	return args.Bool(0), args.Error(1)
}

type fakeDirectory struct {
	orgs      map[uuid.UUID]*organization.Organization
	terminals []organization.Terminal
	synced    []uuid.UUID
}

func (d *fakeDirectory) GetOrganization(ctx context.Context, id uuid.UUID) (*organization.Organization, error) {
	if org, ok := d.orgs[id]; ok {
		return org, nil
	}
	return nil, organization.ErrOrganizationNotFound
}

func (d *fakeDirectory) GetTerminal(ctx context.Context, id uuid.UUID) (*organization.Terminal, error) {
	for _, t := range d.terminals {
		if t.ID == id {
			return &t, nil
		}
	}
	return nil, organization.ErrTerminalNotFound
}

func (d *fakeDirectory) ListTerminals(ctx context.Context, organizationID uuid.UUID) ([]organization.Terminal, error) {
	var out []organization.Terminal
	for _, t := range d.terminals {
		if t.OrganizationID == organizationID && t.IsActive {
			out = append(out, t)
		}
	}
	return out, nil
}

func (d *fakeDirectory) ListActiveTerminals(ctx context.Context) ([]organization.Terminal, error) {
	var out []organization.Terminal
	for _, t := range d.terminals {
		if t.IsActive {
			out = append(out, t)
		}
	}
	return out, nil
}

func (d *fakeDirectory) MarkStopListSynced(ctx context.Context, terminalID uuid.UUID, at time.Time) error {
	d.synced = append(d.synced, terminalID)
	return nil
}

type stubGateway struct {
	resp  iiko.Fields
	err   error
	calls map[string]int
}

func (s *stubGateway) factory(apiKey string) stoplist.Gateway { return s }

func (s *stubGateway) StopLists(ctx context.Context, organizationID string) (iiko.Fields, error) {
	if s.calls == nil {
		s.calls = make(map[string]int)
	}
	s.calls[organizationID]++
	return s.resp, s.err
}

type fixture struct {
	org       *organization.Organization
	terminal1 organization.Terminal
	terminal2 organization.Terminal
	dir       *fakeDirectory
}

func newFixture() fixture {
	org := &organization.Organization{ID: uuid.Must(uuid.NewV4()), ExternalID: "org-ext", Name: "Pizza", APIKey: "key", IsActive: true}
	t1 := organization.Terminal{ID: uuid.Must(uuid.NewV4()), ExternalID: "tg-1", OrganizationID: org.ID, IsActive: true}
	t2 := organization.Terminal{ID: uuid.Must(uuid.NewV4()), ExternalID: "tg-2", OrganizationID: org.ID, IsActive: true}
	return fixture{
		org:       org,
		terminal1: t1,
		terminal2: t2,
		dir: &fakeDirectory{
			orgs:      map[uuid.UUID]*organization.Organization{org.ID: org},
			terminals: []organization.Terminal{t1, t2},
		},
	}
}

func TestService_SyncTerminal(t *testing.T) {
	f := newFixture()
	mockRepo := new(MockRepository)
	gw := &stubGateway{resp: stopListResponse()}

	wantItems, _ := stoplist.TerminalItems(stopListResponse(), "org-ext", "tg-1")
	mockRepo.On("Apply", mock.Anything, f.org.ID, f.terminal1.ID, wantItems).
		Return(&stoplist.Result{TerminalID: f.terminal1.ID, Upserted: 3}, nil).Once()

	svc := stoplist.NewService(mockRepo, f.dir, gw.factory, stoplist.Policy{})
	res, err := svc.SyncTerminal(context.Background(), f.terminal1.ID)

	require.NoError(t, err)
	assert.Equal(t, 3, res.Upserted)
	assert.Equal(t, []uuid.UUID{f.terminal1.ID}, f.dir.synced)
	mockRepo.AssertExpectations(t)
}

func TestService_SyncTerminal_FetchFailureMutatesNothing(t *testing.T) {
	f := newFixture()
	mockRepo := new(MockRepository)
	gw := &stubGateway{err: &iiko.APIError{Path: "/api/1/stop_lists", StatusCode: 502}}

	svc := stoplist.NewService(mockRepo, f.dir, gw.factory, stoplist.Policy{})
	_, err := svc.SyncTerminal(context.Background(), f.terminal1.ID)

	require.Error(t, err)
	assert.True(t, iiko.IsAPIError(err))
	mockRepo.AssertNotCalled(t, "Apply", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
	assert.Empty(t, f.dir.synced, "sync time is not moved on failure")
}

func TestService_SyncTerminal_Inactive(t *testing.T) {
	f := newFixture()
	f.dir.terminals[0].IsActive = false

	svc := stoplist.NewService(new(MockRepository), f.dir, (&stubGateway{}).factory, stoplist.Policy{})
	_, err := svc.SyncTerminal(context.Background(), f.terminal1.ID)

	require.ErrorIs(t, err, stoplist.ErrInactiveTerminal)
}

func TestService_SyncOrganization_BatchIsolation(t *testing.T) {
	f := newFixture()
	mockRepo := new(MockRepository)
	gw := &stubGateway{resp: stopListResponse()}

	mockRepo.On("Apply", mock.Anything, f.org.ID, f.terminal1.ID, mock.Anything).
		Return(nil, errors.New("deadlock detected")).Once()
	mockRepo.On("Apply", mock.Anything, f.org.ID, f.terminal2.ID, mock.Anything).
		Return(&stoplist.Result{TerminalID: f.terminal2.ID, Upserted: 1}, nil).Once()

	svc := stoplist.NewService(mockRepo, f.dir, gw.factory, stoplist.Policy{})
	results, err := svc.SyncOrganization(context.Background(), f.org.ID)

	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, f.terminal2.ID, results[0].TerminalID)
	assert.Equal(t, 1, gw.calls["org-ext"], "one vendor fetch per organization")
	assert.Equal(t, []uuid.UUID{f.terminal2.ID}, f.dir.synced)
	mockRepo.AssertExpectations(t)
}

func TestService_SyncOrganization_EmptyVendorListClearsTerminal(t *testing.T) {
	f := newFixture()
	f.dir.terminals = f.dir.terminals[:1]
	mockRepo := new(MockRepository)
	gw := &stubGateway{resp: iiko.Fields{"terminalGroupStopLists": []any{}}}

	mockRepo.On("Apply", mock.Anything, f.org.ID, f.terminal1.ID, []stoplist.Item(nil)).
		Return(&stoplist.Result{TerminalID: f.terminal1.ID, Deleted: 4}, nil).Once()

	svc := stoplist.NewService(mockRepo, f.dir, gw.factory, stoplist.Policy{})
	results, err := svc.SyncOrganization(context.Background(), f.org.ID)

	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, 4, results[0].Deleted)
	mockRepo.AssertExpectations(t)
}

func TestService_SyncDue(t *testing.T) {
	global, err := stoplist.ParseWindow("08:00", "23:59")
	require.NoError(t, err)
	policy := stoplist.Policy{Global: &global, DefaultInterval: 30 * time.Minute, Location: time.UTC}
	now := at(12, 0)

	t.Run("outside global window sends nothing", func(t *testing.T) {
		f := newFixture()
		gw := &stubGateway{resp: stopListResponse()}
		svc := stoplist.NewService(new(MockRepository), f.dir, gw.factory, policy)

		summary, err := svc.SyncDue(context.Background(), at(3, 0))

		require.NoError(t, err)
		assert.Equal(t, stoplist.ReasonOutsideWorkingHours, summary.Reason)
		assert.Empty(t, gw.calls)
	})

	t.Run("recently synced terminals are skipped", func(t *testing.T) {
		f := newFixture()
		recent := now.Add(-5 * time.Minute)
		f.dir.terminals[1].StopListSyncedAt = &recent

		mockRepo := new(MockRepository)
		mockRepo.On("Apply", mock.Anything, f.org.ID, f.terminal1.ID, mock.Anything).
			Return(&stoplist.Result{TerminalID: f.terminal1.ID}, nil).Once()
		gw := &stubGateway{resp: stopListResponse()}

		svc := stoplist.NewService(mockRepo, f.dir, gw.factory, policy)
		summary, err := svc.SyncDue(context.Background(), now)

		require.NoError(t, err)
		assert.Equal(t, stoplist.Summary{Synced: 1, Skipped: 1}, *summary)
		mockRepo.AssertExpectations(t)
	})

	t.Run("fetch failure counts the whole organization as errors", func(t *testing.T) {
		f := newFixture()
		gw := &stubGateway{err: &iiko.APIError{Path: "/api/1/stop_lists", StatusCode: 500}}
		mockRepo := new(MockRepository)

		svc := stoplist.NewService(mockRepo, f.dir, gw.factory, policy)
		summary, err := svc.SyncDue(context.Background(), now)

		require.NoError(t, err)
		assert.Equal(t, stoplist.Summary{Errors: 2}, *summary)
		assert.Equal(t, 1, gw.calls["org-ext"])
		mockRepo.AssertNotCalled(t, "Apply", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
	})
}
