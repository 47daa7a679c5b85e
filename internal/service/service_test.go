package service

import (
	"context"
	"slices"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/Skotchmaster/marketplace/internal/authz"
	"github.com/Skotchmaster/marketplace/internal/db/dbtest"
	"github.com/Skotchmaster/marketplace/internal/events"
	"github.com/Skotchmaster/marketplace/internal/metrics"
	"github.com/Skotchmaster/marketplace/internal/models"
	"github.com/Skotchmaster/marketplace/internal/repo"
	"github.com/Skotchmaster/marketplace/internal/tokens"
)

// fakeIndex is an in-memory search.Index. Hits and Err override the
// substring match over indexed names.
type fakeIndex struct {
	mu      sync.Mutex
	docs    map[uint]models.Product
	puts    []uint
	deletes []uint

	Hits  []uint
	Total int64
	Err   error
}

func (x *fakeIndex) Search(_ context.Context, q string, offset, limit int) (int64, []uint, error) {
	x.mu.Lock()
	defer x.mu.Unlock()
	if x.Err != nil {
		return 0, nil, x.Err
	}
	if x.Hits != nil {
		return x.Total, x.Hits, nil
	}

	var ids []uint
	for id, p := range x.docs {
		if strings.Contains(strings.ToLower(p.Name), strings.ToLower(q)) {
			ids = append(ids, id)
		}
	}
	slices.Sort(ids)
	total := int64(len(ids))
	if offset >= len(ids) {
		return total, nil, nil
	}
	ids = ids[offset:]
	if len(ids) > limit {
		ids = ids[:limit]
	}
	return total, ids, nil
}

func (x *fakeIndex) Put(_ context.Context, p models.Product) error {
	x.mu.Lock()
	defer x.mu.Unlock()
	if x.docs == nil {
		x.docs = map[uint]models.Product{}
	}
	x.docs[p.ID] = p
	x.puts = append(x.puts, p.ID)
	return nil
}

func (x *fakeIndex) Delete(_ context.Context, id uint) error {
	x.mu.Lock()
	defer x.mu.Unlock()
	delete(x.docs, id)
	x.deletes = append(x.deletes, id)
	return nil
}

func (x *fakeIndex) doc(id uint) (models.Product, bool) {
	x.mu.Lock()
	defer x.mu.Unlock()
	p, ok := x.docs[id]
	return p, ok
}

type testEnv struct {
	t       *testing.T
	ctx     context.Context
	repo    *repo.GormRepo
	events  *events.Memory
	metrics *metrics.Metrics
	index   *fakeIndex

	identity *IdentityService
	catalog  *CatalogService
	cart     *CartService
	orders   *OrderService

	admin authz.Actor
}

func newEnv(t *testing.T) *testEnv {
	t.Helper()

	r := repo.New(dbtest.NewTestDB(t))
	ev := &events.Memory{}
	m := metrics.New()
	idx := &fakeIndex{}
	env := &testEnv{
		t:       t,
		ctx:     context.Background(),
		repo:    r,
		events:  ev,
		metrics: m,
		index:   idx,
		identity: &IdentityService{
			Repo:    r,
			Events:  ev,
			Metrics: m,
			Index:   idx,
			Tokens: &tokens.Issuer{
				AccessSecret:  []byte("access"),
				RefreshSecret: []byte("refresh"),
				AccessTTL:     15 * time.Minute,
				RefreshTTL:    time.Hour,
			},
			HashCost: bcrypt.MinCost,
		},
		catalog: &CatalogService{Repo: r, Events: ev, Index: idx},
		cart:    &CartService{Repo: r, Events: ev, Metrics: m},
		orders:  &OrderService{Repo: r, Events: ev, Metrics: m},
	}

	created, err := env.identity.BootstrapAdmin(env.ctx, "admin", "root")
	require.NoError(t, err)
	require.True(t, created)
	env.admin = env.actorOf("admin")
	return env
}

func (e *testEnv) actorOf(username string) authz.Actor {
	e.t.Helper()
	a, err := e.identity.ResolveActorByUsername(e.ctx, username)
	require.NoError(e.t, err)
	return a
}

// approved registers and approves a user, returning its fresh actor.
func (e *testEnv) approved(username, password string, role models.Role) authz.Actor {
	e.t.Helper()
	u, err := e.identity.Register(e.ctx, username, password, role)
	require.NoError(e.t, err)
	_, err = e.identity.SetApproved(e.ctx, e.admin, u.ID, true)
	require.NoError(e.t, err)
	return e.actorOf(username)
}

func (e *testEnv) product(merchant authz.Actor, name, price string, stock int) *models.Product {
	e.t.Helper()
	p, err := e.catalog.Create(e.ctx, merchant, ProductInput{
		Name:  name,
		Price: decimal.RequireFromString(price),
		Stock: stock,
	})
	require.NoError(e.t, err)
	return p
}

func (e *testEnv) stock(id uint) int {
	e.t.Helper()
	p, err := e.repo.GetProduct(e.ctx, id)
	require.NoError(e.t, err)
	return p.Stock
}
