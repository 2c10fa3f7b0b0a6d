package portfolio

import (
	"context"
	"sync"
	"time"

	"github.com/chihkang/PortfolioManager/internal/models"
	"github.com/shopspring/decimal"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

// ---------------------------------------------------------------------------
// Shared operation log, used to assert ordering across store and cache
// ---------------------------------------------------------------------------

type opLog struct {
	mu  sync.Mutex
	ops []string
}

func (l *opLog) add(op string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.ops = append(l.ops, op)
}

func (l *opLog) list() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]string(nil), l.ops...)
}

// ---------------------------------------------------------------------------
// In-memory Store
// ---------------------------------------------------------------------------

type fakeStore struct {
	mu         sync.Mutex
	log        *opLog
	stocks     map[primitive.ObjectID]models.Stock
	portfolios []models.Portfolio

	findErrs   []error // returned by successive FindPortfoliosContainingStock calls
	findCalls  int
	updateErrs map[primitive.ObjectID]error
	bulkErr    error
	bulkCalls  int

	currencyErrs  []error // returned by successive FindStocksByCurrency calls
	currencyCalls int
}

func newFakeStore(log *opLog) *fakeStore {
	return &fakeStore{
		log:        log,
		stocks:     map[primitive.ObjectID]models.Stock{},
		updateErrs: map[primitive.ObjectID]error{},
	}
}

func (s *fakeStore) addStock(name, price, ccy string) primitive.ObjectID {
	s.mu.Lock()
	defer s.mu.Unlock()
	id := primitive.NewObjectID()
	s.stocks[id] = models.Stock{ID: id, Name: name, Price: decimal.RequireFromString(price), Currency: ccy}
	return id
}

func (s *fakeStore) addPortfolio(rate string, holdings ...models.Holding) primitive.ObjectID {
	s.mu.Lock()
	defer s.mu.Unlock()
	p := models.Portfolio{ID: primitive.NewObjectID(), Holdings: holdings}
	if rate != "" {
		r := decimal.RequireFromString(rate)
		p.ExchangeRate = &r
	}
	s.portfolios = append(s.portfolios, p)
	return p.ID
}

func (s *fakeStore) portfolio(id primitive.ObjectID) models.Portfolio {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, p := range s.portfolios {
		if p.ID == id {
			return p
		}
	}
	return models.Portfolio{}
}

func copyPortfolio(p models.Portfolio) models.Portfolio {
	p.Holdings = append([]models.Holding(nil), p.Holdings...)
	return p
}

func (s *fakeStore) GetPortfolio(ctx context.Context, id primitive.ObjectID) (*models.Portfolio, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, p := range s.portfolios {
		if p.ID == id {
			cp := copyPortfolio(p)
			return &cp, nil
		}
	}
	return nil, models.ErrNotFound
}

func (s *fakeStore) FindPortfoliosContainingStock(ctx context.Context, stockID primitive.ObjectID) ([]models.Portfolio, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.findCalls++
	if len(s.findErrs) > 0 {
		err := s.findErrs[0]
		s.findErrs = s.findErrs[1:]
		if err != nil {
			return nil, err
		}
	}
	var out []models.Portfolio
	for _, p := range s.portfolios {
		for _, h := range p.Holdings {
			if h.StockID == stockID {
				out = append(out, copyPortfolio(p))
				break
			}
		}
	}
	return out, nil
}

func (s *fakeStore) FindPortfoliosWithRateHoldingAny(ctx context.Context, stockIDs []primitive.ObjectID) ([]models.Portfolio, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	want := map[primitive.ObjectID]bool{}
	for _, id := range stockIDs {
		want[id] = true
	}
	var out []models.Portfolio
	for _, p := range s.portfolios {
		if p.ExchangeRate == nil {
			continue
		}
		for _, h := range p.Holdings {
			if want[h.StockID] {
				out = append(out, copyPortfolio(p))
				break
			}
		}
	}
	return out, nil
}

func (s *fakeStore) FindStocksByIDs(ctx context.Context, ids []primitive.ObjectID) ([]models.Stock, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.Stock
	for _, id := range ids {
		if st, ok := s.stocks[id]; ok {
			out = append(out, st)
		}
	}
	return out, nil
}

func (s *fakeStore) FindStocksByCurrency(ctx context.Context, currency string) ([]models.Stock, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.currencyCalls++
	if len(s.currencyErrs) > 0 {
		err := s.currencyErrs[0]
		s.currencyErrs = s.currencyErrs[1:]
		if err != nil {
			return nil, err
		}
	}
	var out []models.Stock
	for _, st := range s.stocks {
		if st.Currency == currency {
			out = append(out, st)
		}
	}
	return out, nil
}

func (s *fakeStore) UpdatePortfolio(ctx context.Context, id primitive.ObjectID, total decimal.Decimal, holdings []models.Holding, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.updateErrs[id]; err != nil {
		return err
	}
	for i := range s.portfolios {
		if s.portfolios[i].ID == id {
			s.portfolios[i].TotalValue = total
			s.portfolios[i].Holdings = append([]models.Holding(nil), holdings...)
			s.portfolios[i].LastUpdated = at
			s.log.add("persist:" + id.Hex())
			return nil
		}
	}
	return models.ErrNotFound
}

func (s *fakeStore) BulkSetExchangeRate(ctx context.Context, rate decimal.Decimal, at time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.bulkCalls++
	if s.bulkErr != nil {
		return 0, s.bulkErr
	}
	var n int64
	for i := range s.portfolios {
		if s.portfolios[i].ExchangeRate != nil {
			r := rate
			s.portfolios[i].ExchangeRate = &r
			ts := at
			s.portfolios[i].ExchangeRateUpdated = &ts
			n++
		}
	}
	s.log.add("bulk_rate")
	return n, nil
}

func (s *fakeStore) CurrentExchangeRate(ctx context.Context) (decimal.Decimal, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, p := range s.portfolios {
		if p.ExchangeRate != nil {
			return *p.ExchangeRate, nil
		}
	}
	return decimal.Zero, models.ErrNotFound
}

func (s *fakeStore) UpdateStockPriceByName(ctx context.Context, name string, price decimal.Decimal, at time.Time) (*models.Stock, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, st := range s.stocks {
		if st.Name == name {
			before := st
			st.Price = price
			st.LastUpdated = at
			s.stocks[id] = st
			return &before, nil
		}
	}
	return nil, models.ErrNotFound
}

// ---------------------------------------------------------------------------
// In-memory Cache
// ---------------------------------------------------------------------------

type fakeCache struct {
	mu         sync.Mutex
	log        *opLog
	portfolios map[primitive.ObjectID]models.Portfolio
	rate       *decimal.Decimal
	rateSets   int
}

func newFakeCache(log *opLog) *fakeCache {
	return &fakeCache{log: log, portfolios: map[primitive.ObjectID]models.Portfolio{}}
}

func (c *fakeCache) GetPortfolio(ctx context.Context, id primitive.ObjectID) (*models.Portfolio, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	p, ok := c.portfolios[id]
	if !ok {
		return nil, false
	}
	return &p, true
}

func (c *fakeCache) SetPortfolio(ctx context.Context, p *models.Portfolio, ttl time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.portfolios[p.ID] = *p
}

func (c *fakeCache) InvalidatePortfolio(ctx context.Context, id primitive.ObjectID) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.portfolios, id)
	c.log.add("invalidate:" + id.Hex())
}

func (c *fakeCache) GetExchangeRate(ctx context.Context) (decimal.Decimal, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.rate == nil {
		return decimal.Zero, false
	}
	return *c.rate, true
}

func (c *fakeCache) SetExchangeRate(ctx context.Context, rate decimal.Decimal, ttl time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.rate = &rate
	c.rateSets++
}
