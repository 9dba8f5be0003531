package documents

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/gescom-erp/gescom/internal/catalog"
	"github.com/gescom-erp/gescom/internal/fiscal"
	"github.com/gescom-erp/gescom/internal/shared"
	"github.com/gescom-erp/gescom/internal/stock"
	"github.com/gescom-erp/gescom/internal/tenant"
	"github.com/gescom-erp/gescom/internal/uom"
)

// memoryRepo is an in-memory RepositoryPort. WithTx serializes callers and
// restores a snapshot when the callback fails, mirroring the store's
// all-or-nothing transaction semantics.
type memoryRepo struct {
	mu       sync.Mutex
	nextID   int64
	docs     map[int64]*Document
	links    [][2]int64
	moves    []stock.Movement
	counters map[string]int64
	idemKeys map[string]struct{}
}

func newMemoryRepo() *memoryRepo {
	return &memoryRepo{docs: map[int64]*Document{}, counters: map[string]int64{}, idemKeys: map[string]struct{}{}}
}

func cloneDoc(d *Document) *Document {
	cp := *d
	cp.Lines = append([]Line(nil), d.Lines...)
	cp.LinkedDocuments = append([]int64(nil), d.LinkedDocuments...)
	return &cp
}

type repoSnapshot struct {
	docs     map[int64]*Document
	links    [][2]int64
	moves    []stock.Movement
	counters map[string]int64
	idemKeys map[string]struct{}
	nextID   int64
}

func (m *memoryRepo) snapshot() repoSnapshot {
	docs := make(map[int64]*Document, len(m.docs))
	for id, d := range m.docs {
		docs[id] = cloneDoc(d)
	}
	counters := make(map[string]int64, len(m.counters))
	for k, v := range m.counters {
		counters[k] = v
	}
	idemKeys := make(map[string]struct{}, len(m.idemKeys))
	for k := range m.idemKeys {
		idemKeys[k] = struct{}{}
	}
	return repoSnapshot{
		docs:     docs,
		links:    append([][2]int64(nil), m.links...),
		moves:    append([]stock.Movement(nil), m.moves...),
		counters: counters,
		idemKeys: idemKeys,
		nextID:   m.nextID,
	}
}

func (m *memoryRepo) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	snap := m.snapshot()
	if err := fn(ctx, (*memoryTx)(m)); err != nil {
		m.docs, m.links, m.moves = snap.docs, snap.links, snap.moves
		m.counters, m.idemKeys, m.nextID = snap.counters, snap.idemKeys, snap.nextID
		return err
	}
	return nil
}

func (m *memoryRepo) GetDocument(ctx context.Context, tenantID, id int64) (*Document, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.getLocked(tenantID, id)
}

func (m *memoryRepo) getLocked(tenantID, id int64) (*Document, error) {
	doc, ok := m.docs[id]
	if !ok || doc.TenantID != tenantID {
		return nil, fmt.Errorf("document %d: %w", id, shared.ErrNotFound)
	}
	cp := cloneDoc(doc)
	cp.LinkedDocuments = nil
	for _, link := range m.links {
		switch id {
		case link[0]:
			cp.LinkedDocuments = append(cp.LinkedDocuments, link[1])
		case link[1]:
			cp.LinkedDocuments = append(cp.LinkedDocuments, link[0])
		}
	}
	return cp, nil
}

func (m *memoryRepo) ListDocuments(ctx context.Context, req ListRequest) ([]Document, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []Document
	for _, doc := range m.docs {
		if doc.TenantID != req.TenantID {
			continue
		}
		if req.Type != nil && doc.Type != *req.Type {
			continue
		}
		if req.Status != nil && doc.Status != *req.Status {
			continue
		}
		out = append(out, *cloneDoc(doc))
	}
	return out, nil
}

// memoryTx reuses the repo's state; WithTx already holds the lock.
type memoryTx memoryRepo

func (m *memoryTx) NextNumber(ctx context.Context, tenantID int64, name string) (string, error) {
	key := fmt.Sprintf("%d/%s", tenantID, name)
	m.counters[key]++
	return fmt.Sprintf("%s-2026-%04d", name, m.counters[key]), nil
}

func (m *memoryTx) InsertDocument(ctx context.Context, doc Document) (int64, error) {
	m.nextID++
	doc.ID = m.nextID
	m.docs[doc.ID] = cloneDoc(&doc)
	return doc.ID, nil
}

func (m *memoryTx) InsertLine(ctx context.Context, line Line) (int64, error) {
	doc, ok := m.docs[line.DocumentID]
	if !ok {
		return 0, fmt.Errorf("document %d: %w", line.DocumentID, shared.ErrNotFound)
	}
	m.nextID++
	line.ID = m.nextID
	doc.Lines = append(doc.Lines, line)
	return line.ID, nil
}

func (m *memoryTx) DeleteLines(ctx context.Context, documentID int64) error {
	if doc, ok := m.docs[documentID]; ok {
		doc.Lines = nil
	}
	return nil
}

func (m *memoryTx) UpdateDocumentStatus(ctx context.Context, id int64, status Status) error {
	doc, ok := m.docs[id]
	if !ok {
		return fmt.Errorf("document %d: %w", id, shared.ErrNotFound)
	}
	doc.Status = status
	return nil
}

func (m *memoryTx) UpdateDocumentTotals(ctx context.Context, id int64, totals fiscal.DocumentTotals) error {
	doc, ok := m.docs[id]
	if !ok {
		return fmt.Errorf("document %d: %w", id, shared.ErrNotFound)
	}
	doc.Totals = totals
	return nil
}

func (m *memoryTx) GetDocumentForUpdate(ctx context.Context, tenantID, id int64) (*Document, error) {
	return (*memoryRepo)(m).getLocked(tenantID, id)
}

func (m *memoryTx) IncrementAccumulator(ctx context.Context, lineID int64, kind AccumulatorKind, qty float64) (bool, error) {
	for _, doc := range m.docs {
		for i := range doc.Lines {
			line := &doc.Lines[i]
			if line.ID != lineID {
				continue
			}
			if line.Accumulator(kind)+qty > line.Quantity+qtyEpsilon {
				return false, nil
			}
			switch kind {
			case AccDelivered:
				line.QtyDelivered += qty
			case AccReceived:
				line.QtyReceived += qty
			case AccInvoiced:
				line.QtyInvoiced += qty
			}
			return true, nil
		}
	}
	return false, fmt.Errorf("line %d: %w", lineID, shared.ErrNotFound)
}

func (m *memoryTx) InsertLink(ctx context.Context, srcID, dstID int64) error {
	m.links = append(m.links, [2]int64{srcID, dstID})
	return nil
}

func (m *memoryTx) InsertMovement(ctx context.Context, mv stock.Movement) (int64, error) {
	m.nextID++
	mv.ID = m.nextID
	m.moves = append(m.moves, mv)
	return mv.ID, nil
}

func (m *memoryTx) ClaimIdempotencyKey(ctx context.Context, tenantID int64, key, module string) error {
	id := fmt.Sprintf("%d/%s/%s", tenantID, module, key)
	if _, dup := m.idemKeys[id]; dup {
		return fmt.Errorf("idempotency key %q: %w", key, shared.ErrIdempotencyConflict)
	}
	m.idemKeys[id] = struct{}{}
	return nil
}

// stubSettings returns a mutable tax configuration.
type stubSettings struct {
	mu  sync.Mutex
	cfg fiscal.TaxConfig
}

func (s *stubSettings) GetSettings(ctx context.Context, tenantID int64) (tenant.Settings, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return tenant.Settings{TenantID: tenantID, Name: "Test", Currency: "TND", Tax: s.cfg}, nil
}

func (s *stubSettings) set(cfg fiscal.TaxConfig) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cfg = cfg
}

type stubCatalog struct {
	mu       sync.Mutex
	products map[int64]catalog.Product
	parties  map[int64]catalog.Party
}

func (s *stubCatalog) GetProduct(ctx context.Context, tenantID, id int64) (catalog.Product, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.products[id]
	if !ok {
		return catalog.Product{}, fmt.Errorf("product %d: %w", id, shared.ErrNotFound)
	}
	return p, nil
}

func (s *stubCatalog) GetParty(ctx context.Context, tenantID, id int64) (catalog.Party, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.parties[id]
	if !ok {
		return catalog.Party{}, fmt.Errorf("party %d: %w", id, shared.ErrNotFound)
	}
	return p, nil
}

func (s *stubCatalog) renameParty(id int64, name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p := s.parties[id]
	p.Name = name
	s.parties[id] = p
}

type stubUnits struct{ conv *uom.Converter }

func (s *stubUnits) ConverterFor(ctx context.Context, tenantID int64) (*uom.Converter, error) {
	return s.conv, nil
}

func testTaxConfig() fiscal.TaxConfig {
	return fiscal.TaxConfig{
		FodecRate:      decimal.NewFromInt(1),
		FodecEnabled:   true,
		StampAmount:    decimal.NewFromInt(1),
		StampEnabled:   true,
		DefaultTaxRate: decimal.NewFromInt(19),
		Rounding:       fiscal.RoundingPerDocument,
		Precision:      3,
	}
}

type harness struct {
	repo     *memoryRepo
	settings *stubSettings
	catalog  *stubCatalog
	service  *Service
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	repo := newMemoryRepo()
	settings := &stubSettings{cfg: testTaxConfig()}
	cat := &stubCatalog{
		products: map[int64]catalog.Product{
			1: {ID: 1, TenantID: 1, SKU: "WID-1", Name: "Widget", StockUnit: "PCS", Stocked: true},
			2: {ID: 2, TenantID: 1, SKU: "SVC-1", Name: "Installation", StockUnit: "PCS", Stocked: false},
		},
		parties: map[int64]catalog.Party{
			7: {ID: 7, TenantID: 1, Kind: catalog.PartyCustomer, Name: "Acme SARL"},
			8: {ID: 8, TenantID: 1, Kind: catalog.PartySupplier, Name: "Globex SA"},
		},
	}
	units := &stubUnits{conv: uom.NewConverter([]uom.UnitOfMeasure{
		{Code: "PCS", Category: "count", Factor: 1},
		{Code: "BOX", Category: "count", Factor: 10},
		{Code: "G", Category: "weight", Factor: 1},
		{Code: "KG", Category: "weight", Factor: 1000},
	})}
	return &harness{
		repo:     repo,
		settings: settings,
		catalog:  cat,
		service:  NewService(repo, settings, cat, units, nil, nil),
	}
}

func productLine(productID int64, qty float64, price string) CreateLineRequest {
	id := productID
	return CreateLineRequest{
		ProductID:   &id,
		Designation: "Widget",
		UOM:         "PCS",
		Quantity:    qty,
		UnitPrice:   decimal.RequireFromString(price),
	}
}

func TestCreateAssignsNumberAndTotals(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	doc, err := h.service.Create(ctx, 1, CreateDocumentRequest{
		Type:    TypeInvoice,
		PartyID: 7,
		Lines:   []CreateLineRequest{productLine(1, 10, "100")},
	}, 42)
	require.NoError(t, err)

	require.Equal(t, "INVOICE-2026-0001", doc.Number)
	require.Equal(t, StatusDraft, doc.Status)
	require.Equal(t, "Acme SARL", doc.PartyName)
	require.Equal(t, "TND", doc.Currency)
	require.Len(t, doc.Lines, 1)
	// net 1000, fodec 10, tax 19% of 1010 = 191.9, stamp 1
	require.True(t, doc.Totals.Payable.Equal(decimal.RequireFromString("1202.9")),
		"payable = %s", doc.Totals.Payable)

	next, err := h.service.Create(ctx, 1, CreateDocumentRequest{
		Type:    TypeInvoice,
		PartyID: 7,
		Lines:   []CreateLineRequest{productLine(1, 1, "5")},
	}, 42)
	require.NoError(t, err)
	require.Equal(t, "INVOICE-2026-0002", next.Number)
}

func TestCreateRejectsUnknownParty(t *testing.T) {
	h := newHarness(t)

	_, err := h.service.Create(context.Background(), 1, CreateDocumentRequest{
		Type:    TypeQuote,
		PartyID: 999,
		Lines:   []CreateLineRequest{productLine(1, 1, "10")},
	}, 42)
	require.ErrorIs(t, err, shared.ErrNotFound)
}

func TestUpdateLinesOnlyOnDrafts(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	doc, err := h.service.Create(ctx, 1, CreateDocumentRequest{
		Type:    TypeQuote,
		PartyID: 7,
		Lines:   []CreateLineRequest{productLine(1, 5, "20")},
	}, 42)
	require.NoError(t, err)

	updated, err := h.service.UpdateLines(ctx, 1, doc.ID, []CreateLineRequest{productLine(1, 3, "30")}, 42)
	require.NoError(t, err)
	require.Len(t, updated.Lines, 1)
	require.InDelta(t, 3, updated.Lines[0].Quantity, 1e-9)

	_, err = h.service.Validate(ctx, 1, doc.ID, 42)
	require.NoError(t, err)

	_, err = h.service.UpdateLines(ctx, 1, doc.ID, []CreateLineRequest{productLine(1, 1, "30")}, 42)
	require.ErrorIs(t, err, shared.ErrValidation)
}

func TestValidateDeliveryEmitsNormalizedMovements(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	boxLine := productLine(1, 2, "50")
	boxLine.UOM = "BOX"
	serviceLine := productLine(2, 1, "80")

	doc, err := h.service.Create(ctx, 1, CreateDocumentRequest{
		Type:    TypeDeliveryNote,
		PartyID: 7,
		Lines:   []CreateLineRequest{boxLine, serviceLine},
	}, 42)
	require.NoError(t, err)
	require.Empty(t, h.repo.moves, "draft must not touch the ledger")

	validated, err := h.service.Validate(ctx, 1, doc.ID, 42)
	require.NoError(t, err)
	require.Equal(t, StatusValidated, validated.Status)

	// 2 BOX of 10 PCS each leave stock; the non-stocked service line does not.
	require.Len(t, h.repo.moves, 1)
	mv := h.repo.moves[0]
	require.Equal(t, stock.MovementOut, mv.Kind)
	require.Equal(t, int64(1), mv.ProductID)
	require.InDelta(t, 20, mv.Qty, 1e-9)
	require.NotNil(t, mv.DocumentID)
	require.Equal(t, doc.ID, *mv.DocumentID)
}

func TestValidateTwiceRejected(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	doc, err := h.service.Create(ctx, 1, CreateDocumentRequest{
		Type:    TypeQuote,
		PartyID: 7,
		Lines:   []CreateLineRequest{productLine(1, 1, "10")},
	}, 42)
	require.NoError(t, err)

	_, err = h.service.Validate(ctx, 1, doc.ID, 42)
	require.NoError(t, err)
	_, err = h.service.Validate(ctx, 1, doc.ID, 42)
	require.ErrorIs(t, err, shared.ErrValidation)
}

func TestCancelValidatedDeliveryCompensatesLedger(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	doc, err := h.service.Create(ctx, 1, CreateDocumentRequest{
		Type:    TypeDeliveryNote,
		PartyID: 7,
		Lines:   []CreateLineRequest{productLine(1, 5, "10")},
	}, 42)
	require.NoError(t, err)
	_, err = h.service.Validate(ctx, 1, doc.ID, 42)
	require.NoError(t, err)

	cancelled, err := h.service.Cancel(ctx, 1, doc.ID, 42, "customer refused")
	require.NoError(t, err)
	require.Equal(t, StatusCancelled, cancelled.Status)

	// Original OUT entry stays; an offsetting IN entry joins it.
	require.Len(t, h.repo.moves, 2)
	require.Equal(t, stock.MovementOut, h.repo.moves[0].Kind)
	require.Equal(t, stock.MovementIn, h.repo.moves[1].Kind)
	require.InDelta(t, h.repo.moves[0].Qty, h.repo.moves[1].Qty, 1e-9)

	_, err = h.service.Cancel(ctx, 1, doc.ID, 42, "again")
	require.ErrorIs(t, err, shared.ErrValidation)
}

func TestCancelDraftWritesNoMovements(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	doc, err := h.service.Create(ctx, 1, CreateDocumentRequest{
		Type:    TypeReceiptNote,
		PartyID: 8,
		Lines:   []CreateLineRequest{productLine(1, 5, "10")},
	}, 42)
	require.NoError(t, err)

	_, err = h.service.Cancel(ctx, 1, doc.ID, 42, "")
	require.NoError(t, err)
	require.Empty(t, h.repo.moves)
}

func TestTenantIsolationOnGet(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	doc, err := h.service.Create(ctx, 1, CreateDocumentRequest{
		Type:    TypeQuote,
		PartyID: 7,
		Lines:   []CreateLineRequest{productLine(1, 1, "10")},
	}, 42)
	require.NoError(t, err)

	_, err = h.service.Get(ctx, 2, doc.ID)
	require.ErrorIs(t, err, shared.ErrNotFound)
}

func TestFulfillmentReportsAccumulators(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	doc, err := h.service.Create(ctx, 1, CreateDocumentRequest{
		Type:    TypeSalesOrder,
		PartyID: 7,
		Lines:   []CreateLineRequest{productLine(1, 10, "10")},
	}, 42)
	require.NoError(t, err)
	_, err = h.service.Validate(ctx, 1, doc.ID, 42)
	require.NoError(t, err)

	_, err = h.service.Convert(ctx, 1, ConvertRequest{
		SourceID:   doc.ID,
		TargetType: TypeDeliveryNote,
		Selections: []Selection{{LineID: doc.Lines[0].ID, Quantity: 4}},
	}, 42)
	require.NoError(t, err)

	state, err := h.service.Fulfillment(ctx, 1, doc.ID)
	require.NoError(t, err)
	require.Len(t, state, 1)
	require.InDelta(t, 10, state[0].Quantity, 1e-9)
	require.InDelta(t, 4, state[0].QtyDelivered, 1e-9)
	require.InDelta(t, 0, state[0].QtyInvoiced, 1e-9)
}

func TestPreviewTotalsDoesNotPersist(t *testing.T) {
	h := newHarness(t)

	result, err := h.service.PreviewTotals(context.Background(), 1, []CreateLineRequest{productLine(1, 10, "100")})
	require.NoError(t, err)
	require.True(t, result.Document.Payable.Equal(decimal.RequireFromString("1202.9")))
	require.Empty(t, h.repo.docs)
}

func TestCreateRejectsNegativePrice(t *testing.T) {
	h := newHarness(t)

	bad := productLine(1, 1, "-5")
	_, err := h.service.Create(context.Background(), 1, CreateDocumentRequest{
		Type:    TypeInvoice,
		PartyID: 7,
		Lines:   []CreateLineRequest{bad},
	}, 42)
	require.ErrorIs(t, err, shared.ErrValidation)
}
