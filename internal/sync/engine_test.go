// Package sync provides unit tests for the sync engine and its
// identity reconciliation rules.
package sync

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/synkahealth/synka-client/internal/db"
	apperrors "github.com/synkahealth/synka-client/internal/errors"
	"github.com/synkahealth/synka-client/internal/models"
	"github.com/synkahealth/synka-client/internal/uuid"
)

// fakeOracle is a hand-switchable connectivity oracle.
type fakeOracle struct {
	mu     sync.Mutex
	online bool
	subs   []chan bool
}

func (o *fakeOracle) IsConnected() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.online
}

func (o *fakeOracle) Subscribe() (<-chan bool, func()) {
	o.mu.Lock()
	defer o.mu.Unlock()
	ch := make(chan bool, 4)
	o.subs = append(o.subs, ch)
	return ch, func() {}
}

func (o *fakeOracle) set(online bool) {
	o.mu.Lock()
	o.online = online
	subs := append([]chan bool(nil), o.subs...)
	o.mu.Unlock()
	for _, ch := range subs {
		select {
		case ch <- online:
		default:
		}
	}
}

// gatewayCall records one remote invocation for order assertions.
type gatewayCall struct {
	op      string
	id      string
	payload *models.PatientPayload
}

// fakeGateway records calls and delegates to configurable handlers.
type fakeGateway struct {
	mu       sync.Mutex
	calls    []gatewayCall
	createFn func(id string, pl *models.PatientPayload) (*models.Patient, error)
	updateFn func(id string, pl *models.PatientPayload) (*models.Patient, error)
	deleteFn func(id string) error
	listFn   func(search string) ([]*models.Patient, error)
}

func (g *fakeGateway) record(op, id string, pl *models.PatientPayload) {
	g.mu.Lock()
	g.calls = append(g.calls, gatewayCall{op: op, id: id, payload: pl})
	g.mu.Unlock()
}

func (g *fakeGateway) callLog() []gatewayCall {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]gatewayCall(nil), g.calls...)
}

func serverPatient(id string) *models.Patient {
	now := time.Now().Unix()
	return &models.Patient{
		ID: models.UUID(id), Name: "Jane Doe", Phone: "555-0100",
		DateOfBirth: "1985-04-12", Language: "EN", CreatedAt: now, UpdatedAt: now,
	}
}

func (g *fakeGateway) Create(ctx context.Context, id string, pl *models.PatientPayload) (*models.Patient, error) {
	g.record("create", id, pl)
	if g.createFn != nil {
		return g.createFn(id, pl)
	}
	return serverPatient(id), nil
}

func (g *fakeGateway) Update(ctx context.Context, id string, pl *models.PatientPayload) (*models.Patient, error) {
	g.record("update", id, pl)
	if g.updateFn != nil {
		return g.updateFn(id, pl)
	}
	return serverPatient(id), nil
}

func (g *fakeGateway) Delete(ctx context.Context, id string) error {
	g.record("delete", id, nil)
	if g.deleteFn != nil {
		return g.deleteFn(id)
	}
	return nil
}

func (g *fakeGateway) List(ctx context.Context, search string, page, limit int) ([]*models.Patient, error) {
	if g.listFn != nil {
		return g.listFn(search)
	}
	return nil, nil
}

type engineFixture struct {
	engine   *Engine
	patients *db.PatientStore
	queue    *db.QueueStore
	gw       *fakeGateway
	oracle   *fakeOracle
}

func setupEngine(t *testing.T) *engineFixture {
	t.Helper()
	database, err := db.OpenInMemory()
	if err != nil {
		t.Fatalf("Failed to open test database: %v", err)
	}
	t.Cleanup(func() { database.Close() })

	patients := db.NewPatientStore(database)
	queue := db.NewQueueStore(database)
	gw := &fakeGateway{}
	oracle := &fakeOracle{online: true}

	cfg := Config{Interval: time.Hour, BatchSize: 50, MaxRetries: 3}
	return &engineFixture{
		engine:   NewEngine(patients, queue, gw, oracle, cfg),
		patients: patients,
		queue:    queue,
		gw:       gw,
		oracle:   oracle,
	}
}

func strp(s string) *string { return &s }

// createLocal creates an unsynced record plus its queued create, the
// way a caller mutation does while offline.
func createLocal(t *testing.T, f *engineFixture, name, phone string) *models.Patient {
	t.Helper()
	p, err := f.patients.Create(&models.PatientFields{
		Name:        strp(name),
		Phone:       strp(phone),
		DateOfBirth: strp("1985-04-12"),
		Language:    strp("EN"),
	})
	if err != nil {
		t.Fatalf("Failed to create local patient: %v", err)
	}
	raw, err := models.PatientPayloadFrom(p).Encode()
	if err != nil {
		t.Fatalf("Failed to encode payload: %v", err)
	}
	if _, err := f.queue.Add(models.EntityPatient, p.ID.String(), models.ActionCreate, raw); err != nil {
		t.Fatalf("Failed to enqueue create: %v", err)
	}
	return p
}

func TestSyncAllOfflineReturnsZero(t *testing.T) {
	f := setupEngine(t)
	f.oracle.set(false)
	createLocal(t, f, "Jane Doe", "555-0100")

	res := f.engine.SyncAll(context.Background())
	if res.Success != 0 || res.Failed != 0 {
		t.Errorf("Expected zero result offline, got %+v", res)
	}
	if len(f.gw.callLog()) != 0 {
		t.Error("Expected no gateway calls while offline")
	}

	count, _ := f.queue.Count()
	if count != 1 {
		t.Errorf("Expected queue untouched, got %d entries", count)
	}
}

func TestSyncAllCreateMatchingID(t *testing.T) {
	f := setupEngine(t)
	p := createLocal(t, f, "Jane Doe", "555-0100")

	res := f.engine.SyncAll(context.Background())
	if res.Success != 1 || res.Failed != 0 {
		t.Fatalf("Expected {1,0}, got %+v", res)
	}

	stored, _ := f.patients.GetByID(p.ID.String())
	if stored == nil || !stored.Synced {
		t.Error("Expected local record marked synced")
	}

	count, _ := f.queue.Count()
	if count != 0 {
		t.Errorf("Expected empty queue, got %d", count)
	}
}

func TestIdentityReconciliation(t *testing.T) {
	f := setupEngine(t)
	local := createLocal(t, f, "Jane Doe", "555-0100")
	serverID := uuid.New()

	f.gw.createFn = func(id string, pl *models.PatientPayload) (*models.Patient, error) {
		return serverPatient(serverID), nil
	}

	res := f.engine.SyncAll(context.Background())
	if res.Success != 1 || res.Failed != 0 {
		t.Fatalf("Expected {1,0}, got %+v", res)
	}

	old, _ := f.patients.GetByID(local.ID.String())
	if old != nil {
		t.Error("Expected record under old client id to be gone")
	}

	swapped, _ := f.patients.GetByID(serverID)
	if swapped == nil {
		t.Fatal("Expected record under server id")
	}
	if !swapped.Synced {
		t.Error("Expected swapped record to be synced")
	}

	has, _ := f.queue.HasEntity(models.EntityPatient, local.ID.String())
	if has {
		t.Error("Expected no queue entries for the old id")
	}
}

func TestIdentitySwapSkipsStaleBatchEntries(t *testing.T) {
	f := setupEngine(t)
	local := createLocal(t, f, "Jane Doe", "555-0100")

	// A queued update for the same client id, behind the create.
	raw, _ := (&models.PatientPayload{Phone: strp("555-0199")}).Encode()
	f.queue.Add(models.EntityPatient, local.ID.String(), models.ActionUpdate, raw)

	serverID := uuid.New()
	f.gw.createFn = func(id string, pl *models.PatientPayload) (*models.Patient, error) {
		return serverPatient(serverID), nil
	}

	res := f.engine.SyncAll(context.Background())
	if res.Failed != 0 {
		t.Fatalf("Expected no failures, got %+v", res)
	}

	for _, call := range f.gw.callLog() {
		if call.op == "update" {
			t.Error("Expected stale update for the dead identity to be skipped")
		}
	}

	count, _ := f.queue.Count()
	if count != 0 {
		t.Errorf("Expected queue purged, got %d entries", count)
	}
}

func TestDuplicatePhoneConflictResolved(t *testing.T) {
	f := setupEngine(t)
	local := createLocal(t, f, "Jane Doe", "555-0100")

	f.gw.createFn = func(id string, pl *models.PatientPayload) (*models.Patient, error) {
		return nil, apperrors.New(apperrors.ErrConflict, "Patient with this phone number already exists")
	}

	res := f.engine.SyncAll(context.Background())
	if res.Failed != 0 {
		t.Errorf("Expected conflict to be handled, not failed: %+v", res)
	}

	gone, _ := f.patients.GetByID(local.ID.String())
	if gone != nil {
		t.Error("Expected local duplicate to be deleted")
	}

	count, _ := f.queue.Count()
	if count != 0 {
		t.Errorf("Expected no queue entries left, got %d", count)
	}
}

func TestTransientFailureRetriesThenDrops(t *testing.T) {
	f := setupEngine(t)
	local := createLocal(t, f, "Jane Doe", "555-0100")

	f.gw.createFn = func(id string, pl *models.PatientPayload) (*models.Patient, error) {
		return nil, apperrors.New(apperrors.ErrGateway, "connection reset")
	}

	// Drains 1 and 2: entry retried and kept.
	for i := 1; i <= 2; i++ {
		res := f.engine.SyncAll(context.Background())
		if res.Failed != 1 {
			t.Fatalf("Drain %d: expected 1 failure, got %+v", i, res)
		}
		pending, _ := f.queue.GetPending(0)
		if len(pending) != 1 {
			t.Fatalf("Drain %d: expected entry kept, queue has %d", i, len(pending))
		}
		if pending[0].RetryCount != i {
			t.Errorf("Drain %d: expected retry count %d, got %d", i, i, pending[0].RetryCount)
		}
		if pending[0].LastError == "" {
			t.Error("Expected last error recorded")
		}
	}

	// Drain 3 hits the ceiling: entry dropped, record stays unsynced.
	res := f.engine.SyncAll(context.Background())
	if res.Failed != 1 {
		t.Fatalf("Expected final failure, got %+v", res)
	}

	count, _ := f.queue.Count()
	if count != 0 {
		t.Errorf("Expected exhausted entry dropped, queue has %d", count)
	}

	stored, _ := f.patients.GetByID(local.ID.String())
	if stored == nil || stored.Synced {
		t.Error("Expected record kept and still unsynced after permanent failure")
	}
}

func TestUpdateOrderPreserved(t *testing.T) {
	f := setupEngine(t)
	id := uuid.New()

	first, _ := (&models.PatientPayload{Phone: strp("555-0001")}).Encode()
	second, _ := (&models.PatientPayload{Phone: strp("555-0002")}).Encode()
	f.queue.Add(models.EntityPatient, id, models.ActionUpdate, first)
	f.queue.Add(models.EntityPatient, id, models.ActionUpdate, second)

	res := f.engine.SyncAll(context.Background())
	if res.Success != 2 {
		t.Fatalf("Expected both updates applied, got %+v", res)
	}

	calls := f.gw.callLog()
	if len(calls) != 2 {
		t.Fatalf("Expected 2 gateway calls, got %d", len(calls))
	}
	if *calls[0].payload.Phone != "555-0001" || *calls[1].payload.Phone != "555-0002" {
		t.Errorf("Expected FIFO application order, got %q then %q",
			*calls[0].payload.Phone, *calls[1].payload.Phone)
	}
}

func TestDeleteNotFoundIsSuccess(t *testing.T) {
	f := setupEngine(t)
	id := uuid.New()

	f.patients.TrackDeletion(id)
	f.queue.Add(models.EntityPatient, id, models.ActionDelete, nil)
	f.gw.deleteFn = func(string) error {
		return apperrors.New(apperrors.ErrNotFound, "patient not found")
	}

	res := f.engine.SyncAll(context.Background())
	if res.Success != 1 || res.Failed != 0 {
		t.Errorf("Expected not-found delete counted as success, got %+v", res)
	}

	count, _ := f.queue.Count()
	if count != 0 {
		t.Errorf("Expected queue drained, got %d", count)
	}

	deleted, _ := f.patients.IsDeleted(id)
	if deleted {
		t.Error("Expected tombstone cleared after confirmed delete")
	}
}

func TestMutualExclusion(t *testing.T) {
	f := setupEngine(t)
	createLocal(t, f, "Jane Doe", "555-0100")

	block := make(chan struct{})
	entered := make(chan struct{})
	f.gw.createFn = func(id string, pl *models.PatientPayload) (*models.Patient, error) {
		close(entered)
		<-block
		return serverPatient(id), nil
	}

	firstDone := make(chan Result, 1)
	go func() {
		firstDone <- f.engine.SyncAll(context.Background())
	}()

	<-entered
	if !f.engine.IsSyncing() {
		t.Error("Expected isSyncing true mid-drain")
	}

	second := f.engine.SyncAll(context.Background())
	if second.Success != 0 || second.Failed != 0 {
		t.Errorf("Expected re-entrant call to return zero result, got %+v", second)
	}

	close(block)
	first := <-firstDone
	if first.Success != 1 {
		t.Errorf("Expected first drain to apply the entry once, got %+v", first)
	}

	creates := 0
	for _, call := range f.gw.callLog() {
		if call.op == "create" {
			creates++
		}
	}
	if creates != 1 {
		t.Errorf("Expected entry applied exactly once, got %d creates", creates)
	}

	if f.engine.IsSyncing() {
		t.Error("Expected isSyncing cleared after drain")
	}
}

func TestOrphanRecovery(t *testing.T) {
	f := setupEngine(t)

	// Unsynced record with no queue entry: simulates a crash between
	// the local write and the queue append.
	p, _ := f.patients.Create(&models.PatientFields{
		Name:        strp("Orphan Patient"),
		Phone:       strp("555-0404"),
		DateOfBirth: strp("1990-01-01"),
		Language:    strp("EN"),
	})

	res := f.engine.SyncAll(context.Background())
	if res.Success != 1 || res.Failed != 0 {
		t.Fatalf("Expected orphan re-queued and synced, got %+v", res)
	}

	stored, _ := f.patients.GetByID(p.ID.String())
	if stored == nil || !stored.Synced {
		t.Error("Expected orphan to end up synced")
	}

	count, _ := f.queue.Count()
	if count != 0 {
		t.Errorf("Expected empty queue after recovery, got %d", count)
	}
}

func TestRequeueUnsynced(t *testing.T) {
	f := setupEngine(t)
	f.oracle.set(false)

	// Two unsynced records; one already queued.
	queued := createLocal(t, f, "Queued Patient", "555-0001")
	f.patients.Create(&models.PatientFields{
		Name:        strp("Dropped Patient"),
		Phone:       strp("555-0002"),
		DateOfBirth: strp("1990-01-01"),
		Language:    strp("EN"),
	})

	count, err := f.engine.RequeueUnsynced(context.Background())
	if err != nil {
		t.Fatalf("RequeueUnsynced failed: %v", err)
	}
	if count != 1 {
		t.Errorf("Expected 1 re-queued (the dropped one), got %d", count)
	}

	qc, _ := f.queue.Count()
	if qc != 2 {
		t.Errorf("Expected 2 queue entries, got %d", qc)
	}

	has, _ := f.queue.HasEntity(models.EntityPatient, queued.ID.String())
	if !has {
		t.Error("Expected original entry still present")
	}
}

func TestPendingCountTakesMax(t *testing.T) {
	f := setupEngine(t)
	f.oracle.set(false)

	// Two unsynced records, only one queue entry: pending is the max.
	createLocal(t, f, "Jane Doe", "555-0100")
	f.patients.Create(&models.PatientFields{
		Name:        strp("Orphan Patient"),
		Phone:       strp("555-0200"),
		DateOfBirth: strp("1990-01-01"),
		Language:    strp("EN"),
	})

	pending, err := f.engine.PendingCount()
	if err != nil {
		t.Fatalf("PendingCount failed: %v", err)
	}
	if pending != 2 {
		t.Errorf("Expected pending count 2 (max of queue=1, unsynced=2), got %d", pending)
	}
}

func TestClearFailed(t *testing.T) {
	f := setupEngine(t)
	f.oracle.set(false)

	id := uuid.New()
	queueID, _ := f.queue.Add(models.EntityPatient, id, models.ActionCreate, nil)
	for i := 0; i < 3; i++ {
		f.queue.UpdateRetry(queueID, "boom")
	}
	f.queue.Add(models.EntityPatient, uuid.New(), models.ActionCreate, nil)

	removed, err := f.engine.ClearFailed()
	if err != nil {
		t.Fatalf("ClearFailed failed: %v", err)
	}
	if removed != 1 {
		t.Errorf("Expected 1 exhausted entry removed, got %d", removed)
	}
}

func TestSyncEvents(t *testing.T) {
	f := setupEngine(t)
	createLocal(t, f, "Jane Doe", "555-0100")

	var events []string
	f.engine.SetEventSink(func(ev Event) {
		events = append(events, ev.Type)
	})

	f.engine.SyncAll(context.Background())

	if len(events) != 2 || events[0] != EventSyncStarted || events[1] != EventSyncCompleted {
		t.Errorf("Expected started+completed events, got %v", events)
	}
}

func TestOfflineCreateThenReconnectScenario(t *testing.T) {
	f := setupEngine(t)
	f.oracle.set(false)

	// Create "Jane Doe" while offline.
	p := createLocal(t, f, "Jane Doe", "555-0100")

	stored, _ := f.patients.GetByID(p.ID.String())
	if stored == nil || stored.Synced {
		t.Fatal("Expected unsynced local record while offline")
	}
	qc, _ := f.queue.Count()
	if qc != 1 {
		t.Fatalf("Expected one queued create, got %d", qc)
	}

	// Connectivity returns; the gateway accepts the client id.
	f.oracle.set(true)
	res := f.engine.SyncAll(context.Background())
	if res.Success != 1 {
		t.Fatalf("Expected successful drain, got %+v", res)
	}

	stored, _ = f.patients.GetByID(p.ID.String())
	if stored == nil || !stored.Synced {
		t.Error("Expected record synced after reconnect")
	}
	qc, _ = f.queue.Count()
	if qc != 0 {
		t.Errorf("Expected empty queue, got %d", qc)
	}
}
