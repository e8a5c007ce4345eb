package core_test

import (
	"errors"
	"sync"
	"testing"
	"time"

	"pos-ledger/internal/core"
)

func outbound(f *fixture, productID int, qty string) (*core.MovementResult, error) {
	return f.inventory.RecordMovement(f.ctx, core.MovementRequest{
		ProductID: productID,
		Type:      core.MovementShrinkage,
		Reason:    core.ReasonDamaged,
		Quantity:  dec(qty),
		Actor:     f.manager,
	})
}

func TestInventory_LowStockAlertRaisedOnce(t *testing.T) {
	f := setupTestDB(t)
	tomato := f.product(t, "TOMATO", "0", "5", "0")
	f.receive(t, tomato, "TOM-1", "5", "1.00", 0, nil)

	res, err := outbound(f, tomato, "1")
	if err != nil {
		t.Fatalf("RecordMovement: %v", err)
	}
	if !res.NewStock.Equal(dec("4")) {
		t.Errorf("expected stock 4, got %s", res.NewStock)
	}
	if !f.stock(t, tomato).Equal(dec("4")) {
		t.Errorf("product stock not updated with the movement")
	}

	n := f.count(t, "SELECT COUNT(*) FROM inventory_alerts WHERE product_id = $1 AND alert_type = 'low_stock'", tomato)
	if n != 1 {
		t.Errorf("expected exactly one low_stock alert, got %d", n)
	}
}

func TestInventory_RepeatedCrossingKeepsOneActiveAlert(t *testing.T) {
	f := setupTestDB(t)
	cheese := f.product(t, "CHEESE", "0", "10", "0")
	f.receive(t, cheese, "CHS-1", "20", "0.15", 0, nil)

	for i := 0; i < 2; i++ {
		if _, err := outbound(f, cheese, "6"); err != nil {
			t.Fatalf("movement %d: %v", i+1, err)
		}
	}
	if !f.stock(t, cheese).Equal(dec("8")) {
		t.Fatalf("expected stock 8, got %s", f.stock(t, cheese))
	}

	alerts, err := f.inventory.ListAlerts(f.ctx, core.AlertActive)
	if err != nil {
		t.Fatalf("ListAlerts: %v", err)
	}
	var low int
	for _, a := range alerts {
		if a.ProductID == cheese && a.Type == core.AlertLowStock {
			low++
		}
	}
	if low != 1 {
		t.Errorf("expected one active low_stock alert, got %d", low)
	}

	// Evaluating again without any movement raises nothing new.
	raised, err := f.inventory.EvaluateAlerts(f.ctx, []int{cheese}, nil)
	if err != nil {
		t.Fatalf("EvaluateAlerts: %v", err)
	}
	if len(raised) != 0 {
		t.Errorf("re-evaluation raised %d alerts", len(raised))
	}
}

func TestInventory_AlertResolvesWhenStockRecovers(t *testing.T) {
	f := setupTestDB(t)
	oil := f.product(t, "OIL", "0", "5", "0")
	f.receive(t, oil, "OIL-1", "3", "2.40", 0, nil)

	f.receive(t, oil, "OIL-2", "10", "2.40", 0, nil)

	active := f.count(t, "SELECT COUNT(*) FROM inventory_alerts WHERE product_id = $1 AND status = 'active'", oil)
	resolved := f.count(t, "SELECT COUNT(*) FROM inventory_alerts WHERE product_id = $1 AND status = 'resolved'", oil)
	if active != 0 || resolved != 1 {
		t.Errorf("expected the low_stock alert resolved, got active=%d resolved=%d", active, resolved)
	}
}

func TestInventory_OutboundBeyondStockFails(t *testing.T) {
	f := setupTestDB(t)
	bun := f.product(t, "BUN", "0", "0", "0")
	f.receive(t, bun, "BUN-1", "3", "0.35", 0, nil)

	_, err := outbound(f, bun, "5")
	var ise *core.InsufficientStockError
	if !errors.As(err, &ise) {
		t.Fatalf("expected InsufficientStockError, got %v", err)
	}
	if len(ise.Shortfalls) != 1 || !ise.Shortfalls[0].Required.Equal(dec("5")) || !ise.Shortfalls[0].Available.Equal(dec("3")) {
		t.Errorf("unexpected shortfall: %+v", ise.Shortfalls)
	}
	if !f.stock(t, bun).Equal(dec("3")) {
		t.Errorf("stock changed after failed movement: %s", f.stock(t, bun))
	}
	if n := f.count(t, "SELECT COUNT(*) FROM inventory_movements WHERE product_id = $1", bun); n != 1 {
		t.Errorf("expected only the receipt movement, got %d", n)
	}
}

func TestInventory_TransferBetweenLocations(t *testing.T) {
	f := setupTestDB(t)
	potato := f.product(t, "POTATO", "0", "0", "0")
	f.receive(t, potato, "POT-1", "10", "0.90", f.storeLoc, nil)

	res, err := f.inventory.TransferStock(f.ctx, core.TransferRequest{
		ProductID:      potato,
		Quantity:       dec("10"),
		FromLocationID: f.storeLoc,
		ToLocationID:   f.kitchenLoc,
		Actor:          f.manager,
	})
	if err != nil {
		t.Fatalf("TransferStock: %v", err)
	}

	from, _ := f.inventory.GetLocationStock(f.ctx, potato, f.storeLoc)
	to, _ := f.inventory.GetLocationStock(f.ctx, potato, f.kitchenLoc)
	if !from.IsZero() || !to.Equal(dec("10")) {
		t.Errorf("expected store 0 / kitchen 10, got %s / %s", from, to)
	}
	if !f.stock(t, potato).Equal(dec("10")) {
		t.Errorf("transfer must not change product stock, got %s", f.stock(t, potato))
	}

	n := f.count(t, `SELECT COUNT(*) FROM inventory_movements
		WHERE product_id = $1 AND movement_type = 'transfer' AND reference_number = $2`, potato, res.ReferenceNumber)
	if n != 2 {
		t.Errorf("expected 2 transfer movements sharing %s, got %d", res.ReferenceNumber, n)
	}
	f.assertReplayConsistent(t)
}

func TestInventory_ReceiveStockWeightedAverageCost(t *testing.T) {
	f := setupTestDB(t)
	patty := f.product(t, "PATTY", "0", "0", "0")
	f.receive(t, patty, "PAT-1", "10", "2.00", 0, nil)
	res := f.receive(t, patty, "PAT-2", "30", "3.00", 0, nil)

	if !res.NewCost.Equal(dec("2.75")) {
		t.Errorf("expected weighted cost 2.75, got %s", res.NewCost)
	}
	p, _ := f.catalog.GetProduct(f.ctx, patty)
	if !p.Cost.Equal(dec("2.75")) {
		t.Errorf("product cost not updated: %s", p.Cost)
	}
}

func TestInventory_FEFOConsumesEarliestLotFirst(t *testing.T) {
	f := setupTestDB(t)
	milk := f.product(t, "MILK", "0", "0", "0")
	late := time.Now().AddDate(0, 0, 20)
	early := time.Now().AddDate(0, 0, 5)
	lateLot := f.receive(t, milk, "MILK-LATE", "4", "1", 0, &late)
	earlyLot := f.receive(t, milk, "MILK-EARLY", "4", "1", 0, &early)

	res, err := outbound(f, milk, "5")
	if err != nil {
		t.Fatalf("RecordMovement: %v", err)
	}
	if len(res.Movements) != 2 {
		t.Fatalf("expected one movement per lot drawn, got %d", len(res.Movements))
	}
	if *res.Movements[0].LotID != earlyLot.Lot.ID || !res.Movements[0].Quantity.Equal(dec("4")) {
		t.Errorf("first draw should empty the early lot: %+v", res.Movements[0])
	}
	if *res.Movements[1].LotID != lateLot.Lot.ID || !res.Movements[1].Quantity.Equal(dec("1")) {
		t.Errorf("second draw should take 1 from the late lot: %+v", res.Movements[1])
	}
	f.assertReplayConsistent(t)
}

func TestInventory_ConcurrentOutboundNeverGoesNegative(t *testing.T) {
	f := setupTestDB(t)
	cola := f.product(t, "COLA", "2.50", "0", "0")
	f.receive(t, cola, "COL-1", "5", "0.45", 0, nil)

	const workers = 10
	var wg sync.WaitGroup
	var mu sync.Mutex
	var ok, short int
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := outbound(f, cola, "1")
			mu.Lock()
			defer mu.Unlock()
			var ise *core.InsufficientStockError
			switch {
			case err == nil:
				ok++
			case errors.As(err, &ise):
				short++
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()

	if ok != 5 || short != 5 {
		t.Errorf("expected 5 successes and 5 shortfalls, got %d / %d", ok, short)
	}
	if !f.stock(t, cola).IsZero() {
		t.Errorf("expected stock 0, got %s", f.stock(t, cola))
	}
	if n := f.count(t, "SELECT COUNT(*) FROM inventory_lots WHERE quantity < 0 OR quantity - reserved_quantity < 0"); n != 0 {
		t.Errorf("%d lots went negative", n)
	}
	f.assertReplayConsistent(t)
}

func TestInventory_ExpiryScanAndExpireLots(t *testing.T) {
	f := setupTestDB(t)
	lettuce := f.product(t, "LETTUCE", "0", "0", "0")
	past := time.Now().AddDate(0, 0, -1)
	soon := time.Now().AddDate(0, 0, 2)
	f.receive(t, lettuce, "LET-OLD", "2", "2.10", 0, &past)
	f.receive(t, lettuce, "LET-NEW", "3", "2.10", 0, &soon)

	// Receipts already evaluate their lot, so the scan must not duplicate anything.
	if _, err := f.inventory.ScanExpirations(f.ctx); err != nil {
		t.Fatalf("ScanExpirations: %v", err)
	}
	if n := f.count(t, "SELECT COUNT(*) FROM inventory_alerts WHERE product_id = $1 AND status = 'active' AND alert_type = 'expired'", lettuce); n != 1 {
		t.Errorf("expected one expired alert, got %d", n)
	}
	if n := f.count(t, "SELECT COUNT(*) FROM inventory_alerts WHERE product_id = $1 AND status = 'active' AND alert_type = 'expiring_soon'", lettuce); n != 1 {
		t.Errorf("expected one expiring_soon alert, got %d", n)
	}

	results, err := f.inventory.ExpireLots(f.ctx, f.manager)
	if err != nil {
		t.Fatalf("ExpireLots: %v", err)
	}
	if len(results) != 1 || !results[0].NewStock.Equal(dec("3")) {
		t.Fatalf("expected the old lot written off leaving 3, got %+v", results)
	}
	if n := f.count(t, "SELECT COUNT(*) FROM inventory_movements WHERE product_id = $1 AND movement_type = 'expiry'", lettuce); n != 1 {
		t.Errorf("expected one expiry movement, got %d", n)
	}
	f.assertReplayConsistent(t)
}

func TestInventory_PhysicalCountPostsVariance(t *testing.T) {
	f := setupTestDB(t)
	flour := f.product(t, "FLOUR", "0", "0", "0")
	f.receive(t, flour, "FLR-1", "10", "0.80", 0, nil)

	count, err := f.inventory.StartPhysicalCount(f.ctx, f.kitchenLoc, f.manager, "weekly")
	if err != nil {
		t.Fatalf("StartPhysicalCount: %v", err)
	}
	var itemID int
	for _, it := range count.Items {
		if it.ProductID == flour {
			itemID = it.ID
		}
	}
	if itemID == 0 {
		t.Fatalf("count has no line for the received product: %+v", count.Items)
	}
	if err := f.inventory.RecordCountItem(f.ctx, count.ID, itemID, dec("8.5")); err != nil {
		t.Fatalf("RecordCountItem: %v", err)
	}
	done, err := f.inventory.CompletePhysicalCount(f.ctx, count.ID, f.manager)
	if err != nil {
		t.Fatalf("CompletePhysicalCount: %v", err)
	}
	if done.Status != core.CountCompleted {
		t.Errorf("expected completed, got %s", done.Status)
	}
	if !f.stock(t, flour).Equal(dec("8.5")) {
		t.Errorf("expected stock 8.5 after count, got %s", f.stock(t, flour))
	}
	if n := f.count(t, "SELECT COUNT(*) FROM inventory_movements WHERE product_id = $1 AND movement_type = 'physical_count'", flour); n != 1 {
		t.Errorf("expected one physical_count movement, got %d", n)
	}

	if _, err := f.inventory.CompletePhysicalCount(f.ctx, count.ID, f.manager); err == nil {
		t.Error("completing a count twice must fail")
	}
	f.assertReplayConsistent(t)
}

func TestInventory_MovementsAreAppendOnly(t *testing.T) {
	f := setupTestDB(t)
	salt := f.product(t, "SALT", "0", "0", "0")
	f.receive(t, salt, "SLT-1", "1", "0.10", 0, nil)

	if _, err := f.pool.Exec(f.ctx, "UPDATE inventory_movements SET quantity = 99 WHERE product_id = $1", salt); err == nil {
		t.Error("updating a movement row must be rejected")
	}
	if _, err := f.pool.Exec(f.ctx, "DELETE FROM inventory_movements WHERE product_id = $1", salt); err == nil {
		t.Error("deleting a movement row must be rejected")
	}
}

func TestInventory_DeactivateLotOnlyWhenEmpty(t *testing.T) {
	f := setupTestDB(t)
	oil := f.product(t, "OIL", "0", "0", "0")
	lot := f.receive(t, oil, "OIL-1", "2", "3.00", 0, nil).Lot

	if err := f.inventory.DeactivateLot(f.ctx, lot.ID); !errors.Is(err, core.ErrValidation) {
		t.Fatalf("deactivating a stocked lot: expected ErrValidation, got %v", err)
	}
	if _, err := outbound(f, oil, "2"); err != nil {
		t.Fatalf("RecordMovement: %v", err)
	}
	if err := f.inventory.DeactivateLot(f.ctx, lot.ID); err != nil {
		t.Fatalf("DeactivateLot: %v", err)
	}

	lots, err := f.inventory.ListLots(f.ctx, oil)
	if err != nil {
		t.Fatalf("ListLots: %v", err)
	}
	if len(lots) != 0 {
		t.Errorf("deactivated lot still listed: %+v", lots)
	}

	def, err := f.inventory.GetDefaultLocation(f.ctx)
	if err != nil {
		t.Fatalf("GetDefaultLocation: %v", err)
	}
	if def.ID != f.kitchenLoc {
		t.Errorf("default location = %d, want %d", def.ID, f.kitchenLoc)
	}
	locations, err := f.inventory.ListLocations(f.ctx)
	if err != nil {
		t.Fatalf("ListLocations: %v", err)
	}
	if len(locations) != 2 {
		t.Errorf("expected 2 locations, got %d", len(locations))
	}
	f.assertReplayConsistent(t)
}

func TestInventory_QuantitiesKeepStockScale(t *testing.T) {
	f := setupTestDB(t)
	salt := f.product(t, "SALT", "0", "0", "0")
	fries := f.composite(t, "FRIES", "3.00", map[int]string{salt: "0.0125"})
	f.receive(t, salt, "SLT-1", "10", "0.50", 0, nil)

	res, err := f.recipes.Consume(f.ctx, core.ConsumeRequest{ProductID: fries, Quantity: dec("1"), Actor: f.kitchen})
	if err != nil {
		t.Fatalf("Consume: %v", err)
	}
	if len(res.Movements) != 1 || !res.Movements[0].Quantity.Equal(dec("0.013")) {
		t.Fatalf("expected one 0.013 movement, got %+v", res.Movements)
	}
	if got := f.stock(t, salt); !got.Equal(dec("9.987")) {
		t.Errorf("salt stock = %s, want 9.987", got)
	}
	if n := f.count(t, `
		SELECT COUNT(*) FROM inventory_movements
		WHERE product_id = $1 AND quantity <> ABS(new_stock - previous_stock)
	`, salt); n != 0 {
		t.Errorf("%d movements disagree with their stock delta", n)
	}

	_, err = f.inventory.RecordMovement(f.ctx, core.MovementRequest{
		ProductID: salt,
		Type:      core.MovementShrinkage,
		Reason:    core.ReasonDamaged,
		Quantity:  dec("0.0004"),
		Actor:     f.manager,
	})
	if !errors.Is(err, core.ErrValidation) {
		t.Errorf("sub-scale quantity: expected ErrValidation, got %v", err)
	}
	f.assertReplayConsistent(t)
}

func TestInventory_LotTrackedProductOnlyLeavesFromLots(t *testing.T) {
	f := setupTestDB(t)
	wine := f.product(t, "WINE", "0", "0", "0")
	f.receive(t, wine, "WIN-1", "10", "6.00", f.storeLoc, nil)

	// Nothing is stocked at the default location.
	_, err := outbound(f, wine, "10")
	var stockErr *core.InsufficientStockError
	if !errors.As(err, &stockErr) {
		t.Fatalf("expected InsufficientStockError, got %v", err)
	}
	if got := f.stock(t, wine); !got.Equal(dec("10")) {
		t.Errorf("stock = %s, want 10", got)
	}

	spritz := f.composite(t, "SPRITZ", "7.00", map[int]string{wine: "0.15"})
	avail, err := f.recipes.CheckAvailability(f.ctx, spritz, dec("1"), nil)
	if err != nil {
		t.Fatalf("CheckAvailability: %v", err)
	}
	if avail.Available {
		t.Error("no wine at the default location, spritz should be unavailable there")
	}
	store := f.storeLoc
	avail, err = f.recipes.CheckAvailability(f.ctx, spritz, dec("1"), &store)
	if err != nil {
		t.Fatalf("CheckAvailability at store: %v", err)
	}
	if !avail.Available {
		t.Errorf("spritz should be available at the storeroom: %+v", avail.Shortfalls)
	}

	// Additions without a lot cannot land where the product has no lot.
	_, err = f.inventory.RecordMovement(f.ctx, core.MovementRequest{
		ProductID: wine,
		Type:      core.MovementReturn,
		Reason:    core.ReasonCustomerReturn,
		Quantity:  dec("1"),
		Actor:     f.manager,
	})
	if !errors.Is(err, core.ErrValidation) {
		t.Errorf("unpinned return at a location without lots: expected ErrValidation, got %v", err)
	}

	if _, err := f.inventory.TransferStock(f.ctx, core.TransferRequest{
		ProductID:      wine,
		Quantity:       dec("10"),
		FromLocationID: f.storeLoc,
		ToLocationID:   f.kitchenLoc,
		Actor:          f.manager,
	}); err != nil {
		t.Fatalf("TransferStock: %v", err)
	}
	if _, err := outbound(f, wine, "4"); err != nil {
		t.Fatalf("outbound after transfer: %v", err)
	}
	kitchen, err := f.inventory.GetLocationStock(f.ctx, wine, f.kitchenLoc)
	if err != nil {
		t.Fatalf("GetLocationStock: %v", err)
	}
	if !kitchen.Equal(dec("6")) || !f.stock(t, wine).Equal(dec("6")) {
		t.Errorf("kitchen lots %s, product stock %s; want 6 and 6", kitchen, f.stock(t, wine))
	}
	f.assertReplayConsistent(t)
}

func TestInventory_PhysicalCountReconcilesAgainstCurrentStock(t *testing.T) {
	f := setupTestDB(t)
	rice := f.product(t, "RICE", "0", "0", "0")
	f.receive(t, rice, "RCE-1", "10", "1.10", 0, nil)

	count, err := f.inventory.StartPhysicalCount(f.ctx, f.kitchenLoc, f.manager, "")
	if err != nil {
		t.Fatalf("StartPhysicalCount: %v", err)
	}
	var itemID int
	for _, it := range count.Items {
		if it.ProductID == rice {
			itemID = it.ID
		}
	}
	if itemID == 0 {
		t.Fatalf("count has no line for rice: %+v", count.Items)
	}

	// Sold while the count is open.
	if _, err := outbound(f, rice, "3"); err != nil {
		t.Fatalf("RecordMovement: %v", err)
	}
	if err := f.inventory.RecordCountItem(f.ctx, count.ID, itemID, dec("7")); err != nil {
		t.Fatalf("RecordCountItem: %v", err)
	}
	done, err := f.inventory.CompletePhysicalCount(f.ctx, count.ID, f.manager)
	if err != nil {
		t.Fatalf("CompletePhysicalCount: %v", err)
	}
	if got := f.stock(t, rice); !got.Equal(dec("7")) {
		t.Errorf("stock = %s, want the counted 7", got)
	}
	if n := f.count(t, "SELECT COUNT(*) FROM inventory_movements WHERE product_id = $1 AND movement_type = 'physical_count'", rice); n != 0 {
		t.Errorf("a matching count must post nothing, got %d movements", n)
	}
	for _, it := range done.Items {
		if it.ID != itemID {
			continue
		}
		if !it.ExpectedQuantity.Equal(dec("10")) {
			t.Errorf("snapshot should stay 10, got %s", it.ExpectedQuantity)
		}
		if it.Variance == nil || !it.Variance.IsZero() {
			t.Errorf("variance should be 0, got %v", it.Variance)
		}
	}

	err = f.inventory.RecordCountItem(f.ctx, count.ID, itemID, dec("5"))
	var invalid *core.InvalidTransitionError
	if !errors.As(err, &invalid) {
		t.Errorf("recording into a completed count: expected InvalidTransitionError, got %v", err)
	}
	if got := f.stock(t, rice); !got.Equal(dec("7")) {
		t.Errorf("stock changed after completion: %s", got)
	}
	f.assertReplayConsistent(t)
}

func TestInventory_OppositeTransfersDoNotDeadlock(t *testing.T) {
	f := setupTestDB(t)
	beans := f.product(t, "BEANS", "0", "0", "0")
	f.receive(t, beans, "BNS-K", "20", "2.00", f.kitchenLoc, nil)
	f.receive(t, beans, "BNS-S", "20", "2.00", f.storeLoc, nil)

	const workers = 12
	var wg sync.WaitGroup
	errs := make([]error, workers)
	for i := 0; i < workers; i++ {
		from, to := f.kitchenLoc, f.storeLoc
		if i%2 == 1 {
			from, to = to, from
		}
		wg.Add(1)
		go func(i, from, to int) {
			defer wg.Done()
			_, errs[i] = f.inventory.TransferStock(f.ctx, core.TransferRequest{
				ProductID:      beans,
				Quantity:       dec("1"),
				FromLocationID: from,
				ToLocationID:   to,
				Actor:          f.manager,
			})
		}(i, from, to)
	}
	wg.Wait()

	for i, err := range errs {
		if err != nil {
			t.Errorf("transfer %d failed: %v", i, err)
		}
	}
	kitchen, err := f.inventory.GetLocationStock(f.ctx, beans, f.kitchenLoc)
	if err != nil {
		t.Fatalf("GetLocationStock: %v", err)
	}
	store, err := f.inventory.GetLocationStock(f.ctx, beans, f.storeLoc)
	if err != nil {
		t.Fatalf("GetLocationStock: %v", err)
	}
	if !kitchen.Equal(dec("20")) || !store.Equal(dec("20")) {
		t.Errorf("equal and opposite transfers should cancel out, got kitchen %s store %s", kitchen, store)
	}
	if got := f.stock(t, beans); !got.Equal(dec("40")) {
		t.Errorf("product stock = %s, want 40", got)
	}
	f.assertReplayConsistent(t)
}
