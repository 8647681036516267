package pgstore

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/kiwari-pos/orderdesk/internal/enum"
	"github.com/kiwari-pos/orderdesk/internal/gateway"
	"github.com/kiwari-pos/orderdesk/internal/lifecycle"
	"github.com/kiwari-pos/orderdesk/internal/order"
)

const defaultListLimit = 200

const orderColumns = `id, order_number, COALESCE(draft_key, ''), customer_name, phone, address, email,
	kind, delivery_type, scheduled_time, created_at, kitchen_start, estimated_prep_minutes,
	state, payment_state, payment_method, invoice_type, subtotal, discount, tax_total, total`

func scanOrder(row pgx.Row) (*order.Order, error) {
	var o order.Order
	var kitchenStart pgtype.Timestamptz
	var subtotal, discount, tax, total pgtype.Numeric
	var estimate int32
	err := row.Scan(
		&o.ID, &o.OrderNumber, &o.DraftKey, &o.CustomerName, &o.Phone, &o.Address, &o.Email,
		&o.Kind, &o.DeliveryType, &o.ScheduledTime, &o.CreatedAt, &kitchenStart, &estimate,
		&o.State, &o.PaymentState, &o.PaymentMethod, &o.InvoiceType,
		&subtotal, &discount, &tax, &total,
	)
	if err != nil {
		return nil, err
	}
	if kitchenStart.Valid {
		t := kitchenStart.Time
		o.KitchenStart = &t
	}
	o.EstimatedPrepMinutes = int(estimate)
	o.Subtotal = numericToDecimal(subtotal)
	o.Discount = numericToDecimal(discount)
	o.TaxTotal = numericToDecimal(tax)
	o.Total = numericToDecimal(total)
	o.Items = []order.Item{}
	return &o, nil
}

// loadItems fills in the items and extras of orders in two queries.
func loadItems(ctx context.Context, q DBTX, orders []*order.Order) error {
	if len(orders) == 0 {
		return nil
	}
	byOrder := make(map[uuid.UUID]*order.Order, len(orders))
	ids := make([]uuid.UUID, 0, len(orders))
	for _, o := range orders {
		byOrder[o.ID] = o
		ids = append(ids, o.ID)
	}

	rows, err := q.Query(ctx,
		`SELECT id, order_id, COALESCE(product_id, '00000000-0000-0000-0000-000000000000'::uuid),
		        name, unit_price, quantity, note
		   FROM order_items
		  WHERE order_id = ANY($1::uuid[])
		  ORDER BY order_id, position`, ids)
	if err != nil {
		return fmt.Errorf("list order items: %w", err)
	}

	type slot struct {
		o   *order.Order
		idx int
	}
	items := make(map[uuid.UUID]slot)
	var itemIDs []uuid.UUID
	for rows.Next() {
		var (
			itemID, orderID uuid.UUID
			it              order.Item
			price           pgtype.Numeric
		)
		if err := rows.Scan(&itemID, &orderID, &it.ProductID, &it.Name, &price, &it.Quantity, &it.Note); err != nil {
			rows.Close()
			return fmt.Errorf("scan order item: %w", err)
		}
		it.UnitPrice = numericToDecimal(price)
		it.Extras = []order.Extra{}
		o := byOrder[orderID]
		o.Items = append(o.Items, it)
		items[itemID] = slot{o: o, idx: len(o.Items) - 1}
		itemIDs = append(itemIDs, itemID)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return fmt.Errorf("list order items: %w", err)
	}
	if len(itemIDs) == 0 {
		return nil
	}

	rows, err = q.Query(ctx,
		`SELECT order_item_id, COALESCE(extra_id, '00000000-0000-0000-0000-000000000000'::uuid), name, price
		   FROM order_item_extras
		  WHERE order_item_id = ANY($1::uuid[])
		  ORDER BY order_item_id, position`, itemIDs)
	if err != nil {
		return fmt.Errorf("list item extras: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var (
			itemID uuid.UUID
			e      order.Extra
			price  pgtype.Numeric
		)
		if err := rows.Scan(&itemID, &e.ID, &e.Name, &price); err != nil {
			return fmt.Errorf("scan item extra: %w", err)
		}
		e.Price = numericToDecimal(price)
		s := items[itemID]
		s.o.Items[s.idx].Extras = append(s.o.Items[s.idx].Extras, e)
	}
	return rows.Err()
}

func getOrder(ctx context.Context, q DBTX, outletID, id uuid.UUID, lock bool) (*order.Order, error) {
	sql := `SELECT ` + orderColumns + ` FROM orders WHERE id = $1 AND outlet_id = $2`
	if lock {
		sql += ` FOR NO KEY UPDATE`
	}
	o, err := scanOrder(q.QueryRow(ctx, sql, id, outletID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, gateway.ErrNotFound
		}
		return nil, fmt.Errorf("get order: %w", err)
	}
	if err := loadItems(ctx, q, []*order.Order{o}); err != nil {
		return nil, err
	}
	return o, nil
}

func (s *Store) GetOrder(ctx context.Context, outletID, id uuid.UUID) (*order.Order, error) {
	return getOrder(ctx, s.db, outletID, id, false)
}

func (s *Store) ListOrders(ctx context.Context, f gateway.ListFilter) ([]*order.Order, error) {
	limit := f.Limit
	if limit <= 0 {
		limit = defaultListLimit
	}
	states := f.States
	if states == nil {
		states = []string{}
	}

	rows, err := s.db.Query(ctx,
		`SELECT `+orderColumns+`
		   FROM orders
		  WHERE outlet_id = $1
		    AND (cardinality($2::text[]) = 0 OR state = ANY($2::text[]))
		  ORDER BY created_at, seq
		  LIMIT $3`, f.OutletID, states, limit)
	if err != nil {
		return nil, fmt.Errorf("list orders: %w", err)
	}
	var out []*order.Order
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			rows.Close()
			return nil, fmt.Errorf("scan order: %w", err)
		}
		out = append(out, o)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list orders: %w", err)
	}

	if err := loadItems(ctx, s.db, out); err != nil {
		return nil, err
	}
	if out == nil {
		out = []*order.Order{}
	}
	return out, nil
}

// CreateOrder persists o with a fresh order number. Retries when two
// transactions race for the same number.
func (s *Store) CreateOrder(ctx context.Context, outletID uuid.UUID, o *order.Order) (*order.Order, error) {
	var lastErr error
	for attempt := 0; attempt < maxOrderNumberRetries; attempt++ {
		created, err := s.insertOrderTx(ctx, outletID, o)
		if err == nil {
			return created, nil
		}
		if isOrderNumberConflict(err) {
			lastErr = err
			continue
		}
		return nil, err
	}
	return nil, lastErr
}

func (s *Store) insertOrderTx(ctx context.Context, outletID uuid.UUID, o *order.Order) (*order.Order, error) {
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	id, err := s.insertOrder(ctx, tx, outletID, o)
	if err != nil {
		return nil, err
	}
	created, err := getOrder(ctx, tx, outletID, id, false)
	if err != nil {
		return nil, err
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit tx: %w", err)
	}
	return created, nil
}

func (s *Store) insertOrder(ctx context.Context, tx pgx.Tx, outletID uuid.UUID, o *order.Order) (uuid.UUID, error) {
	if err := o.Validate(); err != nil {
		return uuid.Nil, &gateway.ValidationError{Message: err.Error()}
	}

	var seq int32
	if err := tx.QueryRow(ctx,
		`SELECT COALESCE(MAX(seq), 0) + 1 FROM orders WHERE outlet_id = $1`, outletID,
	).Scan(&seq); err != nil {
		return uuid.Nil, fmt.Errorf("next order number: %w", err)
	}

	state := o.State
	if state == "" {
		state = enum.OrderStateReceived
	}
	payment := o.PaymentState
	if payment == "" {
		payment = enum.PaymentStatePending
	}
	createdAt := o.CreatedAt
	if createdAt.IsZero() {
		createdAt = s.now()
	}

	var id uuid.UUID
	err := tx.QueryRow(ctx,
		`INSERT INTO orders (outlet_id, seq, order_number, draft_key, customer_name, phone, address, email,
		                     kind, delivery_type, scheduled_time, state, payment_state, payment_method,
		                     invoice_type, kitchen_start, estimated_prep_minutes,
		                     subtotal, discount, tax_total, total, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19, $20, $21, $22)
		 RETURNING id`,
		outletID, seq, formatOrderNumber(s.numberPrefix, seq), nullText(o.DraftKey),
		o.CustomerName, o.Phone, o.Address, o.Email,
		o.Kind, o.DeliveryType, o.ScheduledTime, state, payment, o.PaymentMethod,
		o.InvoiceType, timestamptz(o.KitchenStart), int32(o.EstimatedPrepMinutes),
		decimalToNumeric(o.Subtotal), decimalToNumeric(o.Discount), decimalToNumeric(o.TaxTotal), decimalToNumeric(o.Total),
		createdAt,
	).Scan(&id)
	if err != nil {
		return uuid.Nil, fmt.Errorf("insert order: %w", err)
	}

	for i, it := range o.Items {
		var itemID uuid.UUID
		if err := tx.QueryRow(ctx,
			`INSERT INTO order_items (order_id, position, product_id, name, unit_price, quantity, note)
			 VALUES ($1, $2, $3, $4, $5, $6, $7)
			 RETURNING id`,
			id, i, nullUUID(it.ProductID), it.Name, decimalToNumeric(it.UnitPrice), it.Quantity, it.Note,
		).Scan(&itemID); err != nil {
			return uuid.Nil, fmt.Errorf("item[%d]: insert: %w", i, err)
		}
		for j, e := range it.Extras {
			if _, err := tx.Exec(ctx,
				`INSERT INTO order_item_extras (order_item_id, position, extra_id, name, price)
				 VALUES ($1, $2, $3, $4, $5)`,
				itemID, j, nullUUID(e.ID), e.Name, decimalToNumeric(e.Price),
			); err != nil {
				return uuid.Nil, fmt.Errorf("item[%d].extras[%d]: insert: %w", i, j, err)
			}
		}
	}
	return id, nil
}

func nullUUID(id uuid.UUID) pgtype.UUID {
	if id == uuid.Nil {
		return pgtype.UUID{}
	}
	return pgtype.UUID{Bytes: id, Valid: true}
}

// mutate locks the order row, lets fn check and change it, and writes back
// the lifecycle and payment columns.
func (s *Store) mutate(ctx context.Context, outletID, id uuid.UUID, fn func(o *order.Order) error) (*order.Order, error) {
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	o, err := getOrder(ctx, tx, outletID, id, true)
	if err != nil {
		return nil, err
	}
	if err := fn(o); err != nil {
		return nil, err
	}

	if _, err := tx.Exec(ctx,
		`UPDATE orders
		    SET state = $3, payment_state = $4, payment_method = $5, invoice_type = $6,
		        kitchen_start = $7, estimated_prep_minutes = $8, updated_at = now()
		  WHERE id = $1 AND outlet_id = $2`,
		id, outletID, o.State, o.PaymentState, o.PaymentMethod, o.InvoiceType,
		timestamptz(o.KitchenStart), int32(o.EstimatedPrepMinutes),
	); err != nil {
		return nil, fmt.Errorf("update order: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit tx: %w", err)
	}
	return o, nil
}

func conflict(err error) error {
	var te *lifecycle.TransitionError
	if errors.Is(err, lifecycle.ErrInvalidEstimate) {
		return &gateway.ValidationError{Message: err.Error()}
	}
	if errors.As(err, &te) {
		return fmt.Errorf("%w: %s", gateway.ErrConflict, te.Reason)
	}
	return err
}

func (s *Store) UpdateState(ctx context.Context, outletID, id uuid.UUID, u gateway.StateUpdate) (*order.Order, error) {
	return s.mutate(ctx, outletID, id, func(o *order.Order) error {
		if err := lifecycle.ValidateTransition(o.State, u.State); err != nil {
			return fmt.Errorf("%w: %v", gateway.ErrConflict, err)
		}
		if u.State == enum.OrderStateInKitchen {
			start := s.now()
			if u.KitchenStart != nil {
				start = *u.KitchenStart
			}
			return conflict(lifecycle.StartPreparation(o, start, u.EstimatedPrepMinutes))
		}
		o.State = u.State
		return nil
	})
}

func (s *Store) CancelOrder(ctx context.Context, outletID, id uuid.UUID) (*order.Order, error) {
	return s.mutate(ctx, outletID, id, func(o *order.Order) error {
		return conflict(lifecycle.Cancel(o))
	})
}

// SettleOrder marks the order paid. The row lock makes concurrent charges
// for the same order see each other: the second one gets ErrAlreadyPaid.
func (s *Store) SettleOrder(ctx context.Context, outletID, id uuid.UUID, req gateway.SettleRequest) (*order.Order, error) {
	return s.mutate(ctx, outletID, id, func(o *order.Order) error {
		if o.IsPaid() {
			return gateway.ErrAlreadyPaid
		}
		if !enum.IsValidPaymentMethod(req.PaymentMethod) {
			return &gateway.ValidationError{Message: "invalid paymentMethod"}
		}
		if !enum.IsValidInvoiceType(req.InvoiceType) {
			return &gateway.ValidationError{Message: "invalid invoiceType"}
		}
		if err := lifecycle.MarkPaid(o, req.PaymentMethod, req.InvoiceType); err != nil {
			return &gateway.ValidationError{Message: err.Error()}
		}
		return nil
	})
}

// CreateSale persists and settles an order in one transaction. A draft key
// that was already sold reports ErrAlreadyPaid.
func (s *Store) CreateSale(ctx context.Context, outletID uuid.UUID, req gateway.SaleRequest) (*order.Order, error) {
	if req.Order == nil {
		return nil, &gateway.ValidationError{Message: "order is required"}
	}
	if !enum.IsValidPaymentMethod(req.PaymentMethod) {
		return nil, &gateway.ValidationError{Message: "invalid paymentMethod"}
	}

	o := req.Order.Clone()
	o.DraftKey = req.DraftKey
	o.PaymentState = enum.PaymentStatePaid
	o.PaymentMethod = req.PaymentMethod
	o.InvoiceType = req.InvoiceType

	var lastErr error
	for attempt := 0; attempt < maxOrderNumberRetries; attempt++ {
		created, err := s.insertOrderTx(ctx, outletID, o)
		switch {
		case err == nil:
			return created, nil
		case isDraftConflict(err):
			return nil, gateway.ErrAlreadyPaid
		case isOrderNumberConflict(err):
			lastErr = err
			continue
		}
		return nil, err
	}
	return nil, lastErr
}
