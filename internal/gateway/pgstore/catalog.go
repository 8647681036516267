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
	"github.com/kiwari-pos/orderdesk/internal/order"
)

func (s *Store) GetProduct(ctx context.Context, outletID, id uuid.UUID) (*gateway.Product, error) {
	var p gateway.Product
	var price pgtype.Numeric
	err := s.db.QueryRow(ctx,
		`SELECT id, name, unit_price FROM products WHERE id = $1 AND outlet_id = $2`, id, outletID,
	).Scan(&p.ID, &p.Name, &price)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, gateway.ErrProductNotFound
		}
		return nil, fmt.Errorf("get product: %w", err)
	}
	p.UnitPrice = numericToDecimal(price)

	rows, err := s.db.Query(ctx,
		`SELECT id, name, price FROM product_extras WHERE product_id = $1 ORDER BY position, name`, id)
	if err != nil {
		return nil, fmt.Errorf("list product extras: %w", err)
	}
	defer rows.Close()

	p.Extras = []order.Extra{}
	for rows.Next() {
		var e order.Extra
		var ep pgtype.Numeric
		if err := rows.Scan(&e.ID, &e.Name, &ep); err != nil {
			return nil, fmt.Errorf("scan product extra: %w", err)
		}
		e.Price = numericToDecimal(ep)
		p.Extras = append(p.Extras, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list product extras: %w", err)
	}
	return &p, nil
}

// CreateProduct inserts a product and its extras. IDs left as uuid.Nil are
// generated by the database.
func (s *Store) CreateProduct(ctx context.Context, outletID uuid.UUID, p gateway.Product) (*gateway.Product, error) {
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	var id uuid.UUID
	if err := tx.QueryRow(ctx,
		`INSERT INTO products (id, outlet_id, name, unit_price)
		 VALUES (COALESCE($1, gen_random_uuid()), $2, $3, $4)
		 RETURNING id`,
		nullUUID(p.ID), outletID, p.Name, decimalToNumeric(p.UnitPrice),
	).Scan(&id); err != nil {
		return nil, fmt.Errorf("insert product: %w", err)
	}

	for i, e := range p.Extras {
		if _, err := tx.Exec(ctx,
			`INSERT INTO product_extras (id, product_id, position, name, price)
			 VALUES (COALESCE($1, gen_random_uuid()), $2, $3, $4, $5)`,
			nullUUID(e.ID), id, i, e.Name, decimalToNumeric(e.Price),
		); err != nil {
			return nil, fmt.Errorf("extras[%d]: insert: %w", i, err)
		}
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit tx: %w", err)
	}
	return s.GetProduct(ctx, outletID, id)
}

func (s *Store) comanda(o *order.Order) gateway.ComandaPayload {
	lines := make([]gateway.PrintLine, 0, len(o.Items))
	for _, it := range o.Items {
		sub := it.LineSubtotal()
		lines = append(lines, gateway.PrintLine{
			Name:     it.Name,
			Quantity: it.Quantity,
			Extras:   gateway.FromExtras(it.Extras),
			Note:     it.Note,
			Subtotal: &sub,
		})
	}
	return gateway.ComandaPayload{
		BusinessName:  s.businessName,
		OrderNumber:   o.OrderNumber,
		Timestamp:     o.CreatedAt,
		CustomerName:  o.CustomerName,
		DeliveryType:  o.DeliveryType,
		Address:       o.Address,
		Phone:         o.Phone,
		Lines:         lines,
		PaymentStatus: o.PaymentState,
	}
}

func (s *Store) GetComanda(ctx context.Context, outletID, id uuid.UUID) (*gateway.ComandaPayload, error) {
	o, err := s.GetOrder(ctx, outletID, id)
	if err != nil {
		return nil, err
	}
	p := s.comanda(o)
	return &p, nil
}

func (s *Store) GetTicket(ctx context.Context, outletID, id uuid.UUID) (*gateway.TicketPayload, error) {
	o, err := s.GetOrder(ctx, outletID, id)
	if err != nil {
		return nil, err
	}
	if o.PaymentState != enum.PaymentStatePaid {
		return nil, gateway.ErrTicketNotReady
	}
	return &gateway.TicketPayload{
		ComandaPayload: s.comanda(o),
		Subtotal:       o.Subtotal,
		Discount:       o.Discount,
		Tax:            o.TaxTotal,
		Total:          o.Total,
		PaymentMethod:  o.PaymentMethod,
		InvoiceType:    o.InvoiceType,
	}, nil
}
