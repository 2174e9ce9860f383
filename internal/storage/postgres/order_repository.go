package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/vladislavdragonenkov/orders/internal/domain"
)

const (
	opTimeout = 5 * time.Second
)

var orderColumns = []string{
	"id", "customer_name", "customer_email", "total_minor", "status", "version", "created_at", "updated_at",
}

// execer: общее подмножество *sql.DB и *sql.Tx.
type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

type orderRepository struct {
	db *sql.DB
	sb sq.StatementBuilderType
}

// NewOrderRepository создаёт PostgreSQL-реализацию OrderRepository.
func NewOrderRepository(store *Store) domain.OrderRepository {
	return &orderRepository{
		db: store.DB(),
		sb: statements,
	}
}

func (r *orderRepository) Create(ctx context.Context, order domain.Order) (domain.Order, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	created := order.Clone()
	err := inTx(ctx, r.db, func(tx *sql.Tx) error {
		var id int64
		if err := tx.QueryRowContext(ctx, `
			INSERT INTO orders (
				customer_name, customer_email, total_minor, status, version, created_at, updated_at
			) VALUES ($1,$2,$3,$4,1,$5,$6)
			RETURNING id
		`,
			order.CustomerName, order.CustomerEmail, order.TotalMinor, string(order.Status),
			order.CreatedAt.UTC(), order.UpdatedAt.UTC(),
		).Scan(&id); err != nil {
			return fmt.Errorf("insert order: %w", err)
		}

		created.AssignID(id)
		created.Version = 1
		return r.insertItems(ctx, tx, created)
	})
	if err != nil {
		return domain.Order{}, err
	}
	return created, nil
}

func (r *orderRepository) Get(ctx context.Context, id int64) (domain.Order, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	query, args, err := r.sb.Select(orderColumns...).From("orders").Where(sq.Eq{"id": id}).ToSql()
	if err != nil {
		return domain.Order{}, fmt.Errorf("build select order: %w", err)
	}

	orders, err := r.queryOrders(ctx, query, args...)
	if err != nil {
		return domain.Order{}, err
	}
	if len(orders) == 0 {
		return domain.Order{}, domain.ErrOrderNotFound
	}
	return orders[0], nil
}

func (r *orderRepository) List(ctx context.Context, filter domain.OrderFilter) (domain.OrderPage, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	where := filterConditions(filter)

	countQuery, countArgs, err := r.sb.Select("COUNT(*)").From("orders").Where(where).ToSql()
	if err != nil {
		return domain.OrderPage{}, fmt.Errorf("build count orders: %w", err)
	}

	page := domain.OrderPage{Orders: []domain.Order{}}
	if err := r.db.QueryRowContext(ctx, countQuery, countArgs...).Scan(&page.Total); err != nil {
		return domain.OrderPage{}, fmt.Errorf("count orders: %w", err)
	}
	if page.Total == 0 || filter.Offset() >= page.Total {
		return page, nil
	}

	selectQuery := r.sb.Select(orderColumns...).
		From("orders").
		Where(where).
		OrderBy("created_at DESC", "id DESC").
		Offset(uint64(filter.Offset()))
	if filter.Limit > 0 {
		selectQuery = selectQuery.Limit(uint64(filter.Limit))
	}

	query, args, err := selectQuery.ToSql()
	if err != nil {
		return domain.OrderPage{}, fmt.Errorf("build list orders: %w", err)
	}

	orders, err := r.queryOrders(ctx, query, args...)
	if err != nil {
		return domain.OrderPage{}, err
	}
	page.Orders = orders
	return page, nil
}

func (r *orderRepository) Save(ctx context.Context, order domain.Order) (domain.Order, error) {
	if order.ID == 0 {
		return domain.Order{}, domain.ErrOrderNotPersisted
	}

	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	saved := order.Clone()
	saved.AssignID(order.ID)
	saved.Version = order.Version + 1

	err := inTx(ctx, r.db, func(tx *sql.Tx) error {
		var createdAt time.Time
		err := tx.QueryRowContext(ctx, `
			UPDATE orders
			SET customer_name = $1,
			    customer_email = $2,
			    total_minor = $3,
			    status = $4,
			    version = version + 1,
			    updated_at = $5
			WHERE id = $6
			  AND version = $7
			RETURNING created_at
		`,
			order.CustomerName,
			order.CustomerEmail,
			order.TotalMinor,
			string(order.Status),
			order.UpdatedAt.UTC(),
			order.ID,
			order.Version,
		).Scan(&createdAt)
		if errors.Is(err, sql.ErrNoRows) {
			return r.missingOrVersionConflict(ctx, tx, order.ID)
		}
		if err != nil {
			return fmt.Errorf("update order: %w", err)
		}
		saved.CreatedAt = createdAt.UTC()

		// Позиции заменяются целиком: удалённые из агрегата исчезают из таблицы.
		if _, err := tx.ExecContext(ctx, `DELETE FROM order_items WHERE order_id = $1`, order.ID); err != nil {
			return fmt.Errorf("delete order items: %w", err)
		}
		return r.insertItems(ctx, tx, saved)
	})
	if err != nil {
		return domain.Order{}, err
	}
	return saved, nil
}

// missingOrVersionConflict различает удалённый заказ и устаревшую версию после пустого UPDATE.
func (r *orderRepository) missingOrVersionConflict(ctx context.Context, tx *sql.Tx, id int64) error {
	exists, err := r.orderExistsTx(ctx, tx, id)
	if err != nil {
		return err
	}
	if !exists {
		return domain.ErrOrderNotFound
	}
	return domain.ErrOrderVersionConflict
}

func (r *orderRepository) Delete(ctx context.Context, id int64) error {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	res, err := r.db.ExecContext(ctx, `DELETE FROM orders WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete order: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if affected == 0 {
		return domain.ErrOrderNotFound
	}
	return nil
}

func (r *orderRepository) insertItems(ctx context.Context, q execer, order domain.Order) error {
	if len(order.Items) == 0 {
		return nil
	}

	insert := r.sb.Insert("order_items").
		Columns("id", "order_id", "position", "product_name", "quantity", "price_minor")
	for position, item := range order.Items {
		insert = insert.Values(item.ID, order.ID, position, item.ProductName, item.Quantity, item.PriceMinor)
	}

	query, args, err := insert.ToSql()
	if err != nil {
		return fmt.Errorf("build insert order items: %w", err)
	}
	if _, err := q.ExecContext(ctx, query, args...); err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("insert order items: duplicate item id: %w", err)
		}
		return fmt.Errorf("insert order items: %w", err)
	}
	return nil
}

// queryOrders выполняет выборку заказов и догружает их позиции одним запросом.
func (r *orderRepository) queryOrders(ctx context.Context, query string, args ...any) ([]domain.Order, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("select orders: %w", err)
	}
	defer rows.Close()

	orders := make([]domain.Order, 0)
	index := make(map[int64]int)
	for rows.Next() {
		var (
			order  domain.Order
			status string
		)
		if err := rows.Scan(
			&order.ID, &order.CustomerName, &order.CustomerEmail, &order.TotalMinor,
			&status, &order.Version, &order.CreatedAt, &order.UpdatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan order row: %w", err)
		}
		order.Status = domain.OrderStatus(status)
		order.CreatedAt = order.CreatedAt.UTC()
		order.UpdatedAt = order.UpdatedAt.UTC()
		order.Items = []domain.OrderItem{}
		index[order.ID] = len(orders)
		orders = append(orders, order)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate order rows: %w", err)
	}
	if len(orders) == 0 {
		return orders, nil
	}

	ids := make([]int64, 0, len(orders))
	for _, order := range orders {
		ids = append(ids, order.ID)
	}
	if err := r.loadItems(ctx, ids, func(item domain.OrderItem) {
		i := index[item.OrderID]
		orders[i].Items = append(orders[i].Items, item)
	}); err != nil {
		return nil, err
	}

	return orders, nil
}

func (r *orderRepository) loadItems(ctx context.Context, orderIDs []int64, add func(domain.OrderItem)) error {
	query, args, err := r.sb.
		Select("id", "order_id", "product_name", "quantity", "price_minor").
		From("order_items").
		Where(sq.Eq{"order_id": orderIDs}).
		OrderBy("order_id", "position").
		ToSql()
	if err != nil {
		return fmt.Errorf("build load order items: %w", err)
	}

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("load order items: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var item domain.OrderItem
		if err := rows.Scan(&item.ID, &item.OrderID, &item.ProductName, &item.Quantity, &item.PriceMinor); err != nil {
			return fmt.Errorf("scan order item: %w", err)
		}
		add(item)
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("iterate order items: %w", err)
	}

	return nil
}

func (r *orderRepository) orderExistsTx(ctx context.Context, tx *sql.Tx, orderID int64) (bool, error) {
	var id int64
	err := tx.QueryRowContext(ctx, `SELECT id FROM orders WHERE id = $1`, orderID).Scan(&id)
	if err == nil {
		return true, nil
	}
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	return false, fmt.Errorf("check order exists: %w", err)
}

// filterConditions переводит фильтр списка в условия WHERE; границы дат включительные.
func filterConditions(filter domain.OrderFilter) sq.And {
	where := sq.And{}
	if filter.Status != nil {
		where = append(where, sq.Eq{"status": string(*filter.Status)})
	}
	if filter.CreatedFrom != nil {
		where = append(where, sq.GtOrEq{"created_at": filter.CreatedFrom.UTC()})
	}
	if filter.CreatedTo != nil {
		where = append(where, sq.LtOrEq{"created_at": filter.CreatedTo.UTC()})
	}
	if filter.EmailContains != "" {
		where = append(where, sq.Like{"customer_email": "%" + escapeLike(filter.EmailContains) + "%"})
	}
	return where
}

func escapeLike(s string) string {
	out := make([]rune, 0, len(s))
	for _, r := range s {
		if r == '%' || r == '_' || r == '\\' {
			out = append(out, '\\')
		}
		out = append(out, r)
	}
	return string(out)
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505"
	}
	return false
}

var _ domain.OrderRepository = (*orderRepository)(nil)
