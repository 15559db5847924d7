package postgresql

import (
	"context"
	"fmt"

	"gitlab.ozon.dev/pupkingeorgij/shoptrack/internal/db"
	"gitlab.ozon.dev/pupkingeorgij/shoptrack/internal/repository"
)

// StatsRepo runs the read-mostly aggregate queries backing the admin
// dashboard. Results are returned to the caller and pushed to connected
// dashboards by the notifier; nothing here is cached or stored.
type StatsRepo struct {
	db db.DB
}

func NewStatsRepo(db db.DB) *StatsRepo {
	return &StatsRepo{db: db}
}

func (r *StatsRepo) Overview(ctx context.Context) (*repository.StatsOverview, error) {
	var stats repository.StatsOverview
	err := r.db.Get(ctx, &stats, `
        SELECT
            COALESCE(SUM(total) FILTER (WHERE status NOT IN ('cancelled', 'refunded')), 0) AS total_revenue,
            COUNT(*) AS total_orders,
            COUNT(*) FILTER (WHERE status = 'pending') AS pending_orders,
            COUNT(*) FILTER (WHERE status = 'shipped') AS shipped_orders,
            COUNT(*) FILTER (WHERE status = 'delivered') AS delivered_orders,
            (SELECT COUNT(*) FROM users) AS total_users,
            (SELECT COUNT(*) FROM products) AS total_products
        FROM orders
    `)
	if err != nil {
		return nil, fmt.Errorf("stats overview: %w", err)
	}
	return &stats, nil
}

func (r *StatsRepo) Sales(ctx context.Context, days int) ([]*repository.SalesPoint, error) {
	if days <= 0 {
		days = 7
	}

	var points []*repository.SalesPoint
	err := r.db.Select(ctx, &points, `
        SELECT
            date_trunc('day', created_at) AS day,
            COUNT(*) AS orders,
            COALESCE(SUM(total) FILTER (WHERE status NOT IN ('cancelled', 'refunded')), 0) AS revenue
        FROM orders
        WHERE created_at >= now() - make_interval(days => $1)
        GROUP BY day
        ORDER BY day ASC
    `, days)
	if err != nil {
		return nil, fmt.Errorf("sales analytics: %w", err)
	}
	return points, nil
}

func (r *StatsRepo) Users(ctx context.Context) (*repository.UserStats, error) {
	var stats repository.UserStats
	err := r.db.Get(ctx, &stats, `
        SELECT
            COUNT(*) AS total_users,
            COUNT(*) FILTER (WHERE created_at >= now() - interval '7 days') AS new_this_week,
            (SELECT COUNT(DISTINCT user_id) FROM orders) AS active_buyers
        FROM users
    `)
	if err != nil {
		return nil, fmt.Errorf("user analytics: %w", err)
	}
	return &stats, nil
}

func (r *StatsRepo) Products(ctx context.Context, limit int) ([]*repository.ProductStat, error) {
	if limit <= 0 {
		limit = 10
	}

	var stats []*repository.ProductStat
	err := r.db.Select(ctx, &stats, `
        SELECT
            p.id AS product_id,
            p.name AS name,
            COALESCE(SUM(oi.quantity), 0) AS units_sold,
            COALESCE(SUM(oi.quantity * oi.price), 0) AS revenue
        FROM products p
        LEFT JOIN order_items oi ON oi.product_id = p.id
        GROUP BY p.id, p.name
        ORDER BY units_sold DESC
        LIMIT $1
    `, limit)
	if err != nil {
		return nil, fmt.Errorf("product analytics: %w", err)
	}
	return stats, nil
}

func (r *StatsRepo) RecentActivity(ctx context.Context, limit int) ([]*repository.ActivityEntry, error) {
	if limit <= 0 {
		limit = 20
	}

	var entries []*repository.ActivityEntry
	err := r.db.Select(ctx, &entries, `
        SELECT
            o.id AS order_id,
            u.email AS user_email,
            o.status AS status,
            o.total AS total,
            o.updated_at AS updated_at
        FROM orders o
        JOIN users u ON u.id = o.user_id
        ORDER BY o.updated_at DESC
        LIMIT $1
    `, limit)
	if err != nil {
		return nil, fmt.Errorf("recent activity: %w", err)
	}
	return entries, nil
}
