package repository

import "time"

// Aggregate rows computed for the admin dashboard. These are transient
// snapshots, never persisted.

type StatsOverview struct {
	TotalRevenue    int64 `db:"total_revenue"`
	TotalOrders     int64 `db:"total_orders"`
	PendingOrders   int64 `db:"pending_orders"`
	ShippedOrders   int64 `db:"shipped_orders"`
	DeliveredOrders int64 `db:"delivered_orders"`
	TotalUsers      int64 `db:"total_users"`
	TotalProducts   int64 `db:"total_products"`
}

type SalesPoint struct {
	Day     time.Time `db:"day"`
	Orders  int64     `db:"orders"`
	Revenue int64     `db:"revenue"`
}

type UserStats struct {
	TotalUsers   int64 `db:"total_users"`
	NewThisWeek  int64 `db:"new_this_week"`
	ActiveBuyers int64 `db:"active_buyers"`
}

type ProductStat struct {
	ProductID string `db:"product_id"`
	Name      string `db:"name"`
	UnitsSold int64  `db:"units_sold"`
	Revenue   int64  `db:"revenue"`
}

type ActivityEntry struct {
	OrderID   string    `db:"order_id"`
	UserEmail string    `db:"user_email"`
	Status    string    `db:"status"`
	Total     int64     `db:"total"`
	UpdatedAt time.Time `db:"updated_at"`
}
