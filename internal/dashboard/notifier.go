// Package dashboard wraps the admin aggregation queries and mirrors every
// computed result to the admin-dashboard room, so connected dashboards
// refresh without polling.
package dashboard

import (
	"context"
	"time"

	"go.uber.org/zap"

	"gitlab.ozon.dev/pupkingeorgij/shoptrack/internal/hub"
	"gitlab.ozon.dev/pupkingeorgij/shoptrack/internal/repository"
)

const (
	EventConnected      = "dashboard:connected"
	EventUpdate         = "dashboard:update"
	EventNotification   = "dashboard:notification"
	EventStatsUpdate    = "dashboard:stats-update"
	EventSalesUpdate    = "dashboard:sales-update"
	EventUsersUpdate    = "dashboard:users-update"
	EventProductsUpdate = "dashboard:products-update"
	EventActivityUpdate = "dashboard:activity-update"
)

type StatsRepository interface {
	Overview(ctx context.Context) (*repository.StatsOverview, error)
	Sales(ctx context.Context, days int) ([]*repository.SalesPoint, error)
	Users(ctx context.Context) (*repository.UserStats, error)
	Products(ctx context.Context, limit int) ([]*repository.ProductStat, error)
	RecentActivity(ctx context.Context, limit int) ([]*repository.ActivityEntry, error)
}

type Publisher interface {
	Publish(room, event string, payload interface{})
}

// Notifier computes a metrics snapshot for the requesting admin and pushes a
// copy to the admin room. The push is best-effort; the synchronous result is
// returned either way.
type Notifier struct {
	stats  StatsRepository
	pub    Publisher
	logger *zap.Logger
}

func NewNotifier(stats StatsRepository, pub Publisher, logger *zap.Logger) *Notifier {
	return &Notifier{
		stats:  stats,
		pub:    pub,
		logger: logger,
	}
}

func (n *Notifier) Stats(ctx context.Context) (*repository.StatsOverview, error) {
	stats, err := n.stats.Overview(ctx)
	if err != nil {
		return nil, err
	}
	n.pub.Publish(hub.AdminRoom, EventStatsUpdate, stats)
	return stats, nil
}

func (n *Notifier) Sales(ctx context.Context, days int) ([]*repository.SalesPoint, error) {
	points, err := n.stats.Sales(ctx, days)
	if err != nil {
		return nil, err
	}
	n.pub.Publish(hub.AdminRoom, EventSalesUpdate, points)
	return points, nil
}

func (n *Notifier) Users(ctx context.Context) (*repository.UserStats, error) {
	stats, err := n.stats.Users(ctx)
	if err != nil {
		return nil, err
	}
	n.pub.Publish(hub.AdminRoom, EventUsersUpdate, stats)
	return stats, nil
}

func (n *Notifier) Products(ctx context.Context, limit int) ([]*repository.ProductStat, error) {
	stats, err := n.stats.Products(ctx, limit)
	if err != nil {
		return nil, err
	}
	n.pub.Publish(hub.AdminRoom, EventProductsUpdate, stats)
	return stats, nil
}

func (n *Notifier) Activity(ctx context.Context, limit int) ([]*repository.ActivityEntry, error) {
	entries, err := n.stats.RecentActivity(ctx, limit)
	if err != nil {
		return nil, err
	}
	n.pub.Publish(hub.AdminRoom, EventActivityUpdate, entries)
	return entries, nil
}

// TriggerRefresh prompts connected admin clients to re-fetch. No payload is
// recomputed.
func (n *Notifier) TriggerRefresh() {
	n.logger.Debug("dashboard refresh triggered")
	n.pub.Publish(hub.AdminRoom, EventUpdate, map[string]interface{}{
		"refreshedAt": time.Now().UTC(),
	})
}

// Notify sends an ad hoc admin notice.
func (n *Notifier) Notify(message string) {
	n.pub.Publish(hub.AdminRoom, EventNotification, map[string]string{
		"message": message,
	})
}
