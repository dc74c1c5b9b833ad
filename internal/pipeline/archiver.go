// Package pipeline runs the scheduled background jobs around the trading
// loop.
package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/kjanssen/arbot/internal/domain"
	"github.com/kjanssen/arbot/internal/notify"
)

// TradePruner deletes trade rows once they have been archived.
type TradePruner interface {
	DeleteBefore(ctx context.Context, before time.Time) (int64, error)
}

// OpportunityPruner deletes opportunity rows once they have been archived.
type OpportunityPruner interface {
	DeleteBefore(ctx context.Context, before time.Time) (int64, error)
}

// Archiver moves history older than the retention window into cold storage
// and prunes the archived rows from Postgres. Rows are deleted only after
// the blob layer has confirmed the upload.
type Archiver struct {
	archiver      domain.Archiver
	trades        TradePruner
	opps          OpportunityPruner
	retentionDays int
	notif         *notify.Notifier
	logger        *slog.Logger
}

// NewArchiver creates an Archiver keeping retentionDays of history hot.
func NewArchiver(
	archiver domain.Archiver,
	trades TradePruner,
	opps OpportunityPruner,
	retentionDays int,
	logger *slog.Logger,
) *Archiver {
	return &Archiver{
		archiver:      archiver,
		trades:        trades,
		opps:          opps,
		retentionDays: retentionDays,
		logger:        logger.With(slog.String("component", "archiver")),
	}
}

// SetNotifier enables an operator notification after each run that moved
// rows.
func (a *Archiver) SetNotifier(n *notify.Notifier) {
	a.notif = n
}

// Run executes one archive-and-prune pass over trade and opportunity
// history.
func (a *Archiver) Run(ctx context.Context) error {
	cutoff := time.Now().UTC().Add(-time.Duration(a.retentionDays) * 24 * time.Hour)
	a.logger.InfoContext(ctx, "archive run starting",
		slog.Time("cutoff", cutoff),
		slog.Int("retention_days", a.retentionDays),
	)

	tradesArchived, err := a.archiveTrades(ctx, cutoff)
	if err != nil {
		return err
	}

	oppsArchived, err := a.archiveOpportunities(ctx, cutoff)
	if err != nil {
		return err
	}

	a.logger.InfoContext(ctx, "archive run complete",
		slog.Int64("trades_archived", tradesArchived),
		slog.Int64("opportunities_archived", oppsArchived),
	)

	if a.notif != nil && tradesArchived+oppsArchived > 0 {
		msg := fmt.Sprintf("Archived %d trades and %d opportunities older than %s.",
			tradesArchived, oppsArchived, cutoff.Format("2006-01-02"))
		if err := a.notif.Notify(ctx, notify.EventArchiveComplete, "Archive complete", msg); err != nil {
			a.logger.WarnContext(ctx, "archive notification failed",
				slog.String("error", err.Error()),
			)
		}
	}
	return nil
}

func (a *Archiver) archiveTrades(ctx context.Context, cutoff time.Time) (int64, error) {
	count, err := a.archiver.ArchiveTrades(ctx, cutoff)
	if err != nil {
		return 0, fmt.Errorf("pipeline: archive trades before %s: %w", cutoff.Format(time.RFC3339), err)
	}
	if count == 0 {
		return 0, nil
	}

	pruned, err := a.trades.DeleteBefore(ctx, cutoff)
	if err != nil {
		// The upload is already verified, so nothing is lost: the same
		// rows simply go out again next run.
		return count, fmt.Errorf("pipeline: prune trades before %s: %w", cutoff.Format(time.RFC3339), err)
	}

	a.logger.InfoContext(ctx, "trades archived",
		slog.Int64("archived", count),
		slog.Int64("pruned", pruned),
	)
	return count, nil
}

func (a *Archiver) archiveOpportunities(ctx context.Context, cutoff time.Time) (int64, error) {
	count, err := a.archiver.ArchiveOpportunities(ctx, cutoff)
	if err != nil {
		return 0, fmt.Errorf("pipeline: archive opportunities before %s: %w", cutoff.Format(time.RFC3339), err)
	}
	if count == 0 {
		return 0, nil
	}

	pruned, err := a.opps.DeleteBefore(ctx, cutoff)
	if err != nil {
		return count, fmt.Errorf("pipeline: prune opportunities before %s: %w", cutoff.Format(time.RFC3339), err)
	}

	a.logger.InfoContext(ctx, "opportunities archived",
		slog.Int64("archived", count),
		slog.Int64("pruned", pruned),
	)
	return count, nil
}

// RunCron runs the archiver on a cron schedule until the context is
// cancelled. Expressions use the standard 5-field form
// "minute hour day-of-month month day-of-week" with lists, ranges, and
// steps ("0 3 * * *", "0 */6 * * *", "0 3 1-5 * *"). Day-of-week counts
// Sunday as 0.
func (a *Archiver) RunCron(ctx context.Context, cronExpr string) error {
	a.logger.InfoContext(ctx, "archiver cron started", slog.String("cron", cronExpr))

	for {
		next, err := nextCronTime(cronExpr, time.Now().UTC())
		if err != nil {
			return fmt.Errorf("pipeline: parse cron %q: %w", cronExpr, err)
		}

		wait := time.Until(next)
		a.logger.InfoContext(ctx, "archiver waiting for next trigger",
			slog.Time("next_run", next),
			slog.Duration("wait", wait),
		)

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			a.logger.InfoContext(ctx, "archiver cron stopped")
			return ctx.Err()
		case <-timer.C:
			if err := a.Run(ctx); err != nil {
				a.logger.ErrorContext(ctx, "archive run failed", slog.String("error", err.Error()))
			}
		}
	}
}

// cronField is one parsed field of a cron expression.
type cronField struct {
	wildcard bool
	values   []int
}

func (f cronField) matches(val int) bool {
	if f.wildcard {
		return true
	}
	for _, v := range f.values {
		if v == val {
			return true
		}
	}
	return false
}

// parseCronField parses a single field. Supported forms: "*", "*/n", a
// value, a range "a-b", and comma lists mixing values and ranges.
func parseCronField(field string, lo, hi int) (cronField, error) {
	if field == "*" {
		return cronField{wildcard: true}, nil
	}

	if step, ok := strings.CutPrefix(field, "*/"); ok {
		n, err := strconv.Atoi(step)
		if err != nil || n <= 0 {
			return cronField{}, fmt.Errorf("invalid cron step %q", field)
		}
		var values []int
		for v := lo; v <= hi; v += n {
			values = append(values, v)
		}
		return cronField{values: values}, nil
	}

	parts := strings.Split(field, ",")
	values := make([]int, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if from, to, ok := strings.Cut(p, "-"); ok {
			start, err := parseCronValue(from, lo, hi)
			if err != nil {
				return cronField{}, err
			}
			end, err := parseCronValue(to, lo, hi)
			if err != nil {
				return cronField{}, err
			}
			if end < start {
				return cronField{}, fmt.Errorf("invalid cron range %q", p)
			}
			for v := start; v <= end; v++ {
				values = append(values, v)
			}
			continue
		}

		v, err := parseCronValue(p, lo, hi)
		if err != nil {
			return cronField{}, err
		}
		values = append(values, v)
	}
	return cronField{values: values}, nil
}

func parseCronValue(s string, lo, hi int) (int, error) {
	v, err := strconv.Atoi(s)
	if err != nil {
		return 0, fmt.Errorf("invalid cron value %q: %w", s, err)
	}
	if v < lo || v > hi {
		return 0, fmt.Errorf("cron value %d out of range [%d,%d]", v, lo, hi)
	}
	return v, nil
}

// parsedCron holds the five parsed fields of an expression.
type parsedCron struct {
	minute     cronField
	hour       cronField
	dayOfMonth cronField
	month      cronField
	dayOfWeek  cronField
}

func (c parsedCron) matchesTime(t time.Time) bool {
	return c.minute.matches(t.Minute()) &&
		c.hour.matches(t.Hour()) &&
		c.dayOfMonth.matches(t.Day()) &&
		c.month.matches(int(t.Month())) &&
		c.dayOfWeek.matches(int(t.Weekday()))
}

func parseCron(expr string) (parsedCron, error) {
	fields := strings.Fields(expr)
	if len(fields) != 5 {
		return parsedCron{}, fmt.Errorf("cron expression must have 5 fields, got %d", len(fields))
	}

	minute, err := parseCronField(fields[0], 0, 59)
	if err != nil {
		return parsedCron{}, fmt.Errorf("minute field: %w", err)
	}
	hour, err := parseCronField(fields[1], 0, 23)
	if err != nil {
		return parsedCron{}, fmt.Errorf("hour field: %w", err)
	}
	dayOfMonth, err := parseCronField(fields[2], 1, 31)
	if err != nil {
		return parsedCron{}, fmt.Errorf("day-of-month field: %w", err)
	}
	month, err := parseCronField(fields[3], 1, 12)
	if err != nil {
		return parsedCron{}, fmt.Errorf("month field: %w", err)
	}
	dayOfWeek, err := parseCronField(fields[4], 0, 6)
	if err != nil {
		return parsedCron{}, fmt.Errorf("day-of-week field: %w", err)
	}

	return parsedCron{
		minute:     minute,
		hour:       hour,
		dayOfMonth: dayOfMonth,
		month:      month,
		dayOfWeek:  dayOfWeek,
	}, nil
}

// nextCronTime returns the first time after 'after' matching the
// expression, walking minute boundaries up to one year out.
func nextCronTime(cronExpr string, after time.Time) (time.Time, error) {
	cron, err := parseCron(cronExpr)
	if err != nil {
		return time.Time{}, err
	}

	candidate := after.Truncate(time.Minute).Add(time.Minute)
	limit := after.Add(366 * 24 * time.Hour)

	for candidate.Before(limit) {
		if cron.matchesTime(candidate) {
			return candidate, nil
		}
		candidate = candidate.Add(time.Minute)
	}

	return time.Time{}, fmt.Errorf("no matching time within a year for %q", cronExpr)
}
