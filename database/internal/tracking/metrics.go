package tracking

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const (
	dbMeterName = "go-sqlobject/database"

	metricDBCalls      = "db.client.calls"
	metricDBDuration   = "db.client.operation.duration"
	metricRowsAffected = "db.rows.affected"

	metricPoolActive = "db.connection.pool.active"
	metricPoolIdle   = "db.connection.pool.idle"
	metricPoolTotal  = "db.connection.pool.total"
)

type instruments struct {
	calls        metric.Int64Counter
	duration     metric.Float64Histogram
	rowsAffected metric.Int64Counter
}

var (
	meterMu   sync.Mutex
	meterOnce sync.Once
	dbMeter   metric.Meter
	dbInst    instruments
)

func logMetricError(name string, err error) {
	if err != nil {
		fmt.Fprintf(os.Stderr, "WARNING: Failed to initialize metric %s: %v\n", name, err)
	}
}

func initDBMeter() {
	meterMu.Lock()
	defer meterMu.Unlock()

	dbMeter = otel.Meter(dbMeterName)

	var err error
	dbInst.calls, err = dbMeter.Int64Counter(metricDBCalls,
		metric.WithDescription("Total number of database client calls"))
	logMetricError(metricDBCalls, err)

	dbInst.duration, err = dbMeter.Float64Histogram(metricDBDuration,
		metric.WithDescription("Duration of database operations in milliseconds"),
		metric.WithUnit("ms"))
	logMetricError(metricDBDuration, err)

	dbInst.rowsAffected, err = dbMeter.Int64Counter(metricRowsAffected,
		metric.WithDescription("Number of rows affected by database operations"))
	logMetricError(metricRowsAffected, err)
}

func getDBMeter() metric.Meter {
	meterOnce.Do(initDBMeter)
	return dbMeter
}

// resetMeter drops the cached instruments so the next call binds to the
// current global MeterProvider.
func resetMeter() {
	meterMu.Lock()
	defer meterMu.Unlock()
	meterOnce = sync.Once{}
	dbMeter = nil
	dbInst = instruments{}
}

func recordDBMetrics(ctx context.Context, tc *Context, query string, elapsed time.Duration, rowsAffected int64, err error) {
	if getDBMeter() == nil {
		return
	}

	isError := err != nil && !errors.Is(err, sql.ErrNoRows)
	attrs := []attribute.KeyValue{
		attribute.String("db.system", normalizeDBVendor(tc.Vendor)),
		attribute.String("db.operation.name", extractDBOperation(query)),
		attribute.String("db.sql.table", extractTableName(query)),
	}

	if dbInst.calls != nil {
		counterAttrs := append(append([]attribute.KeyValue(nil), attrs...), attribute.Bool("error", isError))
		dbInst.calls.Add(ctx, 1, metric.WithAttributes(counterAttrs...))
	}
	if dbInst.duration != nil {
		dbInst.duration.Record(ctx, float64(elapsed.Nanoseconds())/1e6, metric.WithAttributes(attrs...))
	}
	if dbInst.rowsAffected != nil && rowsAffected > 0 && !isError {
		dbInst.rowsAffected.Add(ctx, rowsAffected, metric.WithAttributes(attrs...))
	}
}

// RegisterPoolMetrics publishes pool gauges read from stats on every
// collection. The returned func unregisters the callback.
func RegisterPoolMetrics(stats func() sql.DBStats, vendor string) func() {
	noop := func() {}
	meter := getDBMeter()
	if meter == nil {
		return noop
	}

	active, err := meter.Int64ObservableGauge(metricPoolActive, metric.WithDescription("Number of active database connections"))
	logMetricError(metricPoolActive, err)
	idle, err := meter.Int64ObservableGauge(metricPoolIdle, metric.WithDescription("Number of idle database connections"))
	logMetricError(metricPoolIdle, err)
	total, err := meter.Int64ObservableGauge(metricPoolTotal, metric.WithDescription("Maximum number of database connections configured"))
	logMetricError(metricPoolTotal, err)
	if active == nil || idle == nil || total == nil {
		return noop
	}

	attrs := metric.WithAttributes(attribute.String("db.system", normalizeDBVendor(vendor)))
	reg, err := meter.RegisterCallback(func(_ context.Context, o metric.Observer) error {
		s := stats()
		o.ObserveInt64(active, int64(s.InUse), attrs)
		o.ObserveInt64(idle, int64(s.Idle), attrs)
		o.ObserveInt64(total, int64(s.MaxOpenConnections), attrs)
		return nil
	}, active, idle, total)
	if err != nil {
		logMetricError("pool_metrics_callback", err)
		return noop
	}

	return func() {
		if err := reg.Unregister(); err != nil {
			logMetricError("pool_metrics_unregister", err)
		}
	}
}
