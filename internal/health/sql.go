package health

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	// Database drivers registered for readiness probing.
	_ "github.com/go-sql-driver/mysql"
	_ "github.com/lib/pq"
)

// SQLPinger is the interface for pinging a database.
type SQLPinger interface {
	PingContext(ctx context.Context) error
	Stats() sql.DBStats
}

// SQLProber probes a relational database for readiness.
type SQLProber struct {
	name    string
	driver  string
	dsn     string
	timeout time.Duration
	db      SQLPinger

	// LatencyThreshold marks the sample unhealthy when the ping takes
	// longer. Zero disables the check.
	LatencyThreshold time.Duration
}

// NewSQLProber creates a new SQL prober. driver is "postgres" or "mysql";
// the connection is opened lazily on first probe.
func NewSQLProber(name, driver, dsn string, timeout time.Duration) *SQLProber {
	return &SQLProber{
		name:             name,
		driver:           driver,
		dsn:              dsn,
		timeout:          timeout,
		LatencyThreshold: 500 * time.Millisecond,
	}
}

// SetDB sets the database connection for testing with mock.
func (p *SQLProber) SetDB(db SQLPinger) {
	p.db = db
}

// Name returns the prober name.
func (p *SQLProber) Name() string {
	return p.name
}

// Protocol returns the protocol type.
func (p *SQLProber) Protocol() string {
	return ProtocolSQL
}

func (p *SQLProber) connect() error {
	if p.db != nil {
		return nil
	}
	db, err := sql.Open(p.driver, p.dsn)
	if err != nil {
		return fmt.Errorf("open %s connection: %w", p.driver, err)
	}
	db.SetMaxOpenConns(2)
	db.SetConnMaxIdleTime(time.Minute)
	p.db = db
	return nil
}

// Probe pings the database and inspects connection pool pressure.
func (p *SQLProber) Probe(ctx context.Context) (Sample, error) {
	start := time.Now()
	sample := Sample{
		Timestamp: start,
		Metadata:  make(map[string]interface{}),
	}

	if err := p.connect(); err != nil {
		sample.Message = err.Error()
		sample.Latency = time.Since(start)
		return sample, err
	}

	if p.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.timeout)
		defer cancel()
	}

	if err := p.db.PingContext(ctx); err != nil {
		sample.Message = fmt.Sprintf("ping failed: %v", err)
		sample.Latency = time.Since(start)
		sample.Metadata["error"] = err.Error()
		return sample, nil
	}

	latency := time.Since(start)
	sample.Latency = latency
	sample.Metadata["ping_latency_ms"] = latency.Milliseconds()

	stats := p.db.Stats()
	sample.Metadata["open_connections"] = stats.OpenConnections
	sample.Metadata["in_use"] = stats.InUse

	if p.LatencyThreshold > 0 && latency > p.LatencyThreshold {
		sample.Message = fmt.Sprintf("ping latency %v exceeds threshold %v", latency, p.LatencyThreshold)
		return sample, nil
	}

	sample.Healthy = true
	sample.Message = fmt.Sprintf("healthy: ping in %v", latency)
	return sample, nil
}
