package pgjobq

import "time"

// Default tunables for queue creation and connection behavior.
const (
	DefaultAckDeadline         = 10 * time.Second
	DefaultRetentionPeriod     = 7 * 24 * time.Hour
	DefaultMaxDeliveryAttempts = 10
	DefaultPollInterval        = time.Second
	DefaultRenewalMargin       = 0.5
	DefaultBatchSize           = 1

	defaultFinalizeTimeout = 5 * time.Second
)

// queueConfig accumulates CreateQueue options.
type queueConfig struct {
	ackDeadline         time.Duration
	retentionPeriod     time.Duration
	maxDeliveryAttempts int
}

func defaultQueueConfig() queueConfig {
	return queueConfig{
		ackDeadline:         DefaultAckDeadline,
		retentionPeriod:     DefaultRetentionPeriod,
		maxDeliveryAttempts: DefaultMaxDeliveryAttempts,
	}
}

// QueueOption configures CreateQueue.
type QueueOption func(*queueConfig)

// WithAckDeadline overrides the default ack deadline for a newly created
// queue.
func WithAckDeadline(d time.Duration) QueueOption {
	return func(c *queueConfig) { c.ackDeadline = d }
}

// WithRetentionPeriod overrides how long an undelivered message is kept
// before it expires.
func WithRetentionPeriod(d time.Duration) QueueOption {
	return func(c *queueConfig) { c.retentionPeriod = d }
}

// WithMaxDeliveryAttempts overrides how many times in total a message
// may be delivered (the first delivery included) before it is
// permanently dropped.
func WithMaxDeliveryAttempts(n int) QueueOption {
	return func(c *queueConfig) { c.maxDeliveryAttempts = n }
}

// connectConfig accumulates ConnectToQueue options.
type connectConfig struct {
	renewalMargin    float64
	finalizeTimeout  time.Duration
	metricsNamespace string
	metricsEnabled   bool
	pqConnStr        string
}

func defaultConnectConfig() connectConfig {
	return connectConfig{
		renewalMargin:   DefaultRenewalMargin,
		finalizeTimeout: defaultFinalizeTimeout,
	}
}

// ConnectOption configures ConnectToQueue.
type ConnectOption func(*connectConfig)

// WithRenewalMargin overrides the fraction of ack_deadline subtracted
// from the next deadline to decide when a handle's renewer fires.
func WithRenewalMargin(fraction float64) ConnectOption {
	return func(c *connectConfig) { c.renewalMargin = fraction }
}

// WithMetrics enables a Prometheus Recorder scoped to this Queue,
// registering its collectors under namespace.
func WithMetrics(namespace string) ConnectOption {
	return func(c *connectConfig) {
		c.metricsEnabled = true
		c.metricsNamespace = namespace
	}
}

// WithConnectionString supplies the DSN needed by the lib/pq-backed
// notification listener when pool is a *sql.DB rather than a
// *pgxpool.Pool. Ignored when connecting with a pgx pool.
func WithConnectionString(dsn string) ConnectOption {
	return func(c *connectConfig) { c.pqConnStr = dsn }
}

// completionConfig accumulates WaitForCompletionBatch options.
type completionConfig struct {
	pollInterval time.Duration
}

func defaultCompletionConfig() completionConfig {
	return completionConfig{pollInterval: DefaultPollInterval}
}

// CompletionOption configures Queue.WaitForCompletionBatch.
type CompletionOption func(*completionConfig)

// WithCompletionPollInterval sets the fallback existence-poll cadence
// used while waiting for completion, in case a job_completed
// notification is dropped. A value <= 0 disables the fallback poll,
// relying on notifications alone once the initial check comes back
// unsatisfied.
func WithCompletionPollInterval(d time.Duration) CompletionOption {
	return func(c *completionConfig) { c.pollInterval = d }
}

// sendConfig accumulates SendBatch options.
type sendConfig struct {
	delay time.Duration
}

// SendOption configures Queue.SendBatch.
type SendOption func(*sendConfig)

// WithDelay delays a batch's messages from becoming deliverable until
// delay has elapsed.
func WithDelay(delay time.Duration) SendOption {
	return func(c *sendConfig) { c.delay = delay }
}

// receiveConfig accumulates Receive options.
type receiveConfig struct {
	batchSize    int
	pollInterval time.Duration
	fifo         bool
}

func defaultReceiveConfig() receiveConfig {
	return receiveConfig{
		batchSize:    DefaultBatchSize,
		pollInterval: DefaultPollInterval,
	}
}

// ReceiveOption configures Queue.Receive.
type ReceiveOption func(*receiveConfig)

// WithBatchSize sets how many rows a single poll round trip may return.
func WithBatchSize(n int) ReceiveOption {
	return func(c *receiveConfig) { c.batchSize = n }
}

// WithPollInterval sets the fallback poll cadence used when no
// notification arrives.
func WithPollInterval(d time.Duration) ReceiveOption {
	return func(c *receiveConfig) { c.pollInterval = d }
}

// WithFIFO delivers in ascending insertion order instead of unordered.
func WithFIFO() ReceiveOption {
	return func(c *receiveConfig) { c.fifo = true }
}
