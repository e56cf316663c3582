package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// ============================================
	// 数据库连接指标
	// ============================================
	DBConnectionStatus = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "nvct_db_connection_status",
		Help: "Database connection status (1=healthy, 0=unhealthy)",
	})

	DBQueryDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "nvct_db_query_duration_seconds",
			Help:    "Database query duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"query_type"},
	)

	// ============================================
	// NATS 连接和消息指标
	// ============================================
	NATSConnectionStatus = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "nvct_nats_connection_status",
		Help: "NATS connection status (1=connected, 0=disconnected)",
	})

	NATSMessagesPublished = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "nvct_nats_messages_published_total",
			Help: "Total number of NATS messages published",
		},
		[]string{"subject_kind", "status"},
	)

	// ============================================
	// 链上交易指标
	// ============================================
	LedgerSubmissions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "nvct_ledger_submissions_total",
			Help: "Signed transactions broadcast to a ledger node",
		},
		[]string{"network", "status"},
	)

	LedgerNodeErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "nvct_ledger_node_errors_total",
			Help: "Ledger node failures by classified kind",
		},
		[]string{"network", "kind"},
	)

	LedgerReceiptWait = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "nvct_ledger_receipt_wait_seconds",
			Help:    "Time spent waiting for a transaction receipt",
			Buckets: []float64{1, 2, 5, 10, 20, 30, 60, 120, 300},
		},
		[]string{"network", "outcome"},
	)

	RPCConnectionStatus = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "nvct_rpc_connection_status",
			Help: "RPC connection status per network (1=connected, 0=disconnected)",
		},
		[]string{"network"},
	)

	// ============================================
	// 多签指标
	// ============================================
	MultisigTransactions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "nvct_multisig_transactions_total",
			Help: "Multisig transaction lifecycle events",
		},
		[]string{"network", "event"},
	)

	// ============================================
	// 结算指标
	// ============================================
	Settlements = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "nvct_settlements_total",
			Help: "Settlement status transitions",
		},
		[]string{"network", "status"},
	)

	SettlementAttempts = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "nvct_settlement_attempts",
		Help:    "Submission attempts before a settlement reached a terminal status",
		Buckets: []float64{1, 2, 3, 5, 8},
	})

	// ============================================
	// 代币指标
	// ============================================
	TokenOperations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "nvct_token_operations_total",
			Help: "NVC token transfers, mints and burns by outcome",
		},
		[]string{"network", "operation", "status"},
	)

	// ============================================
	// 主网安全门指标
	// ============================================
	PendingOperations = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "nvct_security_gate_pending_operations",
		Help: "Pending operations currently held by the security gate",
	})

	SecurityGateDecisions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "nvct_security_gate_decisions_total",
			Help: "Security gate outcomes by operation type",
		},
		[]string{"operation_type", "outcome"},
	)

	SecurityCodesIssued = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "nvct_security_codes_issued_total",
			Help: "Security codes issued per delivery channel",
		},
		[]string{"channel", "status"},
	)

	// ============================================
	// HTTP 指标
	// ============================================
	HTTPRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "nvct_http_requests_total",
			Help: "HTTP requests by route and status",
		},
		[]string{"method", "route", "status"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "nvct_http_request_duration_seconds",
			Help:    "HTTP request latency",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "route"},
	)

	WebSocketConnections = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "nvct_websocket_connections",
		Help: "Open WebSocket subscriber connections",
	})
)
