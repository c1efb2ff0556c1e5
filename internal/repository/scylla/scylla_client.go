package scylla

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/gocql/gocql"
	"go.uber.org/zap"

	"booking-service/internal/config"
	"booking-service/internal/util"
)

// PreparedStatements holds the statements the repositories bind per call.
type PreparedStatements struct {
	GetChallenge    *gocql.Query
	UpsertChallenge *gocql.Query
	DeleteChallenge *gocql.Query

	CreateCustomer       *gocql.Query
	GetCustomerByID      *gocql.Query
	GetCustomerByEmail   *gocql.Query
	GetCustomerByPhone   *gocql.Query
	UpdateCustomerPhone  *gocql.Query
	DeleteEmailLookup    *gocql.Query
	DeletePhoneLookup    *gocql.Query
	CreatePhoneLookupRow *gocql.Query
}

type ScyllaClient struct {
	Session      *gocql.Session
	config       *config.ScyllaConfig
	Prepared     *PreparedStatements
	prepareMutex sync.Mutex
	isPrepared   bool
}

func NewScyllaClient(cfg *config.Config) (*ScyllaClient, error) {
	scyllaConfig := cfg.Scylla

	cluster := gocql.NewCluster(scyllaConfig.Nodes...)
	cluster.Keyspace = scyllaConfig.Keyspace
	cluster.Consistency = gocql.LocalQuorum
	cluster.Timeout = 10 * time.Second
	cluster.ConnectTimeout = 10 * time.Second
	cluster.NumConns = 4
	cluster.SocketKeepalive = 30 * time.Second
	cluster.RetryPolicy = &gocql.ExponentialBackoffRetryPolicy{
		Min:        time.Second,
		Max:        10 * time.Second,
		NumRetries: 3,
	}

	if scyllaConfig.Username != "" && scyllaConfig.Password != "" {
		cluster.Authenticator = gocql.PasswordAuthenticator{
			Username: scyllaConfig.Username,
			Password: scyllaConfig.Password,
		}
	}

	session, err := cluster.CreateSession()
	if err != nil {
		return nil, fmt.Errorf("failed to create scylla session: %w", err)
	}

	client := &ScyllaClient{
		Session: session,
		config:  &scyllaConfig,
	}

	if err := client.prepareStatements(); err != nil {
		session.Close()
		return nil, fmt.Errorf("failed to prepare statements: %w", err)
	}

	util.Info("ScyllaDB client initialized with prepared statements",
		zap.Strings("nodes", scyllaConfig.Nodes),
		zap.String("keyspace", scyllaConfig.Keyspace))

	return client, nil
}

func (s *ScyllaClient) prepareStatements() error {
	s.prepareMutex.Lock()
	defer s.prepareMutex.Unlock()

	if s.isPrepared {
		return nil
	}

	prepared := &PreparedStatements{}

	prepared.GetChallenge = s.Session.Query(`
        SELECT phone, code_hash, expires_at, attempts, locked_until, last_sent_at
        FROM phone_challenges WHERE phone = ?`)

	prepared.UpsertChallenge = s.Session.Query(`
        INSERT INTO phone_challenges (phone, code_hash, expires_at, attempts, locked_until, last_sent_at)
        VALUES (?, ?, ?, ?, ?, ?)`)

	prepared.DeleteChallenge = s.Session.Query(`
        DELETE FROM phone_challenges WHERE phone = ?`)

	prepared.CreateCustomer = s.Session.Query(`
        INSERT INTO customers (customer_id, email, name, password_hash, phone_e164, phone_verified, created_at, updated_at)
        VALUES (?, ?, ?, ?, ?, ?, ?, ?)`)

	prepared.GetCustomerByID = s.Session.Query(`
        SELECT customer_id, email, name, password_hash, phone_e164, phone_verified, created_at, updated_at
        FROM customers WHERE customer_id = ?`)

	prepared.GetCustomerByEmail = s.Session.Query(`
        SELECT customer_id FROM customers_by_email WHERE email = ?`)

	prepared.GetCustomerByPhone = s.Session.Query(`
        SELECT customer_id FROM customers_by_phone WHERE phone_e164 = ?`)

	prepared.UpdateCustomerPhone = s.Session.Query(`
        UPDATE customers SET phone_e164 = ?, phone_verified = ?, updated_at = ?
        WHERE customer_id = ?`)

	prepared.DeleteEmailLookup = s.Session.Query(`
        DELETE FROM customers_by_email WHERE email = ?`)

	prepared.DeletePhoneLookup = s.Session.Query(`
        DELETE FROM customers_by_phone WHERE phone_e164 = ?`)

	prepared.CreatePhoneLookupRow = s.Session.Query(`
        INSERT INTO customers_by_phone (phone_e164, customer_id) VALUES (?, ?) IF NOT EXISTS`)

	s.Prepared = prepared
	s.isPrepared = true

	return nil
}

func (s *ScyllaClient) Close() {
	if s.Session != nil {
		s.Session.Close()
		util.Info("ScyllaDB client closed")
	}
}

func (s *ScyllaClient) Query(stmt string, values ...interface{}) *gocql.Query {
	return s.Session.Query(stmt, values...)
}

func (s *ScyllaClient) HealthCheck(ctx context.Context) error {
	checkCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	var clusterName string
	err := s.Session.Query(`SELECT cluster_name FROM system.local`).WithContext(checkCtx).Scan(&clusterName)
	if err != nil {
		return fmt.Errorf("scylla health check failed: %w", err)
	}
	return nil
}

func (s *ScyllaClient) ExecuteWithRetry(query *gocql.Query, maxRetries int) error {
	var lastErr error
	for i := 0; i <= maxRetries; i++ {
		if err := query.Exec(); err != nil {
			lastErr = err
			if i < maxRetries {
				time.Sleep(time.Duration(i+1) * 100 * time.Millisecond)
				continue
			}
		} else {
			return nil
		}
	}
	return lastErr
}
