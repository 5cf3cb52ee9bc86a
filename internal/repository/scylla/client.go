package scylla

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/gocql/gocql"

	"phone-auth-service/internal/config"
	"phone-auth-service/internal/util"
)

// PreparedStatements holds the statements the repositories bind. They
// are prepared once at startup so a misspelled query fails fast.
type PreparedStatements struct {
	LatestChallenge      *gocql.Query
	SettleChallenge      *gocql.Query
	ExpireChallenge      *gocql.Query
	SetDeliveryReference *gocql.Query

	InsertSession        *gocql.Query
	InsertSessionRefresh *gocql.Query
	InsertSessionByUser  *gocql.Query
	GetSessionByToken    *gocql.Query
	GetTokenByRefresh    *gocql.Query
	ListSessionTokens    *gocql.Query
	RevokeSession        *gocql.Query
	TouchSession         *gocql.Query

	InsertUser        *gocql.Query
	InsertPhoneToUser *gocql.Query
	GetUserByPhone    *gocql.Query
	GetUserByID       *gocql.Query
	MarkPhoneVerified *gocql.Query
	RecordLogin       *gocql.Query
}

type Client struct {
	Session      *gocql.Session
	config       config.ScyllaConfig
	Prepared     *PreparedStatements
	prepareMutex sync.Mutex
	isPrepared   bool
}

func NewClient(cfg config.ScyllaConfig, development bool) (*Client, error) {
	cluster := gocql.NewCluster(cfg.Nodes...)
	cluster.Keyspace = cfg.Keyspace
	cluster.Consistency = gocql.LocalQuorum
	cluster.Timeout = 10 * time.Second
	cluster.ConnectTimeout = 10 * time.Second
	cluster.NumConns = 4
	cluster.SocketKeepalive = 30 * time.Second
	cluster.MaxPreparedStmts = 1000
	cluster.MaxRoutingKeyInfo = 1000
	cluster.PageSize = 1000
	cluster.RetryPolicy = &gocql.ExponentialBackoffRetryPolicy{
		Min:        time.Second,
		Max:        10 * time.Second,
		NumRetries: 3,
	}

	if !development {
		cluster.SslOpts = &gocql.SslOptions{
			CaPath:                 "/root/certs/ca.pem",
			CertPath:               "/root/certs/server.pem",
			KeyPath:                "/root/certs/server.key",
			EnableHostVerification: true,
		}
	}

	if cfg.Username != "" && cfg.Password != "" {
		cluster.Authenticator = gocql.PasswordAuthenticator{
			Username: cfg.Username,
			Password: cfg.Password,
		}
	}

	session, err := cluster.CreateSession()
	if err != nil {
		return nil, fmt.Errorf("failed to create scylla session: %w", err)
	}

	client := &Client{
		Session: session,
		config:  cfg,
	}

	if err := client.prepareStatements(); err != nil {
		session.Close()
		return nil, fmt.Errorf("failed to prepare statements: %w", err)
	}

	util.Info("ScyllaDB client initialized",
		util.Any("nodes", cfg.Nodes),
		util.String("keyspace", cfg.Keyspace))

	return client, nil
}

func (c *Client) prepareStatements() error {
	c.prepareMutex.Lock()
	defer c.prepareMutex.Unlock()

	if c.isPrepared {
		return nil
	}

	prepared := &PreparedStatements{}

	prepared.LatestChallenge = c.Session.Query(`
        SELECT phone, purpose, created_at, challenge_id, code, status,
            attempts, max_attempts, expires_at, verified_at,
            bound_user_id, delivery_ref
        FROM phone_challenges WHERE phone = ? AND purpose = ? LIMIT 1`)

	prepared.SettleChallenge = c.Session.Query(`
        UPDATE phone_challenges
        SET attempts = ?, status = ?, verified_at = ?, bound_user_id = ?
        WHERE phone = ? AND purpose = ? AND created_at = ? AND challenge_id = ?
        IF attempts = ? AND status = ?`)

	prepared.ExpireChallenge = c.Session.Query(`
        UPDATE phone_challenges SET status = ?
        WHERE phone = ? AND purpose = ? AND created_at = ? AND challenge_id = ?
        IF status = ?`)

	prepared.SetDeliveryReference = c.Session.Query(`
        UPDATE phone_challenges SET delivery_ref = ?
        WHERE phone = ? AND purpose = ? AND created_at = ? AND challenge_id = ?`)

	prepared.InsertSession = c.Session.Query(`
        INSERT INTO sessions (
            token, refresh_token, user_id, created_at, expires_at,
            refresh_expires_at, last_activity, is_active,
            device_name, device_type, ip_address, user_agent
        ) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)

	prepared.InsertSessionRefresh = c.Session.Query(`
        INSERT INTO sessions_by_refresh (refresh_token, token)
        VALUES (?, ?)`)

	prepared.InsertSessionByUser = c.Session.Query(`
        INSERT INTO sessions_by_user (user_id, token, created_at)
        VALUES (?, ?, ?)`)

	prepared.GetSessionByToken = c.Session.Query(`
        SELECT token, refresh_token, user_id, created_at, expires_at,
            refresh_expires_at, last_activity, is_active,
            device_name, device_type, ip_address, user_agent
        FROM sessions WHERE token = ?`)

	prepared.GetTokenByRefresh = c.Session.Query(`
        SELECT token FROM sessions_by_refresh WHERE refresh_token = ?`)

	prepared.ListSessionTokens = c.Session.Query(`
        SELECT token FROM sessions_by_user WHERE user_id = ?`)

	prepared.RevokeSession = c.Session.Query(`
        UPDATE sessions SET is_active = false WHERE token = ?`)

	prepared.TouchSession = c.Session.Query(`
        UPDATE sessions SET last_activity = ? WHERE token = ?`)

	prepared.InsertUser = c.Session.Query(`
        INSERT INTO users (
            user_bucket, user_id, account_id, name, phone_hash,
            phone_encrypted, phone_dek, phone_key_id,
            phone_verified_at, created_at, last_login
        ) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)

	prepared.InsertPhoneToUser = c.Session.Query(`
        INSERT INTO phone_to_user (phone_hash, user_bucket, user_id, created_at)
        VALUES (?, ?, ?, ?) IF NOT EXISTS`)

	prepared.GetUserByPhone = c.Session.Query(`
        SELECT user_bucket, user_id FROM phone_to_user WHERE phone_hash = ?`)

	prepared.GetUserByID = c.Session.Query(`
        SELECT user_id, account_id, name, phone_encrypted, phone_dek,
            phone_key_id, phone_verified_at, created_at, last_login
        FROM users WHERE user_bucket = ? AND user_id = ?`)

	prepared.MarkPhoneVerified = c.Session.Query(`
        UPDATE users SET phone_verified_at = ?
        WHERE user_bucket = ? AND user_id = ?`)

	prepared.RecordLogin = c.Session.Query(`
        UPDATE users SET last_login = ?
        WHERE user_bucket = ? AND user_id = ?`)

	c.Prepared = prepared
	c.isPrepared = true

	util.Info("ScyllaDB prepared statements created successfully")
	return nil
}

func (c *Client) Close() {
	if c.Session != nil {
		c.Session.Close()
		util.Info("ScyllaDB client closed")
	}
}

func (c *Client) Batch(typ gocql.BatchType) *gocql.Batch {
	return c.Session.NewBatch(typ)
}

func (c *Client) ExecuteBatch(batch *gocql.Batch) error {
	return c.Session.ExecuteBatch(batch)
}

// ExecuteBatchCAS runs a single-partition conditional batch and reports
// whether its conditions held.
func (c *Client) ExecuteBatchCAS(batch *gocql.Batch) (bool, error) {
	applied, iter, err := c.Session.MapExecuteBatchCAS(batch, make(map[string]interface{}))
	if iter != nil {
		iter.Close()
	}
	if err != nil {
		return false, err
	}
	return applied, nil
}

func (c *Client) HealthCheck() error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	var clusterName string
	err := c.Session.Query(`SELECT cluster_name FROM system.local`).WithContext(ctx).Scan(&clusterName)
	if err != nil {
		return fmt.Errorf("scylla health check failed: %w", err)
	}

	util.Debug("ScyllaDB health check passed", util.String("cluster_name", clusterName))
	return nil
}

func (c *Client) ExecuteWithRetry(query *gocql.Query, maxRetries int) error {
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

func (c *Client) ScanWithRetry(query *gocql.Query, dest ...interface{}) error {
	var lastErr error
	for i := 0; i < 3; i++ {
		if err := query.Scan(dest...); err != nil {
			lastErr = err
			if err == gocql.ErrNotFound || i == 2 {
				return lastErr
			}
			time.Sleep(time.Duration(i+1) * 100 * time.Millisecond)
			continue
		}
		return nil
	}
	return lastErr
}
