package main

import (
	"context"
	"log"
	"time"

	"randomtalk-backend/internal/database"
	"randomtalk-backend/internal/repository/cassandra"
	"randomtalk-backend/internal/repository/cockroach"
	"randomtalk-backend/internal/repository/memory"
	redisRepo "randomtalk-backend/internal/repository/redis"
	"randomtalk-backend/pkg/config"
)

// connectBackends wires the persistence layer. Each store falls back
// independently: no CockroachDB means limited mode (all state in
// memory), no Cassandra means in-memory chat history, no Redis means a
// single-instance relay with an in-process presence cache.
func connectBackends(ctx context.Context, cfg *config.Config) *backends {
	b := &backends{}

	db, err := database.NewDB(ctx, cfg.Database.ConnString(), &database.DBConfig{
		MaxOpenConns:      cfg.Database.MaxConns,
		ConnMaxLifetime:   time.Hour,
		ConnMaxIdleTime:   5 * time.Minute,
		HealthCheckPeriod: 30 * time.Second,
	})
	if err != nil {
		log.Printf("⚠️  CockroachDB unavailable, running in limited mode: %v", err)
		store := memory.NewStore()
		b.users = store
		b.calls = store.Calls()
		b.binder = store
		b.messages = store.Messages()
		b.limitedMode = true
	} else {
		log.Println("✅ Connected to CockroachDB")
		b.closers = append(b.closers, func() { db.Close() })
		b.users = cockroach.NewUserRepository(db.Pool)
		b.calls = cockroach.NewCallRepository(db.Pool)
		b.binder = cockroach.NewMatchRepository(db.Pool)
	}

	if !b.limitedMode {
		cassandraDB, err := database.NewCassandraDB(&database.CassandraConfig{
			Hosts:    cfg.Cassandra.Hosts,
			Keyspace: cfg.Cassandra.Keyspace,
			Username: cfg.Cassandra.Username,
			Password: cfg.Cassandra.Password,
			Timeout:  cfg.Cassandra.Timeout,
		})
		if err != nil {
			log.Printf("⚠️  Cassandra unavailable, chat history is in-memory: %v", err)
			b.messages = memory.NewStore().Messages()
		} else {
			log.Println("✅ Connected to Cassandra")
			b.closers = append(b.closers, cassandraDB.Close)
			b.messages = cassandra.NewMessageRepository(cassandraDB.Session)
		}
	}

	redisClient, err := database.NewRedisClient(&database.RedisConfig{
		Host:     cfg.Redis.Host,
		Port:     cfg.Redis.Port,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
		PoolSize: cfg.Redis.PoolSize,
		Timeout:  cfg.Redis.Timeout,
	})
	if err != nil {
		log.Printf("⚠️  Redis unavailable, relay runs single-instance: %v", err)
		b.presence = memory.NewPresenceCache()
	} else {
		log.Println("✅ Connected to Redis")
		b.closers = append(b.closers, func() { redisClient.Close() })
		go redisClient.StartHealthCheck(ctx, 10*time.Second)
		b.redisClient = redisClient.Client
		b.presence = redisRepo.NewPresenceRepository(redisClient)
	}

	return b
}
