package database

import (
	"context"
	"fmt"
	"time"

	"homepro/config"
	ledgerRepo "homepro/database/repository/ledger"

	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

// ConnectMongo connects and pings MongoDB.
func ConnectMongo(ctx context.Context, uri string) (*mongo.Client, error) {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, fmt.Errorf("failed to connect to MongoDB: %w", err)
	}
	if err := client.Ping(ctx, nil); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("failed to ping MongoDB: %w", err)
	}
	return client, nil
}

// OpenPostgres opens a pooled gorm connection.
func OpenPostgres(dsn string) (*gorm.DB, error) {
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Warn),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to Postgres: %w", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get Postgres pool: %w", err)
	}
	sqlDB.SetMaxOpenConns(25)
	sqlDB.SetMaxIdleConns(5)
	sqlDB.SetConnMaxLifetime(30 * time.Minute)
	return db, nil
}

// Ledger is the opened ledger store with the handles that own it.
type Ledger struct {
	Store ledgerRepo.Store
	// Mongo is set for the mongo driver; the device directory shares it.
	Mongo   *mongo.Client
	MongoDB *mongo.Database
	SQL     *gorm.DB
}

// OpenLedger opens the store selected by LEDGER_DRIVER.
func OpenLedger(ctx context.Context, cfg *config.Config) (*Ledger, error) {
	switch cfg.LedgerDriver {
	case config.DriverMongo:
		client, err := ConnectMongo(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, err
		}
		return &Ledger{
			Store:   ledgerRepo.NewMongoLedger(client, cfg.DatabaseName),
			Mongo:   client,
			MongoDB: client.Database(cfg.DatabaseName),
		}, nil
	case config.DriverPostgres:
		db, err := OpenPostgres(cfg.PostgresDSN)
		if err != nil {
			return nil, err
		}
		return &Ledger{Store: ledgerRepo.NewGormLedger(db), SQL: db}, nil
	case config.DriverMemory:
		return &Ledger{Store: ledgerRepo.NewMemoryLedger()}, nil
	default:
		return nil, fmt.Errorf("unknown ledger driver %q", cfg.LedgerDriver)
	}
}

// Ping checks the underlying database; the memory driver is always up.
func (l *Ledger) Ping(ctx context.Context) error {
	switch {
	case l.Mongo != nil:
		return l.Mongo.Ping(ctx, nil)
	case l.SQL != nil:
		sqlDB, err := l.SQL.DB()
		if err != nil {
			return err
		}
		return sqlDB.PingContext(ctx)
	}
	return nil
}

func (l *Ledger) Close(ctx context.Context) error {
	switch {
	case l.Mongo != nil:
		return l.Mongo.Disconnect(ctx)
	case l.SQL != nil:
		sqlDB, err := l.SQL.DB()
		if err != nil {
			return err
		}
		return sqlDB.Close()
	}
	return nil
}
