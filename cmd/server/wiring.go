package main

import (
	"alcyxob/fitness-booking/internal/config"
	"alcyxob/fitness-booking/internal/events"
	"alcyxob/fitness-booking/internal/lock"
	"alcyxob/fitness-booking/internal/repository"
	"alcyxob/fitness-booking/internal/repository/mongo"
	"alcyxob/fitness-booking/internal/repository/sqlite"
	"alcyxob/fitness-booking/internal/storage"
	"context"
	"fmt"
	"log"
	"time"

	"github.com/redis/go-redis/v9"
)

// store bundles the repositories of whichever driver is configured.
type store struct {
	classes      repository.ClassRepository
	reservations repository.ReservationRepository
	tx           repository.Transactor
	close        func()
}

func openStore(cfg config.DatabaseConfig) (*store, error) {
	switch cfg.Driver {
	case config.DriverMongo:
		client, err := mongo.ConnectDB(cfg.URI)
		if err != nil {
			return nil, err
		}
		db := client.Database(cfg.Name)
		log.Println("Database connection established.")

		// The partial unique index backs the duplicate-booking rule, so
		// failing to create it is fatal here.
		ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
		defer cancel()
		if err := mongo.EnsureIndexes(ctx, db); err != nil {
			_ = mongo.DisconnectDB(client)
			return nil, err
		}

		if !cfg.Transactions {
			log.Println("WARN: MongoDB transactions disabled; relying on class locks and compensating writes")
		}
		return &store{
			classes:      mongo.NewMongoClassRepository(db),
			reservations: mongo.NewMongoReservationRepository(db),
			tx:           mongo.NewTransactor(client, cfg.Transactions),
			close: func() {
				log.Println("Disconnecting MongoDB...")
				if err := mongo.DisconnectDB(client); err != nil {
					log.Printf("ERROR: Failed to disconnect MongoDB: %v", err)
				}
			},
		}, nil

	case config.DriverSQLite:
		db, err := sqlite.Open(cfg.SQLitePath)
		if err != nil {
			return nil, err
		}
		log.Printf("SQLite database opened at %s.", cfg.SQLitePath)
		return &store{
			classes:      sqlite.NewClassRepository(db),
			reservations: sqlite.NewReservationRepository(db),
			tx:           db,
			close: func() {
				if err := db.Close(); err != nil {
					log.Printf("ERROR: Failed to close SQLite database: %v", err)
				}
			},
		}, nil
	}
	return nil, fmt.Errorf("unknown database driver %q", cfg.Driver)
}

// infra holds optional collaborators: Redis, the event broker and object storage.
type infra struct {
	redis       *redis.Client // nil when disabled
	locker      lock.Locker
	publisher   events.Publisher
	fileStorage storage.FileStorage // nil when disabled
}

func newInfra(cfg config.Config) (*infra, error) {
	in := &infra{
		locker:    lock.NewKeyedMutex(cfg.Booking.LockWait),
		publisher: events.NoopPublisher{},
	}

	if cfg.Redis.Enabled {
		in.redis = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if err := in.redis.Ping(ctx).Err(); err != nil {
			in.redis.Close()
			return nil, fmt.Errorf("could not connect to Redis at %s: %w", cfg.Redis.Addr, err)
		}
		in.locker = lock.NewRedisLocker(in.redis, "lock:", cfg.Booking.LockTTL, cfg.Booking.LockWait)
		log.Printf("Redis connected at %s; using distributed class locks.", cfg.Redis.Addr)
	} else {
		log.Println("Redis disabled; using in-process class locks (single instance only).")
	}

	if cfg.AMQP.Enabled {
		publisher := events.NewAMQPPublisher(cfg.AMQP.URL, cfg.AMQP.Exchange)
		if err := publisher.Connect(); err != nil {
			// Events are best effort; the publisher re-dials on the next event.
			log.Printf("WARN: AMQP broker unavailable at startup: %v", err)
		}
		in.publisher = publisher
	}

	if cfg.S3.Enabled {
		fileStorage, err := storage.NewS3Storage(context.Background(), cfg.S3)
		if err != nil {
			in.close()
			return nil, fmt.Errorf("failed to initialize S3 storage: %w", err)
		}
		in.fileStorage = fileStorage
	}
	return in, nil
}

func (in *infra) close() {
	if err := in.publisher.Close(); err != nil {
		log.Printf("ERROR: Failed to close event publisher: %v", err)
	}
	if in.redis != nil {
		if err := in.redis.Close(); err != nil {
			log.Printf("ERROR: Failed to close Redis client: %v", err)
		}
	}
}
