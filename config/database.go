package config

import (
	"context"
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
	"github.com/uptrace/opentelemetry-go-extra/otelgorm"
	"gorm.io/driver/mysql"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
	"gorm.io/gorm/schema"
)

var (
	db *gorm.DB
)

func GetDB() *gorm.DB {
	return db
}

// SetDB replaces the global connection. Used by tools that open their own
// connection and by tests running against sqlite.
func SetDB(conn *gorm.DB) {
	db = conn
}

func init() {
	_ = godotenv.Load()
}

func mysqlDSN() string {
	dbUser := os.Getenv("DB_USER")
	dbPassword := os.Getenv("DB_PASSWORD")
	dbHost := os.Getenv("DB_HOST")
	dbPort := os.Getenv("DB_PORT")
	dbName := os.Getenv("DB_NAME")

	network := "tcp"
	address := fmt.Sprintf("%s:%s", dbHost, dbPort)

	// Cloud SQL Auth Proxy exposes a unix socket under /cloudsql/<CONNECTION_NAME>.
	if strings.HasPrefix(dbHost, "/cloudsql/") {
		network = "unix"
		address = dbHost
	}

	return fmt.Sprintf("%s:%s@%s(%s)/%s?parseTime=true&loc=UTC",
		dbUser,
		dbPassword,
		network,
		address,
		dbName,
	)
}

// OpenDatabase makes one connection attempt with the pool settings and the
// tracing plugin installed. It does not touch the global connection.
func OpenDatabase() (*gorm.DB, error) {
	conn, err := gorm.Open(mysql.Open(mysqlDSN()), NewGormConfig())
	if err != nil {
		return nil, err
	}
	if sqlDB, derr := conn.DB(); derr == nil && sqlDB != nil {
		maxOpen := intFromEnv("DB_MAX_OPEN_CONNS", 50)
		maxIdle := intFromEnv("DB_MAX_IDLE_CONNS", 25)
		connMaxLife := time.Duration(intFromEnv("DB_CONN_MAX_LIFETIME_SECONDS", 300)) * time.Second
		connMaxIdle := time.Duration(intFromEnv("DB_CONN_MAX_IDLE_TIME_SECONDS", 60)) * time.Second

		if maxOpen > 0 {
			sqlDB.SetMaxOpenConns(maxOpen)
		}
		if maxIdle >= 0 {
			sqlDB.SetMaxIdleConns(maxIdle)
		}
		if connMaxLife > 0 {
			sqlDB.SetConnMaxLifetime(connMaxLife)
		}
		if connMaxIdle > 0 {
			sqlDB.SetConnMaxIdleTime(connMaxIdle)
		}
	}
	if pluginErr := conn.Use(otelgorm.NewPlugin()); pluginErr != nil {
		GetLogger().WithError(pluginErr).Warn("db connected but failed to install otelgorm plugin")
	}
	return conn, nil
}

// ConnectDatabaseWithRetry keeps trying with capped exponential backoff until
// the database answers or ctx ends, then sets the global DB.
func ConnectDatabaseWithRetry(ctx context.Context) error {
	logger := GetLogger()
	for attempt := 1; ; attempt++ {
		conn, err := OpenDatabase()
		if err == nil {
			db = conn
			logger.WithField("attempt", attempt).Info("connected to database")
			return nil
		}

		sleep := backoff(attempt)
		logger.WithFields(logrus.Fields{"attempt": attempt, "retry_in": sleep.String()}).WithError(err).Warn("failed to connect database")
		if err := sleepContext(ctx, sleep); err != nil {
			return err
		}
	}
}

// backoff doubles from 2s and stops growing at 30s.
func backoff(attempt int) time.Duration {
	return min(time.Second*time.Duration(1<<min(attempt, 5)), 30*time.Second)
}

func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

func intFromEnv(key string, def int) int {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}

// NewGormConfig is shared by the MySQL connection and the sqlite test databases
// so both store timestamps in UTC and report unique violations as
// gorm.ErrDuplicatedKey.
func NewGormConfig() *gorm.Config {
	return &gorm.Config{
		Logger:         initLog(),
		NamingStrategy: schema.NamingStrategy{},
		TranslateError: true,
		NowFunc: func() time.Time {
			return time.Now().UTC()
		},
	}
}

// initLog routes gorm's own log lines through logrus. GORM_LOG names a file
// that receives every statement instead.
func initLog() logger.Interface {
	if path := os.Getenv("GORM_LOG"); path != "" {
		f, err := os.Create(path)
		if err == nil {
			return logger.New(log.New(f, "\r\n", log.LstdFlags), logger.Config{
				LogLevel:      logger.Info,
				SlowThreshold: time.Second,
			})
		}
		GetLogger().WithError(err).WithField("path", path).Warn("cannot create gorm log")
	}
	return logger.New(log.New(GetLogger().WriterLevel(logrus.WarnLevel), "", 0), logger.Config{
		LogLevel:                  logger.Error,
		SlowThreshold:             time.Second,
		IgnoreRecordNotFoundError: true,
	})
}
