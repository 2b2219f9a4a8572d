package database

import (
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

// Connect opens PostgreSQL, retrying while the container wakes up.
func Connect(dsn string, attempts int, log zerolog.Logger) (*gorm.DB, error) {
	if attempts < 1 {
		attempts = 1
	}
	var (
		db  *gorm.DB
		err error
	)
	for i := 0; i < attempts; i++ {
		db, err = gorm.Open(postgres.Open(dsn), &gorm.Config{
			Logger: gormlogger.Default.LogMode(gormlogger.Warn),
		})
		if err == nil {
			log.Info().Msg("connected to database")
			return db, nil
		}
		log.Warn().Err(err).Int("attempt", i+1).Int("of", attempts).Msg("database not ready, waiting")
		if i < attempts-1 {
			time.Sleep(2 * time.Second)
		}
	}
	return nil, errors.Wrapf(err, "connect to database after %d attempts", attempts)
}
