package http

import (
	"errors"
	"time"

	"log/slog"

	"github.com/karloscodes/cartridge"
)

var errDatabaseUnavailable = errors.New("database connection unavailable")

// HealthStatus is the health check response body.
type HealthStatus struct {
	Status    string    `json:"status"`
	DBStatus  string    `json:"db_status"`
	Timestamp time.Time `json:"timestamp"`
}

// HealthIndexAction reports service liveness plus a database ping. The
// endpoint stays 200 even when degraded so probes can read the body.
func HealthIndexAction(ctx *cartridge.Context) error {
	health := HealthStatus{
		Status:    "ok",
		DBStatus:  "ok",
		Timestamp: time.Now().UTC(),
	}

	if err := pingDatabase(ctx); err != nil {
		ctx.Logger.Error("Health check database ping failed", slog.Any("error", err))
		health.Status = "degraded"
		health.DBStatus = "error"
	}

	return ctx.JSON(health)
}

func pingDatabase(ctx *cartridge.Context) error {
	db := ctx.DBManager.GetConnection()
	if db == nil {
		return errDatabaseUnavailable
	}
	sqlDB, err := db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Ping()
}
