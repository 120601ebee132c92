package config

import (
	"time"

	"github.com/abiah-ai/usagegate/pkg/db"
	"go.uber.org/fx"
)

var Module = fx.Module("config",
	fx.Provide(Load),
	fx.Provide(provideDBConfig),
)

func provideDBConfig(cfg Config) db.Config {
	return db.Config{
		Type:     cfg.DBType,
		Host:     cfg.DBHost,
		Port:     cfg.DBPort,
		Name:     cfg.DBName,
		User:     cfg.DBUser,
		Password: cfg.DBPassword,
		SSLMode:  cfg.DBSSLMode,
		Pool: db.PoolConfig{
			MaxIdleConns:    cfg.DBMaxIdleConn,
			MaxOpenConns:    cfg.DBMaxOpenConn,
			ConnMaxLifetime: time.Duration(cfg.DBConnMaxLifetime) * time.Second,
			ConnMaxIdleTime: time.Duration(cfg.DBConnMaxIdleTime) * time.Second,
		},
	}
}
