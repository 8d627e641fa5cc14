package database

import (
	"os"
	"strconv"

	"amm-indexer/config"

	"github.com/pkg/errors"
)

const (
	MysqlTestUser     string = "indexeruser"
	MysqlTestPassword string = "indexeruser"
	MysqlTestDatabase string = "amm_indexer_test"
	MysqlTestPort     int    = 3306
)

var envOverrides = map[string]func(*config.DBConfig, string){
	"TEST_DB_HOST":     func(c *config.DBConfig, v string) { c.Host = v },
	"TEST_DB_PORT":     func(c *config.DBConfig, v string) { c.Port = mustParseInt(v) },
	"TEST_DB_NAME":     func(c *config.DBConfig, v string) { c.Database = v },
	"TEST_DB_USERNAME": func(c *config.DBConfig, v string) { c.Username = v },
	"TEST_DB_PASSWORD": func(c *config.DBConfig, v string) { c.Password = v },
}

// TestDBConfig returns the settings of the integration test database. ok is
// false when TEST_DB_HOST is not set and database tests should be skipped.
func TestDBConfig() (cfg config.DBConfig, ok bool) {
	cfg = config.DBConfig{
		Port:             MysqlTestPort,
		Database:         MysqlTestDatabase,
		Username:         MysqlTestUser,
		Password:         MysqlTestPassword,
		DropTableAtStart: true,
	}

	for env, override := range envOverrides {
		if v, set := os.LookupEnv(env); set {
			override(&cfg, v)
		}
	}

	return cfg, cfg.Host != ""
}

func mustParseInt(value string) int {
	parsed, err := strconv.Atoi(value)
	if err != nil {
		panic(errors.Wrapf(err, "Could not parse integer from value: %s", value))
	}
	return parsed
}
