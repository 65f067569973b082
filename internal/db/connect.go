package db

import (
	"fmt"

	gomysql "github.com/go-sql-driver/mysql"
	"gorm.io/driver/mysql"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/chatmancer/chatmancer/internal/config"
)

// Connect opens a GORM connection for the configured driver.
func Connect(cfg config.DatabaseConfig) (*gorm.DB, error) {
	var dialector gorm.Dialector
	switch cfg.Driver {
	case "sqlite":
		dialector = sqlite.Open(cfg.DSN())
	case "mysql":
		dialector = mysql.Open(cfg.DSN())
	default:
		return nil, fmt.Errorf("db: unsupported driver %q", cfg.Driver)
	}
	db, err := gorm.Open(dialector, &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("db: connect to %s: %w", describe(cfg), err)
	}
	return db, nil
}

// ConnectAdmin opens a MySQL connection without selecting a database, used
// for CREATE DATABASE.
func ConnectAdmin(cfg config.MySQLConfig) (*gorm.DB, error) {
	admin := cfg
	admin.Database = ""
	dsn := config.DatabaseConfig{Driver: "mysql", MySQL: admin}.DSN()
	db, err := gorm.Open(mysql.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("db: admin connect to %s:%d: %w", cfg.Host, cfg.Port, err)
	}
	return db, nil
}

// CreateDatabase creates the named database if it doesn't already exist.
func CreateDatabase(adminDB *gorm.DB, name string) error {
	sql := fmt.Sprintf("CREATE DATABASE IF NOT EXISTS `%s`", name)
	if err := adminDB.Exec(sql).Error; err != nil {
		return fmt.Errorf("db: create database %s: %w", name, err)
	}
	return nil
}

// EnsureDatabase creates the MySQL database when the driver is mysql. It is
// a no-op for sqlite, which creates its file on first open.
func EnsureDatabase(cfg config.DatabaseConfig) error {
	if cfg.Driver != "mysql" {
		return nil
	}
	admin, err := ConnectAdmin(cfg.MySQL)
	if err != nil {
		return err
	}
	if sqlDB, err := admin.DB(); err == nil {
		defer sqlDB.Close()
	}
	return CreateDatabase(admin, cfg.MySQL.Database)
}

// describe names the database without exposing credentials.
func describe(cfg config.DatabaseConfig) string {
	if cfg.Driver != "mysql" {
		return "sqlite " + cfg.Path
	}
	parsed, err := gomysql.ParseDSN(cfg.DSN())
	if err != nil {
		return "mysql"
	}
	return fmt.Sprintf("mysql %s/%s", parsed.Addr, parsed.DBName)
}
