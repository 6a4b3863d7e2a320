package health

import (
	"context"
	"fmt"
)

// Pinger is satisfied by *sql.DB.
type Pinger interface {
	PingContext(ctx context.Context) error
}

// DatabaseChecker checks database connectivity.
type DatabaseChecker struct {
	name string
	db   Pinger
}

// NewDatabaseChecker creates a checker named after the storage driver.
func NewDatabaseChecker(name string, db Pinger) *DatabaseChecker {
	return &DatabaseChecker{name: name, db: db}
}

func (c *DatabaseChecker) Name() string {
	return c.name
}

// Check verifies the database is reachable.
func (c *DatabaseChecker) Check(ctx context.Context) error {
	if c.db == nil {
		return fmt.Errorf("database not initialized")
	}
	return c.db.PingContext(ctx)
}

// FuncChecker adapts a function to Checker.
type FuncChecker struct {
	name  string
	check func(ctx context.Context) error
}

// NewFuncChecker creates a checker that calls fn.
func NewFuncChecker(name string, fn func(ctx context.Context) error) *FuncChecker {
	return &FuncChecker{name: name, check: fn}
}

func (c *FuncChecker) Name() string {
	return c.name
}

func (c *FuncChecker) Check(ctx context.Context) error {
	if c.check == nil {
		return fmt.Errorf("%s: no check configured", c.name)
	}
	return c.check(ctx)
}
