package infra

import (
	"fmt"

	"github.com/vwinv/backend-almadina/internal/model"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// NewDatabase establishes a GORM connection backed by pgx. Schema changes are
// applied separately by RunMigrations so that the cronjob binary can connect
// without migrating.
func NewDatabase(dsn string) (*gorm.DB, error) {
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, err
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	sqlDB.SetMaxOpenConns(25)
	sqlDB.SetMaxIdleConns(5)

	return db, nil
}

// RunMigrations creates / updates the ledger tables, then applies the
// idempotent SQL patches GORM tags cannot express.
func RunMigrations(db *gorm.DB) error {
	if err := db.AutoMigrate(
		&model.User{},
		&model.Order{},
		&model.CashRegister{},
		&model.CashRegisterTransaction{},
	); err != nil {
		return fmt.Errorf("AutoMigrate: %w", err)
	}
	return applySchemaPatches(db)
}

// schemaPatches run after AutoMigrate. Each statement is guarded so that
// re-running on an already-patched DB is a no-op.
var schemaPatches = []struct{ descr, sql string }{
	// One OPEN register per manager. Open also locks the manager row, this
	// index is the backstop that turns a lost race into a unique violation.
	{"partial unique index idx_cash_registers_one_open", `
CREATE UNIQUE INDEX IF NOT EXISTS idx_cash_registers_one_open
    ON cash_registers (manager_id)
    WHERE status = 'OPEN'`},
	{"check constraint chk_cash_registers_status", `
DO $$ BEGIN
  IF NOT EXISTS (SELECT 1 FROM pg_constraint WHERE conname = 'chk_cash_registers_status') THEN
    ALTER TABLE cash_registers
      ADD CONSTRAINT chk_cash_registers_status CHECK (status IN ('OPEN', 'CLOSED'));
  END IF;
END $$`},
	{"check constraint chk_cash_register_transactions_type", `
DO $$ BEGIN
  IF NOT EXISTS (SELECT 1 FROM pg_constraint WHERE conname = 'chk_cash_register_transactions_type') THEN
    ALTER TABLE cash_register_transactions
      ADD CONSTRAINT chk_cash_register_transactions_type CHECK (type IN
        ('OPENING', 'CASH_SALE', 'CASH_RETURN', 'CASH_IN', 'CASH_OUT', 'CLOSING', 'RECONCILIATION'));
  END IF;
END $$`},
	// Sweep scan: OPEN registers by date.
	{"index idx_cash_registers_open_date", `
CREATE INDEX IF NOT EXISTS idx_cash_registers_open_date
    ON cash_registers (business_date)
    WHERE status = 'OPEN'`},
	// History / report reads order a register's ledger by time.
	{"index idx_cash_register_transactions_register_created", `
CREATE INDEX IF NOT EXISTS idx_cash_register_transactions_register_created
    ON cash_register_transactions (cash_register_id, created_at)`},
}

func applySchemaPatches(db *gorm.DB) error {
	for _, p := range schemaPatches {
		if err := db.Exec(p.sql).Error; err != nil {
			return fmt.Errorf("patch %q: %w", p.descr, err)
		}
	}
	return nil
}
