// Package migration brings the schema up on startup so a fresh database
// is usable without any out-of-band tooling. Postgres goes through
// versioned SQL migrations; other dialects fall back to AutoMigrate for
// local development and tests.
package migration

import (
	"database/sql"
	"errors"
	"fmt"
	"io/fs"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"gorm.io/gorm"

	apikeydomain "github.com/credgate/credgate/internal/apikey/domain"
	auditdomain "github.com/credgate/credgate/internal/audit/domain"
	budgetdomain "github.com/credgate/credgate/internal/budget/domain"
	credentialdomain "github.com/credgate/credgate/internal/credential/domain"
	hierarchydomain "github.com/credgate/credgate/internal/hierarchy/domain"
	ledgerdomain "github.com/credgate/credgate/internal/ledger/domain"
	policydomain "github.com/credgate/credgate/internal/policy/domain"
	pricingdomain "github.com/credgate/credgate/internal/pricing/domain"
	usagedomain "github.com/credgate/credgate/internal/usage/domain"
	"github.com/credgate/credgate/internal/worker"
)

func RunMigrations(db *sql.DB) error {
	if db == nil {
		return errors.New("migration database handle is required")
	}

	sub, err := fs.Sub(embeddedMigrations, migrationsDir)
	if err != nil {
		return fmt.Errorf("open migrations: %w", err)
	}

	source, err := iofs.New(sub, ".")
	if err != nil {
		return fmt.Errorf("create migration source: %w", err)
	}

	driver, err := postgres.WithInstance(db, &postgres.Config{})
	if err != nil {
		return fmt.Errorf("create migration driver: %w", err)
	}

	migrator, err := migrate.NewWithInstance("iofs", source, "postgres", driver)
	if err != nil {
		return fmt.Errorf("create migrator: %w", err)
	}

	upErr := migrator.Up()
	if upErr != nil && !errors.Is(upErr, migrate.ErrNoChange) {
		return fmt.Errorf("apply migrations: %w", upErr)
	}
	// Do not call migrator.Close here because it would close the shared *sql.DB.

	return nil
}

// AutoMigrate creates the schema from the gorm models directly.
func AutoMigrate(conn *gorm.DB) error {
	if conn == nil {
		return errors.New("migration database handle is required")
	}

	return conn.AutoMigrate(
		&ledgerdomain.Account{},
		&ledgerdomain.LedgerEntry{},
		&hierarchydomain.Organization{},
		&hierarchydomain.Workspace{},
		&hierarchydomain.AgentGroup{},
		&hierarchydomain.Agent{},
		&apikeydomain.APIKey{},
		&policydomain.Policy{},
		&budgetdomain.Budget{},
		&pricingdomain.PricingRule{},
		&credentialdomain.ProviderCredential{},
		&usagedomain.UsageEvent{},
		&auditdomain.AuditLog{},
		&worker.UsageJob{},
	)
}
