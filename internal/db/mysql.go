package db

import (
	"fmt"
	"time"

	"github.com/Utkarshchaudhary009/Docverse/internal/config"
	_ "github.com/go-sql-driver/mysql"
	"github.com/jmoiron/sqlx"
)

// NewMySQLConnection opens the system-of-record pool (identities, credentials, usage).
// The DSN must carry parseTime=true; migrations additionally need multiStatements=true.
func NewMySQLConnection(cfg config.DatabaseConfig) (*sqlx.DB, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("empty MySQL DSN")
	}
	return openPool("mysql", cfg, 5*time.Second)
}
