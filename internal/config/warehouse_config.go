package config

import (
	"time"

	"github.com/jrsteele09/go-access-broker/environment"
)

// Workspace holds the data warehouse connection for an environment.
type Workspace struct {
	Host         string
	ClientID     string
	ClientSecret string
	WarehouseID  string
	Catalog      string
	Schema       string
}

type WarehouseConfig interface {
	GetWorkspace(env environment.Environment) Workspace
	GetQueryTimeout() time.Duration
	GetQueryPollInterval() time.Duration
}

type Warehouse struct{}

var _ WarehouseConfig = Warehouse{}

// GetWorkspace returns the prod workspace for prod and the dev workspace otherwise.
func (Warehouse) GetWorkspace(env environment.Environment) Workspace {
	suffix := "DEV"
	if env == environment.Prod {
		suffix = "PROD"
	}
	return Workspace{
		Host:         GetEnv("DATABRICKS_WORKSPACE_"+suffix, ""),
		ClientID:     GetEnv("DATABRICKS_CLIENT_ID_"+suffix, ""),
		ClientSecret: GetEnv("DATABRICKS_CLIENT_SECRET_"+suffix, ""),
		WarehouseID:  GetEnv("DATABRICKS_WAREHOUSE_ID_"+suffix, ""),
		Catalog:      GetEnv("DATABRICKS_CATALOG", "default"),
		Schema:       GetEnv("DATABRICKS_SCHEMA", "students"),
	}
}

func (Warehouse) GetQueryTimeout() time.Duration {
	return GetEnvDuration("DATABRICKS_QUERY_TIMEOUT", 30*time.Second)
}

func (Warehouse) GetQueryPollInterval() time.Duration {
	return GetEnvDuration("DATABRICKS_POLL_INTERVAL", time.Second)
}
