package models

import (
	"gorm.io/datatypes"
)

// Precache run sources.
const (
	PrecacheSourceTrigger = "trigger"
	PrecacheSourceManual  = "manual"
	PrecacheSourceSweep   = "sweep"
)

// PrecacheRun records one precache pass for operator inspection. Results maps
// each query's fingerprint to its count or error text, alongside the query's
// debug form.
type PrecacheRun struct {
	BaseModel
	EntityKey   string         `gorm:"size:100;index" json:"entity_key"`
	ManagerName string         `gorm:"size:100;index" json:"manager_name"`
	Source      string         `gorm:"size:16" json:"source"`
	Results     datatypes.JSON `json:"results"`
	Succeeded   int            `json:"succeeded"`
	Failed      int            `json:"failed"`
	DurationMS  int64          `json:"duration_ms"`
}
