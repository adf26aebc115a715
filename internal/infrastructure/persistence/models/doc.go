// Package models contains GORM-specific persistence models that map to database tables.
// These models are separate from domain entities to keep the domain layer pure and free
// from ORM concerns.
//
// Structure:
// - base.go: BaseModel and the shared columns of synced records
// - sync.go: sync runs, tenant connections, cursors and the raw payload cache
// - records.go: synced ledger records (receivables, payables, payments, inventory, sales)
// - tenant.go: the tenant directory
package models
