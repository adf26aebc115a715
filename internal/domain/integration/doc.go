// Package integration contains the ledger synchronization bounded context.
// It models how records held by the remote ERP provider are pulled into the
// local ledger, one tenant and one data module at a time.
//
// Key concepts:
//   - SyncRun: aggregate owning the run state machine and its resumable Checkpoint
//   - ModuleID: versioned enumeration of the provider data modules
//   - TenantConnection: the encrypted OAuth credential held for a tenant
//   - SyncCursor / RawPayload: cross-run cursor state and the optional raw cache
//   - Record: the normalized domain records (receivables, payables, payments,
//     inventory items, sales lines) keyed by deterministic composite ids
//   - RawRecord / Field: tolerant, ordered-candidate lookup over provider payloads
//
// Design Pattern: Ports & Adapters
//   - Ports (interfaces) are defined here in the domain layer
//   - Adapters (implementations) are in the infrastructure layer
package integration
