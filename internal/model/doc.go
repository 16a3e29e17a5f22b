// Package model provides the domain types shared by every posync package.
//
// This package contains type definitions, pure functions and the error
// taxonomy only. All other internal packages import model; model imports
// nothing internal.
//
// Key design constraints:
//   - Money is decimal (shopspring/decimal), never float
//   - Entity identifiers are NFC-normalized at every entry point (NormalizeID)
//   - All JSON tags use snake_case
//   - Mutation ordering uses the ledger seq, never wall-clock timestamps
package model
