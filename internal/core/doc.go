// Package core runs spreadsheet imports into the clinic store.
//
// The package holds the import workflow independent of any transport. It is
// driven by the web handlers, the intake CLI and tests alike.
//
// # Architecture
//
//   - Catalog: destination tables with their natural keys, child collections,
//     linked secondary tables and derivations. Built once by the tables
//     package and passed in; there is no package-level registry.
//   - Service: opens sessions, previews and runs imports, imports rosters,
//     saves and applies mapping templates.
//   - Session: one workbook on its way into one table, moving through
//     Idle → MappingReady → Previewing → Importing → Completed.
//   - BulkWriter: chunked upserts for derived rows.
//
// # Row Imports
//
// Rows are processed strictly in order, one at a time:
//
//  1. Mapped cells are transformed by field type
//  2. Required fields and the natural key are checked
//  3. The existing row is looked up by natural key, then upserted
//  4. Non-empty child lists replace the stored children
//  5. Secondary rows are written for linked tables
//
// A failing row is recorded in the [ImportResult] with its error and the
// import moves on. Cancelling the context stops the import before the next
// row.
//
// # Error Handling
//
// Technical errors are mapped to user-facing messages using [MapError]:
//
//   - DB001-DB009: store errors (duplicates, constraints, connections)
//   - VAL001-VAL003: value errors
//   - FILE001-FILE006: workbook errors
//   - IMP001-IMP011: import workflow errors
package core
