// Package core provides the case intake import pipeline.
//
// This package holds all domain logic independent of any transport layer. It
// is driven by the web server (internal/web) and the intake CLI alike.
//
// # Pipeline
//
//  1. [Ingestor] checks an uploaded file and streams it into [Row] values,
//     resolving header aliases and reporting [ParseProgress].
//  2. [Validator] turns the row set into an ordered list of [ValidationError].
//  3. Corrections ([TrimWhitespace], [TitleCaseNames], [NormalizePhones],
//     [DefaultPriorities], [FixAll]) propose [CellEdit] values.
//  4. [Grid] holds the rows; [Session] commits edits to it and re-validates.
//  5. [Submitter] sends valid rows in batches of [BatchSize] to a
//     [CaseGateway] and finalizes the import record.
//
// # Sessions
//
// [Service] keeps one [Session] per operator. Starting an import replaces the
// operator's previous session. Parsing and submission each run on their own
// goroutine; everything else runs under the session lock. Subscribers receive
// [Event] values through [Session.Subscribe].
//
// # Errors
//
// File and parse problems are [*FileRejectedError] and [*ParseFailedError].
// Precondition failures are sentinel errors such as [ErrNotAuthenticated] and
// [ErrNoValidRows]. [MapError] converts any of them into a [UserMessage].
package core
