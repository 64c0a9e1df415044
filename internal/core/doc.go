// Package core provides the business logic for resumable spreadsheet
// imports. It has no transport dependencies and is shared by the HTTP
// server and the importctl CLI.
//
// # Pipeline
//
// An import moves through parse, validate, upsert and finish:
//
//  1. [ParseFile] reads the first sheet of an xlsx (or a csv) into
//     [ImportRow] values, dropping rows without key values.
//  2. [Validate] marks every row valid or error. It never touches the
//     network and is idempotent.
//  3. [Engine.Run] sends sendable rows one at a time through an
//     [Upserter], retrying with exponential backoff, and records each
//     outcome in the run's [ActivityLog].
//  4. Progress and ETA are recomputed after every row and fanned out to
//     subscribers via [Service.SubscribeProgress].
//
// # Import Types
//
// Types are registered at init time using [Register]:
//
//	core.Register(core.Definition{
//	    Key:         "suppliers",
//	    Table:       "suppliers",
//	    ConflictKey: "name",
//	    Fields: []core.FieldSpec{
//	        {Name: "name", Required: true, RequiredMessage: "Nama wajib diisi"},
//	        {Name: "rating", Type: core.FieldNumeric, Optional: true},
//	    },
//	    KeyFields: []string{"name"},
//	})
//
// # Resume
//
// The engine writes a [Checkpoint] through a [Persister] every
// CheckpointInterval rows, when a pause takes effect, on cancel and on
// shutdown. A resumed run continues at LastProcessedIndex+1. The
// checkpoint is deleted once a run reaches the end of its rows.
//
// # Control
//
// [Control] delivers pause, resume and cancel to a running import.
// Signals are observed before each row, during retry backoff and at chunk
// yields; a request already sent is never interrupted.
//
// # Error Handling
//
// Row failures never abort a run. Operator-facing errors are mapped with
// [MapError]; each category has a code for support reference (FILE, RUN,
// UPS, DB, RATE).
package core
