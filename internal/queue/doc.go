// Package queue persists generation jobs in SQLite and defines the job
// lifecycle model.
//
// All mutation flows through Store.Transform, which serializes writers per
// job id; readers always observe a fully written row. Stage transitions are
// validated against the pipeline's edge table.
package queue
