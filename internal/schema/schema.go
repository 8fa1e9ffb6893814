// Package schema provides the principal schematics shared by all other
// packages. It defines operation kinds, job states, ordered metadata, the
// stat/list entry record and the error codes carried on terminal jobs. The
// package serves as the foundational data layer for the job, scheduler,
// worker and protocol packages.
package schema
