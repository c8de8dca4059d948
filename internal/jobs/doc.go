// Package jobs provides the in-process background job queue: a fixed
// worker pool with per-kind retry schedules, wall-clock deadlines, and
// terminal failure hooks. Jobs are intentionally not persisted; every
// kind is reconstructible from status fields in the database.
package jobs
