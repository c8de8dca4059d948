// Package logging provides leveled logging on top of the standard library
// log package. The level is read once from the LOG_LEVEL or DEBUG
// environment variables.
package logging
