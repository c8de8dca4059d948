// Package middleware provides HTTP middleware: W3C extended request
// logging and Prometheus request metrics.
package middleware
