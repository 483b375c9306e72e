// Package database provides connection management, configuration loading,
// driver error classification, logging, query hooks, and table creation for
// registered models, built on top of Bun.
package database
