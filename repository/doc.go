// Package repository provides a generic repository over Bun models: CRUD by
// identifier, transaction-bound variants, ordered paging, column increments,
// filter-driven lookups and chunked bulk saves that skip rows already stored.
package repository
