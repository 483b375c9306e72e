// Package bulkcopy stages bun models into a columnar buffer and loads the
// buffer into a table over a dedicated connection, using the fastest path the
// database offers: COPY for PostgreSQL, LOAD DATA LOCAL INFILE for MySQL, and
// a single multi-row INSERT elsewhere.
package bulkcopy
