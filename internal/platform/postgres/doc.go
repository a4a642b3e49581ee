// Package postgres provides PostgreSQL-specific implementations for the
// data storage interfaces defined in the internal/store package: the
// serial lock row, the operations queue with both claim protocols, and
// the item-tree slice the propagation engines read and write. It also
// owns the embedded schema migrations.
package postgres
