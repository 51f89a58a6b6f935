// Package database provides the PostgreSQL-backed repositories: tier
// assignments and the usage audit log. Connection pooling via pgxpool.
package database
