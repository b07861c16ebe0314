// Package postgres implements authcore.Store on PostgreSQL through pgx.
//
// Conditional updates (refresh rotation, recovery code consumption, 2FA
// attempt counting) are single statements so concurrent requests cannot both
// succeed. Multi-row changes run in one transaction.
package postgres
