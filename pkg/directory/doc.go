// Package directory implements permission.UserDirectory over per-tenant
// PostgreSQL databases.
//
// Each tenant database holds a users table (role plus optional JSON permission
// overrides) and a user_stores assignment table. Databases are obtained from a
// DBProvider, normally the tenant router, so directory reads share the tenant's
// pool with the rest of the request.
package directory
