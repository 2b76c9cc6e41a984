// Package mysql builds the shared MySQL handle handed to modules as the
// "storage" resource and persists module load history. Schema changes are
// applied from the embedded migrations under deploy/migrations.
package mysql
