// Package storage opens the SQLite database and hands out sessions to the
// services contributed by update plugins.
//
// Tables are owned by Models: each plugin contributes the DDL for its tables
// and the database applies every merged model's migration once at startup.
// Setup drops and recreates those tables.
package storage
