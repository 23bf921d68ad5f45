package postgres

import "csvload/internal/storage"

func init() {
	// registers the backend factory under kind "postgres"
	storage.Register("postgres", NewStore)
}
