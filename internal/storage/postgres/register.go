package postgres

import "northwind/internal/storage"

func init() {
	storage.Register("postgres", New)
}
