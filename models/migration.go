package models

import (
	"log"

	"bitbucket.org/mmdatafocus/stocktake_backend/config"
)

// MigrateTable migrates the tables owned by the stocktake.
func MigrateTable() {
	db := config.GetDB()

	err := db.AutoMigrate(
		&Count{}, &User{},
		&Sheet{}, &SheetPosition{},
		&Import{}, &ImportPosition{},
		&ImportFile{},
		&ProductCode{},
	)
	if err != nil {
		log.Fatal(err)
	}
	if config.CatalogIsLocal() {
		MigrateCatalogTable()
	}
}

// MigrateCatalogTable creates the catalog table. In production the catalog
// belongs to the POS and is only read.
func MigrateCatalogTable() {
	if err := config.GetDB().AutoMigrate(&Product{}); err != nil {
		log.Fatal(err)
	}
}
