package seed

import (
	"encoding/csv"
	"io"
	"log"
	"os"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/shopspring/decimal"
)

// LoadProducts ingests a catalog CSV (name,price,stock) into the products
// table. Rows whose name already exists are skipped.
func LoadProducts(db *sqlx.DB, csvPath string) {
	file, err := os.Open(csvPath)
	if err != nil {
		log.Printf("unable to load product catalog %s: %v", csvPath, err)
		return
	}
	defer file.Close()

	reader := csv.NewReader(file)
	// Skip header
	if _, err := reader.Read(); err != nil {
		log.Printf("unable to read product header: %v", err)
		return
	}

	tx, err := db.Beginx()
	if err != nil {
		log.Printf("unable to start product seed transaction: %v", err)
		return
	}
	stmt, err := tx.Preparex(`INSERT INTO products (id, name, price, stock)
        SELECT ?, ?, ?, ? WHERE NOT EXISTS (SELECT 1 FROM products WHERE name = ?)`)
	if err != nil {
		log.Printf("unable to prepare product insert: %v", err)
		_ = tx.Rollback()
		return
	}
	defer stmt.Close()

	rows := 0
	for {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			log.Printf("unable to read product row: %v", err)
			continue
		}
		if len(record) < 3 {
			continue
		}
		name := strings.TrimSpace(record[0])
		if name == "" {
			continue
		}
		price, err := decimal.NewFromString(strings.TrimSpace(record[1]))
		if err != nil || price.IsNegative() {
			log.Printf("skipping product %s: invalid price %q", name, record[1])
			continue
		}
		stock, err := strconv.ParseInt(strings.TrimSpace(record[2]), 10, 64)
		if err != nil || stock < 0 {
			log.Printf("skipping product %s: invalid stock %q", name, record[2])
			continue
		}

		if _, err := stmt.Exec(uuid.NewString(), name, price, stock, name); err != nil {
			log.Printf("unable to insert product %s: %v", name, err)
		} else {
			rows++
		}
	}

	if err := tx.Commit(); err != nil {
		log.Printf("unable to commit product seed: %v", err)
	} else {
		log.Printf("seeded product catalog with %d rows", rows)
	}
}
