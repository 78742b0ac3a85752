package mysql

import "fmt"

type queries struct {
	load   string
	upsert string
	drop   string
}

func newQueries(table string) queries {
	return queries{
		load: fmt.Sprintf("SELECT version, states FROM %s WHERE store_key = ?", table),
		upsert: fmt.Sprintf(
			"INSERT INTO %s (store_key, version, states) VALUES (?, ?, ?) "+
				"ON DUPLICATE KEY UPDATE version = VALUES(version), states = VALUES(states)",
			table,
		),
		drop: fmt.Sprintf("DELETE FROM %s WHERE store_key = ?", table),
	}
}
