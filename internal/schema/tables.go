// Package schema owns the seven statistics tables and recreates them at the
// start of every load.
package schema

import "pulse/internal/storage"

// Table names, in reset order.
const (
	AggregatedTransaction = "aggregated_transaction"
	AggregatedInsurance   = "aggregated_insurance"
	AggregatedUser        = "aggregated_user"
	MapTransaction        = "map_transaction"
	MapUser               = "map_user"
	TopTransaction        = "top_transaction"
	TopUser               = "top_user"
)

// KeyColumns are the dimension columns every table starts with.
var KeyColumns = []string{"country", "state", "year", "quarter"}

func col(name, typ string) storage.ColumnSpec {
	return storage.ColumnSpec{Name: name, Type: typ}
}

func table(name string, cols ...storage.ColumnSpec) storage.TableSpec {
	all := make([]storage.ColumnSpec, 0, 4+len(cols))
	all = append(all,
		col("country", "VARCHAR(50)"),
		col("state", "VARCHAR(100)"),
		col("year", "INT"),
		col("quarter", "INT"),
	)
	all = append(all, cols...)
	return storage.TableSpec{
		Name:       name,
		PrimaryKey: &storage.PrimaryKeySpec{Name: "id", Type: "serial"},
		Columns:    all,
	}
}

// Tables returns fresh copies of the seven table definitions in reset order.
func Tables() []storage.TableSpec {
	return []storage.TableSpec{
		table(AggregatedTransaction,
			col("transaction_type", "VARCHAR(100)"),
			col("count", "BIGINT"),
			col("amount", "DOUBLE PRECISION"),
		),
		table(AggregatedInsurance,
			col("insurance_type", "VARCHAR(100)"),
			col("count", "BIGINT"),
			col("amount", "DOUBLE PRECISION"),
		),
		table(AggregatedUser,
			col("device_brand", "VARCHAR(100)"),
			col("user_count", "BIGINT"),
			col("user_percentage", "DOUBLE PRECISION"),
		),
		table(MapTransaction,
			col("district", "VARCHAR(150)"),
			col("count", "BIGINT"),
			col("amount", "DOUBLE PRECISION"),
		),
		table(MapUser,
			col("district", "VARCHAR(150)"),
			col("registered_users", "BIGINT"),
			col("app_opens", "BIGINT"),
		),
		table(TopTransaction,
			col("entity_name", "VARCHAR(150)"),
			col("entity_type", "VARCHAR(50)"),
			col("count", "BIGINT"),
			col("amount", "DOUBLE PRECISION"),
		),
		table(TopUser,
			col("entity_name", "VARCHAR(150)"),
			col("entity_type", "VARCHAR(50)"),
			col("registered_users", "BIGINT"),
		),
	}
}

// Lookup returns the definition of one table.
func Lookup(name string) (storage.TableSpec, bool) {
	for _, t := range Tables() {
		if t.Name == name {
			return t, true
		}
	}
	return storage.TableSpec{}, false
}
