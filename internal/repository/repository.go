package repository

import (
	"database/sql"
)

// requireRowsAffected maps a zero-row update/delete to sql.ErrNoRows so
// services can translate it into a not-found or conflict response.
func requireRowsAffected(result sql.Result) error {
	affected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return sql.ErrNoRows
	}
	return nil
}
