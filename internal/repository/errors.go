package repository

import (
	"errors"

	"github.com/go-sql-driver/mysql"
)

var (
	ErrNotFound = errors.New("not found")

	// ErrDuplicateJob is returned when an (endpoint, event) pair already has a job.
	ErrDuplicateJob = errors.New("delivery job already exists for endpoint and event")

	// ErrNotDLQ is returned when a replay targets a job outside the DLQ.
	ErrNotDLQ = errors.New("job is not dead-lettered")
)

const mysqlErrDuplicateEntry = 1062

func isDuplicateEntry(err error) bool {
	var me *mysql.MySQLError
	return errors.As(err, &me) && me.Number == mysqlErrDuplicateEntry
}
