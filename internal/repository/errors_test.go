package repository

import (
	"errors"
	"fmt"
	"testing"

	"github.com/go-sql-driver/mysql"
	"github.com/stretchr/testify/assert"
)

func TestIsDuplicateEntry(t *testing.T) {
	dup := &mysql.MySQLError{Number: 1062, Message: "Duplicate entry"}

	assert.True(t, isDuplicateEntry(dup))
	assert.True(t, isDuplicateEntry(fmt.Errorf("insert job: %w", dup)))
	assert.False(t, isDuplicateEntry(&mysql.MySQLError{Number: 1213}))
	assert.False(t, isDuplicateEntry(errors.New("duplicate")))
	assert.False(t, isDuplicateEntry(nil))
}
