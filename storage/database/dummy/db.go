package dummydb

import (
	"sync"

	"github.com/tmalore/studentos/core/credit"
	"github.com/tmalore/studentos/core/user"
)

type (
	DB struct {
		user    *userTable
		tool    *toolTable
		balance *balanceTable
		usage   *usageTable
	}

	userTable struct {
		sync.RWMutex
		table map[string]*user.User
	}

	toolTable struct {
		sync.RWMutex
		table map[string]*credit.Tool
	}

	balanceTable struct {
		sync.RWMutex
		table map[string]*credit.Balance
	}

	usageTable struct {
		sync.RWMutex
		table map[string]*credit.UsageEntry
	}
)

func Open() (*DB, error) {
	db := &DB{
		user:    &userTable{table: make(map[string]*user.User)},
		tool:    &toolTable{table: make(map[string]*credit.Tool)},
		balance: &balanceTable{table: make(map[string]*credit.Balance)},
		usage:   &usageTable{table: make(map[string]*credit.UsageEntry)},
	}
	return db, nil
}
