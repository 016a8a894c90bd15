// Package payments holds platform balances and moves value between them.
// It is the balance/transfer primitive underneath the escrow ledger: the
// ledger decides when value moves, this package decides whether it can.
package payments

import (
	"fmt"
	"strconv"
)

// Account identifies a balance bucket. Subject accounts hold deposited user
// funds; operation accounts hold value locked in escrow.
type Account string

// SubjectAccount returns the balance account for a platform subject.
func SubjectAccount(subject int64) Account {
	return Account("subject/" + strconv.FormatInt(subject, 10))
}

// OperationAccount returns the escrow balance account for an operation id.
func OperationAccount(operationID string) Account {
	return Account("escrow/" + operationID)
}

// FeeBasisPointsMax bounds the configurable platform fee (100% = 10000).
const FeeBasisPointsMax = 10000

// Fee computes the platform fee for a value at the given rate in basis
// points, rounding down.
func Fee(value, basisPoints int64) int64 {
	if value <= 0 || basisPoints <= 0 {
		return 0
	}
	return value * basisPoints / FeeBasisPointsMax
}

// Entry describes a single balance movement applied by a transfer.
type Entry struct {
	Account Account
	Delta   int64
}

func (e Entry) String() string {
	return fmt.Sprintf("%s%+d", e.Account, e.Delta)
}
