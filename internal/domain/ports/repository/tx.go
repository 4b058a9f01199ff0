package repository

import (
	"context"

	"github.com/jackc/pgx/v4"
)

type Tx interface{}

var NoTX interface{}

// TransactionManager runs fn inside one database transaction and hands the
// transaction handle to fn as tx. Repositories accept that handle (or NoTX
// for the pool) so several writes commit or roll back together.
//
// The concrete type of tx is infra-defined (pgx.Tx for Postgres).
// Repositories must accept NoTX.
type TransactionManager interface {
	WithTx(ctx context.Context, txOpt pgx.TxOptions, fn func(ctx context.Context, tx Tx) error) error
}
