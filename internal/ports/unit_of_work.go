package ports

import "context"

// Tx is an opaque transaction handle owned by the infrastructure layer.
type Tx interface{}

// UnitOfWork runs fn inside one transaction: a returned error rolls back,
// nil commits. Repositories pick the handle up through TxFromContext.
type UnitOfWork interface {
	WithTx(ctx context.Context, fn func(ctx context.Context) error) error
}

type txKey struct{}

func WithTxContext(ctx context.Context, tx Tx) context.Context {
	return context.WithValue(ctx, txKey{}, tx)
}

func TxFromContext(ctx context.Context) Tx {
	return ctx.Value(txKey{})
}
