package mongostore

import (
	"context"
	"fmt"

	"go.mongodb.org/mongo-driver/mongo"
)

// TxRunner implements store.TransactionRunner over a Mongo client
// session. Every aggregate store in this package passes ctx straight to
// the driver, so when ctx is the mongo.SessionContext handed to fn a
// single session/transaction is threaded through every write fn performs.
type TxRunner struct {
	client *mongo.Client
}

// NewTxRunner returns a TransactionRunner bound to the client's
// session pool.
func NewTxRunner(c *Client) *TxRunner {
	return &TxRunner{client: c.client}
}

// Run executes fn inside a Mongo multi-document transaction. On
// normal return the transaction commits; any error returned by fn
// aborts it.
func (r *TxRunner) Run(ctx context.Context, fn func(ctx context.Context) error) error {
	sess, err := r.client.StartSession()
	if err != nil {
		return fmt.Errorf("failed to start mongo session: %w", err)
	}
	defer sess.EndSession(ctx)

	_, err = sess.WithTransaction(ctx, func(sessCtx mongo.SessionContext) (interface{}, error) {
		return nil, fn(sessCtx)
	}, transactionOptions)
	return err
}
