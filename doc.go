// Package mailqueue provides a durable, file-backed outbox for bulk email dispatch.
//
// Typical flow:
//  1. Open a Store on a storage root and create a Queue with Store.CreateQueue.
//  2. Push already-composed messages with Queue.Push or Queue.PushRaw.
//  3. Drain the queue by calling Queue.Send repeatedly (or run a Drainer) until it locks.
//  4. Recover failures manually with Queue.Resend or Queue.NewQueueFromErrors.
//
// Every message is stored as an envelope file (<id>.<index>.data) and a body file
// (<id>.<index>.mail) under <root>/<id>/. The catalog of queues lives in
// <root>/store.serialized, or in any other Catalog implementation such as the one
// in the mysql package.
//
// The types in this package are not safe for concurrent use: a single writer per
// storage root is assumed and callers serialize access.
package mailqueue
