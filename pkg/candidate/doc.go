// Package candidate streams candidate indices from concurrent filter tasks to
// concurrent readers.
//
// Filters run asynchronously on an Executor and push indices through a Sink
// into a bounded Queue. Writers block while the queue is full and readers
// block while it is empty; both give up when their context ends. Once every
// registered filter has finished, readers drain the backlog and then receive
// io.EOF. A failing filter turns the queue into a failed state and every
// later or blocked Load reports that failure.
//
// Each filter's indices are read in the order the filter wrote them. With a
// single filter this is the global order; with several filters only the
// per-filter order holds and the interleaving across filters is unspecified.
//
// A Processor ties a queue to its filters and resolves indices into
// candidate values through a lookup function:
//
//	p, err := candidate.NewBuilder[*Token]().
//		Lookup(func(i int64) (*Token, error) { return corpus.Token(i) }).
//		Filters(candidate.NewRangeFilter("nouns", 0, n, isNoun)).
//		Capacity(1024).
//		Build()
//	if err != nil { ... }
//	if err := p.Start(ctx); err != nil { ... }
//	buf := make([]*Token, 64)
//	for {
//		n, err := p.Load(ctx, buf)
//		if err == io.EOF { break }
//		...
//	}
package candidate
