// Package transfer streams firmware payloads to and from a transport in
// bounded chunks.
//
// A write splits the payload once into an ordered, contiguous chunk
// sequence and issues one positioned write per chunk:
//
//	eng := transfer.New(
//	    transfer.WithChunkSize(4096),
//	    transfer.WithProgressCallback(func(p transfer.Progress) {
//	        fmt.Printf("%.1f%%\n", p.Percentage)
//	    }),
//	)
//	err := eng.Write(ctx, handle, payload, 0)
//
// The first failing chunk aborts the transfer. Chunks already written stay
// written; rollback is left to the caller. Cancellation and the read
// timeout are checked between chunks only, a single chunk's I/O call is
// never interrupted.
package transfer
