package core

import "context"

// ShutdownFunc is a cleanup hook run during graceful shutdown. It must honor
// the ctx deadline and be safe to call more than once.
//
//	var closeDB ShutdownFunc = func(ctx context.Context) error {
//	    return database.Close()
//	}
type ShutdownFunc func(ctx context.Context) error
