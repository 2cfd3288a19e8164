// Package sf provides a generic single-flight mechanism for deduplicating
// concurrent function calls with the same key.
//
// If multiple goroutines call [Singleflight.Do] with the same key
// concurrently, only the first call executes the function; the others block
// until it completes and then receive the same result. The snapshot cache
// uses it so that a burst of reads for one state rebuilds it once.
//
//	flight := sf.New[Counter]()
//
//	state, err := flight.Do(ctx, key.String(), func(ctx context.Context) (Counter, error) {
//	    return rebuild(ctx, key)
//	})
package sf
