// Package channels provides small channel helpers shared by the
// orchestration core's streaming surfaces.
package channels

// CloseIgnorePanic closes a channel like normal. If the channel has
// already been closed, it suppresses the resulting panic. Observable
// streams may be closed both by their owner and during shutdown, so
// double-close has to be harmless.
func CloseIgnorePanic[T any](ch chan<- T) {
	if ch == nil {
		return
	}

	defer func() {
		_ = recover()
	}()

	close(ch)
}

// Infinite creates a channel pair with unbounded buffering between them.
// Values sent on the returned send-only channel are delivered on the
// receive-only channel in order, without the sender ever blocking.
//
// Use with caution: if the sender outpaces the receiver the internal
// queue grows without limit.
func Infinite[A any]() (chan<- A, <-chan A) {
	inputCh := make(chan A)
	outputCh := make(chan A)

	go func() {
		var queue []A

		// outCh disables the send case while the queue is empty.
		outCh := func() chan A {
			if len(queue) == 0 {
				return nil
			}

			return outputCh
		}

		head := func() A {
			if len(queue) == 0 {
				var zero A

				return zero
			}

			return queue[0]
		}

		for len(queue) > 0 || inputCh != nil {
			select {
			case v, ok := <-inputCh:
				if !ok {
					inputCh = nil
				} else {
					queue = append(queue, v)
				}
			case outCh() <- head():
				queue = queue[1:]
			}
		}

		close(outputCh)
	}()

	return inputCh, outputCh
}
