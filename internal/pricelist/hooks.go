package pricelist

// Hooks carries the optional callbacks a worker run reports through. Any
// field may be nil; emission is skipped for callbacks the caller did not set.
//
// Callbacks run on the extracting goroutine, so they must not block: hand the
// update off to a channel or a logger rather than doing I/O inline.
type Hooks struct {
	// Progress receives the overall percent complete, 0..100.
	Progress func(percent int)
	// Status receives a human-readable description of the current step.
	Status func(message string)
	// Warning receives non-fatal findings (duplicate SKUs, missing
	// recommended fields) as they are discovered.
	Warning func(message string)
}

func (h Hooks) emitProgress(percent int) {
	if h.Progress != nil {
		h.Progress(percent)
	}
}

func (h Hooks) emitStatus(message string) {
	if h.Status != nil {
		h.Status(message)
	}
}

func (h Hooks) emitWarning(message string) {
	if h.Warning != nil {
		h.Warning(message)
	}
}
