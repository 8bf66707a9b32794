package loader

// Recorder receives loader events for metrics.
// Use NoopRecorder{} when metrics are disabled.
type Recorder interface {
	Hit(loader string)
	Miss(loader string)
	Batch(loader string, size int)
	Failure(loader string, keys int)
	Revalidated(loader string, keys int)
}

// NoopRecorder discards everything
type NoopRecorder struct{}

func (NoopRecorder) Hit(string)              {}
func (NoopRecorder) Miss(string)             {}
func (NoopRecorder) Batch(string, int)       {}
func (NoopRecorder) Failure(string, int)     {}
func (NoopRecorder) Revalidated(string, int) {}
