package client

import "go.uber.org/zap"

// BestEffort is the outcome of an operation whose failure must not block
// the caller, such as server-side logout or cache warm-up.
type BestEffort struct {
	Op  string
	Err error
}

// OK reports whether the operation succeeded
func (b BestEffort) OK() bool {
	return b.Err == nil
}

// Log writes the outcome: failures at warn, successes at debug
func (b BestEffort) Log(logger *zap.Logger) {
	if logger == nil {
		return
	}
	if b.Err != nil {
		logger.Warn("best-effort operation failed", zap.String("op", b.Op), zap.Error(b.Err))
		return
	}
	logger.Debug("best-effort operation succeeded", zap.String("op", b.Op))
}
