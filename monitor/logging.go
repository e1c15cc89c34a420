package monitor

import (
	"math/rand"

	"github.com/sirupsen/logrus"
)

// Log is the package-wide logger. Embedders can replace it (or call
// logrus.SetLevel/SetFormatter on it directly) to integrate with their
// own logging setup.
var Log = logrus.New()

func init() {
	Log.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
}

// logInflation records a thin-to-fat transition.
func logInflation(handle uint32, ownerThreadID uint32) {
	Log.WithFields(logrus.Fields{
		"handle": handle,
		"owner":  ownerThreadID,
	}).Debug("monitor: inflated")
}

// logContentionSample conditionally logs a contended acquisition,
// following the original runtime's sampling scheme: the sample
// probability is the wait as a percentage of the profiling threshold,
// capped at 100%, so any wait at or above the threshold is always logged.
func logContentionSample(rt *Runtime, waitMs int64, owner *callSite, thread uint32) {
	if rt.LockProfilingThreshold == 0 || rt.isSensitiveThread() {
		return
	}
	var samplePercent int64
	if waitMs >= rt.LockProfilingThreshold {
		samplePercent = 100
	} else {
		samplePercent = 100 * waitMs / rt.LockProfilingThreshold
	}
	if samplePercent == 0 || rand.Intn(100) >= int(samplePercent) {
		return
	}
	fields := logrus.Fields{
		"wait_ms":        waitMs,
		"sample_percent": samplePercent,
		"thread":         thread,
	}
	if owner != nil {
		fields["owner_file"] = owner.file
		fields["owner_line"] = owner.line
	}
	Log.WithFields(fields).Info("monitor: contended acquisition")
}

// logRegistryGate records a DisallowNew/AllowNew transition on a
// Registry, matching the original's VLOG(monitor) lifecycle tracing.
func logRegistryGate(allowed bool) {
	Log.WithField("allow_new", allowed).Debug("monitor: registry gate")
}
