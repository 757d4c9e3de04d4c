package types

import "time"

// ProgressUpdate is a cumulative snapshot of an upload.
type ProgressUpdate struct {
	BytesSent    uint64        // Bytes the receiver holds, including any resumed prefix
	BytesTotal   uint64        // Declared file size
	ResumeOffset uint64        // Bytes already present when the upload started
	Percentage   float64       // 0-100
	Throughput   float64       // MB/s over bytes sent by this run
	ElapsedTime  time.Duration // Since the handshake completed
}

// Done reports whether every byte has been sent.
func (p ProgressUpdate) Done() bool {
	return p.BytesSent >= p.BytesTotal
}

// NewProgressUpdate fills in the derived fields.
func NewProgressUpdate(sent, total, resume uint64, elapsed time.Duration) ProgressUpdate {
	p := ProgressUpdate{
		BytesSent:    sent,
		BytesTotal:   total,
		ResumeOffset: resume,
		ElapsedTime:  elapsed,
		Percentage:   100,
	}
	if total > 0 {
		p.Percentage = float64(sent) / float64(total) * 100
	}
	if secs := elapsed.Seconds(); secs > 0 && sent > resume {
		p.Throughput = float64(sent-resume) / secs / (1024 * 1024)
	}
	return p
}
