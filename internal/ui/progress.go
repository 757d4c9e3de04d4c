package ui

import (
	"fmt"
	"io"
	"os"
	"time"

	"ftx/pkg/types"
	"ftx/pkg/utils"

	"github.com/schollz/progressbar/v3"
)

// ProgressUI renders upload progress on a terminal.
type ProgressUI struct {
	out       io.Writer
	bar       *progressbar.ProgressBar
	operation string // "Sending" or "Receiving"
	filename  string
}

// NewProgressUI draws on stderr.
func NewProgressUI() *ProgressUI {
	return NewProgressUIWriter(os.Stderr)
}

// NewProgressUIWriter draws on w.
func NewProgressUIWriter(w io.Writer) *ProgressUI {
	return &ProgressUI{out: w}
}

// StartProgressSending initializes the progress bar for an upload of
// totalBytes. The bar starts at the resumed offset.
func (p *ProgressUI) StartProgressSending(filename string, totalBytes, resumeOffset uint64) {
	p.operation = "Sending"
	p.filename = filename
	p.bar = progressbar.NewOptions64(int64(totalBytes),
		progressbar.OptionSetDescription(fmt.Sprintf("%s %s", p.operation, filename)),
		progressbar.OptionSetWriter(p.out),
		progressbar.OptionShowBytes(true),
		progressbar.OptionSetWidth(50),
		progressbar.OptionThrottle(100*time.Millisecond),
		progressbar.OptionShowCount(),
		progressbar.OptionSpinnerType(14),
		progressbar.OptionSetRenderBlankState(true),
		progressbar.OptionShowElapsedTimeOnFinish(),
		progressbar.OptionSetPredictTime(false),
	)
	if resumeOffset > 0 {
		_ = p.bar.Set64(int64(resumeOffset))
	}
}

// UpdateProgress moves the bar to the snapshot. The first snapshot of an
// upload starts the bar when StartProgressSending was not called.
func (p *ProgressUI) UpdateProgress(update types.ProgressUpdate) {
	if p.bar == nil {
		p.StartProgressSending(p.filename, update.BytesTotal, update.ResumeOffset)
	}

	_ = p.bar.Set64(int64(update.BytesSent))
	p.bar.Describe(fmt.Sprintf("%s %s (%.1f%% - %.2f MB/s)", p.operation, p.filename, update.Percentage, update.Throughput))
}

// SetFilename sets the name shown in the description.
func (p *ProgressUI) SetFilename(name string) {
	p.filename = name
}

// CompleteProgress marks the progress as complete
func (p *ProgressUI) CompleteProgress() {
	if p.bar == nil {
		return
	}
	_ = p.bar.Finish()
}

// Summary is what ShowTransferSummary prints.
type Summary struct {
	OK           bool
	Status       string
	FileSize     uint64
	ResumeOffset uint64
	ServerCRC    uint32
	Elapsed      time.Duration
}

// ShowTransferSummary displays a summary of the finished transfer on w.
func ShowTransferSummary(w io.Writer, s Summary) {
	sent := s.FileSize - min(s.ResumeOffset, s.FileSize)
	throughput := 0.0
	if secs := s.Elapsed.Seconds(); secs > 0 {
		throughput = float64(sent) / secs / (1024 * 1024)
	}

	fmt.Fprintf(w, "\n=============================================\n")
	if s.OK {
		fmt.Fprintf(w, "File transfer completed successfully!\n")
	} else {
		fmt.Fprintf(w, "File transfer failed: %s\n", s.Status)
	}
	fmt.Fprintf(w, "+ File size: %s\n", utils.FormatFileSize(int64(s.FileSize)))
	if s.ResumeOffset > 0 {
		fmt.Fprintf(w, "+ Resumed from: %s\n", utils.FormatFileSize(int64(s.ResumeOffset)))
	}
	fmt.Fprintf(w, "+ Bytes sent: %s\n", utils.FormatFileSize(int64(sent)))
	fmt.Fprintf(w, "+ Receiver CRC-32: 0x%08x\n", s.ServerCRC)
	fmt.Fprintf(w, "+ Transfer time: %s\n", s.Elapsed.Round(time.Millisecond))
	fmt.Fprintf(w, "+ Average throughput: %.2f MB/s\n", throughput)
	fmt.Fprintf(w, "=============================================\n")
}
